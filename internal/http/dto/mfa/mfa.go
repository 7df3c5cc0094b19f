// Package mfa contiene DTOs para los endpoints del motor MFA.
package mfa

import "time"

// SetupRequest representa la solicitud de enrolamiento de un método.
type SetupRequest struct {
	Method      string `json:"method" validate:"required,oneof=TOTP SMS EMAIL"`
	Destination string `json:"destination,omitempty" validate:"omitempty,max=254"`
}

// SetupResponse es la respuesta al enrolamiento. Los secretos se muestran
// una sola vez.
type SetupResponse struct {
	ConfigID     string   `json:"config_id"`
	Method       string   `json:"method"`
	SecretBase32 string   `json:"secret,omitempty"`
	OTPAuthURL   string   `json:"otpauth_url,omitempty"`
	BackupCodes  []string `json:"backup_codes,omitempty"`
	Destination  string   `json:"destination,omitempty"`
	DevCode      string   `json:"dev_code,omitempty"`
}

// ResendRequest pide reenviar el OTP de un enrolamiento pendiente.
type ResendRequest struct {
	Method string `json:"method" validate:"required,oneof=SMS EMAIL"`
}

// VerifySetupRequest confirma el enrolamiento con un código.
type VerifySetupRequest struct {
	Method string `json:"method" validate:"required,oneof=TOTP SMS EMAIL"`
	Code   string `json:"code" validate:"required,min=6,max=10"`
}

// VerifySetupResponse confirma el método y, para SMS/EMAIL, entrega los
// códigos de respaldo recién generados.
type VerifySetupResponse struct {
	Method      string   `json:"method"`
	Verified    bool     `json:"verified"`
	BackupCodes []string `json:"backup_codes,omitempty"`
}

// ChallengeResponse indica que se despachó (o no hizo falta) un desafío.
type ChallengeResponse struct {
	Sent bool `json:"sent"`
}

// VerifyLoginRequest verifica el segundo factor durante el login.
type VerifyLoginRequest struct {
	Code           string `json:"code" validate:"required,min=6,max=10"`
	RememberDevice bool   `json:"remember_device,omitempty"`
}

// VerifyLoginResponse es el resultado de la verificación en login.
type VerifyLoginResponse struct {
	Method          string     `json:"method"`
	Verified        bool       `json:"verified"`
	UsedBackupCode  bool       `json:"used_backup_code,omitempty"`
	BackupCodesLeft int        `json:"backup_codes_left,omitempty"`
	DeviceToken     string     `json:"device_token,omitempty"`
	DeviceExpiresAt *time.Time `json:"device_expires_at,omitempty"`
}

// CheckDeviceRequest consulta si un dispositivo sigue siendo confiable.
type CheckDeviceRequest struct {
	DeviceToken string `json:"device_token" validate:"required,max=128"`
}

// CheckDeviceResponse indica si el dispositivo evita el segundo factor.
type CheckDeviceResponse struct {
	Trusted bool `json:"trusted"`
}

// RevokeDevicesResponse informa cuántas sesiones confiables se terminaron.
type RevokeDevicesResponse struct {
	Revoked int `json:"revoked"`
}

// DisableRequest elimina un método verificado. Requiere re-autenticación.
type DisableRequest struct {
	Method   string `json:"method" validate:"required,oneof=TOTP SMS EMAIL"`
	Password string `json:"password" validate:"required"`
}

// RegenerateBackupCodesRequest reemplaza el set de códigos de respaldo.
type RegenerateBackupCodesRequest struct {
	Method   string `json:"method" validate:"required,oneof=TOTP SMS EMAIL"`
	Password string `json:"password" validate:"required"`
}

// RegenerateBackupCodesResponse entrega el nuevo set, visible una sola vez.
type RegenerateBackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// RecoveryRequestResponse inicia el flujo de recuperación.
type RecoveryRequestResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
	DevToken  string    `json:"dev_token,omitempty"`
}

// RecoveryCompleteRequest cierra el flujo de recuperación.
type RecoveryCompleteRequest struct {
	Token       string `json:"token" validate:"required,max=128"`
	NewPassword string `json:"new_password" validate:"required,min=12,max=128"`
}

// MethodStatus es una entrada del listado de estado MFA del usuario.
type MethodStatus struct {
	ConfigID        string     `json:"config_id"`
	Method          string     `json:"method"`
	Verified        bool       `json:"verified"`
	Destination     string     `json:"destination,omitempty"`
	BackupCodesLeft int        `json:"backup_codes_left"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
}

// StatusResponse lista las configuraciones del usuario.
type StatusResponse struct {
	Methods []MethodStatus `json:"methods"`
}

// Package keys contiene DTOs para los endpoints del key manager.
package keys

import "time"

// CreateKeyRequest da de alta una clave de cifrado para un propósito.
type CreateKeyRequest struct {
	Purpose          string   `json:"purpose" validate:"required,oneof=PHI SSN PAYMENT_CREDENTIAL API_KEY SECRET"`
	RotationSchedule string   `json:"rotation_schedule" validate:"required,oneof=MONTHLY QUARTERLY YEARLY"`
	AllowedRoles     []string `json:"allowed_roles,omitempty" validate:"omitempty,dive,oneof=ADMIN PROVIDER STAFF BILLING PATIENT SERVICE"`
}

// KeyResponse describe una clave. La DEK cifrada nunca viaja al cliente.
type KeyResponse struct {
	KeyIdentifier    string     `json:"key_identifier"`
	Purpose          string     `json:"purpose"`
	Status           string     `json:"status"`
	Algorithm        string     `json:"algorithm"`
	KeyVersion       int        `json:"key_version"`
	RotationSchedule string     `json:"rotation_schedule"`
	NextRotationAt   time.Time  `json:"next_rotation_at"`
	PreviousKeyID    *string    `json:"previous_key_id,omitempty"`
	AllowedRoles     []string   `json:"allowed_roles"`
	ActivatedAt      time.Time  `json:"activated_at"`
	RotatedAt        *time.Time `json:"rotated_at,omitempty"`
	RetiredAt        *time.Time `json:"retired_at,omitempty"`
	LastAccessedAt   *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount      int64      `json:"access_count"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ListKeysResponse lista las claves de la organización.
type ListKeysResponse struct {
	Keys []KeyResponse `json:"keys"`
}

// EncryptRequest cifra un valor bajo la clave ACTIVA del propósito.
type EncryptRequest struct {
	Purpose   string `json:"purpose" validate:"required,oneof=PHI SSN PAYMENT_CREDENTIAL API_KEY SECRET"`
	Plaintext string `json:"plaintext" validate:"required,max=65536"`
}

// EncryptResponse devuelve el blob; el key id viaja embebido en él.
type EncryptResponse struct {
	Ciphertext string `json:"ciphertext"`
}

// DecryptRequest descifra un blob con la clave que éste nombra.
type DecryptRequest struct {
	Ciphertext string `json:"ciphertext" validate:"required"`
}

// DecryptResponse devuelve el texto plano.
type DecryptResponse struct {
	Plaintext string `json:"plaintext"`
}

// EncryptSSNRequest cifra un SSN y retorna los últimos cuatro dígitos.
type EncryptSSNRequest struct {
	SSN string `json:"ssn" validate:"required,min=4,max=32"`
}

// EncryptSSNResponse: blob cifrado más los dígitos visibles.
type EncryptSSNResponse struct {
	Ciphertext string `json:"ciphertext"`
	Last4      string `json:"last4"`
}

// CompromiseRequest marca una clave como comprometida.
type CompromiseRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

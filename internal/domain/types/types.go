// Package types define los enums y tipos compartidos del núcleo de seguridad.
package types

// MFAMethod identifica el segundo factor configurado.
type MFAMethod string

const (
	MFAMethodTOTP  MFAMethod = "TOTP"
	MFAMethodSMS   MFAMethod = "SMS"
	MFAMethodEmail MFAMethod = "EMAIL"
)

// Valid indica si el método es uno de los soportados.
func (m MFAMethod) Valid() bool {
	switch m {
	case MFAMethodTOTP, MFAMethodSMS, MFAMethodEmail:
		return true
	}
	return false
}

// RequiresDestination indica si el método necesita un destino (teléfono/email).
func (m MFAMethod) RequiresDestination() bool {
	return m == MFAMethodSMS || m == MFAMethodEmail
}

// KeyStatus indica el estado de una clave de cifrado (DEK).
type KeyStatus string

const (
	KeyStatusActive      KeyStatus = "ACTIVE"
	KeyStatusRotating    KeyStatus = "ROTATING"
	KeyStatusRetired     KeyStatus = "RETIRED"
	KeyStatusCompromised KeyStatus = "COMPROMISED"
)

// CanTransitionTo valida la máquina de estados de claves:
// ACTIVE → ROTATING → RETIRED, y {ACTIVE, ROTATING} → COMPROMISED.
// COMPROMISED y RETIRED son terminales.
func (s KeyStatus) CanTransitionTo(next KeyStatus) bool {
	switch s {
	case KeyStatusActive:
		return next == KeyStatusRotating || next == KeyStatusRetired || next == KeyStatusCompromised
	case KeyStatusRotating:
		return next == KeyStatusRetired || next == KeyStatusCompromised
	}
	return false
}

// KeyPurpose clasifica el tipo de dato que protege una clave.
type KeyPurpose string

const (
	KeyPurposePHI               KeyPurpose = "PHI"
	KeyPurposeSSN               KeyPurpose = "SSN"
	KeyPurposePaymentCredential KeyPurpose = "PAYMENT_CREDENTIAL"
	KeyPurposeAPIKey            KeyPurpose = "API_KEY"
	KeyPurposeSecret            KeyPurpose = "SECRET"
)

// Valid indica si el propósito es uno de los soportados.
func (p KeyPurpose) Valid() bool {
	switch p {
	case KeyPurposePHI, KeyPurposeSSN, KeyPurposePaymentCredential, KeyPurposeAPIKey, KeyPurposeSecret:
		return true
	}
	return false
}

// RotationSchedule define cada cuánto debe rotarse una clave.
type RotationSchedule string

const (
	RotationMonthly   RotationSchedule = "MONTHLY"
	RotationQuarterly RotationSchedule = "QUARTERLY"
	RotationYearly    RotationSchedule = "YEARLY"
)

// Valid indica si el schedule es uno de los soportados.
func (r RotationSchedule) Valid() bool {
	switch r {
	case RotationMonthly, RotationQuarterly, RotationYearly:
		return true
	}
	return false
}

// Role es el rol del caller autenticado dentro de la organización.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleProvider Role = "PROVIDER"
	RoleStaff    Role = "STAFF"
	RoleBilling  Role = "BILLING"
	RolePatient  Role = "PATIENT"
	RoleService  Role = "SERVICE" // integraciones internas (jobs, workers)
)

// Valid indica si el rol es uno de los soportados.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProvider, RoleStaff, RoleBilling, RolePatient, RoleService:
		return true
	}
	return false
}

// RoleSet es un allow-list tipado de roles.
type RoleSet []Role

// Contains verifica pertenencia al set.
func (rs RoleSet) Contains(r Role) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}

// Strings devuelve el set como []string (para persistencia).
func (rs RoleSet) Strings() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// RoleSetFromStrings parsea roles persistidos; ignora valores desconocidos.
func RoleSetFromStrings(ss []string) RoleSet {
	out := make(RoleSet, 0, len(ss))
	for _, s := range ss {
		r := Role(s)
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// SessionStatus indica el estado de una sesión de dispositivo confiable.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "ACTIVE"
	SessionStatusTerminated SessionStatus = "TERMINATED"
)

// Severity clasifica eventos de seguridad.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// EventType identifica la acción registrada en el log de seguridad.
type EventType string

const (
	// MFA lifecycle
	EventMFASetupStarted       EventType = "mfa.setup.started"
	EventMFASetupVerified      EventType = "mfa.setup.verified"
	EventMFAVerifyFailed       EventType = "mfa.verify.failed"
	EventMFALoginVerified      EventType = "mfa.login.verified"
	EventMFALockout            EventType = "mfa.lockout"
	EventMFADisabled           EventType = "mfa.disabled"
	EventMFABackupCodeUsed     EventType = "mfa.backup_code.used"
	EventMFABackupCodesRotated EventType = "mfa.backup_codes.rotated"
	EventMFARecoveryRequested  EventType = "mfa.recovery.requested"
	EventMFARecoveryCompleted  EventType = "mfa.recovery.completed"
	EventMFAOTPResent          EventType = "mfa.otp.resent"
	EventMFAChallengeSent      EventType = "mfa.login.challenge"
	EventTrustedDeviceAdded    EventType = "mfa.trusted_device.added"
	EventTrustedDeviceRevoked  EventType = "mfa.trusted_device.revoked"

	// Key lifecycle
	EventKeyCreated     EventType = "key.created"
	EventKeyRotated     EventType = "key.rotated"
	EventKeyRetired     EventType = "key.retired"
	EventKeyCompromised EventType = "key.compromised"

	// Key use
	EventDataEncrypted EventType = "key.data.encrypted"
	EventDataDecrypted EventType = "key.data.decrypted"
	EventKeyUseDenied  EventType = "key.use.denied"
	EventPHIAccess     EventType = "phi.access"

	// Config
	EventPolicyUpdated EventType = "policy.updated"
)

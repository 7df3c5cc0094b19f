package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SecretKind discrimina la variante del secreto de una configuración MFA.
type SecretKind string

const (
	// SecretKindTOTP: secreto compartido TOTP (cifrado bajo la master key).
	SecretKindTOTP SecretKind = "totp"
	// SecretKindPendingOTP: OTP en tránsito para SMS/EMAIL (setup sin verificar).
	SecretKindPendingOTP SecretKind = "pending"
	// SecretKindVerified: sólo el destino, una vez verificado el método.
	SecretKindVerified SecretKind = "verified"
)

// Secret es la variante etiquetada del campo secret de una configuración MFA.
// Reemplaza el encoding "destino|hash|expiry" embebido en un string plano:
// cada variante tiene sus campos propios y el encoding de persistencia es
// explícito en Encode/ParseSecret.
type Secret struct {
	Kind SecretKind

	// TOTPSecretEnc: secreto base32 cifrado (variante totp).
	TOTPSecretEnc string

	// Destination: teléfono o email (variantes pending y verified).
	Destination string

	// CodeHash + ExpiresAt: OTP pendiente de verificación (variante pending).
	CodeHash  string
	ExpiresAt time.Time
}

// TOTPSecret construye la variante totp.
func TOTPSecret(encrypted string) Secret {
	return Secret{Kind: SecretKindTOTP, TOTPSecretEnc: encrypted}
}

// PendingOTP construye la variante pending.
func PendingOTP(destination, codeHash string, expiresAt time.Time) Secret {
	return Secret{Kind: SecretKindPendingOTP, Destination: destination, CodeHash: codeHash, ExpiresAt: expiresAt}
}

// VerifiedDestination construye la variante verified.
func VerifiedDestination(destination string) Secret {
	return Secret{Kind: SecretKindVerified, Destination: destination}
}

// Expired indica si un OTP pendiente ya venció.
func (s Secret) Expired(now time.Time) bool {
	return s.Kind == SecretKindPendingOTP && now.After(s.ExpiresAt)
}

// Encode serializa el secreto para persistencia.
// Formatos:
//
//	totp:<secretEnc>
//	pending:<destino>|<codeHash>|<expiryEpochMs>
//	verified:<destino>
func (s Secret) Encode() string {
	switch s.Kind {
	case SecretKindTOTP:
		return string(SecretKindTOTP) + ":" + s.TOTPSecretEnc
	case SecretKindPendingOTP:
		return fmt.Sprintf("%s:%s|%s|%d", SecretKindPendingOTP, s.Destination, s.CodeHash, s.ExpiresAt.UnixMilli())
	case SecretKindVerified:
		return string(SecretKindVerified) + ":" + s.Destination
	}
	return ""
}

// ParseSecret parsea el encoding de Encode.
func ParseSecret(raw string) (Secret, error) {
	kind, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return Secret{}, fmt.Errorf("secret: encoding inválido")
	}
	switch SecretKind(kind) {
	case SecretKindTOTP:
		return TOTPSecret(rest), nil
	case SecretKindPendingOTP:
		parts := strings.Split(rest, "|")
		if len(parts) != 3 {
			return Secret{}, fmt.Errorf("secret: variante pending malformada")
		}
		ms, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return Secret{}, fmt.Errorf("secret: expiry inválido: %w", err)
		}
		return PendingOTP(parts[0], parts[1], time.UnixMilli(ms).UTC()), nil
	case SecretKindVerified:
		return VerifiedDestination(rest), nil
	}
	return Secret{}, fmt.Errorf("secret: variante desconocida %q", kind)
}

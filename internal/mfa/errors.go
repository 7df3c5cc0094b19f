package mfa

import (
	"errors"
	"fmt"
	"time"
)

// MFA errors
var (
	ErrInvalidMethod       = errors.New("mfa method not supported")
	ErrDestinationRequired = errors.New("destination required for method")
	ErrAlreadyEnabled      = errors.New("mfa already enabled for method")
	ErrNotInitialized      = errors.New("mfa not initialized")
	ErrNotEnabled          = errors.New("mfa not enabled for user")
	ErrInvalidCode         = errors.New("invalid mfa code")
	ErrCodeExpired         = errors.New("mfa code expired")
	ErrResendCooldown      = errors.New("otp resend cooldown active")
	ErrInvalidPassword     = errors.New("invalid password")
	ErrPolicyForbids       = errors.New("mfa mandatory by policy, cannot disable")
	ErrRecoveryNotFound    = errors.New("recovery request not found")
	ErrRecoveryExpired     = errors.New("recovery request expired")
	ErrWeakPassword        = errors.New("password does not meet policy")
	ErrCryptoFailed        = errors.New("mfa crypto failed")
)

// RateLimitedError se retorna cuando la configuración está bloqueada por
// intentos fallidos. Lleva la hora de desbloqueo para que el transporte la
// exponga (Retry-After / unlock_at).
type RateLimitedError struct {
	UnlockAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("mfa locked until %s", e.UnlockAt.UTC().Format(time.RFC3339))
}

// IsRateLimited extrae el RateLimitedError de una cadena de errores.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

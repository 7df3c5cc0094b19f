package errors

import (
	stderrors "errors"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/keys"
	"github.com/dropDatabas3/salus/internal/mfa"
	"github.com/dropDatabas3/salus/internal/policy"
)

// Map traduce los errores de dominio y de servicio a AppError.
// Los errores de verificación en login se colapsan a INVALID_CODE genérico:
// la respuesta no revela qué factor falló ni si el método existe.
func Map(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	if rl, ok := mfa.IsRateLimited(err); ok {
		return ErrRateLimited.WithDetail("unlock_at=" + rl.UnlockAt.UTC().Format(time.RFC3339))
	}

	switch {
	// MFA
	case stderrors.Is(err, mfa.ErrInvalidMethod),
		stderrors.Is(err, mfa.ErrDestinationRequired),
		stderrors.Is(err, mfa.ErrWeakPassword):
		return ErrBadRequest.WithCause(err)
	case stderrors.Is(err, mfa.ErrInvalidCode),
		stderrors.Is(err, mfa.ErrInvalidPassword):
		return ErrInvalidCode.WithCause(err)
	case stderrors.Is(err, mfa.ErrCodeExpired),
		stderrors.Is(err, mfa.ErrRecoveryExpired):
		return ErrExpired.WithCause(err)
	case stderrors.Is(err, mfa.ErrAlreadyEnabled):
		return ErrConflict.WithDetail("El método MFA ya está habilitado.").WithCause(err)
	case stderrors.Is(err, mfa.ErrNotInitialized),
		stderrors.Is(err, mfa.ErrNotEnabled),
		stderrors.Is(err, mfa.ErrRecoveryNotFound):
		return ErrNotFound.WithCause(err)
	case stderrors.Is(err, mfa.ErrResendCooldown):
		return ErrRateLimited.WithDetail("Esperá antes de pedir otro código.").WithCause(err)
	case stderrors.Is(err, mfa.ErrPolicyForbids):
		return ErrForbidden.WithDetail("La política de tu organización exige MFA activo.").WithCause(err)

	// Claves de cifrado
	case stderrors.Is(err, keys.ErrInvalidPurpose),
		stderrors.Is(err, keys.ErrInvalidSchedule):
		return ErrBadRequest.WithCause(err)
	case stderrors.Is(err, keys.ErrActiveExists):
		return ErrConflict.WithDetail("Ya existe una clave ACTIVA para ese propósito.").WithCause(err)
	case stderrors.Is(err, keys.ErrNoActiveKey):
		return ErrNotFound.WithDetail("No hay clave activa para ese propósito.").WithCause(err)
	case stderrors.Is(err, keys.ErrRoleDenied),
		stderrors.Is(err, keys.ErrAdminOnly),
		stderrors.Is(err, keys.ErrCompromisedKey):
		return ErrForbidden.WithCause(err)
	case stderrors.Is(err, keys.ErrInvalidState):
		return ErrConflict.WithDetail("El estado actual de la clave no permite la transición.").WithCause(err)

	// Políticas
	case stderrors.Is(err, policy.ErrForbidden):
		return ErrForbidden.WithCause(err)
	case stderrors.Is(err, policy.ErrInvalidInput):
		return ErrBadRequest.WithCause(err)

	// Repositorio
	case stderrors.Is(err, repository.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case stderrors.Is(err, repository.ErrConflict):
		return ErrConflict.WithCause(err)
	case stderrors.Is(err, repository.ErrUnauthorized):
		return ErrUnauthorized.WithCause(err)
	case stderrors.Is(err, repository.ErrExpired):
		return ErrExpired.WithCause(err)
	case stderrors.Is(err, repository.ErrInvalidInput):
		return ErrBadRequest.WithCause(err)
	}

	return ErrInternalServerError.WithCause(err)
}

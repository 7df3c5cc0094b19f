package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/types"
)

// BackupCodeUsedSentinel reemplaza el hash de un backup code consumido.
// Los slots se preservan en orden; un slot con este valor nunca vuelve a validar.
const BackupCodeUsedSentinel = "USED"

// MFAConfig representa la configuración MFA de un usuario para un método.
// Invariante: a lo sumo una configuración verificada por (usuario, método).
type MFAConfig struct {
	ID             string
	UserID         string
	OrganizationID string
	Method         types.MFAMethod
	Secret         types.Secret
	Verified       bool
	VerifiedAt     *time.Time
	LastUsedAt     *time.Time

	// BackupCodes: hashes SHA-256; slot consumido = BackupCodeUsedSentinel.
	BackupCodes     []string
	BackupCodesUsed int

	// Contadores de intentos fallidos por flujo. El reloj de lockout es uno
	// solo por configuración: cambiar de flujo no lo esquiva.
	FailedSetupAttempts int
	FailedLoginAttempts int
	LockedUntil         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked indica si la configuración está bloqueada a la hora dada.
func (c *MFAConfig) Locked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// AttemptFlow distingue el contador de fallos a usar.
type AttemptFlow string

const (
	FlowSetup AttemptFlow = "setup"
	FlowLogin AttemptFlow = "login"
)

// MFAConfigRepository define operaciones sobre configuraciones MFA.
type MFAConfigRepository interface {
	// Upsert crea la configuración, o reemplaza una NO verificada del mismo
	// (usuario, método). Retorna ErrConflict si ya existe una verificada.
	Upsert(ctx context.Context, cfg *MFAConfig) error

	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*MFAConfig, error)

	// GetByUserAndMethod retorna ErrNotFound si no existe.
	GetByUserAndMethod(ctx context.Context, userID string, method types.MFAMethod) (*MFAConfig, error)

	// ListByUser lista todas las configuraciones del usuario.
	ListByUser(ctx context.Context, userID string) ([]*MFAConfig, error)

	// UpdateSecret reemplaza el secreto (reenvío de OTP pendiente).
	UpdateSecret(ctx context.Context, id string, secret types.Secret) error

	// MarkVerified marca verificada, colapsa el secreto al estado final y
	// resetea contadores y lockout.
	MarkVerified(ctx context.Context, id string, secret types.Secret, at time.Time) error

	// IncrementFailed incrementa atómicamente el contador del flujo dado y
	// retorna el valor resultante. Dos requests concurrentes nunca observan
	// el mismo valor: el adapter debe usar un incremento transaccional.
	IncrementFailed(ctx context.Context, id string, flow AttemptFlow) (int, error)

	// Lock fija lockedUntil y pone el contador del flujo en cero.
	Lock(ctx context.Context, id string, flow AttemptFlow, until time.Time) error

	// MarkUsed registra un uso exitoso: resetea contadores, limpia lockout
	// y actualiza lastUsedAt.
	MarkUsed(ctx context.Context, id string, at time.Time) error

	// ConsumeBackupCode busca el hash entre los slots no consumidos y lo
	// reemplaza por BackupCodeUsedSentinel incrementando backupCodesUsed.
	// La operación completa (buscar, comparar, escribir) es atómica.
	// Retorna false si el hash no matchea ningún slot vigente.
	ConsumeBackupCode(ctx context.Context, id string, hash string) (bool, error)

	// ReplaceBackupCodes reemplaza el set completo y resetea backupCodesUsed.
	ReplaceBackupCodes(ctx context.Context, id string, hashes []string) error

	// Delete elimina una configuración.
	Delete(ctx context.Context, id string) error

	// DeleteAllForUser elimina todas las configuraciones del usuario
	// (recovery por dispositivo perdido). Retorna cuántas borró.
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}

package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/types"
)

// TrustedDevice es una sesión "recordar este dispositivo" creada tras un
// MFA exitoso. Se persiste sólo el hash del token; el plaintext se entrega
// una única vez al caller.
type TrustedDevice struct {
	ID             string
	UserID         string
	OrganizationID string

	// TokenHash: SHA-256 del token opaco.
	TokenHash string

	// Fingerprint: SHA-256(userAgent|ip). Un lookup válido requiere que
	// coincidan token Y fingerprint: un token robado no alcanza desde otro
	// dispositivo.
	Fingerprint string

	// Metadata del dispositivo (derivada del user-agent).
	DeviceType string
	Browser    string
	OS         string

	RememberDevice bool
	MFAVerified    bool
	Status         types.SessionStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time
	LastSeenAt     *time.Time
}

// Expired indica si la sesión venció.
func (d *TrustedDevice) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// SessionRepository define operaciones sobre dispositivos confiables.
type SessionRepository interface {
	// Create persiste una sesión nueva.
	Create(ctx context.Context, dev *TrustedDevice) error

	// GetByTokenHash retorna ErrNotFound si no existe.
	GetByTokenHash(ctx context.Context, tokenHash string) (*TrustedDevice, error)

	// TouchSeen actualiza lastSeenAt.
	TouchSeen(ctx context.Context, id string, at time.Time) error

	// TerminateAllForUser marca TERMINATED todas las sesiones del usuario.
	// Retorna cuántas terminó.
	TerminateAllForUser(ctx context.Context, userID string) (int, error)
}

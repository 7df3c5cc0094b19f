package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/types"
)

// EncryptionKey representa una versión de una DEK por propósito.
//
// La DEK nunca se persiste en claro: EncryptedDEK es la DEK cifrada bajo la
// master key externa. Los registros no se borran nunca: RETIRED y COMPROMISED
// se retienen para auditoría y para descifrar ciphertext histórico.
type EncryptionKey struct {
	ID             string
	KeyIdentifier  string // opaco, derivado del propósito
	OrganizationID string
	Purpose        types.KeyPurpose
	Status         types.KeyStatus
	Algorithm      string
	KeyVersion     int

	// EncryptedDEK: DEK cifrada bajo la master key. Campo dedicado: la
	// key material no viaja en campos prestados.
	EncryptedDEK string

	RotationSchedule types.RotationSchedule
	NextRotationAt   time.Time

	// PreviousKeyID encadena versiones: la lineage de rotación es una
	// linked list hacia atrás.
	PreviousKeyID *string

	// AllowedRoles: allow-list tipado que gatea Encrypt/Decrypt.
	AllowedRoles types.RoleSet

	ActivatedAt    time.Time
	RotatedAt      *time.Time
	RetiredAt      *time.Time
	ExpiresAt      *time.Time
	LastAccessedAt *time.Time
	AccessCount    int64

	CreatedAt time.Time
}

// KeyRepository define operaciones sobre claves de cifrado.
type KeyRepository interface {
	// Create persiste una clave nueva. Retorna ErrConflict si ya existe una
	// ACTIVE para el mismo (organización, propósito).
	Create(ctx context.Context, key *EncryptionKey) error

	// GetByIdentifier retorna ErrNotFound si no existe.
	GetByIdentifier(ctx context.Context, keyIdentifier string) (*EncryptionKey, error)

	// GetActive obtiene la clave ACTIVE para (organización, propósito).
	GetActive(ctx context.Context, orgID string, purpose types.KeyPurpose) (*EncryptionKey, error)

	// ListByOrganization lista todas las claves de una organización.
	ListByOrganization(ctx context.Context, orgID string) ([]*EncryptionKey, error)

	// Rotate ejecuta en UNA transacción: marca la clave vieja ROTATING
	// (con rotatedAt) e inserta la nueva ACTIVE. Un crash nunca deja dos
	// ACTIVE ni cero para el mismo propósito.
	Rotate(ctx context.Context, oldKeyIdentifier string, newKey *EncryptionKey, at time.Time) error

	// UpdateStatus aplica una transición de estado ya validada por el service.
	UpdateStatus(ctx context.Context, keyIdentifier string, status types.KeyStatus, at time.Time) error

	// TouchAccess incrementa atómicamente accessCount y actualiza
	// lastAccessedAt.
	TouchAccess(ctx context.Context, keyIdentifier string, at time.Time) error

	// ListDueForRotation lista claves ACTIVE con nextRotationAt <= now.
	// El scheduling de rotación es lazy: no hay timers en el núcleo.
	ListDueForRotation(ctx context.Context, now time.Time) ([]*EncryptionKey, error)
}

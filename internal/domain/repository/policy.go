package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/types"
)

// MFAPolicy es la configuración MFA a nivel organización.
type MFAPolicy struct {
	OrganizationID string

	// MFARequired: MFA obligatorio para toda la organización.
	MFARequired bool

	// RequiredRoles: roles para los que MFA es obligatorio aunque
	// MFARequired sea false.
	RequiredRoles types.RoleSet

	// GracePeriodDays: días de gracia para enrolarse desde el alta.
	GracePeriodDays int

	UpdatedAt time.Time
	UpdatedBy string
}

// MandatoryFor indica si la política obliga MFA para el rol dado.
func (p *MFAPolicy) MandatoryFor(role types.Role) bool {
	return p.MFARequired || p.RequiredRoles.Contains(role)
}

// PolicyRepository define operaciones sobre políticas MFA.
type PolicyRepository interface {
	// Get retorna ErrNotFound si la organización no tiene política explícita.
	Get(ctx context.Context, orgID string) (*MFAPolicy, error)

	// Upsert crea o reemplaza la política de la organización.
	Upsert(ctx context.Context, policy *MFAPolicy) error
}

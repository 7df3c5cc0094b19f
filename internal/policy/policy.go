// Package policy implementa la configuración MFA a nivel organización.
//
// La política gatea al motor MFA: si MFA es obligatorio (global o por rol),
// Disable queda bloqueado. La lectura es frecuente (cada Disable y cada
// login) y la escritura rara (admin).
package policy

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/observability/logger"
)

// Errores del service.
var (
	ErrForbidden    = errors.New("policy: operación sólo para administradores")
	ErrInvalidInput = errors.New("policy: input inválido")
)

// UpdateInput es el cambio de política solicitado por un admin.
type UpdateInput struct {
	MFARequired     bool
	RequiredRoles   types.RoleSet
	GracePeriodDays int
}

// Service expone la política MFA de una organización.
type Service interface {
	// Get retorna la política de la organización del caller; si no hay una
	// explícita, retorna la default (MFA no obligatorio).
	Get(ctx context.Context, ident types.Identity) (*repository.MFAPolicy, error)

	// Update reemplaza la política. Sólo administradores; audita el cambio.
	Update(ctx context.Context, ident types.Identity, in UpdateInput) (*repository.MFAPolicy, error)

	// MandatoryFor indica si la política obliga MFA para el rol dado.
	MandatoryFor(ctx context.Context, orgID string, role types.Role) (bool, error)
}

// Deps contiene las dependencias del service.
type Deps struct {
	Policies repository.PolicyRepository
	Auditor  *audit.Recorder
	Now      func() time.Time
}

type service struct {
	policies repository.PolicyRepository
	auditor  *audit.Recorder
	now      func() time.Time
}

// New crea el Service.
func New(d Deps) Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &service{policies: d.Policies, auditor: d.Auditor, now: now}
}

func defaultPolicy(orgID string) *repository.MFAPolicy {
	return &repository.MFAPolicy{
		OrganizationID: orgID,
		MFARequired:    false,
		RequiredRoles:  types.RoleSet{types.RoleAdmin},
	}
}

func (s *service) Get(ctx context.Context, ident types.Identity) (*repository.MFAPolicy, error) {
	p, err := s.policies.Get(ctx, ident.OrganizationID)
	if repository.IsNotFound(err) {
		return defaultPolicy(ident.OrganizationID), nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *service) Update(ctx context.Context, ident types.Identity, in UpdateInput) (*repository.MFAPolicy, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("policy.update"))

	if !ident.IsAdmin() {
		s.auditor.Record(ctx, audit.Entry{
			Type:     types.EventPolicyUpdated,
			Identity: ident,
			Success:  false,
			Metadata: map[string]string{"reason": "not_admin"},
		})
		return nil, ErrForbidden
	}
	for _, r := range in.RequiredRoles {
		if !r.Valid() {
			return nil, ErrInvalidInput
		}
	}
	if in.GracePeriodDays < 0 {
		return nil, ErrInvalidInput
	}

	p := &repository.MFAPolicy{
		OrganizationID:  ident.OrganizationID,
		MFARequired:     in.MFARequired,
		RequiredRoles:   in.RequiredRoles,
		GracePeriodDays: in.GracePeriodDays,
		UpdatedAt:       s.now().UTC(),
		UpdatedBy:       ident.UserID,
	}
	if err := s.policies.Upsert(ctx, p); err != nil {
		log.Error("failed to upsert policy", logger.OrgID(ident.OrganizationID), logger.Err(err))
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventPolicyUpdated,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{
			"mfa_required": boolStr(in.MFARequired),
		},
	})
	log.Info("policy updated", logger.OrgID(ident.OrganizationID), logger.UserID(ident.UserID))
	return p, nil
}

func (s *service) MandatoryFor(ctx context.Context, orgID string, role types.Role) (bool, error) {
	p, err := s.policies.Get(ctx, orgID)
	if repository.IsNotFound(err) {
		p = defaultPolicy(orgID)
	} else if err != nil {
		return false, err
	}
	return p.MandatoryFor(role), nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

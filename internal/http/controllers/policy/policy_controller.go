// Package policy contiene el controller de la política MFA por organización.
package policy

import (
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	dto "github.com/dropDatabas3/salus/internal/http/dto"
	policydto "github.com/dropDatabas3/salus/internal/http/dto/policy"
	httperrors "github.com/dropDatabas3/salus/internal/http/errors"
	"github.com/dropDatabas3/salus/internal/http/middlewares"
	"github.com/dropDatabas3/salus/internal/observability/logger"
	svc "github.com/dropDatabas3/salus/internal/policy"
)

// Controller maneja las rutas de política MFA.
type Controller struct {
	service svc.Service
}

// NewController crea el controller de políticas.
func NewController(service svc.Service) *Controller {
	return &Controller{service: service}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func policyResponse(p *repository.MFAPolicy) policydto.Response {
	return policydto.Response{
		OrganizationID:  p.OrganizationID,
		MFARequired:     p.MFARequired,
		RequiredRoles:   p.RequiredRoles.Strings(),
		GracePeriodDays: p.GracePeriodDays,
		UpdatedAt:       p.UpdatedAt,
		UpdatedBy:       p.UpdatedBy,
	}
}

// Get maneja GET /v1/policy
func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := middlewares.GetIdentity(ctx)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	p, err := c.service.Get(ctx, ident)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, policyResponse(p))
}

// Update maneja PUT /v1/policy
func (c *Controller) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("policy.Update"))

	ident, ok := middlewares.GetIdentity(ctx)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	var req policydto.UpdateRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	p, err := c.service.Update(ctx, ident, svc.UpdateInput{
		MFARequired:     req.MFARequired,
		RequiredRoles:   types.RoleSetFromStrings(req.RequiredRoles),
		GracePeriodDays: req.GracePeriodDays,
	})
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	log.Info("mfa policy updated",
		logger.OrgID(p.OrganizationID),
		logger.Bool("mfa_required", p.MFARequired),
	)
	writeJSON(w, http.StatusOK, policyResponse(p))
}

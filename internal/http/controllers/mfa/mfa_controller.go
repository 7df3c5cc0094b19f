// Package mfa contiene los controllers HTTP del motor MFA.
package mfa

import (
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/salus/internal/domain/types"
	dto "github.com/dropDatabas3/salus/internal/http/dto"
	mfadto "github.com/dropDatabas3/salus/internal/http/dto/mfa"
	httperrors "github.com/dropDatabas3/salus/internal/http/errors"
	"github.com/dropDatabas3/salus/internal/http/middlewares"
	svc "github.com/dropDatabas3/salus/internal/mfa"
	"github.com/dropDatabas3/salus/internal/observability/logger"
)

// Controller maneja las rutas del motor MFA.
type Controller struct {
	service svc.Service
}

// NewController crea el controller MFA.
func NewController(service svc.Service) *Controller {
	return &Controller{service: service}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// identity obtiene la identidad del contexto; RequireAuth corre antes.
func identity(w http.ResponseWriter, r *http.Request) (types.Identity, bool) {
	ident, ok := middlewares.GetIdentity(r.Context())
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
	}
	return ident, ok
}

// Setup maneja POST /v1/mfa/setup
func (c *Controller) Setup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("mfa.Setup"))

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req mfadto.SetupRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	res, err := c.service.Setup(ctx, ident, types.MFAMethod(req.Method), req.Destination)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	log.Info("mfa setup started", logger.MFAMethod(string(res.Method)))
	writeJSON(w, http.StatusCreated, mfadto.SetupResponse{
		ConfigID:     res.ConfigID,
		Method:       string(res.Method),
		SecretBase32: res.SecretBase32,
		OTPAuthURL:   res.OTPAuthURL,
		BackupCodes:  res.BackupCodes,
		Destination:  res.Destination,
		DevCode:      res.DevCode,
	})
}

// Resend maneja POST /v1/mfa/setup/resend
func (c *Controller) Resend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req mfadto.ResendRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	res, err := c.service.ResendOTP(ctx, ident, types.MFAMethod(req.Method))
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, mfadto.SetupResponse{
		ConfigID:    res.ConfigID,
		Method:      string(res.Method),
		Destination: res.Destination,
		DevCode:     res.DevCode,
	})
}

// VerifySetup maneja POST /v1/mfa/setup/verify
func (c *Controller) VerifySetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("mfa.VerifySetup"))

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req mfadto.VerifySetupRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	res, err := c.service.VerifySetup(ctx, ident, types.MFAMethod(req.Method), req.Code)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	log.Info("mfa setup verified", logger.MFAMethod(string(res.Method)))
	writeJSON(w, http.StatusOK, mfadto.VerifySetupResponse{
		Method:      string(res.Method),
		Verified:    true,
		BackupCodes: res.BackupCodes,
	})
}

// Challenge maneja POST /v1/mfa/login/challenge
func (c *Controller) Challenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	if err := c.service.ChallengeLogin(ctx, ident); err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, mfadto.ChallengeResponse{Sent: true})
}

// VerifyLogin maneja POST /v1/mfa/login/verify
func (c *Controller) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("mfa.VerifyLogin"))

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req mfadto.VerifyLoginRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	res, err := c.service.VerifyAtLogin(ctx, ident, req.Code, req.RememberDevice)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	resp := mfadto.VerifyLoginResponse{
		Method:          string(res.Method),
		Verified:        true,
		UsedBackupCode:  res.UsedBackupCode,
		BackupCodesLeft: res.BackupCodesLeft,
		DeviceToken:     res.DeviceToken,
	}
	if !res.DeviceExpiresAt.IsZero() {
		exp := res.DeviceExpiresAt
		resp.DeviceExpiresAt = &exp
	}

	log.Info("mfa login verified",
		logger.MFAMethod(string(res.Method)),
		logger.Bool("backup_code", res.UsedBackupCode),
	)
	writeJSON(w, http.StatusOK, resp)
}

// CheckDevice maneja POST /v1/mfa/devices/check
func (c *Controller) CheckDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req mfadto.CheckDeviceRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	trusted, err := c.service.CheckTrustedDevice(ctx, ident, req.DeviceToken)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, mfadto.CheckDeviceResponse{Trusted: trusted})
}

// RevokeDevices maneja DELETE /v1/mfa/devices
func (c *Controller) RevokeDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	n, err := c.service.RevokeTrustedDevices(ctx, ident)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, mfadto.RevokeDevicesResponse{Revoked: n})
}

// Disable maneja DELETE /v1/mfa
func (c *Controller) Disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("mfa.Disable"))

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req mfadto.DisableRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	if err := c.service.Disable(ctx, ident, types.MFAMethod(req.Method), req.Password); err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	log.Info("mfa disabled", logger.MFAMethod(req.Method))
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes maneja POST /v1/mfa/backup-codes/regenerate
func (c *Controller) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req mfadto.RegenerateBackupCodesRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	codes, err := c.service.RegenerateBackupCodes(ctx, ident, types.MFAMethod(req.Method), req.Password)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, mfadto.RegenerateBackupCodesResponse{BackupCodes: codes})
}

// RequestRecovery maneja POST /v1/mfa/recovery/request
func (c *Controller) RequestRecovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	res, err := c.service.RequestRecovery(ctx, ident)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusAccepted, mfadto.RecoveryRequestResponse{
		ExpiresAt: res.ExpiresAt,
		DevToken:  res.DevToken,
	})
}

// CompleteRecovery maneja POST /v1/mfa/recovery/complete
func (c *Controller) CompleteRecovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("mfa.CompleteRecovery"))

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req mfadto.RecoveryCompleteRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	if err := c.service.CompleteRecovery(ctx, ident, req.Token, req.NewPassword); err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	log.Warn("account recovery completed", logger.UserID(ident.UserID))
	w.WriteHeader(http.StatusNoContent)
}

// Status maneja GET /v1/mfa/status
func (c *Controller) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	list, err := c.service.Status(ctx, ident)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	resp := mfadto.StatusResponse{Methods: make([]mfadto.MethodStatus, 0, len(list))}
	for _, m := range list {
		resp.Methods = append(resp.Methods, mfadto.MethodStatus{
			ConfigID:        m.ConfigID,
			Method:          string(m.Method),
			Verified:        m.Verified,
			Destination:     m.Destination,
			BackupCodesLeft: m.BackupCodesLeft,
			LockedUntil:     m.LockedUntil,
			LastUsedAt:      m.LastUsedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Package keys contiene los controllers HTTP del key manager.
package keys

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	dto "github.com/dropDatabas3/salus/internal/http/dto"
	auditdto "github.com/dropDatabas3/salus/internal/http/dto/audit"
	keydto "github.com/dropDatabas3/salus/internal/http/dto/keys"
	httperrors "github.com/dropDatabas3/salus/internal/http/errors"
	"github.com/dropDatabas3/salus/internal/http/middlewares"
	svc "github.com/dropDatabas3/salus/internal/keys"
	"github.com/dropDatabas3/salus/internal/observability/logger"
)

// Controller maneja las rutas del key manager.
type Controller struct {
	service svc.Service
	auditor *audit.Recorder
}

// NewController crea el controller de claves.
func NewController(service svc.Service, auditor *audit.Recorder) *Controller {
	return &Controller{service: service, auditor: auditor}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func identity(w http.ResponseWriter, r *http.Request) (types.Identity, bool) {
	ident, ok := middlewares.GetIdentity(r.Context())
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
	}
	return ident, ok
}

func keyResponse(k *repository.EncryptionKey) keydto.KeyResponse {
	return keydto.KeyResponse{
		KeyIdentifier:    k.KeyIdentifier,
		Purpose:          string(k.Purpose),
		Status:           string(k.Status),
		Algorithm:        k.Algorithm,
		KeyVersion:       k.KeyVersion,
		RotationSchedule: string(k.RotationSchedule),
		NextRotationAt:   k.NextRotationAt,
		PreviousKeyID:    k.PreviousKeyID,
		AllowedRoles:     k.AllowedRoles.Strings(),
		ActivatedAt:      k.ActivatedAt,
		RotatedAt:        k.RotatedAt,
		RetiredAt:        k.RetiredAt,
		LastAccessedAt:   k.LastAccessedAt,
		AccessCount:      k.AccessCount,
		CreatedAt:        k.CreatedAt,
	}
}

// Create maneja POST /v1/keys
func (c *Controller) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("keys.Create"))

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req keydto.CreateKeyRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	k, err := c.service.CreateKey(ctx, ident, svc.CreateKeyInput{
		Purpose:          types.KeyPurpose(req.Purpose),
		RotationSchedule: types.RotationSchedule(req.RotationSchedule),
		AllowedRoles:     types.RoleSetFromStrings(req.AllowedRoles),
	})
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	log.Info("encryption key created",
		logger.KeyID(k.KeyIdentifier),
		logger.Purpose(string(k.Purpose)),
	)
	writeJSON(w, http.StatusCreated, keyResponse(k))
}

// List maneja GET /v1/keys
func (c *Controller) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	list, err := c.service.ListKeys(ctx, ident)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	resp := keydto.ListKeysResponse{Keys: make([]keydto.KeyResponse, 0, len(list))}
	for _, k := range list {
		resp.Keys = append(resp.Keys, keyResponse(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get maneja GET /v1/keys/{keyID}
func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	k, err := c.service.GetKey(ctx, ident, chi.URLParam(r, "keyID"))
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, keyResponse(k))
}

// Rotate maneja POST /v1/keys/{keyID}/rotate
func (c *Controller) Rotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("keys.Rotate"))

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	k, err := c.service.RotateKey(ctx, ident, chi.URLParam(r, "keyID"))
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	log.Info("encryption key rotated",
		logger.KeyID(k.KeyIdentifier),
		logger.Int("version", k.KeyVersion),
	)
	writeJSON(w, http.StatusOK, keyResponse(k))
}

// Retire maneja POST /v1/keys/{keyID}/retire
func (c *Controller) Retire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	if err := c.service.RetireKey(ctx, ident, chi.URLParam(r, "keyID")); err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Compromise maneja POST /v1/keys/{keyID}/compromise
func (c *Controller) Compromise(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("keys.Compromise"))

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req keydto.CompromiseRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	keyID := chi.URLParam(r, "keyID")
	if err := c.service.MarkCompromised(ctx, ident, keyID, req.Reason); err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	log.Warn("encryption key marked compromised", logger.KeyID(keyID))
	w.WriteHeader(http.StatusNoContent)
}

// DueForRotation maneja GET /v1/keys/due-for-rotation
func (c *Controller) DueForRotation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	list, err := c.service.DueForRotation(ctx, ident)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	resp := keydto.ListKeysResponse{Keys: make([]keydto.KeyResponse, 0, len(list))}
	for _, k := range list {
		resp.Keys = append(resp.Keys, keyResponse(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Encrypt maneja POST /v1/crypto/encrypt
func (c *Controller) Encrypt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req keydto.EncryptRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	blob, err := c.service.Encrypt(ctx, ident, types.KeyPurpose(req.Purpose), req.Plaintext)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, keydto.EncryptResponse{Ciphertext: blob})
}

// Decrypt maneja POST /v1/crypto/decrypt
func (c *Controller) Decrypt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req keydto.DecryptRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	plain, err := c.service.Decrypt(ctx, ident, req.Ciphertext)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, keydto.DecryptResponse{Plaintext: plain})
}

// EncryptSSN maneja POST /v1/crypto/ssn
func (c *Controller) EncryptSSN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req keydto.EncryptSSNRequest
	if err := dto.DecodeJSON(r, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrValidation.WithDetail(err.Error()))
		return
	}

	res, err := c.service.EncryptSSN(ctx, ident, req.SSN)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	writeJSON(w, http.StatusOK, keydto.EncryptSSNResponse{
		Ciphertext: res.Blob,
		Last4:      res.Last4,
	})
}

// AuditLog maneja GET /v1/keys/{keyID}/audit?limit=N
func (c *Controller) AuditLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := identity(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := c.auditor.AuditLogForKey(ctx, ident, chi.URLParam(r, "keyID"), limit)
	if err != nil {
		httperrors.WriteError(w, httperrors.Map(err))
		return
	}

	resp := auditdto.ListResponse{Events: make([]auditdto.Event, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, auditdto.Event{
			ID:        ev.ID,
			Type:      string(ev.Type),
			UserID:    ev.UserID,
			Success:   ev.Success,
			Severity:  string(ev.Severity),
			IPAddress: ev.IPAddress,
			Metadata:  ev.Metadata,
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

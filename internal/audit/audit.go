// Package audit implementa el log de eventos de seguridad.
//
// Es un sink append-only consumido por el motor MFA y el key manager:
// cada acción relevante (éxito o fallo) deja una fila inmutable. La única
// mutación permitida es el cierre del flujo de recovery (success=false →
// true), que pasa por el EventRepository, no por acá.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/observability/logger"
)

// Entry es el input de un evento a registrar.
type Entry struct {
	Type     types.EventType
	Identity types.Identity
	Success  bool
	// Severity opcional; vacía = INFO (WARNING si Success=false).
	Severity types.Severity
	Metadata map[string]string
}

// Recorder escribe eventos de seguridad en el store.
type Recorder struct {
	events repository.EventRepository
	now    func() time.Time
}

// NewRecorder crea un Recorder. now es opcional (default time.Now).
func NewRecorder(events repository.EventRepository, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{events: events, now: now}
}

// Record persiste el evento y lo retorna (con ID asignado).
//
// Nunca propaga el error de persistencia al caller: un fallo del sink de
// auditoría no debe convertir un login válido en un 500. Se loguea y sigue.
func (r *Recorder) Record(ctx context.Context, e Entry) *repository.SecurityEvent {
	sev := e.Severity
	if sev == "" {
		if e.Success {
			sev = types.SeverityInfo
		} else {
			sev = types.SeverityWarning
		}
	}
	ev := &repository.SecurityEvent{
		ID:             uuid.NewString(),
		Type:           e.Type,
		UserID:         e.Identity.UserID,
		OrganizationID: e.Identity.OrganizationID,
		IPAddress:      e.Identity.IPAddress,
		UserAgent:      e.Identity.UserAgent,
		Success:        e.Success,
		Severity:       sev,
		Metadata:       e.Metadata,
		CreatedAt:      r.now().UTC(),
	}
	if err := r.events.Append(ctx, ev); err != nil {
		logger.From(ctx).Error("audit append failed",
			logger.EventType(string(e.Type)),
			logger.UserID(e.Identity.UserID),
			logger.Err(err),
		)
	}
	return ev
}

// AuditLogForKey retorna los eventos asociados a una clave de cifrado.
// Sólo administradores: el log de seguridad no es un recurso de usuario.
func (r *Recorder) AuditLogForKey(ctx context.Context, ident types.Identity, keyIdentifier string, limit int) ([]*repository.SecurityEvent, error) {
	if !ident.IsAdmin() {
		return nil, repository.ErrUnauthorized
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.events.ListByKeyIdentifier(ctx, ident.OrganizationID, keyIdentifier, limit)
}

// PendingRecovery busca el evento de recovery pendiente más reciente del
// usuario (success=false). Retorna repository.ErrNotFound si no hay ninguno.
func (r *Recorder) PendingRecovery(ctx context.Context, userID string, typ types.EventType) (*repository.SecurityEvent, error) {
	return r.events.LatestPendingRecovery(ctx, userID, typ)
}

// CloseRecovery flipea success=true en el evento de recovery pendiente.
// Es la ÚNICA mutación permitida sobre el log.
func (r *Recorder) CloseRecovery(ctx context.Context, eventID string) error {
	return r.events.MarkSuccess(ctx, eventID)
}

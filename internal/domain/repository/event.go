package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/types"
)

// SecurityEvent es una fila append-only del log de seguridad.
//
// Excepción única de mutación: el evento de recovery pendiente
// (mfa.recovery.requested, success=false) se marca success=true al
// completarse, para que el request no pueda reutilizarse. Ningún otro
// caller muta filas.
type SecurityEvent struct {
	ID             string
	Type           types.EventType
	UserID         string // vacío = evento sin usuario asociado
	OrganizationID string
	IPAddress      string
	UserAgent      string
	Success        bool
	Severity       types.Severity
	Metadata       map[string]string
	CreatedAt      time.Time
}

// EventRepository define el sink append-only de eventos de seguridad.
type EventRepository interface {
	// Append persiste una fila inmutable.
	Append(ctx context.Context, ev *SecurityEvent) error

	// MarkSuccess flipea success=true. Reservado para el cierre del flujo
	// de recovery; retorna ErrNotFound si el evento no existe.
	MarkSuccess(ctx context.Context, eventID string) error

	// LatestPendingRecovery busca el evento más reciente del tipo dado con
	// success=false para el usuario. Retorna ErrNotFound si no hay ninguno.
	LatestPendingRecovery(ctx context.Context, userID string, typ types.EventType) (*SecurityEvent, error)

	// ListByKeyIdentifier filtra eventos cuya metadata referencia la clave.
	// Orden: más recientes primero.
	ListByKeyIdentifier(ctx context.Context, orgID, keyIdentifier string, limit int) ([]*SecurityEvent, error)
}

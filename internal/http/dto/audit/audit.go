// Package audit contiene DTOs para la consulta del log de seguridad.
package audit

import "time"

// Event es una fila del log de eventos de seguridad.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	UserID    string            `json:"user_id,omitempty"`
	Success   bool              `json:"success"`
	Severity  string            `json:"severity"`
	IPAddress string            `json:"ip_address,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ListResponse lista eventos, del más reciente al más viejo.
type ListResponse struct {
	Events []Event `json:"events"`
}

package middlewares

import (
	"context"

	"github.com/dropDatabas3/salus/internal/domain/types"
)

// =================================================================================
// CONTEXT KEYS
// =================================================================================

type ctxKey string

const (
	// ctxIdentityKey guarda la identidad autenticada del caller
	ctxIdentityKey ctxKey = "identity"
	// ctxRequestIDKey guarda el request ID
	ctxRequestIDKey ctxKey = "request_id"
)

// =================================================================================
// CONTEXT SETTERS (Internos, usados por middlewares)
// =================================================================================

// WithIdentity inyecta la identidad autenticada en el contexto
func WithIdentity(ctx context.Context, ident types.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey, ident)
}

// setRequestID inyecta el request ID en el contexto (interno)
func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// =================================================================================
// CONTEXT GETTERS (Públicos, usados por handlers/services)
// =================================================================================

// GetIdentity obtiene la identidad autenticada del contexto.
// El segundo valor es false si RequireAuth no corrió sobre esta ruta.
func GetIdentity(ctx context.Context) (types.Identity, bool) {
	if v := ctx.Value(ctxIdentityKey); v != nil {
		if ident, ok := v.(types.Identity); ok {
			return ident, true
		}
	}
	return types.Identity{}, false
}

// GetRequestID obtiene el request ID del contexto.
// Retorna "" si no hay request ID.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(ctxRequestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

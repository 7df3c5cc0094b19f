package types

// Identity es el caller ya autenticado por la capa de transporte.
// El núcleo nunca autentica: asume que estos datos vienen de un middleware
// confiable (claims JWT validadas, no headers arbitrarios).
type Identity struct {
	UserID         string
	OrganizationID string
	Role           Role

	// Contexto del request, usado para fingerprint y auditoría.
	IPAddress string
	UserAgent string
}

// IsAdmin indica si el caller tiene rol administrador.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

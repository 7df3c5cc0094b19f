package repository

import "context"

// UserCredentials es la vista mínima de un usuario que necesita el núcleo:
// verificación de password en Disable/RegenerateBackupCodes y el update de
// password al cerrar un recovery. El perfil completo vive fuera de este core.
type UserCredentials struct {
	UserID         string
	OrganizationID string
	Email          string
	PhoneNumber    string
	PasswordHash   string
}

// UserRepository define el acceso a credenciales de usuario.
type UserRepository interface {
	// GetCredentials retorna ErrNotFound si el usuario no existe.
	GetCredentials(ctx context.Context, userID string) (*UserCredentials, error)

	// UpdatePasswordHash reemplaza el hash de password del usuario.
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

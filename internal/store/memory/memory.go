// Package memory implementa el Store en memoria para desarrollo y tests.
//
// Toda operación toma el mutex del estado compartido, así las garantías de
// atomicidad (incremento de intentos, consumo de backup codes, rotación de
// claves) se cumplen igual que en el backend durable.
package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/salus/internal/domain/repository"
)

type state struct {
	mu sync.Mutex

	mfa      map[string]*repository.MFAConfig     // por ID
	sessions map[string]*repository.TrustedDevice // por ID
	keys     map[string]*repository.EncryptionKey // por KeyIdentifier
	events   []*repository.SecurityEvent          // append-only
	policies map[string]*repository.MFAPolicy     // por orgID
	users    map[string]*repository.UserCredentials
}

// Store es el agregado en memoria.
type Store struct{ st *state }

// New crea un Store vacío.
func New() *Store {
	return &Store{st: &state{
		mfa:      make(map[string]*repository.MFAConfig),
		sessions: make(map[string]*repository.TrustedDevice),
		keys:     make(map[string]*repository.EncryptionKey),
		policies: make(map[string]*repository.MFAPolicy),
		users:    make(map[string]*repository.UserCredentials),
	}}
}

func (s *Store) MFAConfigs() repository.MFAConfigRepository { return &mfaRepo{s.st} }
func (s *Store) Sessions() repository.SessionRepository     { return &sessionRepo{s.st} }
func (s *Store) Keys() repository.KeyRepository             { return &keyRepo{s.st} }
func (s *Store) Events() repository.EventRepository         { return &eventRepo{s.st} }
func (s *Store) Policies() repository.PolicyRepository      { return &policyRepo{s.st} }
func (s *Store) Users() repository.UserRepository           { return &userRepo{s.st} }

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

// SeedUser inserta credenciales. El alta de usuarios vive fuera del núcleo;
// esto existe para tests y para el entorno dev.
func (s *Store) SeedUser(creds *repository.UserCredentials) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	c := *creds
	s.st.users[creds.UserID] = &c
}

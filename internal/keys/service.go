// Package keys implements the encryption key manager: envelope-encrypted
// data keys (DEKs) per organization and purpose, their lifecycle (create,
// rotate, retire, compromise) and the encrypt/decrypt operations that use
// them.
//
// The master key never leaves the secretbox package; this service only ever
// sees wrapped DEKs and unwraps them per operation.
package keys

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
)

const keyAlgorithm = "AES-256-GCM"

// Key manager errors
var (
	ErrInvalidPurpose  = errors.New("key purpose not supported")
	ErrInvalidSchedule = errors.New("rotation schedule not supported")
	ErrActiveExists    = errors.New("active key already exists for purpose")
	ErrNoActiveKey     = errors.New("no active key for purpose")
	ErrRoleDenied      = errors.New("role not allowed for key")
	ErrAdminOnly       = errors.New("operation restricted to administrators")
	ErrCompromisedKey  = errors.New("key compromised, decrypt restricted to administrators")
	ErrInvalidState    = errors.New("invalid key state transition")
	ErrCryptoFailed    = errors.New("key crypto failed")
)

// CreateKeyInput describes the key to create.
type CreateKeyInput struct {
	Purpose          types.KeyPurpose
	RotationSchedule types.RotationSchedule
	AllowedRoles     types.RoleSet
}

// SSNResult is returned by EncryptSSN: the ciphertext blob plus the last
// four digits kept in clear for display and matching.
type SSNResult struct {
	Blob  string
	Last4 string
}

// Service is the encryption key manager.
type Service interface {
	// CreateKey generates a DEK, wraps it under the master key and persists
	// the key record as ACTIVE. One ACTIVE key per (organization, purpose).
	CreateKey(ctx context.Context, ident types.Identity, in CreateKeyInput) (*repository.EncryptionKey, error)

	// Encrypt seals the plaintext under the ACTIVE key of the purpose. The
	// resulting blob embeds the key identifier, so decryption never needs
	// to be told which key to use.
	Encrypt(ctx context.Context, ident types.Identity, purpose types.KeyPurpose, plaintext string) (string, error)

	// Decrypt opens a blob with whatever key it names, subject to that
	// key's role allow-list and status.
	Decrypt(ctx context.Context, ident types.Identity, blob string) (string, error)

	// EncryptSSN seals a social security number under the SSN key (PHI as
	// fallback) and returns the blob together with the last four digits.
	EncryptSSN(ctx context.Context, ident types.Identity, ssn string) (*SSNResult, error)

	// RotateKey retires the current version to ROTATING and activates a new
	// version with a fresh DEK, in a single store transaction.
	RotateKey(ctx context.Context, ident types.Identity, keyIdentifier string) (*repository.EncryptionKey, error)

	// RetireKey transitions a key to RETIRED. Retired keys still decrypt
	// their historical ciphertext.
	RetireKey(ctx context.Context, ident types.Identity, keyIdentifier string) error

	// MarkCompromised flags a key as COMPROMISED. From then on only
	// administrators can decrypt with it, and every such decrypt is a
	// CRITICAL event.
	MarkCompromised(ctx context.Context, ident types.Identity, keyIdentifier, reason string) error

	// ListKeys lists the organization's keys (all statuses).
	ListKeys(ctx context.Context, ident types.Identity) ([]*repository.EncryptionKey, error)

	// GetKey fetches one key record.
	GetKey(ctx context.Context, ident types.Identity, keyIdentifier string) (*repository.EncryptionKey, error)

	// DueForRotation lists ACTIVE keys whose nextRotationAt has passed.
	DueForRotation(ctx context.Context, ident types.Identity) ([]*repository.EncryptionKey, error)
}

// Deps contains the dependencies for the key manager.
type Deps struct {
	Keys    repository.KeyRepository
	Auditor *audit.Recorder

	// Now is injectable for deterministic rotation tests.
	Now func() time.Time
}

type service struct {
	keys    repository.KeyRepository
	auditor *audit.Recorder
	now     func() time.Time
}

// New creates the key manager Service.
func New(d Deps) Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &service{keys: d.Keys, auditor: d.Auditor, now: now}
}

// newKeyIdentifier derives the opaque key id: <purpose>-<uuid>.
func newKeyIdentifier(purpose types.KeyPurpose) string {
	return strings.ToLower(string(purpose)) + "-" + uuid.NewString()
}

// nextRotation computes the schedule's next due date from a base time.
func nextRotation(from time.Time, schedule types.RotationSchedule) time.Time {
	switch schedule {
	case types.RotationMonthly:
		return from.AddDate(0, 1, 0)
	case types.RotationQuarterly:
		return from.AddDate(0, 3, 0)
	default:
		return from.AddDate(1, 0, 0)
	}
}

// denyUse audits a rejected key use before returning the caller error.
func (s *service) denyUse(ctx context.Context, ident types.Identity, keyIdentifier, reason string) {
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventKeyUseDenied,
		Identity: ident,
		Success:  false,
		Severity: types.SeverityWarning,
		Metadata: map[string]string{
			"key_id": keyIdentifier,
			"reason": reason,
		},
	})
}

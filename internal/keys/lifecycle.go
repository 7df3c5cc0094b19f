package keys

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/metrics"
	"github.com/dropDatabas3/salus/internal/observability/logger"
	"github.com/dropDatabas3/salus/internal/security/secretbox"
)

// CreateKey generates and activates a new key for the purpose.
func (s *service) CreateKey(ctx context.Context, ident types.Identity, in CreateKeyInput) (*repository.EncryptionKey, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("keys.create"))

	if !ident.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if !in.Purpose.Valid() {
		return nil, ErrInvalidPurpose
	}
	if !in.RotationSchedule.Valid() {
		return nil, ErrInvalidSchedule
	}
	roles := in.AllowedRoles
	if len(roles) == 0 {
		roles = types.RoleSet{types.RoleAdmin}
	}

	dek, err := secretbox.GenerateDEK()
	if err != nil {
		log.Error("failed to generate dek", logger.Err(err))
		return nil, ErrCryptoFailed
	}
	wrapped, err := secretbox.WrapDEK(dek)
	if err != nil {
		log.Error("failed to wrap dek", logger.Err(err))
		return nil, ErrCryptoFailed
	}

	now := s.now().UTC()
	key := &repository.EncryptionKey{
		ID:               uuid.NewString(),
		KeyIdentifier:    newKeyIdentifier(in.Purpose),
		OrganizationID:   ident.OrganizationID,
		Purpose:          in.Purpose,
		Status:           types.KeyStatusActive,
		Algorithm:        keyAlgorithm,
		KeyVersion:       1,
		EncryptedDEK:     wrapped,
		RotationSchedule: in.RotationSchedule,
		NextRotationAt:   nextRotation(now, in.RotationSchedule),
		AllowedRoles:     roles,
		ActivatedAt:      now,
		CreatedAt:        now,
	}

	if err := s.keys.Create(ctx, key); err != nil {
		if repository.IsConflict(err) {
			return nil, ErrActiveExists
		}
		log.Error("failed to persist key", logger.Err(err))
		return nil, err
	}

	metrics.KeyOperation("create", string(in.Purpose))
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventKeyCreated,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{
			"key_id":      key.KeyIdentifier,
			"purpose":     string(in.Purpose),
			"schedule":    string(in.RotationSchedule),
			"fingerprint": secretbox.Fingerprint(dek),
		},
	})
	log.Info("encryption key created",
		logger.KeyID(key.KeyIdentifier),
		logger.Purpose(string(in.Purpose)),
	)
	return key, nil
}

// RotateKey replaces the current version with a fresh one atomically.
func (s *service) RotateKey(ctx context.Context, ident types.Identity, keyIdentifier string) (*repository.EncryptionKey, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("keys.rotate"))

	if !ident.IsAdmin() {
		return nil, ErrAdminOnly
	}
	old, err := s.keys.GetByIdentifier(ctx, keyIdentifier)
	if err != nil {
		return nil, err
	}
	if old.OrganizationID != ident.OrganizationID {
		return nil, repository.ErrNotFound
	}
	if !old.Status.CanTransitionTo(types.KeyStatusRotating) {
		return nil, ErrInvalidState
	}

	dek, err := secretbox.GenerateDEK()
	if err != nil {
		log.Error("failed to generate dek", logger.Err(err))
		return nil, ErrCryptoFailed
	}
	wrapped, err := secretbox.WrapDEK(dek)
	if err != nil {
		log.Error("failed to wrap dek", logger.Err(err))
		return nil, ErrCryptoFailed
	}

	now := s.now().UTC()
	prev := old.KeyIdentifier
	next := &repository.EncryptionKey{
		ID:               uuid.NewString(),
		KeyIdentifier:    newKeyIdentifier(old.Purpose),
		OrganizationID:   old.OrganizationID,
		Purpose:          old.Purpose,
		Status:           types.KeyStatusActive,
		Algorithm:        keyAlgorithm,
		KeyVersion:       old.KeyVersion + 1,
		EncryptedDEK:     wrapped,
		RotationSchedule: old.RotationSchedule,
		NextRotationAt:   nextRotation(now, old.RotationSchedule),
		PreviousKeyID:    &prev,
		AllowedRoles:     old.AllowedRoles,
		ActivatedAt:      now,
		CreatedAt:        now,
	}

	// Una transacción: la vieja pasa a ROTATING y la nueva entra ACTIVE.
	if err := s.keys.Rotate(ctx, old.KeyIdentifier, next, now); err != nil {
		log.Error("failed to rotate key", logger.Err(err))
		return nil, err
	}

	metrics.KeyOperation("rotate", string(old.Purpose))
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventKeyRotated,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{
			"key_id":      next.KeyIdentifier,
			"previous":    old.KeyIdentifier,
			"purpose":     string(old.Purpose),
			"key_version": strconv.Itoa(next.KeyVersion),
		},
	})
	log.Info("encryption key rotated",
		logger.KeyID(next.KeyIdentifier),
		logger.String("previous", old.KeyIdentifier),
	)
	return next, nil
}

// RetireKey transitions a key to RETIRED.
func (s *service) RetireKey(ctx context.Context, ident types.Identity, keyIdentifier string) error {
	if !ident.IsAdmin() {
		return ErrAdminOnly
	}
	key, err := s.keys.GetByIdentifier(ctx, keyIdentifier)
	if err != nil {
		return err
	}
	if key.OrganizationID != ident.OrganizationID {
		return repository.ErrNotFound
	}
	if !key.Status.CanTransitionTo(types.KeyStatusRetired) {
		return ErrInvalidState
	}
	now := s.now().UTC()
	if err := s.keys.UpdateStatus(ctx, keyIdentifier, types.KeyStatusRetired, now); err != nil {
		return err
	}

	metrics.KeyOperation("retire", string(key.Purpose))
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventKeyRetired,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{"key_id": keyIdentifier, "purpose": string(key.Purpose)},
	})
	return nil
}

// MarkCompromised flags a key as COMPROMISED.
func (s *service) MarkCompromised(ctx context.Context, ident types.Identity, keyIdentifier, reason string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("keys.compromise"))

	if !ident.IsAdmin() {
		return ErrAdminOnly
	}
	key, err := s.keys.GetByIdentifier(ctx, keyIdentifier)
	if err != nil {
		return err
	}
	if key.OrganizationID != ident.OrganizationID {
		return repository.ErrNotFound
	}
	if !key.Status.CanTransitionTo(types.KeyStatusCompromised) {
		return ErrInvalidState
	}
	now := s.now().UTC()
	if err := s.keys.UpdateStatus(ctx, keyIdentifier, types.KeyStatusCompromised, now); err != nil {
		return err
	}

	metrics.KeyOperation("compromise", string(key.Purpose))
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventKeyCompromised,
		Identity: ident,
		Success:  true,
		Severity: types.SeverityCritical,
		Metadata: map[string]string{
			"key_id":  keyIdentifier,
			"purpose": string(key.Purpose),
			"reason":  reason,
		},
	})
	log.Warn("encryption key marked compromised",
		logger.KeyID(keyIdentifier),
		logger.String("reason", reason),
	)
	return nil
}

// ListKeys lists the organization's keys.
func (s *service) ListKeys(ctx context.Context, ident types.Identity) ([]*repository.EncryptionKey, error) {
	if !ident.IsAdmin() {
		return nil, ErrAdminOnly
	}
	return s.keys.ListByOrganization(ctx, ident.OrganizationID)
}

// GetKey fetches one key record.
func (s *service) GetKey(ctx context.Context, ident types.Identity, keyIdentifier string) (*repository.EncryptionKey, error) {
	if !ident.IsAdmin() {
		return nil, ErrAdminOnly
	}
	key, err := s.keys.GetByIdentifier(ctx, keyIdentifier)
	if err != nil {
		return nil, err
	}
	if key.OrganizationID != ident.OrganizationID {
		return nil, repository.ErrNotFound
	}
	return key, nil
}

// DueForRotation lists ACTIVE keys past their nextRotationAt.
func (s *service) DueForRotation(ctx context.Context, ident types.Identity) ([]*repository.EncryptionKey, error) {
	if !ident.IsAdmin() {
		return nil, ErrAdminOnly
	}
	due, err := s.keys.ListDueForRotation(ctx, s.now().UTC())
	if err != nil {
		return nil, err
	}
	// El repositorio filtra por fecha; acá filtramos por organización.
	out := due[:0:0]
	for _, k := range due {
		if k.OrganizationID == ident.OrganizationID {
			out = append(out, k)
		}
	}
	return out, nil
}

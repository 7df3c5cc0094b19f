package keys

import (
	"context"
	"strings"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/metrics"
	"github.com/dropDatabas3/salus/internal/observability/logger"
	"github.com/dropDatabas3/salus/internal/security/secretbox"
)

// Encrypt seals the plaintext under the ACTIVE key of the purpose.
func (s *service) Encrypt(ctx context.Context, ident types.Identity, purpose types.KeyPurpose, plaintext string) (string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("keys.encrypt"))

	if !purpose.Valid() {
		return "", ErrInvalidPurpose
	}
	key, err := s.keys.GetActive(ctx, ident.OrganizationID, purpose)
	if err != nil {
		if repository.IsNotFound(err) {
			return "", ErrNoActiveKey
		}
		return "", err
	}

	if !key.AllowedRoles.Contains(ident.Role) {
		s.denyUse(ctx, ident, key.KeyIdentifier, "role_not_allowed")
		return "", ErrRoleDenied
	}

	dek, err := secretbox.UnwrapDEK(key.EncryptedDEK)
	if err != nil {
		log.Error("failed to unwrap dek", logger.KeyID(key.KeyIdentifier), logger.Err(err))
		return "", ErrCryptoFailed
	}
	blob, err := secretbox.SealWithDEK(dek, key.KeyIdentifier, plaintext)
	if err != nil {
		log.Error("failed to seal data", logger.KeyID(key.KeyIdentifier), logger.Err(err))
		return "", ErrCryptoFailed
	}

	if err := s.keys.TouchAccess(ctx, key.KeyIdentifier, s.now().UTC()); err != nil {
		log.Warn("failed to touch key access", logger.KeyID(key.KeyIdentifier), logger.Err(err))
	}

	metrics.KeyOperation("encrypt", string(purpose))
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventDataEncrypted,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{"key_id": key.KeyIdentifier, "purpose": string(purpose)},
	})
	return blob, nil
}

// Decrypt opens a blob with the key it names.
func (s *service) Decrypt(ctx context.Context, ident types.Identity, blob string) (string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("keys.decrypt"))

	keyID, err := secretbox.KeyIDFromBlob(blob)
	if err != nil {
		return "", ErrCryptoFailed
	}
	key, err := s.keys.GetByIdentifier(ctx, keyID)
	if err != nil {
		return "", err
	}
	if key.OrganizationID != ident.OrganizationID {
		return "", repository.ErrNotFound
	}

	if !key.AllowedRoles.Contains(ident.Role) {
		s.denyUse(ctx, ident, key.KeyIdentifier, "role_not_allowed")
		return "", ErrRoleDenied
	}

	// Una clave comprometida sólo descifra para forense, y queda registro
	// CRITICAL de cada acceso.
	compromised := key.Status == types.KeyStatusCompromised
	if compromised && !ident.IsAdmin() {
		s.denyUse(ctx, ident, key.KeyIdentifier, "compromised_key")
		return "", ErrCompromisedKey
	}

	dek, err := secretbox.UnwrapDEK(key.EncryptedDEK)
	if err != nil {
		log.Error("failed to unwrap dek", logger.KeyID(key.KeyIdentifier), logger.Err(err))
		return "", ErrCryptoFailed
	}
	plaintext, err := secretbox.OpenWithDEK(dek, blob)
	if err != nil {
		log.Warn("failed to open blob", logger.KeyID(key.KeyIdentifier), logger.Err(err))
		return "", ErrCryptoFailed
	}

	if err := s.keys.TouchAccess(ctx, key.KeyIdentifier, s.now().UTC()); err != nil {
		log.Warn("failed to touch key access", logger.KeyID(key.KeyIdentifier), logger.Err(err))
	}

	sev := types.SeverityInfo
	if compromised {
		sev = types.SeverityCritical
	}
	metrics.KeyOperation("decrypt", string(key.Purpose))
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventDataDecrypted,
		Identity: ident,
		Success:  true,
		Severity: sev,
		Metadata: map[string]string{
			"key_id":      key.KeyIdentifier,
			"purpose":     string(key.Purpose),
			"key_status":  string(key.Status),
			"compromised": boolStr(compromised),
		},
	})
	if key.Purpose == types.KeyPurposePHI || key.Purpose == types.KeyPurposeSSN {
		s.auditor.Record(ctx, audit.Entry{
			Type:     types.EventPHIAccess,
			Identity: ident,
			Success:  true,
			Metadata: map[string]string{"key_id": key.KeyIdentifier, "purpose": string(key.Purpose)},
		})
	}
	return plaintext, nil
}

// EncryptSSN seals a social security number. Prefers a dedicated SSN key;
// falls back to the PHI key.
func (s *service) EncryptSSN(ctx context.Context, ident types.Identity, ssn string) (*SSNResult, error) {
	purpose := types.KeyPurposeSSN
	if _, err := s.keys.GetActive(ctx, ident.OrganizationID, purpose); repository.IsNotFound(err) {
		purpose = types.KeyPurposePHI
	}

	blob, err := s.Encrypt(ctx, ident, purpose, ssn)
	if err != nil {
		return nil, err
	}
	return &SSNResult{Blob: blob, Last4: lastFourDigits(ssn)}, nil
}

// lastFourDigits keeps only digit characters and returns the last four.
func lastFourDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) <= 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

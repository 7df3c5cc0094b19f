package mfa

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/observability/logger"
	"github.com/dropDatabas3/salus/internal/security/password"
	"github.com/dropDatabas3/salus/internal/security/token"
)

// Metadata keys del evento de recovery pendiente.
const (
	recoveryMetaTokenHash = "token_hash"
	recoveryMetaExpiresAt = "expires_at"
)

// Disable removes a verified configuration after re-authenticating with the
// account password. Refused when policy makes MFA mandatory and this is the
// caller's last verified method.
func (s *service) Disable(ctx context.Context, ident types.Identity, method types.MFAMethod, accountPassword string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.disable"))

	cfg, err := s.configs.GetByUserAndMethod(ctx, ident.UserID, method)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrNotInitialized
		}
		return err
	}

	// 1. Re-authenticate
	creds, err := s.users.GetCredentials(ctx, ident.UserID)
	if err != nil {
		return err
	}
	if !password.Verify(accountPassword, creds.PasswordHash) {
		s.auditor.Record(ctx, audit.Entry{
			Type:     types.EventMFADisabled,
			Identity: ident,
			Success:  false,
			Metadata: map[string]string{"method": string(method), "reason": "invalid_password"},
		})
		return ErrInvalidPassword
	}

	// 2. Policy gate: mandatory MFA cannot be left without a factor
	if cfg.Verified {
		mandatory, err := s.policies.MandatoryFor(ctx, ident.OrganizationID, ident.Role)
		if err != nil {
			return err
		}
		if mandatory {
			others, err := s.configs.ListByUser(ctx, ident.UserID)
			if err != nil {
				return err
			}
			verified := 0
			for _, c := range others {
				if c.Verified {
					verified++
				}
			}
			if verified <= 1 {
				s.auditor.Record(ctx, audit.Entry{
					Type:     types.EventMFADisabled,
					Identity: ident,
					Success:  false,
					Metadata: map[string]string{"method": string(method), "reason": "policy_mandatory"},
				})
				return ErrPolicyForbids
			}
		}
	}

	if err := s.configs.Delete(ctx, cfg.ID); err != nil {
		log.Error("failed to delete configuration", logger.Err(err))
		return err
	}

	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFADisabled,
		Identity: ident,
		Success:  true,
		Severity: types.SeverityWarning,
		Metadata: map[string]string{"method": string(method)},
	})
	log.Info("mfa disabled", logger.UserID(ident.UserID), logger.MFAMethod(string(method)))
	return nil
}

// RegenerateBackupCodes replaces the backup code set of a verified
// configuration. The previous set stops validating immediately.
func (s *service) RegenerateBackupCodes(ctx context.Context, ident types.Identity, method types.MFAMethod, accountPassword string) ([]string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.backup_codes.rotate"))

	cfg, err := s.configs.GetByUserAndMethod(ctx, ident.UserID, method)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	if !cfg.Verified {
		return nil, ErrNotEnabled
	}

	creds, err := s.users.GetCredentials(ctx, ident.UserID)
	if err != nil {
		return nil, err
	}
	if !password.Verify(accountPassword, creds.PasswordHash) {
		return nil, ErrInvalidPassword
	}

	plain, hashes, err := generateBackupCodes(s.set.BackupCodeCount)
	if err != nil {
		log.Error("failed to generate backup codes", logger.Err(err))
		return nil, ErrCryptoFailed
	}
	if err := s.configs.ReplaceBackupCodes(ctx, cfg.ID, hashes); err != nil {
		log.Error("failed to replace backup codes", logger.Err(err))
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFABackupCodesRotated,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{"method": string(method), "count": strconv.Itoa(len(plain))},
	})
	log.Info("backup codes rotated", logger.UserID(ident.UserID), logger.MFAMethod(string(method)))
	return plain, nil
}

// RequestRecovery starts the lost-device flow. The token travels to the
// account email; the event log keeps only its hash and expiry.
func (s *service) RequestRecovery(ctx context.Context, ident types.Identity) (*RecoveryResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.recovery.request"))

	creds, err := s.users.GetCredentials(ctx, ident.UserID)
	if err != nil {
		return nil, err
	}

	tok, err := token.GenerateOpaqueToken(32)
	if err != nil {
		log.Error("failed to generate recovery token", logger.Err(err))
		return nil, ErrCryptoFailed
	}

	now := s.now().UTC()
	exp := now.Add(s.set.RecoveryTTL)

	// Evento pendiente: success=false hasta que el recovery se complete.
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFARecoveryRequested,
		Identity: ident,
		Success:  false,
		Severity: types.SeverityWarning,
		Metadata: map[string]string{
			recoveryMetaTokenHash: token.SHA256Base64URL(tok),
			recoveryMetaExpiresAt: exp.Format(time.RFC3339),
		},
	})

	s.dispatchOTP(ctx, types.MFAMethodEmail, creds.Email, tok)

	log.Info("mfa recovery requested", logger.UserID(ident.UserID))
	return &RecoveryResult{
		ExpiresAt: exp,
		DevToken:  s.devEcho(tok),
	}, nil
}

// CompleteRecovery validates the token against the latest pending recovery
// event, resets the user's entire MFA state and updates the password. The
// event flips to success so the same token never completes twice.
func (s *service) CompleteRecovery(ctx context.Context, ident types.Identity, recoveryToken, newPassword string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.recovery.complete"))

	ev, err := s.auditor.PendingRecovery(ctx, ident.UserID, types.EventMFARecoveryRequested)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrRecoveryNotFound
		}
		return err
	}

	// 1. Expiry first, then hash; ambos fallos son terminales
	exp, err := time.Parse(time.RFC3339, ev.Metadata[recoveryMetaExpiresAt])
	if err != nil || s.now().UTC().After(exp) {
		return ErrRecoveryExpired
	}
	if !constantEqual(token.SHA256Base64URL(recoveryToken), ev.Metadata[recoveryMetaTokenHash]) {
		s.auditor.Record(ctx, audit.Entry{
			Type:     types.EventMFARecoveryCompleted,
			Identity: ident,
			Success:  false,
			Severity: types.SeverityWarning,
			Metadata: map[string]string{"reason": "token_mismatch"},
		})
		return ErrRecoveryNotFound
	}

	// 2. New password must clear the policy and the blacklist
	if strings.TrimSpace(newPassword) == "" {
		return ErrWeakPassword
	}
	if ok, _ := s.pwPolicy.Validate(newPassword); !ok {
		return ErrWeakPassword
	}
	if s.pwBlacklist != nil && s.pwBlacklist.Contains(newPassword) {
		return ErrWeakPassword
	}
	hash, err := password.Hash(password.Default, newPassword)
	if err != nil {
		log.Error("failed to hash password", logger.Err(err))
		return ErrCryptoFailed
	}

	// 3. Full reset: password, MFA configs, trusted devices
	if err := s.users.UpdatePasswordHash(ctx, ident.UserID, hash); err != nil {
		log.Error("failed to update password", logger.Err(err))
		return err
	}
	removed, err := s.configs.DeleteAllForUser(ctx, ident.UserID)
	if err != nil {
		log.Error("failed to delete mfa configurations", logger.Err(err))
		return err
	}
	terminated, _ := s.sessions.TerminateAllForUser(ctx, ident.UserID)

	// 4. Close the pending event so the token is single-use
	if err := s.auditor.CloseRecovery(ctx, ev.ID); err != nil {
		log.Error("failed to close recovery event", logger.Err(err))
		return err
	}

	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFARecoveryCompleted,
		Identity: ident,
		Success:  true,
		Severity: types.SeverityWarning,
		Metadata: map[string]string{
			"configs_removed":     strconv.Itoa(removed),
			"sessions_terminated": strconv.Itoa(terminated),
		},
	})
	log.Info("mfa recovery completed",
		logger.UserID(ident.UserID),
		logger.Count(removed),
	)
	return nil
}

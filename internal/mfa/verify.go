package mfa

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	uaparser "github.com/mssola/user_agent"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/cache"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/metrics"
	"github.com/dropDatabas3/salus/internal/observability/logger"
	"github.com/dropDatabas3/salus/internal/security/secretbox"
	"github.com/dropDatabas3/salus/internal/security/token"
	"github.com/dropDatabas3/salus/internal/security/totp"
)

// methodPreference orders the primary factor: TOTP wins over out-of-band codes.
var methodPreference = []types.MFAMethod{types.MFAMethodTOTP, types.MFAMethodSMS, types.MFAMethodEmail}

// primaryConfig picks the verified configuration the login flow runs against.
func (s *service) primaryConfig(ctx context.Context, userID string) (*repository.MFAConfig, error) {
	cfgs, err := s.configs.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range methodPreference {
		for _, c := range cfgs {
			if c.Verified && c.Method == m {
				return c, nil
			}
		}
	}
	return nil, ErrNotEnabled
}

// ChallengeLogin dispatches a login OTP for a verified SMS/EMAIL configuration.
func (s *service) ChallengeLogin(ctx context.Context, ident types.Identity) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.login.challenge"))

	cfg, err := s.primaryConfig(ctx, ident.UserID)
	if err != nil {
		return err
	}
	if cfg.Method == types.MFAMethodTOTP {
		// El authenticator genera el código; no hay nada que despachar.
		return nil
	}

	now := s.now().UTC()
	if cfg.Locked(now) {
		return &RateLimitedError{UnlockAt: cfg.LockedUntil.UTC()}
	}

	code, err := token.GenerateNumericCode(otpDigits)
	if err != nil {
		log.Error("failed to generate otp", logger.Err(err))
		return ErrCryptoFailed
	}
	if err := s.cache.Set(ctx, loginChallengeKey(cfg.ID), token.SHA256Hex(code), s.set.OTPTTL); err != nil {
		log.Error("failed to store login challenge", logger.Err(err))
		return err
	}
	s.dispatchOTP(ctx, cfg.Method, cfg.Secret.Destination, code)

	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFAChallengeSent,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{"method": string(cfg.Method)},
	})
	log.Info("login challenge dispatched",
		logger.UserID(ident.UserID),
		logger.MFAMethod(string(cfg.Method)),
	)
	return nil
}

// VerifyAtLogin verifies the second factor during login.
func (s *service) VerifyAtLogin(ctx context.Context, ident types.Identity, code string, rememberDevice bool) (*LoginResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.login.verify"))

	cfg, err := s.primaryConfig(ctx, ident.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()

	// 1. Lockout gate, before any code evaluation
	if cfg.Locked(now) {
		metrics.MFAVerification(string(cfg.Method), "locked")
		return nil, &RateLimitedError{UnlockAt: cfg.LockedUntil.UTC()}
	}

	res := &LoginResult{Method: cfg.Method}

	// 2. Backup-code length routes to the backup set; consumption is atomic
	if len(code) == backupCodeLength {
		ok, err := s.configs.ConsumeBackupCode(ctx, cfg.ID, token.SHA256Hex(code))
		if err != nil {
			log.Error("failed to consume backup code", logger.Err(err))
			return nil, err
		}
		if !ok {
			metrics.MFAVerification(string(cfg.Method), "failed")
			return nil, s.registerFailure(ctx, cfg, repository.FlowLogin, ident)
		}

		fresh, err := s.configs.GetByID(ctx, cfg.ID)
		if err == nil {
			res.BackupCodesLeft = backupCodesLeft(fresh)
		}
		res.UsedBackupCode = true

		s.auditor.Record(ctx, audit.Entry{
			Type:     types.EventMFABackupCodeUsed,
			Identity: ident,
			Success:  true,
			Severity: types.SeverityWarning,
			Metadata: map[string]string{
				"method":    string(cfg.Method),
				"remaining": strconv.Itoa(res.BackupCodesLeft),
			},
		})
	} else {
		// 3. Primary-factor path
		var verifyErr error
		switch cfg.Secret.Kind {
		case types.SecretKindTOTP:
			secretB32, err := secretbox.Decrypt(cfg.Secret.TOTPSecretEnc)
			if err != nil {
				log.Error("failed to decrypt totp secret", logger.Err(err))
				return nil, ErrCryptoFailed
			}
			if !totp.Verify(secretB32, code, now, s.set.TOTPWindow) {
				verifyErr = ErrInvalidCode
			}
		case types.SecretKindVerified:
			wantHash, err := s.cache.Get(ctx, loginChallengeKey(cfg.ID))
			if err != nil {
				if cache.IsNotFound(err) {
					metrics.MFAVerification(string(cfg.Method), "expired")
					return nil, ErrCodeExpired
				}
				return nil, err
			}
			if !hashMatches(code, wantHash) {
				verifyErr = ErrInvalidCode
			}
		default:
			return nil, ErrNotEnabled
		}

		if verifyErr != nil {
			metrics.MFAVerification(string(cfg.Method), "failed")
			return nil, s.registerFailure(ctx, cfg, repository.FlowLogin, ident)
		}
		if cfg.Secret.Kind == types.SecretKindVerified {
			_ = s.cache.Delete(ctx, loginChallengeKey(cfg.ID))
		}
	}

	// 4. Success accounting: counters reset, lockout cleared, lastUsedAt set
	if err := s.configs.MarkUsed(ctx, cfg.ID, now); err != nil {
		log.Error("failed to mark configuration used", logger.Err(err))
		return nil, err
	}

	metrics.MFAVerification(string(cfg.Method), "ok")
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFALoginVerified,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{
			"method":      string(cfg.Method),
			"backup_code": strconv.FormatBool(res.UsedBackupCode),
		},
	})

	// 5. Optional trusted-device session
	if rememberDevice {
		tok, exp, err := s.mintTrustedDevice(ctx, ident)
		if err != nil {
			// La sesión de conveniencia no invalida un login ya verificado.
			log.Error("failed to mint trusted device", logger.Err(err))
		} else {
			res.DeviceToken = tok
			res.DeviceExpiresAt = exp
		}
	}

	log.Info("mfa login verified",
		logger.UserID(ident.UserID),
		logger.MFAMethod(string(cfg.Method)),
		logger.Bool("backup_code", res.UsedBackupCode),
	)
	return res, nil
}

// mintTrustedDevice creates a trusted session bound to this device.
func (s *service) mintTrustedDevice(ctx context.Context, ident types.Identity) (string, time.Time, error) {
	plain, err := token.GenerateOpaqueToken(32)
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now().UTC()
	exp := now.Add(s.set.RememberTTL)

	ua := uaparser.New(ident.UserAgent)
	browser, _ := ua.Browser()
	deviceType := "desktop"
	if ua.Mobile() {
		deviceType = "mobile"
	} else if ua.Bot() {
		deviceType = "bot"
	}

	dev := &repository.TrustedDevice{
		ID:             uuid.NewString(),
		UserID:         ident.UserID,
		OrganizationID: ident.OrganizationID,
		TokenHash:      token.SHA256Base64URL(plain),
		Fingerprint:    token.DeviceFingerprint(ident.UserAgent, ident.IPAddress),
		DeviceType:     deviceType,
		Browser:        browser,
		OS:             ua.OS(),
		RememberDevice: true,
		MFAVerified:    true,
		Status:         types.SessionStatusActive,
		ExpiresAt:      exp,
		CreatedAt:      now,
	}
	if err := s.sessions.Create(ctx, dev); err != nil {
		return "", time.Time{}, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventTrustedDeviceAdded,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{
			"device_type": deviceType,
			"browser":     browser,
			"os":          ua.OS(),
			"expires_at":  exp.Format(time.RFC3339),
		},
	})
	return plain, exp, nil
}

// CheckTrustedDevice reports whether the token identifies a live trusted
// session for this caller. Token hash AND fingerprint must both match.
func (s *service) CheckTrustedDevice(ctx context.Context, ident types.Identity, deviceToken string) (bool, error) {
	if deviceToken == "" {
		return false, nil
	}
	dev, err := s.sessions.GetByTokenHash(ctx, token.SHA256Base64URL(deviceToken))
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	now := s.now().UTC()
	switch {
	case dev.UserID != ident.UserID:
		return false, nil
	case dev.Status != types.SessionStatusActive:
		return false, nil
	case !dev.RememberDevice || !dev.MFAVerified:
		return false, nil
	case dev.Expired(now):
		return false, nil
	case dev.Fingerprint != token.DeviceFingerprint(ident.UserAgent, ident.IPAddress):
		// Token válido desde otro dispositivo: se trata como no confiable.
		s.auditor.Record(ctx, audit.Entry{
			Type:     types.EventMFAVerifyFailed,
			Identity: ident,
			Success:  false,
			Severity: types.SeverityWarning,
			Metadata: map[string]string{"reason": "fingerprint_mismatch"},
		})
		return false, nil
	}

	_ = s.sessions.TouchSeen(ctx, dev.ID, now)
	return true, nil
}

// RevokeTrustedDevices terminates every trusted session of the caller.
func (s *service) RevokeTrustedDevices(ctx context.Context, ident types.Identity) (int, error) {
	n, err := s.sessions.TerminateAllForUser(ctx, ident.UserID)
	if err != nil {
		return 0, err
	}
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventTrustedDeviceRevoked,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{"count": strconv.Itoa(n)},
	})
	return n, nil
}

// Status lists the caller's configurations.
func (s *service) Status(ctx context.Context, ident types.Identity) ([]*MethodStatus, error) {
	cfgs, err := s.configs.ListByUser(ctx, ident.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]*MethodStatus, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, &MethodStatus{
			ConfigID:        c.ID,
			Method:          c.Method,
			Verified:        c.Verified,
			Destination:     c.Secret.Destination,
			BackupCodesLeft: backupCodesLeft(c),
			LockedUntil:     c.LockedUntil,
			LastUsedAt:      c.LastUsedAt,
		})
	}
	return out, nil
}

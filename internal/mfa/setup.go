package mfa

import (
	"context"

	"github.com/google/uuid"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/metrics"
	"github.com/dropDatabas3/salus/internal/observability/logger"
	"github.com/dropDatabas3/salus/internal/security/secretbox"
	"github.com/dropDatabas3/salus/internal/security/token"
	"github.com/dropDatabas3/salus/internal/security/totp"
)

// Setup starts enrollment of a method for the caller.
func (s *service) Setup(ctx context.Context, ident types.Identity, method types.MFAMethod, destination string) (*SetupResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.setup"))

	// 1. Validate input
	if !method.Valid() {
		return nil, ErrInvalidMethod
	}

	creds, err := s.users.GetCredentials(ctx, ident.UserID)
	if err != nil {
		log.Error("failed to load user credentials", logger.Err(err))
		return nil, err
	}

	// 2. Resolve destination
	switch method {
	case types.MFAMethodEmail:
		if destination == "" {
			destination = creds.Email
		}
	case types.MFAMethodSMS:
		if destination == "" {
			destination = creds.PhoneNumber
		}
	}
	if method.RequiresDestination() && destination == "" {
		return nil, ErrDestinationRequired
	}

	now := s.now().UTC()
	cfg := &repository.MFAConfig{
		ID:             uuid.NewString(),
		UserID:         ident.UserID,
		OrganizationID: ident.OrganizationID,
		Method:         method,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	res := &SetupResult{ConfigID: cfg.ID, Method: method, Destination: destination}

	// 3. Build the secret per method
	var otpCode string
	switch method {
	case types.MFAMethodTOTP:
		secretB32, otpauthURL, err := totp.Generate(s.set.TOTPIssuer, creds.Email)
		if err != nil {
			log.Error("failed to generate totp secret", logger.Err(err))
			return nil, ErrCryptoFailed
		}
		enc, err := secretbox.Encrypt(secretB32)
		if err != nil {
			log.Error("failed to encrypt totp secret", logger.Err(err))
			return nil, ErrCryptoFailed
		}
		cfg.Secret = types.TOTPSecret(enc)

		plain, hashes, err := generateBackupCodes(s.set.BackupCodeCount)
		if err != nil {
			log.Error("failed to generate backup codes", logger.Err(err))
			return nil, ErrCryptoFailed
		}
		cfg.BackupCodes = hashes
		res.SecretBase32 = secretB32
		res.OTPAuthURL = otpauthURL
		res.BackupCodes = plain

	default: // SMS / EMAIL
		otpCode, err = token.GenerateNumericCode(otpDigits)
		if err != nil {
			log.Error("failed to generate otp", logger.Err(err))
			return nil, ErrCryptoFailed
		}
		cfg.Secret = types.PendingOTP(destination, token.SHA256Hex(otpCode), now.Add(s.set.OTPTTL))
	}

	// 4. Persist. A verified configuration for the method wins the conflict.
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		if repository.IsConflict(err) {
			return nil, ErrAlreadyEnabled
		}
		log.Error("failed to persist configuration", logger.Err(err))
		return nil, err
	}

	// 5. Dispatch the OTP out of band
	if otpCode != "" {
		_ = s.cache.Set(ctx, resendCooldownKey(cfg.ID), "1", s.set.ResendCooldown)
		s.dispatchOTP(ctx, method, destination, otpCode)
		res.DevCode = s.devEcho(otpCode)
	}

	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFASetupStarted,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{"method": string(method)},
	})
	log.Info("mfa setup started",
		logger.UserID(ident.UserID),
		logger.MFAMethod(string(method)),
	)
	return res, nil
}

// ResendOTP re-dispatches the pending setup OTP with a fresh code.
func (s *service) ResendOTP(ctx context.Context, ident types.Identity, method types.MFAMethod) (*SetupResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.resend"))

	if !method.RequiresDestination() {
		return nil, ErrInvalidMethod
	}

	cfg, err := s.configs.GetByUserAndMethod(ctx, ident.UserID, method)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	if cfg.Verified || cfg.Secret.Kind != types.SecretKindPendingOTP {
		return nil, ErrNotInitialized
	}

	// Cooldown: una ventana por configuración, no negociable por retry.
	if exists, err := s.cache.Exists(ctx, resendCooldownKey(cfg.ID)); err == nil && exists {
		return nil, ErrResendCooldown
	}

	now := s.now().UTC()
	code, err := token.GenerateNumericCode(otpDigits)
	if err != nil {
		log.Error("failed to generate otp", logger.Err(err))
		return nil, ErrCryptoFailed
	}
	dest := cfg.Secret.Destination
	if err := s.configs.UpdateSecret(ctx, cfg.ID, types.PendingOTP(dest, token.SHA256Hex(code), now.Add(s.set.OTPTTL))); err != nil {
		log.Error("failed to update pending otp", logger.Err(err))
		return nil, err
	}

	_ = s.cache.Set(ctx, resendCooldownKey(cfg.ID), "1", s.set.ResendCooldown)
	s.dispatchOTP(ctx, method, dest, code)

	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFAOTPResent,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{"method": string(method)},
	})
	log.Info("setup otp resent", logger.UserID(ident.UserID), logger.MFAMethod(string(method)))

	return &SetupResult{
		ConfigID:    cfg.ID,
		Method:      method,
		Destination: dest,
		DevCode:     s.devEcho(code),
	}, nil
}

// VerifySetup confirms enrollment with a code.
func (s *service) VerifySetup(ctx context.Context, ident types.Identity, method types.MFAMethod, code string) (*VerifySetupResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.setup.verify"))

	if !method.Valid() {
		return nil, ErrInvalidMethod
	}
	cfg, err := s.configs.GetByUserAndMethod(ctx, ident.UserID, method)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	if cfg.Verified {
		return nil, ErrAlreadyEnabled
	}

	now := s.now().UTC()

	// 1. Lockout gate, before any code evaluation
	if cfg.Locked(now) {
		metrics.MFAVerification(string(method), "locked")
		return nil, &RateLimitedError{UnlockAt: cfg.LockedUntil.UTC()}
	}

	// 2. Evaluate the code
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
	case types.SecretKindPendingOTP:
		if cfg.Secret.Expired(now) {
			metrics.MFAVerification(string(method), "expired")
			return nil, ErrCodeExpired
		}
		if !hashMatches(code, cfg.Secret.CodeHash) {
			verifyErr = ErrInvalidCode
		}
	default:
		return nil, ErrNotInitialized
	}

	// 3. Failure path: atomic counter + shared lockout clock
	if verifyErr != nil {
		metrics.MFAVerification(string(method), "failed")
		return nil, s.registerFailure(ctx, cfg, repository.FlowSetup, ident)
	}

	// 4. Success: collapse the secret to its final shape
	final := cfg.Secret
	if cfg.Secret.Kind == types.SecretKindPendingOTP {
		final = types.VerifiedDestination(cfg.Secret.Destination)
	}
	if err := s.configs.MarkVerified(ctx, cfg.ID, final, now); err != nil {
		log.Error("failed to mark configuration verified", logger.Err(err))
		return nil, err
	}

	res := &VerifySetupResult{Method: method}

	// SMS/EMAIL get their backup code set on first verification.
	if method != types.MFAMethodTOTP {
		plain, hashes, err := generateBackupCodes(s.set.BackupCodeCount)
		if err != nil {
			log.Error("failed to generate backup codes", logger.Err(err))
			return nil, ErrCryptoFailed
		}
		if err := s.configs.ReplaceBackupCodes(ctx, cfg.ID, hashes); err != nil {
			log.Error("failed to store backup codes", logger.Err(err))
			return nil, err
		}
		res.BackupCodes = plain
	}

	metrics.MFAVerification(string(method), "ok")
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFASetupVerified,
		Identity: ident,
		Success:  true,
		Metadata: map[string]string{"method": string(method)},
	})
	log.Info("mfa setup verified",
		logger.UserID(ident.UserID),
		logger.MFAMethod(string(method)),
		logger.Int("backup_codes", len(res.BackupCodes)),
	)
	return res, nil
}

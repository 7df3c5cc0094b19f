// Package mfa implements the multi-factor authentication engine: enrollment,
// verification at setup and at login, lockout accounting, backup codes,
// trusted devices and the account recovery flow.
//
// The engine never authenticates the caller; it receives an Identity already
// validated by the transport layer and enforces second-factor semantics on
// top of it.
package mfa

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strconv"
	"time"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/cache"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/notify"
	"github.com/dropDatabas3/salus/internal/observability/logger"
	"github.com/dropDatabas3/salus/internal/policy"
	"github.com/dropDatabas3/salus/internal/security/password"
	"github.com/dropDatabas3/salus/internal/security/token"
)

// Backup codes: sin caracteres confundibles (0/O, 1/I/L).
const (
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	backupCodeLength   = 10
	otpDigits          = 6
)

// SetupResult is returned by Setup. TOTP fields and backup codes are only
// shown once; the engine keeps hashes.
type SetupResult struct {
	ConfigID     string
	Method       types.MFAMethod
	SecretBase32 string
	OTPAuthURL   string
	BackupCodes  []string
	Destination  string

	// DevCode echoes the OTP outside prod so local flows work without a
	// real SMTP/SMS channel. Empty in prod.
	DevCode string
}

// VerifySetupResult is returned by VerifySetup. BackupCodes is non-nil only
// when a fresh set was generated (first verification of SMS/EMAIL).
type VerifySetupResult struct {
	Method      types.MFAMethod
	BackupCodes []string
}

// LoginResult is returned by VerifyAtLogin.
type LoginResult struct {
	Method          types.MFAMethod
	UsedBackupCode  bool
	BackupCodesLeft int

	// DeviceToken is the plaintext trusted-device token, set only when
	// rememberDevice was requested. Shown once; the store keeps the hash.
	DeviceToken     string
	DeviceExpiresAt time.Time
}

// MethodStatus is one entry of the user's MFA status listing.
type MethodStatus struct {
	ConfigID        string
	Method          types.MFAMethod
	Verified        bool
	Destination     string
	BackupCodesLeft int
	LockedUntil     *time.Time
	LastUsedAt      *time.Time
}

// Service is the MFA engine.
type Service interface {
	// Setup starts enrollment of a method. TOTP returns the provisioning
	// URL and a fresh backup code set; SMS/EMAIL dispatch an OTP to the
	// destination. Fails with ErrAlreadyEnabled if a verified configuration
	// for the method exists.
	Setup(ctx context.Context, ident types.Identity, method types.MFAMethod, destination string) (*SetupResult, error)

	// ResendOTP re-dispatches the pending setup OTP with a fresh code and
	// expiry, subject to a cooldown.
	ResendOTP(ctx context.Context, ident types.Identity, method types.MFAMethod) (*SetupResult, error)

	// VerifySetup confirms enrollment with a code. Applies the setup-flow
	// attempt counter and the shared lockout clock.
	VerifySetup(ctx context.Context, ident types.Identity, method types.MFAMethod, code string) (*VerifySetupResult, error)

	// ChallengeLogin dispatches a login OTP for a verified SMS/EMAIL
	// configuration. TOTP needs no challenge.
	ChallengeLogin(ctx context.Context, ident types.Identity) error

	// VerifyAtLogin verifies the second factor during login. A code of
	// backup-code length is tried against the backup code set; otherwise it
	// is checked against the primary method. Applies the login-flow attempt
	// counter and the shared lockout clock. rememberDevice mints a trusted
	// device session on success.
	VerifyAtLogin(ctx context.Context, ident types.Identity, code string, rememberDevice bool) (*LoginResult, error)

	// CheckTrustedDevice reports whether the device token identifies a
	// live trusted session for this caller. The token hash AND the device
	// fingerprint must both match.
	CheckTrustedDevice(ctx context.Context, ident types.Identity, deviceToken string) (bool, error)

	// RevokeTrustedDevices terminates every trusted session of the caller.
	RevokeTrustedDevices(ctx context.Context, ident types.Identity) (int, error)

	// Disable removes a verified configuration. Requires the account
	// password and is refused when policy makes MFA mandatory and this is
	// the caller's last verified method.
	Disable(ctx context.Context, ident types.Identity, method types.MFAMethod, accountPassword string) error

	// RegenerateBackupCodes replaces the backup code set of a verified
	// configuration. Requires the account password.
	RegenerateBackupCodes(ctx context.Context, ident types.Identity, method types.MFAMethod, accountPassword string) ([]string, error)

	// RequestRecovery starts the lost-device flow: records a pending
	// security event holding the hashed recovery token and dispatches the
	// token to the account email.
	RequestRecovery(ctx context.Context, ident types.Identity) (*RecoveryResult, error)

	// CompleteRecovery validates the recovery token, resets ALL MFA
	// configurations and trusted devices, updates the password and flips
	// the pending event to success.
	CompleteRecovery(ctx context.Context, ident types.Identity, recoveryToken, newPassword string) error

	// Status lists the caller's configurations.
	Status(ctx context.Context, ident types.Identity) ([]*MethodStatus, error)
}

// RecoveryResult is returned by RequestRecovery.
type RecoveryResult struct {
	ExpiresAt time.Time

	// DevToken echoes the recovery token outside prod. Empty in prod.
	DevToken string
}

// Settings are the engine knobs, loaded from config.
type Settings struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	OTPTTL          time.Duration
	ResendCooldown  time.Duration
	TOTPIssuer      string
	TOTPWindow      uint
	RememberTTL     time.Duration
	RecoveryTTL     time.Duration
	BackupCodeCount int

	// DevEchoOTP habilita el eco de códigos en respuestas (nunca en prod).
	DevEchoOTP bool
}

func (s *Settings) withDefaults() {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 5
	}
	if s.LockoutDuration <= 0 {
		s.LockoutDuration = 15 * time.Minute
	}
	if s.OTPTTL <= 0 {
		s.OTPTTL = 10 * time.Minute
	}
	if s.ResendCooldown <= 0 {
		s.ResendCooldown = 60 * time.Second
	}
	if s.TOTPIssuer == "" {
		s.TOTPIssuer = "Salus"
	}
	if s.TOTPWindow > 3 {
		s.TOTPWindow = 1
	}
	if s.RememberTTL <= 0 {
		s.RememberTTL = 30 * 24 * time.Hour
	}
	if s.RecoveryTTL <= 0 {
		s.RecoveryTTL = 30 * time.Minute
	}
	if s.BackupCodeCount <= 0 {
		s.BackupCodeCount = 10
	}
}

// Deps contains the dependencies for the MFA engine.
type Deps struct {
	Configs  repository.MFAConfigRepository
	Sessions repository.SessionRepository
	Users    repository.UserRepository
	Auditor  *audit.Recorder
	Policies policy.Service
	Cache    cache.Client
	Sender   notify.OTPSender

	PasswordPolicy    password.Policy
	PasswordBlacklist *password.Blacklist

	Settings Settings

	// Now is injectable for deterministic lockout/expiry tests.
	Now func() time.Time
}

type service struct {
	configs  repository.MFAConfigRepository
	sessions repository.SessionRepository
	users    repository.UserRepository
	auditor  *audit.Recorder
	policies policy.Service
	cache    cache.Client
	sender   notify.OTPSender

	pwPolicy    password.Policy
	pwBlacklist *password.Blacklist

	set Settings
	now func() time.Time
}

// New creates the MFA engine Service.
func New(d Deps) Service {
	d.Settings.withDefaults()
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		configs:     d.Configs,
		sessions:    d.Sessions,
		users:       d.Users,
		auditor:     d.Auditor,
		policies:    d.Policies,
		cache:       d.Cache,
		sender:      d.Sender,
		pwPolicy:    d.PasswordPolicy,
		pwBlacklist: d.PasswordBlacklist,
		set:         d.Settings,
		now:         now,
	}
}

// ─── helpers ───

// generateBackupCodes produces n plaintext codes and their SHA-256 hashes.
func generateBackupCodes(n int) (plain []string, hashes []string, err error) {
	plain = make([]string, 0, n)
	hashes = make([]string, 0, n)
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < n; i++ {
		buf := make([]byte, backupCodeLength)
		for j := range buf {
			idx, e := rand.Int(rand.Reader, max)
			if e != nil {
				return nil, nil, e
			}
			buf[j] = backupCodeAlphabet[idx.Int64()]
		}
		code := string(buf)
		plain = append(plain, code)
		hashes = append(hashes, token.SHA256Hex(code))
	}
	return plain, hashes, nil
}

func hashMatches(code, wantHash string) bool {
	return constantEqual(token.SHA256Hex(code), wantHash)
}

func constantEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func backupCodesLeft(cfg *repository.MFAConfig) int {
	left := 0
	for _, h := range cfg.BackupCodes {
		if h != repository.BackupCodeUsedSentinel {
			left++
		}
	}
	return left
}

// registerFailure increments the flow counter atomically and locks the
// configuration when the threshold is reached. Returns the error the caller
// must surface (ErrInvalidCode or RateLimitedError).
func (s *service) registerFailure(ctx context.Context, cfg *repository.MFAConfig, flow repository.AttemptFlow, ident types.Identity) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.attempt"))

	n, err := s.configs.IncrementFailed(ctx, cfg.ID, flow)
	if err != nil {
		log.Error("failed to increment attempt counter", logger.Err(err))
		return err
	}

	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFAVerifyFailed,
		Identity: ident,
		Success:  false,
		Metadata: map[string]string{
			"method":  string(cfg.Method),
			"flow":    string(flow),
			"attempt": strconv.Itoa(n),
		},
	})

	if n < s.set.MaxAttempts {
		return ErrInvalidCode
	}

	until := s.now().Add(s.set.LockoutDuration).UTC()
	if err := s.configs.Lock(ctx, cfg.ID, flow, until); err != nil {
		log.Error("failed to lock configuration", logger.Err(err))
		return err
	}
	s.auditor.Record(ctx, audit.Entry{
		Type:     types.EventMFALockout,
		Identity: ident,
		Success:  false,
		Severity: types.SeverityWarning,
		Metadata: map[string]string{
			"method":    string(cfg.Method),
			"flow":      string(flow),
			"unlock_at": until.Format(time.RFC3339),
		},
	})
	log.Warn("mfa configuration locked",
		logger.UserID(ident.UserID),
		logger.MFAMethod(string(cfg.Method)),
	)
	return &RateLimitedError{UnlockAt: until}
}

// dispatchOTP sends the code out of band without blocking the request. A
// delivery failure is logged, never surfaced.
func (s *service) dispatchOTP(ctx context.Context, method types.MFAMethod, destination, code string) {
	l := logger.From(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(logger.ToContext(context.Background(), l), 15*time.Second)
		defer cancel()
		if err := s.sender.SendOTP(sendCtx, method, destination, code, s.set.OTPTTL); err != nil {
			l.Error("otp dispatch failed",
				logger.Layer("service"),
				logger.MFAMethod(string(method)),
				logger.Err(err),
			)
		}
	}()
}

func (s *service) devEcho(code string) string {
	if s.set.DevEchoOTP {
		return code
	}
	return ""
}

func loginChallengeKey(configID string) string { return "mfa:login:" + configID }
func resendCooldownKey(configID string) string { return "mfa:resend:" + configID }

package mfa_test

import (
	"context"
	"errors"
	"testing"
	"time"

	pqotp "github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/cache"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/mfa"
	"github.com/dropDatabas3/salus/internal/policy"
	"github.com/dropDatabas3/salus/internal/security/password"
	"github.com/dropDatabas3/salus/internal/security/secretbox"
	"github.com/dropDatabas3/salus/internal/store/memory"
)

const (
	testUserID = "u-100"
	testOrgID  = "org-9"
	testPass   = "Sup3rSecreta!XQ"
)

// captureSender recolecta los códigos despachados out-of-band. El despacho
// corre en una goroutine, así que los tests leen del canal con timeout.
type captureSender struct{ ch chan string }

func (c *captureSender) SendOTP(ctx context.Context, method types.MFAMethod, destination, code string, ttl time.Duration) error {
	select {
	case c.ch <- code:
	default:
	}
	return nil
}

func (c *captureSender) wait(t *testing.T) string {
	t.Helper()
	select {
	case code := <-c.ch:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("no llegó ningún código al sender")
		return ""
	}
}

type env struct {
	svc    mfa.Service
	store  *memory.Store
	sender *captureSender

	// now es el reloj inyectado; los tests lo avanzan directamente.
	now time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	// Sin t.Parallel(): la master key de secretbox es estado global.
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 7)
	}
	if err := secretbox.UnsafeSetMasterKeyForTests(key); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(secretbox.UnsafeResetForTests)

	st := memory.New()
	hash, err := password.Hash(password.Default, testPass)
	if err != nil {
		t.Fatal(err)
	}
	st.SeedUser(&repository.UserCredentials{
		UserID:         testUserID,
		OrganizationID: testOrgID,
		Email:          "ana@clinica.example",
		PhoneNumber:    "+5491155550100",
		PasswordHash:   hash,
	})

	e := &env{
		store:  st,
		sender: &captureSender{ch: make(chan string, 8)},
		now:    time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	nowFn := func() time.Time { return e.now }

	auditor := audit.NewRecorder(st.Events(), nowFn)
	pol := policy.New(policy.Deps{Policies: st.Policies(), Auditor: auditor, Now: nowFn})
	kv, err := cache.New(cache.Config{Kind: "memory"})
	if err != nil {
		t.Fatal(err)
	}

	e.svc = mfa.New(mfa.Deps{
		Configs:  st.MFAConfigs(),
		Sessions: st.Sessions(),
		Users:    st.Users(),
		Auditor:  auditor,
		Policies: pol,
		Cache:    kv,
		Sender:   e.sender,
		PasswordPolicy: password.Policy{
			MinLength:    12,
			RequireUpper: true,
			RequireLower: true,
			RequireDigit: true,
		},
		Settings: mfa.Settings{
			// Cooldown corto: el cache de memoria usa tiempo real.
			ResendCooldown: 30 * time.Millisecond,
			DevEchoOTP:     true,
		},
		Now: nowFn,
	})
	return e
}

func (e *env) ident() types.Identity {
	return types.Identity{
		UserID:         testUserID,
		OrganizationID: testOrgID,
		Role:           types.RolePatient,
		IPAddress:      "203.0.113.7",
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0",
	}
}

// totpCode genera el código que mostraría la app authenticator en at.
func totpCode(t *testing.T, secretB32 string, at time.Time) string {
	t.Helper()
	code, err := pqtotp.GenerateCodeCustom(secretB32, at, pqtotp.ValidateOpts{
		Period:    30,
		Digits:    pqotp.DigitsSix,
		Algorithm: pqotp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatal(err)
	}
	return code
}

// wrongCode devuelve un código de 6 dígitos distinto de valid.
func wrongCode(valid string) string {
	if valid == "000000" {
		return "000001"
	}
	return "000000"
}

// enrollTOTP deja una configuración TOTP verificada y retorna el secreto y
// los backup codes en claro.
func enrollTOTP(t *testing.T, e *env) (string, []string) {
	t.Helper()
	ctx := context.Background()
	res, err := e.svc.Setup(ctx, e.ident(), types.MFAMethodTOTP, "")
	if err != nil {
		t.Fatalf("Setup err: %v", err)
	}
	if _, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodTOTP, totpCode(t, res.SecretBase32, e.now)); err != nil {
		t.Fatalf("VerifySetup err: %v", err)
	}
	return res.SecretBase32, res.BackupCodes
}

// enrollEmail deja una configuración EMAIL verificada y retorna los backup
// codes generados en la primera verificación.
func enrollEmail(t *testing.T, e *env) []string {
	t.Helper()
	ctx := context.Background()
	res, err := e.svc.Setup(ctx, e.ident(), types.MFAMethodEmail, "")
	if err != nil {
		t.Fatalf("Setup err: %v", err)
	}
	if res.DevCode == "" {
		t.Fatal("esperaba DevCode con DevEchoOTP activo")
	}
	// Drena el código de setup para que el próximo wait lea el siguiente.
	e.sender.wait(t)
	vr, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodEmail, res.DevCode)
	if err != nil {
		t.Fatalf("VerifySetup err: %v", err)
	}
	return vr.BackupCodes
}

func TestSetupVerify_TOTP(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.Setup(ctx, e.ident(), types.MFAMethodTOTP, "")
	if err != nil {
		t.Fatalf("Setup err: %v", err)
	}
	if res.SecretBase32 == "" || res.OTPAuthURL == "" {
		t.Fatalf("faltan datos de provisioning: %+v", res)
	}
	if len(res.BackupCodes) != 10 {
		t.Fatalf("backup codes = %d, esperaba 10", len(res.BackupCodes))
	}

	// Código inválido primero, después el real.
	valid := totpCode(t, res.SecretBase32, e.now)
	if _, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodTOTP, wrongCode(valid)); !errors.Is(err, mfa.ErrInvalidCode) {
		t.Fatalf("err = %v, esperaba ErrInvalidCode", err)
	}
	if _, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodTOTP, valid); err != nil {
		t.Fatalf("VerifySetup err: %v", err)
	}

	sts, err := e.svc.Status(ctx, e.ident())
	if err != nil {
		t.Fatal(err)
	}
	if len(sts) != 1 || !sts[0].Verified || sts[0].Method != types.MFAMethodTOTP {
		t.Fatalf("status inesperado: %+v", sts)
	}
	if sts[0].BackupCodesLeft != 10 {
		t.Fatalf("BackupCodesLeft = %d", sts[0].BackupCodesLeft)
	}

	// Re-enrolar un método ya verificado es conflicto.
	if _, err := e.svc.Setup(ctx, e.ident(), types.MFAMethodTOTP, ""); !errors.Is(err, mfa.ErrAlreadyEnabled) {
		t.Fatalf("err = %v, esperaba ErrAlreadyEnabled", err)
	}
}

func TestSetupVerify_Email(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.Setup(ctx, e.ident(), types.MFAMethodEmail, "")
	if err != nil {
		t.Fatalf("Setup err: %v", err)
	}
	// Sin destino explícito usa el email de la cuenta.
	if res.Destination != "ana@clinica.example" {
		t.Fatalf("destination = %q", res.Destination)
	}
	if sent := e.sender.wait(t); sent != res.DevCode {
		t.Fatalf("sender recibió %q, DevCode %q", sent, res.DevCode)
	}

	vr, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodEmail, res.DevCode)
	if err != nil {
		t.Fatalf("VerifySetup err: %v", err)
	}
	// SMS/EMAIL reciben sus backup codes recién en la primera verificación.
	if len(vr.BackupCodes) != 10 {
		t.Fatalf("backup codes = %d", len(vr.BackupCodes))
	}

	sts, _ := e.svc.Status(ctx, e.ident())
	if len(sts) != 1 || sts[0].Destination != "ana@clinica.example" {
		t.Fatalf("status inesperado: %+v", sts)
	}
}

func TestSetup_SMS_RequiresDestination(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.store.SeedUser(&repository.UserCredentials{
		UserID:         "u-sin-tel",
		OrganizationID: testOrgID,
		Email:          "beto@clinica.example",
		PasswordHash:   "x",
	})
	ident := types.Identity{UserID: "u-sin-tel", OrganizationID: testOrgID, Role: types.RolePatient}

	if _, err := e.svc.Setup(ctx, ident, types.MFAMethodSMS, ""); !errors.Is(err, mfa.ErrDestinationRequired) {
		t.Fatalf("err = %v, esperaba ErrDestinationRequired", err)
	}
	if _, err := e.svc.Setup(ctx, ident, types.MFAMethodSMS, "+5491155550200"); err != nil {
		t.Fatalf("Setup con destino explícito err: %v", err)
	}
}

func TestVerifySetup_LockoutAfterMaxAttempts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.Setup(ctx, e.ident(), types.MFAMethodTOTP, "")
	if err != nil {
		t.Fatal(err)
	}
	bad := wrongCode(totpCode(t, res.SecretBase32, e.now))

	for i := 1; i <= 4; i++ {
		if _, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodTOTP, bad); !errors.Is(err, mfa.ErrInvalidCode) {
			t.Fatalf("intento %d: err = %v, esperaba ErrInvalidCode", i, err)
		}
	}

	// El quinto intento bloquea y devuelve la hora de desbloqueo.
	_, err = e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodTOTP, bad)
	rl, ok := mfa.IsRateLimited(err)
	if !ok {
		t.Fatalf("err = %v, esperaba RateLimitedError", err)
	}
	if want := e.now.Add(15 * time.Minute); !rl.UnlockAt.Equal(want) {
		t.Fatalf("UnlockAt = %v, esperaba %v", rl.UnlockAt, want)
	}

	// Bloqueado, ni siquiera el código correcto pasa.
	if _, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodTOTP, totpCode(t, res.SecretBase32, e.now)); err == nil {
		t.Fatal("esperaba rechazo durante el lockout")
	} else if _, ok := mfa.IsRateLimited(err); !ok {
		t.Fatalf("err = %v, esperaba RateLimitedError", err)
	}

	// Pasado el lockout la verificación vuelve a operar.
	e.now = e.now.Add(15*time.Minute + time.Second)
	if _, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodTOTP, totpCode(t, res.SecretBase32, e.now)); err != nil {
		t.Fatalf("post-lockout err: %v", err)
	}
}

func TestVerifySetup_PendingOTPExpires(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.Setup(ctx, e.ident(), types.MFAMethodEmail, "")
	if err != nil {
		t.Fatal(err)
	}
	e.now = e.now.Add(11 * time.Minute)
	if _, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodEmail, res.DevCode); !errors.Is(err, mfa.ErrCodeExpired) {
		t.Fatalf("err = %v, esperaba ErrCodeExpired", err)
	}
}

func TestResendOTP_Cooldown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.svc.Setup(ctx, e.ident(), types.MFAMethodEmail, "")
	if err != nil {
		t.Fatal(err)
	}
	e.sender.wait(t)

	if _, err := e.svc.ResendOTP(ctx, e.ident(), types.MFAMethodEmail); !errors.Is(err, mfa.ErrResendCooldown) {
		t.Fatalf("err = %v, esperaba ErrResendCooldown", err)
	}

	time.Sleep(60 * time.Millisecond)
	re, err := e.svc.ResendOTP(ctx, e.ident(), types.MFAMethodEmail)
	if err != nil {
		t.Fatalf("ResendOTP err: %v", err)
	}
	if re.DevCode == "" || re.DevCode == first.DevCode {
		t.Fatalf("esperaba un código fresco, DevCode = %q", re.DevCode)
	}

	// El código viejo quedó invalidado por el reemplazo.
	if _, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodEmail, first.DevCode); !errors.Is(err, mfa.ErrInvalidCode) {
		t.Fatalf("err = %v, esperaba ErrInvalidCode", err)
	}
	if _, err := e.svc.VerifySetup(ctx, e.ident(), types.MFAMethodEmail, re.DevCode); err != nil {
		t.Fatalf("VerifySetup err: %v", err)
	}
}

func TestVerifyAtLogin_TOTPAndTrustedDevice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	secret, _ := enrollTOTP(t, e)

	res, err := e.svc.VerifyAtLogin(ctx, e.ident(), totpCode(t, secret, e.now), true)
	if err != nil {
		t.Fatalf("VerifyAtLogin err: %v", err)
	}
	if res.UsedBackupCode {
		t.Fatal("no debía consumir backup code")
	}
	if res.DeviceToken == "" {
		t.Fatal("esperaba token de dispositivo confiable")
	}
	if want := e.now.Add(30 * 24 * time.Hour); !res.DeviceExpiresAt.Equal(want) {
		t.Fatalf("DeviceExpiresAt = %v, esperaba %v", res.DeviceExpiresAt, want)
	}

	ok, err := e.svc.CheckTrustedDevice(ctx, e.ident(), res.DeviceToken)
	if err != nil || !ok {
		t.Fatalf("CheckTrustedDevice = %v, %v", ok, err)
	}

	// Mismo token desde otro dispositivo: el fingerprint no coincide.
	other := e.ident()
	other.IPAddress = "198.51.100.4"
	if ok, _ := e.svc.CheckTrustedDevice(ctx, other, res.DeviceToken); ok {
		t.Fatal("fingerprint distinto no puede ser confiable")
	}

	// Token inventado.
	if ok, _ := e.svc.CheckTrustedDevice(ctx, e.ident(), "no-existe"); ok {
		t.Fatal("token desconocido no puede ser confiable")
	}

	// Vencimiento de la sesión.
	e.now = e.now.Add(31 * 24 * time.Hour)
	if ok, _ := e.svc.CheckTrustedDevice(ctx, e.ident(), res.DeviceToken); ok {
		t.Fatal("sesión vencida no puede ser confiable")
	}
}

func TestRevokeTrustedDevices(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	secret, _ := enrollTOTP(t, e)

	res, err := e.svc.VerifyAtLogin(ctx, e.ident(), totpCode(t, secret, e.now), true)
	if err != nil {
		t.Fatal(err)
	}

	n, err := e.svc.RevokeTrustedDevices(ctx, e.ident())
	if err != nil || n != 1 {
		t.Fatalf("RevokeTrustedDevices = %d, %v", n, err)
	}
	if ok, _ := e.svc.CheckTrustedDevice(ctx, e.ident(), res.DeviceToken); ok {
		t.Fatal("sesión revocada no puede ser confiable")
	}
}

func TestVerifyAtLogin_BackupCodeSingleUse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, codes := enrollTOTP(t, e)

	res, err := e.svc.VerifyAtLogin(ctx, e.ident(), codes[0], false)
	if err != nil {
		t.Fatalf("VerifyAtLogin err: %v", err)
	}
	if !res.UsedBackupCode || res.BackupCodesLeft != 9 {
		t.Fatalf("UsedBackupCode=%v left=%d", res.UsedBackupCode, res.BackupCodesLeft)
	}

	// Un backup code consumido nunca vuelve a validar.
	if _, err := e.svc.VerifyAtLogin(ctx, e.ident(), codes[0], false); !errors.Is(err, mfa.ErrInvalidCode) {
		t.Fatalf("err = %v, esperaba ErrInvalidCode", err)
	}

	res, err = e.svc.VerifyAtLogin(ctx, e.ident(), codes[1], false)
	if err != nil {
		t.Fatalf("segundo backup code err: %v", err)
	}
	if res.BackupCodesLeft != 8 {
		t.Fatalf("BackupCodesLeft = %d", res.BackupCodesLeft)
	}
}

func TestChallengeLogin_EmailFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	enrollEmail(t, e)

	if err := e.svc.ChallengeLogin(ctx, e.ident()); err != nil {
		t.Fatalf("ChallengeLogin err: %v", err)
	}
	code := e.sender.wait(t)

	res, err := e.svc.VerifyAtLogin(ctx, e.ident(), code, false)
	if err != nil {
		t.Fatalf("VerifyAtLogin err: %v", err)
	}
	if res.Method != types.MFAMethodEmail {
		t.Fatalf("method = %s", res.Method)
	}

	// El challenge se consume en el primer login exitoso.
	if _, err := e.svc.VerifyAtLogin(ctx, e.ident(), code, false); !errors.Is(err, mfa.ErrCodeExpired) {
		t.Fatalf("err = %v, esperaba ErrCodeExpired", err)
	}
}

func TestVerifyAtLogin_LockoutSharedClock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	enrollEmail(t, e)

	if err := e.svc.ChallengeLogin(ctx, e.ident()); err != nil {
		t.Fatal(err)
	}
	e.sender.wait(t)

	for i := 1; i <= 4; i++ {
		if _, err := e.svc.VerifyAtLogin(ctx, e.ident(), "999999", false); !errors.Is(err, mfa.ErrInvalidCode) {
			t.Fatalf("intento %d: err = %v", i, err)
		}
	}
	if _, err := e.svc.VerifyAtLogin(ctx, e.ident(), "999999", false); err == nil {
		t.Fatal("esperaba lockout en el quinto intento")
	} else if _, ok := mfa.IsRateLimited(err); !ok {
		t.Fatalf("err = %v, esperaba RateLimitedError", err)
	}

	// El mismo reloj de lockout bloquea también el challenge.
	if err := e.svc.ChallengeLogin(ctx, e.ident()); err == nil {
		t.Fatal("esperaba challenge bloqueado")
	} else if _, ok := mfa.IsRateLimited(err); !ok {
		t.Fatalf("err = %v, esperaba RateLimitedError", err)
	}
}

func TestVerifyAtLogin_NotEnabled(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.VerifyAtLogin(context.Background(), e.ident(), "123456", false); !errors.Is(err, mfa.ErrNotEnabled) {
		t.Fatalf("err = %v, esperaba ErrNotEnabled", err)
	}
}

func TestDisable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	enrollEmail(t, e)

	if err := e.svc.Disable(ctx, e.ident(), types.MFAMethodEmail, "incorrecta"); !errors.Is(err, mfa.ErrInvalidPassword) {
		t.Fatalf("err = %v, esperaba ErrInvalidPassword", err)
	}
	if err := e.svc.Disable(ctx, e.ident(), types.MFAMethodEmail, testPass); err != nil {
		t.Fatalf("Disable err: %v", err)
	}
	sts, _ := e.svc.Status(ctx, e.ident())
	if len(sts) != 0 {
		t.Fatalf("esperaba status vacío, got %+v", sts)
	}
	if err := e.svc.Disable(ctx, e.ident(), types.MFAMethodEmail, testPass); !errors.Is(err, mfa.ErrNotInitialized) {
		t.Fatalf("err = %v, esperaba ErrNotInitialized", err)
	}
}

func TestDisable_PolicyMandatory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	enrollEmail(t, e)

	err := e.store.Policies().Upsert(ctx, &repository.MFAPolicy{
		OrganizationID: testOrgID,
		MFARequired:    true,
		UpdatedAt:      e.now,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Último método verificado bajo política obligatoria: no se puede bajar.
	if err := e.svc.Disable(ctx, e.ident(), types.MFAMethodEmail, testPass); !errors.Is(err, mfa.ErrPolicyForbids) {
		t.Fatalf("err = %v, esperaba ErrPolicyForbids", err)
	}

	// Con un segundo método verificado, bajar uno sí está permitido.
	enrollTOTP(t, e)
	if err := e.svc.Disable(ctx, e.ident(), types.MFAMethodEmail, testPass); err != nil {
		t.Fatalf("Disable con segundo método err: %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, old := enrollTOTP(t, e)

	if _, err := e.svc.RegenerateBackupCodes(ctx, e.ident(), types.MFAMethodTOTP, "incorrecta"); !errors.Is(err, mfa.ErrInvalidPassword) {
		t.Fatalf("err = %v, esperaba ErrInvalidPassword", err)
	}

	fresh, err := e.svc.RegenerateBackupCodes(ctx, e.ident(), types.MFAMethodTOTP, testPass)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes err: %v", err)
	}
	if len(fresh) != 10 {
		t.Fatalf("codes = %d", len(fresh))
	}

	// El set anterior deja de validar de inmediato.
	if _, err := e.svc.VerifyAtLogin(ctx, e.ident(), old[0], false); !errors.Is(err, mfa.ErrInvalidCode) {
		t.Fatalf("err = %v, esperaba ErrInvalidCode", err)
	}
	if _, err := e.svc.VerifyAtLogin(ctx, e.ident(), fresh[0], false); err != nil {
		t.Fatalf("backup code nuevo err: %v", err)
	}
}

func TestRecovery_FullFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	secret, _ := enrollTOTP(t, e)

	// Dispositivo confiable que el reset debe terminar.
	login, err := e.svc.VerifyAtLogin(ctx, e.ident(), totpCode(t, secret, e.now), true)
	if err != nil {
		t.Fatal(err)
	}

	rec, err := e.svc.RequestRecovery(ctx, e.ident())
	if err != nil {
		t.Fatalf("RequestRecovery err: %v", err)
	}
	if rec.DevToken == "" {
		t.Fatal("esperaba DevToken con DevEchoOTP activo")
	}
	if want := e.now.Add(30 * time.Minute); !rec.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, esperaba %v", rec.ExpiresAt, want)
	}

	const newPass = "OtraClave#2026Larga"

	if err := e.svc.CompleteRecovery(ctx, e.ident(), "token-ajeno", newPass); !errors.Is(err, mfa.ErrRecoveryNotFound) {
		t.Fatalf("err = %v, esperaba ErrRecoveryNotFound", err)
	}
	if err := e.svc.CompleteRecovery(ctx, e.ident(), rec.DevToken, "corta1A"); !errors.Is(err, mfa.ErrWeakPassword) {
		t.Fatalf("err = %v, esperaba ErrWeakPassword", err)
	}

	if err := e.svc.CompleteRecovery(ctx, e.ident(), rec.DevToken, newPass); err != nil {
		t.Fatalf("CompleteRecovery err: %v", err)
	}

	// Estado MFA arrasado: configs, sesiones y password.
	sts, _ := e.svc.Status(ctx, e.ident())
	if len(sts) != 0 {
		t.Fatalf("esperaba configs eliminadas, got %+v", sts)
	}
	if ok, _ := e.svc.CheckTrustedDevice(ctx, e.ident(), login.DeviceToken); ok {
		t.Fatal("las sesiones confiables debían terminarse")
	}
	creds, err := e.store.Users().GetCredentials(ctx, testUserID)
	if err != nil {
		t.Fatal(err)
	}
	if !password.Verify(newPass, creds.PasswordHash) {
		t.Fatal("el password no se actualizó")
	}

	// El evento pendiente se cerró: el token es de un solo uso.
	if err := e.svc.CompleteRecovery(ctx, e.ident(), rec.DevToken, newPass); !errors.Is(err, mfa.ErrRecoveryNotFound) {
		t.Fatalf("err = %v, esperaba ErrRecoveryNotFound", err)
	}
}

func TestRecovery_TokenExpires(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	enrollTOTP(t, e)

	rec, err := e.svc.RequestRecovery(ctx, e.ident())
	if err != nil {
		t.Fatal(err)
	}
	e.now = e.now.Add(31 * time.Minute)
	if err := e.svc.CompleteRecovery(ctx, e.ident(), rec.DevToken, "OtraClave#2026Larga"); !errors.Is(err, mfa.ErrRecoveryExpired) {
		t.Fatalf("err = %v, esperaba ErrRecoveryExpired", err)
	}
}

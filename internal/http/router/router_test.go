package router_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	pqotp "github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/cache"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/http/controllers"
	mw "github.com/dropDatabas3/salus/internal/http/middlewares"
	"github.com/dropDatabas3/salus/internal/http/router"
	"github.com/dropDatabas3/salus/internal/keys"
	"github.com/dropDatabas3/salus/internal/mfa"
	"github.com/dropDatabas3/salus/internal/notify"
	"github.com/dropDatabas3/salus/internal/policy"
	"github.com/dropDatabas3/salus/internal/security/password"
	"github.com/dropDatabas3/salus/internal/security/secretbox"
	"github.com/dropDatabas3/salus/internal/store/memory"
)

const (
	jwtSecret = "clave-de-firma-para-tests-123456"
	jwtIssuer = "salus-test"
	orgID     = "org-e2e"
	userPass  = "Sup3rSecreta!XQ"
)

// newHandler arma el stack completo sobre el store en memoria: services
// reales, controllers reales, sin rate limiters.
func newHandler(t *testing.T) http.Handler {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 11)
	}
	require.NoError(t, secretbox.UnsafeSetMasterKeyForTests(key))
	t.Cleanup(secretbox.UnsafeResetForTests)

	st := memory.New()
	hash, err := password.Hash(password.Default, userPass)
	require.NoError(t, err)
	st.SeedUser(&repository.UserCredentials{
		UserID:         "u-1",
		OrganizationID: orgID,
		Email:          "ana@clinica.example",
		PhoneNumber:    "+5491155550100",
		PasswordHash:   hash,
	})
	st.SeedUser(&repository.UserCredentials{
		UserID:         "u-adm",
		OrganizationID: orgID,
		Email:          "root@clinica.example",
		PasswordHash:   hash,
	})

	auditor := audit.NewRecorder(st.Events(), time.Now)
	policySvc := policy.New(policy.Deps{Policies: st.Policies(), Auditor: auditor})
	keySvc := keys.New(keys.Deps{Keys: st.Keys(), Auditor: auditor})
	kv, err := cache.New(cache.Config{Kind: "memory"})
	require.NoError(t, err)
	mfaSvc := mfa.New(mfa.Deps{
		Configs:        st.MFAConfigs(),
		Sessions:       st.Sessions(),
		Users:          st.Users(),
		Auditor:        auditor,
		Policies:       policySvc,
		Cache:          kv,
		Sender:         notify.LogSender{},
		PasswordPolicy: password.Policy{MinLength: 12},
		Settings:       mfa.Settings{DevEchoOTP: true},
	})

	ctrls := controllers.New(controllers.Deps{
		MFA:     mfaSvc,
		Keys:    keySvc,
		Policy:  policySvc,
		Auditor: auditor,
		Store:   st,
		Cache:   kv,
		Version: "test",
	})
	return router.New(router.Deps{
		Controllers: ctrls,
		Auth:        mw.AuthConfig{Secret: []byte(jwtSecret), Issuer: jwtIssuer},
	})
}

// bearer firma un JWT HS256 válido para el rol dado.
func bearer(t *testing.T, userID string, role types.Role) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"org":  orgID,
		"role": string(role),
		"iss":  jwtIssuer,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doJSON(t *testing.T, h http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0")
	req.RemoteAddr = "203.0.113.7:51234"
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func TestRouter_AuthRequired(t *testing.T) {
	h := newHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/mfa/status", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	// Token firmado con otra clave.
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1", "org": orgID, "role": "PATIENT", "iss": jwtIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("otra-clave"))
	require.NoError(t, err)
	rec = doJSON(t, h, http.MethodGet, "/v1/mfa/status", "Bearer "+signed, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_Health(t *testing.T) {
	h := newHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_MFASetupAndLoginFlow(t *testing.T) {
	h := newHandler(t)
	auth := bearer(t, "u-1", types.RolePatient)

	rec := doJSON(t, h, http.MethodPost, "/v1/mfa/setup", auth, map[string]any{"method": "TOTP"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var setup struct {
		ConfigID    string   `json:"config_id"`
		Secret      string   `json:"secret"`
		OTPAuthURL  string   `json:"otpauth_url"`
		BackupCodes []string `json:"backup_codes"`
	}
	decode(t, rec, &setup)
	require.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.OTPAuthURL, "otpauth://")
	assert.Len(t, setup.BackupCodes, 10)

	code, err := pqtotp.GenerateCodeCustom(setup.Secret, time.Now(), pqtotp.ValidateOpts{
		Period: 30, Digits: pqotp.DigitsSix, Algorithm: pqotp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	rec = doJSON(t, h, http.MethodPost, "/v1/mfa/setup/verify", auth, map[string]any{
		"method": "TOTP", "code": code,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Login con backup code: el dispositivo queda recordado.
	rec = doJSON(t, h, http.MethodPost, "/v1/mfa/login/verify", auth, map[string]any{
		"code": setup.BackupCodes[0], "remember_device": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login struct {
		UsedBackupCode  bool   `json:"used_backup_code"`
		BackupCodesLeft int    `json:"backup_codes_left"`
		DeviceToken     string `json:"device_token"`
	}
	decode(t, rec, &login)
	assert.True(t, login.UsedBackupCode)
	assert.Equal(t, 9, login.BackupCodesLeft)
	require.NotEmpty(t, login.DeviceToken)

	rec = doJSON(t, h, http.MethodPost, "/v1/mfa/devices/check", auth, map[string]any{
		"device_token": login.DeviceToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var check struct {
		Trusted bool `json:"trusted"`
	}
	decode(t, rec, &check)
	assert.True(t, check.Trusted)

	// Código inválido en login responde genérico, sin nombrar el factor.
	rec = doJSON(t, h, http.MethodPost, "/v1/mfa/login/verify", auth, map[string]any{"code": "000000"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var fail struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &fail)
	assert.Equal(t, "INVALID_CODE", fail.Error.Code)
}

func TestRouter_MFAValidation(t *testing.T) {
	h := newHandler(t)
	auth := bearer(t, "u-1", types.RolePatient)

	rec := doJSON(t, h, http.MethodPost, "/v1/mfa/setup", auth, map[string]any{"method": "FAX"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/mfa/setup", bytes.NewBufferString("{no es json"))
	req.Header.Set("Authorization", auth)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRouter_KeysLifecycle(t *testing.T) {
	h := newHandler(t)
	adm := bearer(t, "u-adm", types.RoleAdmin)
	pat := bearer(t, "u-1", types.RolePatient)

	// Crear claves es de administradores.
	rec := doJSON(t, h, http.MethodPost, "/v1/keys/", pat, map[string]any{
		"purpose": "PHI", "rotation_schedule": "MONTHLY",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/keys/", adm, map[string]any{
		"purpose":           "PHI",
		"rotation_schedule": "MONTHLY",
		"allowed_roles":     []string{"ADMIN", "PROVIDER"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		KeyIdentifier string `json:"key_identifier"`
		Status        string `json:"status"`
		KeyVersion    int    `json:"key_version"`
	}
	decode(t, rec, &created)
	assert.Equal(t, "ACTIVE", created.Status)
	assert.Equal(t, 1, created.KeyVersion)

	// La DEK cifrada jamás viaja en la respuesta.
	assert.NotContains(t, rec.Body.String(), "encrypted_dek")

	rec = doJSON(t, h, http.MethodPost, "/v1/crypto/encrypt", adm, map[string]any{
		"purpose": "PHI", "plaintext": "alergia a la penicilina",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var enc struct {
		Ciphertext string `json:"ciphertext"`
	}
	decode(t, rec, &enc)
	require.NotEmpty(t, enc.Ciphertext)

	rec = doJSON(t, h, http.MethodPost, "/v1/crypto/decrypt", adm, map[string]any{
		"ciphertext": enc.Ciphertext,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var dec struct {
		Plaintext string `json:"plaintext"`
	}
	decode(t, rec, &dec)
	assert.Equal(t, "alergia a la penicilina", dec.Plaintext)

	// Rotación por la API: versión nueva, la vieja sigue descifrando.
	rec = doJSON(t, h, http.MethodPost, "/v1/keys/"+created.KeyIdentifier+"/rotate", adm, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated struct {
		KeyIdentifier string  `json:"key_identifier"`
		KeyVersion    int     `json:"key_version"`
		PreviousKeyID *string `json:"previous_key_id"`
	}
	decode(t, rec, &rotated)
	assert.Equal(t, 2, rotated.KeyVersion)
	require.NotNil(t, rotated.PreviousKeyID)
	assert.Equal(t, created.KeyIdentifier, *rotated.PreviousKeyID)

	rec = doJSON(t, h, http.MethodPost, "/v1/crypto/decrypt", adm, map[string]any{
		"ciphertext": enc.Ciphertext,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// SSN con last4 en claro.
	rec = doJSON(t, h, http.MethodPost, "/v1/crypto/ssn", adm, map[string]any{
		"ssn": "20-12345678-3",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var ssn struct {
		Last4 string `json:"last4"`
	}
	decode(t, rec, &ssn)
	assert.Equal(t, "5678", ssn.Last4)

	// El log de la clave queda disponible para el admin.
	rec = doJSON(t, h, http.MethodGet, "/v1/keys/"+created.KeyIdentifier+"/audit", adm, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Policy(t *testing.T) {
	h := newHandler(t)
	adm := bearer(t, "u-adm", types.RoleAdmin)
	pat := bearer(t, "u-1", types.RolePatient)

	rec := doJSON(t, h, http.MethodGet, "/v1/policy/", pat, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pol struct {
		MFARequired bool `json:"mfa_required"`
	}
	decode(t, rec, &pol)
	assert.False(t, pol.MFARequired)

	rec = doJSON(t, h, http.MethodPut, "/v1/policy/", pat, map[string]any{"mfa_required": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/v1/policy/", adm, map[string]any{
		"mfa_required":      true,
		"grace_period_days": 7,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &pol)
	assert.True(t, pol.MFARequired)
}

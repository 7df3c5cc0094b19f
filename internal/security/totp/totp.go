// Package totp envuelve pquerna/otp con los parámetros estándar del portal:
// SHA1, 6 dígitos, período de 30s (compatibilidad con authenticator apps).
package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Generate crea un secreto TOTP nuevo y la URL otpauth:// para el QR.
func Generate(issuer, accountName string) (secretB32, otpauthURL string, err error) {
	issuer = strings.TrimSpace(issuer)
	accountName = strings.TrimSpace(accountName)
	if issuer == "" || accountName == "" {
		return "", "", fmt.Errorf("totp: issuer y account son requeridos")
	}
	// pquerna usa ':' como separador de label; no puede aparecer en ninguno.
	if strings.ContainsRune(issuer, ':') || strings.ContainsRune(accountName, ':') {
		return "", "", fmt.Errorf("totp: issuer/account no pueden contener ':'")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  20,
	})
	if err != nil {
		return "", "", fmt.Errorf("totp: generate: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Verify valida un código contra el secreto en ventana ±window pasos.
func Verify(secretB32, code string, t time.Time, window uint) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secretB32, t, totp.ValidateOpts{
		Period:    30,
		Skew:      window,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateNumericCode genera un OTP numérico de n dígitos (SMS/EMAIL).
func GenerateNumericCode(n int) (string, error) {
	const digits = "0123456789"
	code := make([]byte, n)
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	for i := range code {
		code[i] = digits[int(buf[i])%len(digits)]
	}
	return string(code), nil
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding (para guardar en DB).
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SHA256Hex devuelve sha256(input) en hexadecimal.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// DeviceFingerprint deriva el fingerprint de dispositivo de user-agent + IP.
// Un lookup de trusted device exige que coincida además del hash del token.
func DeviceFingerprint(userAgent, ip string) string {
	return SHA256Base64URL(userAgent + "|" + ip)
}

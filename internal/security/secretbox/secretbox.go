// Package secretbox implementa el cifrado envelope de dos niveles:
// la master key (externa, nunca persistida) cifra las DEK por propósito,
// y cada DEK cifra los valores de campo.
//
// Formatos:
//   - DEK envuelta:    base64(nonce)|base64(ciphertext)   (bajo master key)
//   - Blob de datos:   GCMV1:<keyID>:hex(nonce||ciphertext) (bajo DEK)
//
// El keyID viaja dentro del blob: el ciphertext es auto-descriptivo y los
// datos históricos siguen descifrables después de rotar.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	masterKeyEnvVar   = "SALUS_MASTER_KEY"
	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	dekLength         = 32  // DEK AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)

	blobPrefix = "GCMV1" // blobs de datos: GCMV1:<keyID>:<hex>
)

// ErrMasterKeyMissing se retorna cuando la master key no está configurada.
// Es un error de configuración fatal: nunca un bypass silencioso.
var ErrMasterKeyMissing = errors.New("secretbox: master key no configurada")

var (
	masterKey     []byte
	masterKeyOnce sync.Once
	loadErr       error
	mu            sync.RWMutex
)

// ensureLoaded carga la master key desde SALUS_MASTER_KEY (base64) una sola vez.
func ensureLoaded() error {
	masterKeyOnce.Do(func() {
		kb64 := strings.TrimSpace(os.Getenv(masterKeyEnvVar))
		if kb64 == "" {
			loadErr = fmt.Errorf("%w: %s no seteada; genere una con: openssl rand -base64 32", ErrMasterKeyMissing, masterKeyEnvVar)
			return
		}
		k, err := base64.StdEncoding.DecodeString(kb64)
		if err != nil {
			loadErr = fmt.Errorf("decode %s: %w", masterKeyEnvVar, err)
			return
		}
		if len(k) != requiredKeyLength {
			loadErr = fmt.Errorf("%s debe decodificar a %d bytes, obtuvo %d", masterKeyEnvVar, requiredKeyLength, len(k))
			return
		}
		mu.Lock()
		masterKey = make([]byte, len(k))
		copy(masterKey, k)
		mu.Unlock()
	})
	return loadErr
}

// IsReady expone si la master key está cargada (healthchecks/config print).
func IsReady() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(masterKey) == requiredKeyLength
}

func currentMasterKey() ([]byte, error) {
	if err := ensureLoaded(); err != nil {
		return nil, err
	}
	mu.RLock()
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	mu.RUnlock()
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// ─── DEK lifecycle ───

// GenerateDEK genera una DEK nueva de 32 bytes.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, dekLength)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("dek random: %w", err)
	}
	return dek, nil
}

// WrapDEK cifra la DEK bajo la master key: base64(nonce)|base64(ct).
func WrapDEK(dek []byte) (string, error) {
	if len(dek) != dekLength {
		return "", fmt.Errorf("dek inválida: %d bytes (requiere %d)", len(dek), dekLength)
	}
	key, err := currentMasterKey()
	if err != nil {
		return "", err
	}
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := aead.Seal(nil, nonce, dek, nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// UnwrapDEK descifra una DEK envuelta con WrapDEK.
func UnwrapDEK(wrapped string) ([]byte, error) {
	key, err := currentMasterKey()
	if err != nil {
		return nil, err
	}
	parts := strings.Split(wrapped, sep)
	if len(parts) != 2 {
		return nil, errors.New("formato inválido: esperado base64(nonce)|base64(ciphertext)")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return nil, fmt.Errorf("nonce inválido: esperado %d bytes, obtuvo %d", nonceSizeGCM, len(nonce))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	dek, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return dek, nil
}

// Fingerprint devuelve un fingerprint no reversible de la DEK cruda
// (verificación por operadores; nunca expone key material).
func Fingerprint(dek []byte) string {
	sum := sha256.Sum256(dek)
	return hex.EncodeToString(sum[:8])
}

// ─── Data blobs (bajo DEK) ───

// SealWithDEK cifra plaintext bajo la DEK y etiqueta el blob con keyID:
// GCMV1:<keyID>:hex(nonce||ciphertext).
func SealWithDEK(dek []byte, keyID, plaintext string) (string, error) {
	if strings.ContainsRune(keyID, ':') {
		return "", fmt.Errorf("keyID no puede contener ':'")
	}
	aead, err := newGCM(dek)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return blobPrefix + ":" + keyID + ":" + hex.EncodeToString(append(nonce, ct...)), nil
}

// OpenWithDEK descifra un blob producido por SealWithDEK.
func OpenWithDEK(dek []byte, blob string) (string, error) {
	_, raw, err := parseBlob(blob)
	if err != nil {
		return "", err
	}
	aead, err := newGCM(dek)
	if err != nil {
		return "", err
	}
	if len(raw) < nonceSizeGCM {
		return "", errors.New("ciphertext demasiado corto")
	}
	pt, err := aead.Open(nil, raw[:nonceSizeGCM], raw[nonceSizeGCM:], nil)
	if err != nil {
		return "", fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return string(pt), nil
}

// KeyIDFromBlob extrae el keyID embebido en un blob.
func KeyIDFromBlob(blob string) (string, error) {
	keyID, _, err := parseBlob(blob)
	return keyID, err
}

func parseBlob(blob string) (keyID string, raw []byte, err error) {
	parts := strings.SplitN(blob, ":", 3)
	if len(parts) != 3 || parts[0] != blobPrefix {
		return "", nil, fmt.Errorf("formato inválido: esperado %s:<keyID>:<hex>", blobPrefix)
	}
	raw, err = hex.DecodeString(parts[2])
	if err != nil {
		return "", nil, fmt.Errorf("decode hex: %w", err)
	}
	return parts[1], raw, nil
}

// ─── Cifrado directo bajo master key (secretos TOTP) ───

// Encrypt cifra plainText bajo la master key: base64(nonce)|base64(ct).
func Encrypt(plainText string) (string, error) {
	key, err := currentMasterKey()
	if err != nil {
		return "", err
	}
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt recibe base64(nonce)|base64(ciphertext) y devuelve el texto plano.
func Decrypt(cipherText string) (string, error) {
	key, err := currentMasterKey()
	if err != nil {
		return "", err
	}
	parts := strings.Split(cipherText, sep)
	if len(parts) != 2 {
		return "", errors.New("formato inválido: esperado base64(nonce)|base64(ciphertext)")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("nonce inválido: esperado %d bytes, obtuvo %d", nonceSizeGCM, len(nonce))
	}
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return string(pt), nil
}

// ─── Helpers para tests ───

// UnsafeResetForTests borra estado interno. Usar sólo en tests.
func UnsafeResetForTests() {
	mu.Lock()
	masterKey = nil
	mu.Unlock()
	masterKeyOnce = sync.Once{}
	loadErr = nil
}

// UnsafeSetMasterKeyForTests permite setear una clave cruda (32 bytes) en tests.
func UnsafeSetMasterKeyForTests(k []byte) error {
	if len(k) != requiredKeyLength {
		return fmt.Errorf("clave inválida para test: se requieren %d bytes", requiredKeyLength)
	}
	UnsafeResetForTests()
	mu.Lock()
	masterKey = make([]byte, len(k))
	copy(masterKey, k)
	mu.Unlock()
	// Consumir el Once para que ensureLoaded no pise la clave inyectada.
	masterKeyOnce.Do(func() {})
	return nil
}

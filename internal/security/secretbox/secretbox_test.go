package secretbox

import (
	"encoding/base64"
	"os"
	"strings"
	"testing"
)

func testKey(seed byte) []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	return raw
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	// Sin t.Parallel(): estado global de la master key
	if err := UnsafeSetMasterKeyForTests(testKey(1)); err != nil {
		t.Fatal(err)
	}
	defer UnsafeResetForTests()

	msg := "hola mundo ✓ — secreto"
	ct, err := Encrypt(msg)
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	pt, err := Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt err: %v", err)
	}
	if pt != msg {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	if err := UnsafeSetMasterKeyForTests(testKey(100)); err != nil {
		t.Fatal(err)
	}
	defer UnsafeResetForTests()

	ct, err := Encrypt("top secret")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	parts := strings.Split(ct, sep)
	if len(parts) != 2 {
		t.Fatalf("unexpected ct format")
	}
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	bs[0] ^= 0x01
	corrupted := parts[0] + sep + base64.StdEncoding.EncodeToString(bs)

	if _, err := Decrypt(corrupted); err == nil {
		t.Fatalf("expected auth error, got nil")
	}
}

func TestEncrypt_ErrorWhenNoKey(t *testing.T) {
	UnsafeResetForTests()
	os.Unsetenv(masterKeyEnvVar)

	if _, err := Encrypt("x"); err == nil {
		t.Fatalf("expected error when key missing")
	}
}

func TestWrapUnwrapDEK_RoundTrip(t *testing.T) {
	if err := UnsafeSetMasterKeyForTests(testKey(7)); err != nil {
		t.Fatal(err)
	}
	defer UnsafeResetForTests()

	dek, err := GenerateDEK()
	if err != nil {
		t.Fatalf("GenerateDEK err: %v", err)
	}
	wrapped, err := WrapDEK(dek)
	if err != nil {
		t.Fatalf("WrapDEK err: %v", err)
	}
	got, err := UnwrapDEK(wrapped)
	if err != nil {
		t.Fatalf("UnwrapDEK err: %v", err)
	}
	if string(got) != string(dek) {
		t.Fatalf("DEK mismatch after unwrap")
	}
	// La wrapped nunca contiene la DEK cruda
	if strings.Contains(wrapped, base64.StdEncoding.EncodeToString(dek)) {
		t.Fatalf("wrapped DEK leaks raw key material")
	}
}

func TestSealOpenWithDEK_KeyIDTravelsInBlob(t *testing.T) {
	if err := UnsafeSetMasterKeyForTests(testKey(42)); err != nil {
		t.Fatal(err)
	}
	defer UnsafeResetForTests()

	dek, err := GenerateDEK()
	if err != nil {
		t.Fatal(err)
	}

	blob, err := SealWithDEK(dek, "phi-abc123", "dato sensible")
	if err != nil {
		t.Fatalf("SealWithDEK err: %v", err)
	}
	if !strings.HasPrefix(blob, "GCMV1:phi-abc123:") {
		t.Fatalf("blob format: %q", blob)
	}

	keyID, err := KeyIDFromBlob(blob)
	if err != nil {
		t.Fatal(err)
	}
	if keyID != "phi-abc123" {
		t.Fatalf("keyID = %q, want phi-abc123", keyID)
	}

	pt, err := OpenWithDEK(dek, blob)
	if err != nil {
		t.Fatalf("OpenWithDEK err: %v", err)
	}
	if pt != "dato sensible" {
		t.Fatalf("plaintext mismatch: %q", pt)
	}

	// Otra DEK no puede abrir el blob
	otherDEK, _ := GenerateDEK()
	if _, err := OpenWithDEK(otherDEK, blob); err == nil {
		t.Fatalf("expected auth failure with wrong DEK")
	}
}

func TestSealWithDEK_RejectsColonInKeyID(t *testing.T) {
	if err := UnsafeSetMasterKeyForTests(testKey(9)); err != nil {
		t.Fatal(err)
	}
	defer UnsafeResetForTests()

	dek, _ := GenerateDEK()
	if _, err := SealWithDEK(dek, "bad:id", "x"); err == nil {
		t.Fatalf("expected error for keyID with colon")
	}
}

package types

import (
	"testing"
	"time"
)

func TestSecret_EncodeParse_TOTP(t *testing.T) {
	s := TOTPSecret("bm9uY2V8Y2lwaGVy")
	got, err := ParseSecret(s.Encode())
	if err != nil {
		t.Fatalf("ParseSecret err: %v", err)
	}
	if got.Kind != SecretKindTOTP || got.TOTPSecretEnc != "bm9uY2V8Y2lwaGVy" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestSecret_EncodeParse_Pending(t *testing.T) {
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := PendingOTP("+5491155550000", "abc123hash", exp)

	got, err := ParseSecret(s.Encode())
	if err != nil {
		t.Fatalf("ParseSecret err: %v", err)
	}
	if got.Destination != "+5491155550000" || got.CodeHash != "abc123hash" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if !got.ExpiresAt.Equal(exp) {
		t.Fatalf("expiry mismatch: got %v want %v", got.ExpiresAt, exp)
	}

	if got.Expired(exp.Add(-time.Minute)) {
		t.Fatalf("should not be expired before expiry")
	}
	if !got.Expired(exp.Add(time.Minute)) {
		t.Fatalf("should be expired after expiry")
	}
}

func TestSecret_EncodeParse_Verified(t *testing.T) {
	s := VerifiedDestination("ana@example.com")
	got, err := ParseSecret(s.Encode())
	if err != nil {
		t.Fatalf("ParseSecret err: %v", err)
	}
	if got.Kind != SecretKindVerified || got.Destination != "ana@example.com" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	// Un destino verificado nunca expira
	if got.Expired(time.Now().Add(24 * 365 * time.Hour)) {
		t.Fatalf("verified secret must not expire")
	}
}

func TestParseSecret_Malformed(t *testing.T) {
	cases := []string{
		"",
		"sin-separador",
		"pending:solo-destino",
		"pending:a|b|noesnumero",
		"otra:cosa",
	}
	for _, raw := range cases {
		if _, err := ParseSecret(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestKeyStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to KeyStatus
		want     bool
	}{
		{KeyStatusActive, KeyStatusRotating, true},
		{KeyStatusActive, KeyStatusRetired, true},
		{KeyStatusActive, KeyStatusCompromised, true},
		{KeyStatusRotating, KeyStatusRetired, true},
		{KeyStatusRotating, KeyStatusCompromised, true},
		{KeyStatusRetired, KeyStatusActive, false},
		{KeyStatusCompromised, KeyStatusActive, false},
		{KeyStatusCompromised, KeyStatusRetired, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Fatalf("%s -> %s: got %v want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestRoleSet_Contains(t *testing.T) {
	rs := RoleSet{RoleAdmin, RoleProvider}
	if !rs.Contains(RoleAdmin) || !rs.Contains(RoleProvider) {
		t.Fatalf("missing expected roles")
	}
	if rs.Contains(RolePatient) {
		t.Fatalf("unexpected role present")
	}
}

func TestRoleSetFromStrings_DropsUnknown(t *testing.T) {
	rs := RoleSetFromStrings([]string{"ADMIN", "fantasma", "BILLING"})
	if len(rs) != 2 || !rs.Contains(RoleAdmin) || !rs.Contains(RoleBilling) {
		t.Fatalf("unexpected set: %v", rs)
	}
}

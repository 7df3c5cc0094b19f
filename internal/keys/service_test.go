package keys_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/keys"
	"github.com/dropDatabas3/salus/internal/security/secretbox"
	"github.com/dropDatabas3/salus/internal/store/memory"
)

const orgID = "org-42"

type kenv struct {
	svc     keys.Service
	auditor *audit.Recorder
	store   *memory.Store
	now     time.Time
}

func newKeysEnv(t *testing.T) *kenv {
	t.Helper()

	// Sin t.Parallel(): la master key de secretbox es estado global.
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 3)
	}
	if err := secretbox.UnsafeSetMasterKeyForTests(key); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(secretbox.UnsafeResetForTests)

	e := &kenv{
		store: memory.New(),
		now:   time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}
	nowFn := func() time.Time { return e.now }
	e.auditor = audit.NewRecorder(e.store.Events(), nowFn)
	e.svc = keys.New(keys.Deps{Keys: e.store.Keys(), Auditor: e.auditor, Now: nowFn})
	return e
}

func admin() types.Identity {
	return types.Identity{UserID: "u-admin", OrganizationID: orgID, Role: types.RoleAdmin}
}

func provider() types.Identity {
	return types.Identity{UserID: "u-prov", OrganizationID: orgID, Role: types.RoleProvider}
}

func createPHIKey(t *testing.T, e *kenv, roles types.RoleSet) *repository.EncryptionKey {
	t.Helper()
	k, err := e.svc.CreateKey(context.Background(), admin(), keys.CreateKeyInput{
		Purpose:          types.KeyPurposePHI,
		RotationSchedule: types.RotationMonthly,
		AllowedRoles:     roles,
	})
	if err != nil {
		t.Fatalf("CreateKey err: %v", err)
	}
	return k
}

func TestCreateKey(t *testing.T) {
	e := newKeysEnv(t)
	ctx := context.Background()

	if _, err := e.svc.CreateKey(ctx, provider(), keys.CreateKeyInput{
		Purpose:          types.KeyPurposePHI,
		RotationSchedule: types.RotationMonthly,
	}); !errors.Is(err, keys.ErrAdminOnly) {
		t.Fatalf("err = %v, esperaba ErrAdminOnly", err)
	}
	if _, err := e.svc.CreateKey(ctx, admin(), keys.CreateKeyInput{
		Purpose:          "DNI",
		RotationSchedule: types.RotationMonthly,
	}); !errors.Is(err, keys.ErrInvalidPurpose) {
		t.Fatalf("err = %v, esperaba ErrInvalidPurpose", err)
	}
	if _, err := e.svc.CreateKey(ctx, admin(), keys.CreateKeyInput{
		Purpose:          types.KeyPurposePHI,
		RotationSchedule: "WEEKLY",
	}); !errors.Is(err, keys.ErrInvalidSchedule) {
		t.Fatalf("err = %v, esperaba ErrInvalidSchedule", err)
	}

	k := createPHIKey(t, e, nil)
	if k.Status != types.KeyStatusActive || k.KeyVersion != 1 {
		t.Fatalf("key inesperada: %+v", k)
	}
	if !strings.HasPrefix(k.KeyIdentifier, "phi-") {
		t.Fatalf("KeyIdentifier = %q", k.KeyIdentifier)
	}
	if want := e.now.AddDate(0, 1, 0); !k.NextRotationAt.Equal(want) {
		t.Fatalf("NextRotationAt = %v, esperaba %v", k.NextRotationAt, want)
	}
	// Sin allow-list explícita queda sólo ADMIN.
	if len(k.AllowedRoles) != 1 || !k.AllowedRoles.Contains(types.RoleAdmin) {
		t.Fatalf("AllowedRoles = %v", k.AllowedRoles)
	}

	// Una sola ACTIVE por (organización, propósito).
	if _, err := e.svc.CreateKey(ctx, admin(), keys.CreateKeyInput{
		Purpose:          types.KeyPurposePHI,
		RotationSchedule: types.RotationMonthly,
	}); !errors.Is(err, keys.ErrActiveExists) {
		t.Fatalf("err = %v, esperaba ErrActiveExists", err)
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	e := newKeysEnv(t)
	ctx := context.Background()
	k := createPHIKey(t, e, types.RoleSet{types.RoleAdmin, types.RoleProvider})

	blob, err := e.svc.Encrypt(ctx, provider(), types.KeyPurposePHI, "diagnóstico: gripe")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	if !strings.HasPrefix(blob, "GCMV1:"+k.KeyIdentifier+":") {
		t.Fatalf("el blob no lleva el identificador de clave: %q", blob)
	}

	got, err := e.svc.Decrypt(ctx, provider(), blob)
	if err != nil {
		t.Fatalf("Decrypt err: %v", err)
	}
	if got != "diagnóstico: gripe" {
		t.Fatalf("plaintext = %q", got)
	}
}

func TestEncrypt_NoActiveKey(t *testing.T) {
	e := newKeysEnv(t)
	if _, err := e.svc.Encrypt(context.Background(), admin(), types.KeyPurposePHI, "x"); !errors.Is(err, keys.ErrNoActiveKey) {
		t.Fatalf("err = %v, esperaba ErrNoActiveKey", err)
	}
}

func TestRoleAllowList(t *testing.T) {
	e := newKeysEnv(t)
	ctx := context.Background()
	k := createPHIKey(t, e, types.RoleSet{types.RoleAdmin})

	if _, err := e.svc.Encrypt(ctx, provider(), types.KeyPurposePHI, "x"); !errors.Is(err, keys.ErrRoleDenied) {
		t.Fatalf("err = %v, esperaba ErrRoleDenied", err)
	}

	blob, err := e.svc.Encrypt(ctx, admin(), types.KeyPurposePHI, "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Decrypt(ctx, provider(), blob); !errors.Is(err, keys.ErrRoleDenied) {
		t.Fatalf("err = %v, esperaba ErrRoleDenied", err)
	}

	// El rechazo queda en el log de la clave.
	evs, err := e.auditor.AuditLogForKey(ctx, admin(), k.KeyIdentifier, 50)
	if err != nil {
		t.Fatal(err)
	}
	denied := 0
	for _, ev := range evs {
		if ev.Type == types.EventKeyUseDenied {
			denied++
		}
	}
	if denied != 2 {
		t.Fatalf("eventos key.use.denied = %d, esperaba 2", denied)
	}
}

func TestRotateKey(t *testing.T) {
	e := newKeysEnv(t)
	ctx := context.Background()
	old := createPHIKey(t, e, types.RoleSet{types.RoleAdmin})

	blob, err := e.svc.Encrypt(ctx, admin(), types.KeyPurposePHI, "historia clínica 881")
	if err != nil {
		t.Fatal(err)
	}

	e.now = e.now.Add(40 * 24 * time.Hour)
	next, err := e.svc.RotateKey(ctx, admin(), old.KeyIdentifier)
	if err != nil {
		t.Fatalf("RotateKey err: %v", err)
	}
	if next.KeyVersion != 2 || next.Status != types.KeyStatusActive {
		t.Fatalf("clave nueva inesperada: %+v", next)
	}
	if next.PreviousKeyID == nil || *next.PreviousKeyID != old.KeyIdentifier {
		t.Fatalf("PreviousKeyID = %v", next.PreviousKeyID)
	}

	prev, err := e.svc.GetKey(ctx, admin(), old.KeyIdentifier)
	if err != nil {
		t.Fatal(err)
	}
	if prev.Status != types.KeyStatusRotating {
		t.Fatalf("status de la clave vieja = %s", prev.Status)
	}

	// El ciphertext histórico sigue descifrando: el blob nombra su clave.
	got, err := e.svc.Decrypt(ctx, admin(), blob)
	if err != nil || got != "historia clínica 881" {
		t.Fatalf("Decrypt post-rotación = %q, %v", got, err)
	}

	// Lo nuevo se cifra bajo la versión nueva.
	blob2, err := e.svc.Encrypt(ctx, admin(), types.KeyPurposePHI, "x")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(blob2, "GCMV1:"+next.KeyIdentifier+":") {
		t.Fatalf("blob nuevo bajo clave vieja: %q", blob2)
	}

	// Una clave en ROTATING no rota de nuevo.
	if _, err := e.svc.RotateKey(ctx, admin(), old.KeyIdentifier); !errors.Is(err, keys.ErrInvalidState) {
		t.Fatalf("err = %v, esperaba ErrInvalidState", err)
	}
}

func TestRetireKey(t *testing.T) {
	e := newKeysEnv(t)
	ctx := context.Background()
	k := createPHIKey(t, e, types.RoleSet{types.RoleAdmin})

	blob, err := e.svc.Encrypt(ctx, admin(), types.KeyPurposePHI, "dato viejo")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.svc.RetireKey(ctx, admin(), k.KeyIdentifier); err != nil {
		t.Fatalf("RetireKey err: %v", err)
	}

	// RETIRED no cifra (ya no es la ACTIVE) pero sigue descifrando.
	if _, err := e.svc.Encrypt(ctx, admin(), types.KeyPurposePHI, "x"); !errors.Is(err, keys.ErrNoActiveKey) {
		t.Fatalf("err = %v, esperaba ErrNoActiveKey", err)
	}
	if got, err := e.svc.Decrypt(ctx, admin(), blob); err != nil || got != "dato viejo" {
		t.Fatalf("Decrypt = %q, %v", got, err)
	}

	// RETIRED es terminal.
	if err := e.svc.RetireKey(ctx, admin(), k.KeyIdentifier); !errors.Is(err, keys.ErrInvalidState) {
		t.Fatalf("err = %v, esperaba ErrInvalidState", err)
	}
}

func TestMarkCompromised(t *testing.T) {
	e := newKeysEnv(t)
	ctx := context.Background()
	k := createPHIKey(t, e, types.RoleSet{types.RoleAdmin, types.RoleProvider})

	blob, err := e.svc.Encrypt(ctx, provider(), types.KeyPurposePHI, "dato sensible")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.svc.MarkCompromised(ctx, admin(), k.KeyIdentifier, "laptop robada"); err != nil {
		t.Fatalf("MarkCompromised err: %v", err)
	}

	// Comprometida: sólo admin descifra, para forense.
	if _, err := e.svc.Decrypt(ctx, provider(), blob); !errors.Is(err, keys.ErrCompromisedKey) {
		t.Fatalf("err = %v, esperaba ErrCompromisedKey", err)
	}
	if got, err := e.svc.Decrypt(ctx, admin(), blob); err != nil || got != "dato sensible" {
		t.Fatalf("Decrypt admin = %q, %v", got, err)
	}

	// Cada acceso forense queda CRITICAL en el log de la clave.
	evs, err := e.auditor.AuditLogForKey(ctx, admin(), k.KeyIdentifier, 50)
	if err != nil {
		t.Fatal(err)
	}
	critical := false
	for _, ev := range evs {
		if ev.Type == types.EventDataDecrypted && ev.Severity == types.SeverityCritical {
			critical = true
		}
	}
	if !critical {
		t.Fatal("esperaba un key.data.decrypted CRITICAL")
	}
}

func TestEncryptSSN(t *testing.T) {
	e := newKeysEnv(t)
	ctx := context.Background()

	// Sin clave SSN dedicada cae a la PHI.
	createPHIKey(t, e, types.RoleSet{types.RoleAdmin})

	res, err := e.svc.EncryptSSN(ctx, admin(), "20-12345678-3")
	if err != nil {
		t.Fatalf("EncryptSSN err: %v", err)
	}
	if res.Last4 != "5678" {
		t.Fatalf("Last4 = %q", res.Last4)
	}
	if got, err := e.svc.Decrypt(ctx, admin(), res.Blob); err != nil || got != "20-12345678-3" {
		t.Fatalf("Decrypt = %q, %v", got, err)
	}

	// Con menos de cuatro dígitos se devuelven los que haya.
	short, err := e.svc.EncryptSSN(ctx, admin(), "12A")
	if err != nil {
		t.Fatal(err)
	}
	if short.Last4 != "12" {
		t.Fatalf("Last4 = %q", short.Last4)
	}

	// Con clave SSN dedicada, el blob la nombra a ella.
	ssnKey, err := e.svc.CreateKey(ctx, admin(), keys.CreateKeyInput{
		Purpose:          types.KeyPurposeSSN,
		RotationSchedule: types.RotationQuarterly,
	})
	if err != nil {
		t.Fatal(err)
	}
	res2, err := e.svc.EncryptSSN(ctx, admin(), "20-12345678-3")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res2.Blob, "GCMV1:"+ssnKey.KeyIdentifier+":") {
		t.Fatalf("blob = %q, esperaba clave SSN", res2.Blob)
	}
}

func TestDueForRotation(t *testing.T) {
	e := newKeysEnv(t)
	ctx := context.Background()
	k := createPHIKey(t, e, nil)

	due, err := e.svc.DueForRotation(ctx, admin())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("due = %d, esperaba 0", len(due))
	}

	e.now = e.now.AddDate(0, 1, 1)
	due, err = e.svc.DueForRotation(ctx, admin())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].KeyIdentifier != k.KeyIdentifier {
		t.Fatalf("due inesperado: %+v", due)
	}

	if _, err := e.svc.DueForRotation(ctx, provider()); !errors.Is(err, keys.ErrAdminOnly) {
		t.Fatalf("err = %v, esperaba ErrAdminOnly", err)
	}
}

func TestCrossOrganizationIsolation(t *testing.T) {
	e := newKeysEnv(t)
	ctx := context.Background()
	k := createPHIKey(t, e, types.RoleSet{types.RoleAdmin})

	blob, err := e.svc.Encrypt(ctx, admin(), types.KeyPurposePHI, "x")
	if err != nil {
		t.Fatal(err)
	}

	outsider := types.Identity{UserID: "u-ext", OrganizationID: "org-otra", Role: types.RoleAdmin}
	if _, err := e.svc.Decrypt(ctx, outsider, blob); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, esperaba ErrNotFound", err)
	}
	if _, err := e.svc.GetKey(ctx, outsider, k.KeyIdentifier); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, esperaba ErrNotFound", err)
	}
}

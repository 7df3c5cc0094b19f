package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func seedConfig(t *testing.T, st *Store, id, userID string, method types.MFAMethod) {
	t.Helper()
	err := st.MFAConfigs().Upsert(context.Background(), &repository.MFAConfig{
		ID:             id,
		UserID:         userID,
		OrganizationID: "org-1",
		Method:         method,
		Secret:         types.VerifiedDestination("ana@x.example"),
		CreatedAt:      t0,
		UpdatedAt:      t0,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMFAUpsert_VerifiedWinsConflict(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.MFAConfigs()

	seedConfig(t, st, "c1", "u1", types.MFAMethodEmail)

	// Sin verificar, el upsert reemplaza la configuración pendiente.
	seedConfig(t, st, "c2", "u1", types.MFAMethodEmail)
	if _, err := repo.GetByID(ctx, "c1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, la pendiente debía reemplazarse", err)
	}

	if err := repo.MarkVerified(ctx, "c2", types.VerifiedDestination("ana@x.example"), t0); err != nil {
		t.Fatal(err)
	}

	// Verificada, la configuración existente gana el conflicto.
	err := repo.Upsert(ctx, &repository.MFAConfig{ID: "c3", UserID: "u1", Method: types.MFAMethodEmail})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("err = %v, esperaba ErrConflict", err)
	}

	// Otro método no conflictúa.
	seedConfig(t, st, "c4", "u1", types.MFAMethodTOTP)
}

func TestMFAIncrementFailed_SeparateFlows(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.MFAConfigs()
	seedConfig(t, st, "c1", "u1", types.MFAMethodEmail)

	for i := 1; i <= 2; i++ {
		if n, err := repo.IncrementFailed(ctx, "c1", repository.FlowSetup); err != nil || n != i {
			t.Fatalf("setup n = %d, %v", n, err)
		}
	}
	// El contador de login arranca de cero aunque setup ya acumuló.
	if n, err := repo.IncrementFailed(ctx, "c1", repository.FlowLogin); err != nil || n != 1 {
		t.Fatalf("login n = %d, %v", n, err)
	}

	until := t0.Add(15 * time.Minute)
	if err := repo.Lock(ctx, "c1", repository.FlowLogin, until); err != nil {
		t.Fatal(err)
	}
	cfg, err := repo.GetByID(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	// El lock resetea el contador del flujo y fija el reloj compartido.
	if cfg.FailedLoginAttempts != 0 || cfg.FailedSetupAttempts != 2 {
		t.Fatalf("attempts = setup:%d login:%d", cfg.FailedSetupAttempts, cfg.FailedLoginAttempts)
	}
	if cfg.LockedUntil == nil || !cfg.LockedUntil.Equal(until) {
		t.Fatalf("LockedUntil = %v", cfg.LockedUntil)
	}
	if !cfg.Locked(t0.Add(time.Minute)) || cfg.Locked(until.Add(time.Second)) {
		t.Fatal("Locked() no respeta la ventana")
	}

	// MarkUsed limpia contadores y lock de una.
	if err := repo.MarkUsed(ctx, "c1", t0.Add(20*time.Minute)); err != nil {
		t.Fatal(err)
	}
	cfg, _ = repo.GetByID(ctx, "c1")
	if cfg.FailedSetupAttempts != 0 || cfg.LockedUntil != nil {
		t.Fatalf("MarkUsed no limpió: %+v", cfg)
	}
}

func TestConsumeBackupCode_SingleUse(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.MFAConfigs()
	seedConfig(t, st, "c1", "u1", types.MFAMethodTOTP)

	if err := repo.ReplaceBackupCodes(ctx, "c1", []string{"h1", "h2", "h3"}); err != nil {
		t.Fatal(err)
	}

	ok, err := repo.ConsumeBackupCode(ctx, "c1", "h2")
	if err != nil || !ok {
		t.Fatalf("consume = %v, %v", ok, err)
	}
	ok, err = repo.ConsumeBackupCode(ctx, "c1", "h2")
	if err != nil || ok {
		t.Fatalf("reuso = %v, %v", ok, err)
	}

	cfg, _ := repo.GetByID(ctx, "c1")
	if cfg.BackupCodes[1] != repository.BackupCodeUsedSentinel || cfg.BackupCodesUsed != 1 {
		t.Fatalf("slot no consumido: %+v", cfg.BackupCodes)
	}

	// El sentinel nunca matchea como hash.
	if ok, _ := repo.ConsumeBackupCode(ctx, "c1", repository.BackupCodeUsedSentinel); ok {
		t.Fatal("el sentinel no puede consumirse")
	}
}

func TestKeyRotate_RequiresActive(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.Keys()

	if err := repo.Create(ctx, &repository.EncryptionKey{
		ID:             "k1",
		KeyIdentifier:  "phi-aaa",
		OrganizationID: "org-1",
		Purpose:        types.KeyPurposePHI,
		Status:         types.KeyStatusActive,
		CreatedAt:      t0,
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateStatus(ctx, "phi-aaa", types.KeyStatusRetired, t0); err != nil {
		t.Fatal(err)
	}

	next := &repository.EncryptionKey{ID: "k2", KeyIdentifier: "phi-bbb", OrganizationID: "org-1", Purpose: types.KeyPurposePHI, Status: types.KeyStatusActive}
	if err := repo.Rotate(ctx, "phi-aaa", next, t0); !errors.Is(err, repository.ErrPreconditionFailed) {
		t.Fatalf("err = %v, esperaba ErrPreconditionFailed", err)
	}
	if err := repo.Rotate(ctx, "phi-zzz", next, t0); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, esperaba ErrNotFound", err)
	}
}

func TestEvents_PendingRecoveryAndMarkSuccess(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.Events()

	append2 := func(id string, at time.Time) {
		err := repo.Append(ctx, &repository.SecurityEvent{
			ID:             id,
			Type:           types.EventMFARecoveryRequested,
			UserID:         "u1",
			OrganizationID: "org-1",
			Success:        false,
			CreatedAt:      at,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	append2("e1", t0)
	append2("e2", t0.Add(time.Minute))

	ev, err := repo.LatestPendingRecovery(ctx, "u1", types.EventMFARecoveryRequested)
	if err != nil || ev.ID != "e2" {
		t.Fatalf("latest = %+v, %v", ev, err)
	}

	if err := repo.MarkSuccess(ctx, "e2"); err != nil {
		t.Fatal(err)
	}
	// Cerrado el último, el pendiente vuelve a ser el anterior.
	ev, err = repo.LatestPendingRecovery(ctx, "u1", types.EventMFARecoveryRequested)
	if err != nil || ev.ID != "e1" {
		t.Fatalf("latest = %+v, %v", ev, err)
	}

	if err := repo.MarkSuccess(ctx, "no-existe"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, esperaba ErrNotFound", err)
	}
}

func TestEvents_ListByKeyIdentifier(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.Events()

	for i, id := range []string{"e1", "e2", "e3"} {
		err := repo.Append(ctx, &repository.SecurityEvent{
			ID:             id,
			Type:           types.EventDataDecrypted,
			OrganizationID: "org-1",
			Metadata:       map[string]string{"key_id": "phi-aaa"},
			CreatedAt:      t0.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	// Ruido: otra clave y otra organización.
	_ = repo.Append(ctx, &repository.SecurityEvent{ID: "x1", OrganizationID: "org-1", Metadata: map[string]string{"key_id": "phi-bbb"}})
	_ = repo.Append(ctx, &repository.SecurityEvent{ID: "x2", OrganizationID: "org-2", Metadata: map[string]string{"key_id": "phi-aaa"}})

	out, err := repo.ListByKeyIdentifier(ctx, "org-1", "phi-aaa", 2)
	if err != nil {
		t.Fatal(err)
	}
	// Más recientes primero, respetando el límite.
	if len(out) != 2 || out[0].ID != "e3" || out[1].ID != "e2" {
		t.Fatalf("out = %+v", out)
	}
}

func TestSessions_TerminateAllForUser(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.Sessions()

	for _, id := range []string{"d1", "d2"} {
		err := repo.Create(ctx, &repository.TrustedDevice{
			ID:        id,
			UserID:    "u1",
			TokenHash: "th-" + id,
			Status:    types.SessionStatusActive,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.TerminateAllForUser(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("terminated = %d, %v", n, err)
	}
	// Idempotente: nada activo queda para terminar.
	n, err = repo.TerminateAllForUser(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("terminated = %d, %v", n, err)
	}

	d, err := repo.GetByTokenHash(ctx, "th-d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != types.SessionStatusTerminated {
		t.Fatalf("status = %s", d.Status)
	}
}

package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
)

// ─── MFAConfigRepository ───

type mfaRepo struct{ pool *pgxpool.Pool }

const mfaColumns = `id, user_id, organization_id, method, secret, verified, verified_at,
	last_used_at, backup_codes, backup_codes_used, failed_setup_attempts,
	failed_login_attempts, locked_until, created_at, updated_at`

func scanMFA(row pgx.Row) (*repository.MFAConfig, error) {
	var c repository.MFAConfig
	var rawSecret string
	if err := row.Scan(&c.ID, &c.UserID, &c.OrganizationID, &c.Method, &rawSecret,
		&c.Verified, &c.VerifiedAt, &c.LastUsedAt, &c.BackupCodes, &c.BackupCodesUsed,
		&c.FailedSetupAttempts, &c.FailedLoginAttempts, &c.LockedUntil,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	secret, err := types.ParseSecret(rawSecret)
	if err != nil {
		return nil, err
	}
	c.Secret = secret
	return &c, nil
}

func (r *mfaRepo) Upsert(ctx context.Context, cfg *repository.MFAConfig) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var verified bool
	err = tx.QueryRow(ctx,
		`SELECT verified FROM mfa_configs WHERE user_id = $1 AND method = $2 FOR UPDATE`,
		cfg.UserID, cfg.Method).Scan(&verified)
	switch {
	case err == nil:
		if verified {
			return repository.ErrConflict
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM mfa_configs WHERE user_id = $1 AND method = $2`,
			cfg.UserID, cfg.Method); err != nil {
			return err
		}
	case errors.Is(err, pgx.ErrNoRows):
		// primera configuración para el método
	default:
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO mfa_configs (`+mfaColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		cfg.ID, cfg.UserID, cfg.OrganizationID, cfg.Method, cfg.Secret.Encode(),
		cfg.Verified, cfg.VerifiedAt, cfg.LastUsedAt, cfg.BackupCodes, cfg.BackupCodesUsed,
		cfg.FailedSetupAttempts, cfg.FailedLoginAttempts, cfg.LockedUntil,
		cfg.CreatedAt, cfg.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *mfaRepo) GetByID(ctx context.Context, id string) (*repository.MFAConfig, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+mfaColumns+` FROM mfa_configs WHERE id = $1`, id)
	return scanMFA(row)
}

func (r *mfaRepo) GetByUserAndMethod(ctx context.Context, userID string, method types.MFAMethod) (*repository.MFAConfig, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+mfaColumns+` FROM mfa_configs WHERE user_id = $1 AND method = $2`,
		userID, method)
	return scanMFA(row)
}

func (r *mfaRepo) ListByUser(ctx context.Context, userID string) ([]*repository.MFAConfig, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+mfaColumns+` FROM mfa_configs WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.MFAConfig
	for rows.Next() {
		c, err := scanMFA(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *mfaRepo) UpdateSecret(ctx context.Context, id string, secret types.Secret) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE mfa_configs SET secret = $2, updated_at = now() WHERE id = $1`,
		id, secret.Encode())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) MarkVerified(ctx context.Context, id string, secret types.Secret, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mfa_configs
		SET secret = $2, verified = TRUE, verified_at = $3,
		    failed_setup_attempts = 0, failed_login_attempts = 0,
		    locked_until = NULL, updated_at = $3
		WHERE id = $1`,
		id, secret.Encode(), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) IncrementFailed(ctx context.Context, id string, flow repository.AttemptFlow) (int, error) {
	col := "failed_login_attempts"
	if flow == repository.FlowSetup {
		col = "failed_setup_attempts"
	}
	// UPDATE ... RETURNING: dos requests concurrentes nunca ven el mismo valor.
	var n int
	err := r.pool.QueryRow(ctx,
		`UPDATE mfa_configs SET `+col+` = `+col+` + 1, updated_at = now()
		 WHERE id = $1 RETURNING `+col, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	return n, err
}

func (r *mfaRepo) Lock(ctx context.Context, id string, flow repository.AttemptFlow, until time.Time) error {
	col := "failed_login_attempts"
	if flow == repository.FlowSetup {
		col = "failed_setup_attempts"
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE mfa_configs SET locked_until = $2, `+col+` = 0, updated_at = now() WHERE id = $1`,
		id, until)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mfa_configs
		SET last_used_at = $2, failed_setup_attempts = 0, failed_login_attempts = 0,
		    locked_until = NULL, updated_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) ConsumeBackupCode(ctx context.Context, id string, hash string) (bool, error) {
	// Un solo UPDATE condicional: buscar, comparar y marcar es atómico.
	tag, err := r.pool.Exec(ctx, `
		UPDATE mfa_configs
		SET backup_codes = array_replace(backup_codes, $2, $3),
		    backup_codes_used = backup_codes_used + 1,
		    updated_at = now()
		WHERE id = $1 AND $2 = ANY(backup_codes)`,
		id, hash, repository.BackupCodeUsedSentinel)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *mfaRepo) ReplaceBackupCodes(ctx context.Context, id string, hashes []string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE mfa_configs SET backup_codes = $2, backup_codes_used = 0, updated_at = now() WHERE id = $1`,
		id, hashes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM mfa_configs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM mfa_configs WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ─── SessionRepository ───

type sessionRepo struct{ pool *pgxpool.Pool }

const deviceColumns = `id, user_id, organization_id, token_hash, fingerprint, device_type,
	browser, os, remember_device, mfa_verified, status, expires_at, created_at, last_seen_at`

func (r *sessionRepo) Create(ctx context.Context, dev *repository.TrustedDevice) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trusted_devices (`+deviceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		dev.ID, dev.UserID, dev.OrganizationID, dev.TokenHash, dev.Fingerprint,
		dev.DeviceType, dev.Browser, dev.OS, dev.RememberDevice, dev.MFAVerified,
		dev.Status, dev.ExpiresAt, dev.CreatedAt, dev.LastSeenAt)
	return err
}

func (r *sessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*repository.TrustedDevice, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM trusted_devices WHERE token_hash = $1`, tokenHash)
	var d repository.TrustedDevice
	if err := row.Scan(&d.ID, &d.UserID, &d.OrganizationID, &d.TokenHash, &d.Fingerprint,
		&d.DeviceType, &d.Browser, &d.OS, &d.RememberDevice, &d.MFAVerified,
		&d.Status, &d.ExpiresAt, &d.CreatedAt, &d.LastSeenAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *sessionRepo) TouchSeen(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE trusted_devices SET last_seen_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) TerminateAllForUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE trusted_devices SET status = $2 WHERE user_id = $1 AND status = $3`,
		userID, types.SessionStatusTerminated, types.SessionStatusActive)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

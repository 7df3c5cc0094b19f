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

// ─── KeyRepository ───

type keyRepo struct{ pool *pgxpool.Pool }

const keyColumns = `id, key_identifier, organization_id, purpose, status, algorithm,
	key_version, encrypted_dek, rotation_schedule, next_rotation_at, previous_key_id,
	allowed_roles, activated_at, rotated_at, retired_at, expires_at, last_accessed_at,
	access_count, created_at`

func scanKey(row pgx.Row) (*repository.EncryptionKey, error) {
	var k repository.EncryptionKey
	var roles []string
	if err := row.Scan(&k.ID, &k.KeyIdentifier, &k.OrganizationID, &k.Purpose, &k.Status,
		&k.Algorithm, &k.KeyVersion, &k.EncryptedDEK, &k.RotationSchedule, &k.NextRotationAt,
		&k.PreviousKeyID, &roles, &k.ActivatedAt, &k.RotatedAt, &k.RetiredAt, &k.ExpiresAt,
		&k.LastAccessedAt, &k.AccessCount, &k.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	k.AllowedRoles = types.RoleSetFromStrings(roles)
	return &k, nil
}

func (r *keyRepo) Create(ctx context.Context, key *repository.EncryptionKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO encryption_keys (`+keyColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		key.ID, key.KeyIdentifier, key.OrganizationID, key.Purpose, key.Status,
		key.Algorithm, key.KeyVersion, key.EncryptedDEK, key.RotationSchedule,
		key.NextRotationAt, key.PreviousKeyID, key.AllowedRoles.Strings(),
		key.ActivatedAt, key.RotatedAt, key.RetiredAt, key.ExpiresAt,
		key.LastAccessedAt, key.AccessCount, key.CreatedAt)
	if isUniqueViolation(err) {
		// Índice parcial: una sola ACTIVE por (organización, propósito).
		return repository.ErrConflict
	}
	return err
}

func (r *keyRepo) GetByIdentifier(ctx context.Context, keyIdentifier string) (*repository.EncryptionKey, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM encryption_keys WHERE key_identifier = $1`, keyIdentifier)
	return scanKey(row)
}

func (r *keyRepo) GetActive(ctx context.Context, orgID string, purpose types.KeyPurpose) (*repository.EncryptionKey, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+keyColumns+` FROM encryption_keys
		WHERE organization_id = $1 AND purpose = $2 AND status = $3`,
		orgID, purpose, types.KeyStatusActive)
	return scanKey(row)
}

func (r *keyRepo) ListByOrganization(ctx context.Context, orgID string) ([]*repository.EncryptionKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+keyColumns+` FROM encryption_keys WHERE organization_id = $1 ORDER BY created_at`,
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.EncryptionKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *keyRepo) Rotate(ctx context.Context, oldKeyIdentifier string, newKey *repository.EncryptionKey, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE encryption_keys SET status = $2, rotated_at = $3
		WHERE key_identifier = $1 AND status = $4`,
		oldKeyIdentifier, types.KeyStatusRotating, at, types.KeyStatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrPreconditionFailed
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO encryption_keys (`+keyColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		newKey.ID, newKey.KeyIdentifier, newKey.OrganizationID, newKey.Purpose, newKey.Status,
		newKey.Algorithm, newKey.KeyVersion, newKey.EncryptedDEK, newKey.RotationSchedule,
		newKey.NextRotationAt, newKey.PreviousKeyID, newKey.AllowedRoles.Strings(),
		newKey.ActivatedAt, newKey.RotatedAt, newKey.RetiredAt, newKey.ExpiresAt,
		newKey.LastAccessedAt, newKey.AccessCount, newKey.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *keyRepo) UpdateStatus(ctx context.Context, keyIdentifier string, status types.KeyStatus, at time.Time) error {
	q := `UPDATE encryption_keys SET status = $2 WHERE key_identifier = $1`
	switch status {
	case types.KeyStatusRetired:
		q = `UPDATE encryption_keys SET status = $2, retired_at = $3 WHERE key_identifier = $1`
	case types.KeyStatusRotating:
		q = `UPDATE encryption_keys SET status = $2, rotated_at = $3 WHERE key_identifier = $1`
	default:
		tag, err := r.pool.Exec(ctx, q, keyIdentifier, status)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		return nil
	}
	tag, err := r.pool.Exec(ctx, q, keyIdentifier, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *keyRepo) TouchAccess(ctx context.Context, keyIdentifier string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE encryption_keys
		SET access_count = access_count + 1, last_accessed_at = $2
		WHERE key_identifier = $1`, keyIdentifier, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *keyRepo) ListDueForRotation(ctx context.Context, now time.Time) ([]*repository.EncryptionKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+keyColumns+` FROM encryption_keys
		WHERE status = $1 AND next_rotation_at <= $2 ORDER BY next_rotation_at`,
		types.KeyStatusActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.EncryptionKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// ─── EventRepository ───

type eventRepo struct{ pool *pgxpool.Pool }

const eventColumns = `id, type, user_id, organization_id, ip_address, user_agent,
	success, severity, metadata, created_at`

func scanEvent(row pgx.Row) (*repository.SecurityEvent, error) {
	var e repository.SecurityEvent
	if err := row.Scan(&e.ID, &e.Type, &e.UserID, &e.OrganizationID, &e.IPAddress,
		&e.UserAgent, &e.Success, &e.Severity, &e.Metadata, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *eventRepo) Append(ctx context.Context, ev *repository.SecurityEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_events (`+eventColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ev.ID, ev.Type, ev.UserID, ev.OrganizationID, ev.IPAddress, ev.UserAgent,
		ev.Success, ev.Severity, ev.Metadata, ev.CreatedAt)
	return err
}

func (r *eventRepo) MarkSuccess(ctx context.Context, eventID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE security_events SET success = TRUE WHERE id = $1`, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *eventRepo) LatestPendingRecovery(ctx context.Context, userID string, typ types.EventType) (*repository.SecurityEvent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM security_events
		WHERE user_id = $1 AND type = $2 AND success = FALSE
		ORDER BY created_at DESC LIMIT 1`, userID, typ)
	return scanEvent(row)
}

func (r *eventRepo) ListByKeyIdentifier(ctx context.Context, orgID, keyIdentifier string, limit int) ([]*repository.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM security_events
		WHERE organization_id = $1 AND metadata->>'key_id' = $2
		ORDER BY created_at DESC LIMIT $3`, orgID, keyIdentifier, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.SecurityEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── PolicyRepository ───

type policyRepo struct{ pool *pgxpool.Pool }

func (r *policyRepo) Get(ctx context.Context, orgID string) (*repository.MFAPolicy, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT organization_id, mfa_required, required_roles, grace_period_days, updated_at, updated_by
		FROM mfa_policies WHERE organization_id = $1`, orgID)
	var p repository.MFAPolicy
	var roles []string
	if err := row.Scan(&p.OrganizationID, &p.MFARequired, &roles, &p.GracePeriodDays,
		&p.UpdatedAt, &p.UpdatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	p.RequiredRoles = types.RoleSetFromStrings(roles)
	return &p, nil
}

func (r *policyRepo) Upsert(ctx context.Context, policy *repository.MFAPolicy) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mfa_policies (organization_id, mfa_required, required_roles, grace_period_days, updated_at, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (organization_id)
		DO UPDATE SET mfa_required = EXCLUDED.mfa_required,
		              required_roles = EXCLUDED.required_roles,
		              grace_period_days = EXCLUDED.grace_period_days,
		              updated_at = EXCLUDED.updated_at,
		              updated_by = EXCLUDED.updated_by`,
		policy.OrganizationID, policy.MFARequired, policy.RequiredRoles.Strings(),
		policy.GracePeriodDays, policy.UpdatedAt, policy.UpdatedBy)
	return err
}

// ─── UserRepository ───

type userRepo struct{ pool *pgxpool.Pool }

func (r *userRepo) GetCredentials(ctx context.Context, userID string) (*repository.UserCredentials, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT user_id, organization_id, email, phone_number, password_hash
		FROM user_credentials WHERE user_id = $1`, userID)
	var u repository.UserCredentials
	if err := row.Scan(&u.UserID, &u.OrganizationID, &u.Email, &u.PhoneNumber, &u.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_credentials SET password_hash = $2 WHERE user_id = $1`, userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

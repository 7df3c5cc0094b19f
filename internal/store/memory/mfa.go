package memory

import (
	"context"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
)

// ─── MFAConfigRepository ───

type mfaRepo struct{ st *state }

func cloneMFA(c *repository.MFAConfig) *repository.MFAConfig {
	cp := *c
	cp.BackupCodes = append([]string(nil), c.BackupCodes...)
	return &cp
}

func (r *mfaRepo) Upsert(ctx context.Context, cfg *repository.MFAConfig) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	for id, existing := range r.st.mfa {
		if existing.UserID == cfg.UserID && existing.Method == cfg.Method {
			if existing.Verified {
				return repository.ErrConflict
			}
			delete(r.st.mfa, id)
		}
	}
	r.st.mfa[cfg.ID] = cloneMFA(cfg)
	return nil
}

func (r *mfaRepo) get(id string) (*repository.MFAConfig, error) {
	c, ok := r.st.mfa[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (r *mfaRepo) GetByID(ctx context.Context, id string) (*repository.MFAConfig, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return cloneMFA(c), nil
}

func (r *mfaRepo) GetByUserAndMethod(ctx context.Context, userID string, method types.MFAMethod) (*repository.MFAConfig, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, c := range r.st.mfa {
		if c.UserID == userID && c.Method == method {
			return cloneMFA(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *mfaRepo) ListByUser(ctx context.Context, userID string) ([]*repository.MFAConfig, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*repository.MFAConfig
	for _, c := range r.st.mfa {
		if c.UserID == userID {
			out = append(out, cloneMFA(c))
		}
	}
	return out, nil
}

func (r *mfaRepo) UpdateSecret(ctx context.Context, id string, secret types.Secret) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.Secret = secret
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *mfaRepo) MarkVerified(ctx context.Context, id string, secret types.Secret, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.Secret = secret
	c.Verified = true
	c.VerifiedAt = &at
	c.FailedSetupAttempts = 0
	c.FailedLoginAttempts = 0
	c.LockedUntil = nil
	c.UpdatedAt = at
	return nil
}

func (r *mfaRepo) IncrementFailed(ctx context.Context, id string, flow repository.AttemptFlow) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return 0, err
	}
	var n int
	if flow == repository.FlowSetup {
		c.FailedSetupAttempts++
		n = c.FailedSetupAttempts
	} else {
		c.FailedLoginAttempts++
		n = c.FailedLoginAttempts
	}
	c.UpdatedAt = time.Now().UTC()
	return n, nil
}

func (r *mfaRepo) Lock(ctx context.Context, id string, flow repository.AttemptFlow, until time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.LockedUntil = &until
	if flow == repository.FlowSetup {
		c.FailedSetupAttempts = 0
	} else {
		c.FailedLoginAttempts = 0
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *mfaRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.LastUsedAt = &at
	c.FailedSetupAttempts = 0
	c.FailedLoginAttempts = 0
	c.LockedUntil = nil
	c.UpdatedAt = at
	return nil
}

func (r *mfaRepo) ConsumeBackupCode(ctx context.Context, id string, hash string) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return false, err
	}
	for i, h := range c.BackupCodes {
		if h != repository.BackupCodeUsedSentinel && h == hash {
			c.BackupCodes[i] = repository.BackupCodeUsedSentinel
			c.BackupCodesUsed++
			c.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (r *mfaRepo) ReplaceBackupCodes(ctx context.Context, id string, hashes []string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.BackupCodes = append([]string(nil), hashes...)
	c.BackupCodesUsed = 0
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *mfaRepo) Delete(ctx context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.mfa[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.st.mfa, id)
	return nil
}

func (r *mfaRepo) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	n := 0
	for id, c := range r.st.mfa {
		if c.UserID == userID {
			delete(r.st.mfa, id)
			n++
		}
	}
	return n, nil
}

// ─── SessionRepository ───

type sessionRepo struct{ st *state }

func cloneDevice(d *repository.TrustedDevice) *repository.TrustedDevice {
	cp := *d
	return &cp
}

func (r *sessionRepo) Create(ctx context.Context, dev *repository.TrustedDevice) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.sessions[dev.ID] = cloneDevice(dev)
	return nil
}

func (r *sessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*repository.TrustedDevice, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, d := range r.st.sessions {
		if d.TokenHash == tokenHash {
			return cloneDevice(d), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *sessionRepo) TouchSeen(ctx context.Context, id string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	d, ok := r.st.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.LastSeenAt = &at
	return nil
}

func (r *sessionRepo) TerminateAllForUser(ctx context.Context, userID string) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	n := 0
	for _, d := range r.st.sessions {
		if d.UserID == userID && d.Status == types.SessionStatusActive {
			d.Status = types.SessionStatusTerminated
			n++
		}
	}
	return n, nil
}

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/domain/types"
)

// ─── KeyRepository ───

type keyRepo struct{ st *state }

func cloneKey(k *repository.EncryptionKey) *repository.EncryptionKey {
	cp := *k
	cp.AllowedRoles = append(types.RoleSet(nil), k.AllowedRoles...)
	return &cp
}

func (r *keyRepo) Create(ctx context.Context, key *repository.EncryptionKey) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, k := range r.st.keys {
		if k.OrganizationID == key.OrganizationID && k.Purpose == key.Purpose && k.Status == types.KeyStatusActive {
			return repository.ErrConflict
		}
	}
	r.st.keys[key.KeyIdentifier] = cloneKey(key)
	return nil
}

func (r *keyRepo) GetByIdentifier(ctx context.Context, keyIdentifier string) (*repository.EncryptionKey, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	k, ok := r.st.keys[keyIdentifier]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneKey(k), nil
}

func (r *keyRepo) GetActive(ctx context.Context, orgID string, purpose types.KeyPurpose) (*repository.EncryptionKey, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, k := range r.st.keys {
		if k.OrganizationID == orgID && k.Purpose == purpose && k.Status == types.KeyStatusActive {
			return cloneKey(k), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *keyRepo) ListByOrganization(ctx context.Context, orgID string) ([]*repository.EncryptionKey, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*repository.EncryptionKey
	for _, k := range r.st.keys {
		if k.OrganizationID == orgID {
			out = append(out, cloneKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *keyRepo) Rotate(ctx context.Context, oldKeyIdentifier string, newKey *repository.EncryptionKey, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	old, ok := r.st.keys[oldKeyIdentifier]
	if !ok {
		return repository.ErrNotFound
	}
	if old.Status != types.KeyStatusActive {
		return repository.ErrPreconditionFailed
	}

	// Ambos cambios bajo el mismo lock: nunca dos ACTIVE ni cero.
	old.Status = types.KeyStatusRotating
	old.RotatedAt = &at
	r.st.keys[newKey.KeyIdentifier] = cloneKey(newKey)
	return nil
}

func (r *keyRepo) UpdateStatus(ctx context.Context, keyIdentifier string, status types.KeyStatus, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	k, ok := r.st.keys[keyIdentifier]
	if !ok {
		return repository.ErrNotFound
	}
	k.Status = status
	switch status {
	case types.KeyStatusRetired:
		k.RetiredAt = &at
	case types.KeyStatusRotating:
		k.RotatedAt = &at
	}
	return nil
}

func (r *keyRepo) TouchAccess(ctx context.Context, keyIdentifier string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	k, ok := r.st.keys[keyIdentifier]
	if !ok {
		return repository.ErrNotFound
	}
	k.AccessCount++
	k.LastAccessedAt = &at
	return nil
}

func (r *keyRepo) ListDueForRotation(ctx context.Context, now time.Time) ([]*repository.EncryptionKey, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*repository.EncryptionKey
	for _, k := range r.st.keys {
		if k.Status == types.KeyStatusActive && !k.NextRotationAt.After(now) {
			out = append(out, cloneKey(k))
		}
	}
	return out, nil
}

// ─── EventRepository ───

type eventRepo struct{ st *state }

func cloneEvent(e *repository.SecurityEvent) *repository.SecurityEvent {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r *eventRepo) Append(ctx context.Context, ev *repository.SecurityEvent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.events = append(r.st.events, cloneEvent(ev))
	return nil
}

func (r *eventRepo) MarkSuccess(ctx context.Context, eventID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, e := range r.st.events {
		if e.ID == eventID {
			e.Success = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *eventRepo) LatestPendingRecovery(ctx context.Context, userID string, typ types.EventType) (*repository.SecurityEvent, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for i := len(r.st.events) - 1; i >= 0; i-- {
		e := r.st.events[i]
		if e.UserID == userID && e.Type == typ && !e.Success {
			return cloneEvent(e), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *eventRepo) ListByKeyIdentifier(ctx context.Context, orgID, keyIdentifier string, limit int) ([]*repository.SecurityEvent, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*repository.SecurityEvent
	for i := len(r.st.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.st.events[i]
		if e.OrganizationID == orgID && e.Metadata["key_id"] == keyIdentifier {
			out = append(out, cloneEvent(e))
		}
	}
	return out, nil
}

// ─── PolicyRepository ───

type policyRepo struct{ st *state }

func (r *policyRepo) Get(ctx context.Context, orgID string) (*repository.MFAPolicy, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	p, ok := r.st.policies[orgID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	cp.RequiredRoles = append(types.RoleSet(nil), p.RequiredRoles...)
	return &cp, nil
}

func (r *policyRepo) Upsert(ctx context.Context, policy *repository.MFAPolicy) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := *policy
	cp.RequiredRoles = append(types.RoleSet(nil), policy.RequiredRoles...)
	r.st.policies[policy.OrganizationID] = &cp
	return nil
}

// ─── UserRepository ───

type userRepo struct{ st *state }

func (r *userRepo) GetCredentials(ctx context.Context, userID string) (*repository.UserCredentials, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *userRepo) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

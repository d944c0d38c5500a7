package shared

import (
	"context"
	"errors"
	"time"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore claims client supplied request keys per tenant so a
// retried write is refused instead of applied twice.
type IdempotencyStore struct {
	db  Execer
	now func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db Execer) *IdempotencyStore {
	return &IdempotencyStore{db: db, now: time.Now}
}

// Claim records key for the tenant. A key already claimed yields ErrIdempotencyConflict.
func (s *IdempotencyStore) Claim(ctx context.Context, tenantID int64, key, module string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	switch {
	case key == "":
		return errors.New("idempotency key required")
	case module == "":
		return errors.New("idempotency module required")
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (tenant_id, key, module, created_at)
VALUES ($1, $2, $3, $4) ON CONFLICT (tenant_id, key) DO NOTHING`, tenantID, key, module, s.now().UTC())
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrIdempotencyConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Release frees a key after the guarded write failed so the client may retry.
func (s *IdempotencyStore) Release(ctx context.Context, tenantID int64, key string) error {
	if s == nil || key == "" {
		return nil
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE tenant_id = $1 AND key = $2`, tenantID, key)
	return err
}

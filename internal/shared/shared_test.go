package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  []string
	args [][]any
	tag  string
	err  error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, args)
	tag := r.tag
	if tag == "" {
		tag = "INSERT 0 1"
	}
	return pgconn.NewCommandTag(tag), r.err
}

func TestIdempotencyStore(t *testing.T) {
	exec := &recordingExecer{}
	store := NewIdempotencyStore(exec)
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, store.Claim(ctx, 4, "k-1", "inventory"))
	require.Equal(t, []any{int64(4), "k-1", "inventory", fixed}, exec.args[0])
	require.Error(t, store.Claim(ctx, 4, "", "inventory"))
	require.Error(t, store.Claim(ctx, 4, "k-1", ""))

	exec.tag = "INSERT 0 0"
	require.ErrorIs(t, store.Claim(ctx, 4, "k-1", "inventory"), ErrIdempotencyConflict)

	exec.tag = ""
	exec.err = fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, store.Claim(ctx, 4, "k-2", "inventory"), ErrIdempotencyConflict)

	exec.err = nil
	require.NoError(t, store.Release(ctx, 4, "k-1"))
	require.Contains(t, exec.sql[len(exec.sql)-1], "DELETE FROM idempotency_keys")

	var nilStore *IdempotencyStore
	require.NoError(t, nilStore.Release(ctx, 4, "k-1"))
	require.Error(t, nilStore.Claim(ctx, 4, "k-1", "inventory"))
}

func TestAuditLoggerRecord(t *testing.T) {
	exec := &recordingExecer{}
	logger := NewAuditLogger(exec)
	ctx := context.Background()

	require.Error(t, logger.Record(ctx, AuditLog{Action: "post"}))
	require.NoError(t, logger.Record(ctx, AuditLog{
		TenantID: 2, ActorID: 9, Action: "journal.post", Entity: "journal_entry", EntityID: "17",
		Meta: map[string]any{"number": "JE-000017"},
	}))
	require.Len(t, exec.args, 1)
	require.JSONEq(t, `{"number":"JE-000017"}`, string(exec.args[0][5].([]byte)))
	require.Nil(t, exec.args[0][6], "zero timestamp defers to NOW()")

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(ctx, AuditLog{}))
}

func TestPgErrorClassification(t *testing.T) {
	unique := fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_source_links"})
	require.True(t, IsUniqueViolation(unique))
	require.False(t, IsCheckViolation(unique))
	require.Equal(t, "uq_source_links", ConstraintName(unique))

	require.True(t, IsCheckViolation(&pgconn.PgError{Code: "23514"}))
	require.True(t, IsExclusionViolation(&pgconn.PgError{Code: "23P01"}))
	require.False(t, IsUniqueViolation(errors.New("plain")))
	require.Empty(t, ConstraintName(errors.New("plain")))
}

func TestValidatePeriodTransition(t *testing.T) {
	allowed := [][2]string{
		{PeriodStatusDraft, PeriodStatusOpen},
		{PeriodStatusOpen, PeriodStatusClosed},
		{PeriodStatusOpen, PeriodStatusLocked},
		{PeriodStatusClosed, PeriodStatusOpen},
		{PeriodStatusClosed, PeriodStatusLocked},
	}
	for _, pair := range allowed {
		require.NoError(t, ValidatePeriodTransition(pair[0], pair[1]), pair)
	}
	denied := [][2]string{
		{PeriodStatusDraft, PeriodStatusClosed},
		{PeriodStatusOpen, PeriodStatusOpen},
		{PeriodStatusLocked, PeriodStatusOpen},
		{PeriodStatusLocked, PeriodStatusClosed},
	}
	for _, pair := range denied {
		require.ErrorIs(t, ValidatePeriodTransition(pair[0], pair[1]), ErrInvalidPeriodTransition, pair)
	}
}

func TestContextScope(t *testing.T) {
	ctx := context.Background()
	require.Zero(t, TenantFromContext(ctx))
	require.Zero(t, ActorFromContext(ctx))

	ctx = ContextWithActor(ContextWithTenant(ctx, 12), 30)
	require.Equal(t, int64(12), TenantFromContext(ctx))
	require.Equal(t, int64(30), ActorFromContext(ctx))
}

func TestLockerObtainAndRelease(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client, time.Minute)
	ctx := context.Background()
	key := ProductionLockKey(3, 44)
	require.Equal(t, "manufacturing:3:order:44:lock", key)

	release, err := locker.Obtain(ctx, key)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, key)
	require.ErrorIs(t, err, ErrLockNotObtained)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx), "releasing twice is tolerated")

	again, err := locker.Obtain(ctx, key)
	require.NoError(t, err)
	srv.FastForward(2 * time.Minute)
	require.NoError(t, again(ctx), "expired lock release is tolerated")

	var noop *Locker
	release, err = noop.Obtain(ctx, key)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

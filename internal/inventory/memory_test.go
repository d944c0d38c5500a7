package inventory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var errInjected = errors.New("injected failure")

type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
	// failInsertAt fails the n-th ledger insert of a transaction (1-based).
	failInsertAt int
}

type memoryState struct {
	nextID  int64
	levels  map[StockKey]StockLevel
	entries []LedgerEntry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{levels: map[StockKey]StockLevel{}}}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{nextID: s.nextID, levels: make(map[StockKey]StockLevel, len(s.levels))}
	for k, v := range s.levels {
		c.levels[k] = v
	}
	c.entries = append([]LedgerEntry(nil), s.entries...)
	return c
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: working, failInsertAt: r.failInsertAt}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) level(key StockKey) StockLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.levels[key]
}

func (r *memoryRepo) entries() []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LedgerEntry(nil), r.state.entries...)
}

func (r *memoryRepo) tamper(key StockKey, onHand decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.state.levels[key]
	l.OnHand = onHand
	r.state.levels[key] = l
}

type memoryTx struct {
	state        *memoryState
	failInsertAt int
	inserts      int
}

func (tx *memoryTx) LockStockLevel(_ context.Context, key StockKey) (StockLevel, error) {
	level, ok := tx.state.levels[key]
	if !ok {
		level = StockLevel{StockKey: key}
		tx.state.levels[key] = level
	}
	return level, nil
}

func (tx *memoryTx) GetStockLevel(_ context.Context, key StockKey) (StockLevel, error) {
	if level, ok := tx.state.levels[key]; ok {
		return level, nil
	}
	return StockLevel{StockKey: key}, nil
}

func (tx *memoryTx) SaveStockLevel(_ context.Context, level StockLevel) error {
	if _, ok := tx.state.levels[level.StockKey]; !ok {
		return errors.New("stock level row missing")
	}
	tx.state.levels[level.StockKey] = level
	return nil
}

func (tx *memoryTx) InsertLedgerEntry(_ context.Context, entry LedgerEntry) (LedgerEntry, error) {
	tx.inserts++
	if tx.failInsertAt > 0 && tx.inserts == tx.failInsertAt {
		return LedgerEntry{}, errInjected
	}
	tx.state.nextID++
	entry.ID = tx.state.nextID
	tx.state.entries = append(tx.state.entries, entry)
	return entry, nil
}

func (tx *memoryTx) ListLedger(_ context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, e := range tx.state.entries {
		if e.TenantID != filter.TenantID {
			continue
		}
		if filter.ProductID != 0 && e.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && e.WarehouseID != filter.WarehouseID {
			continue
		}
		if !filter.From.IsZero() && e.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, e)
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (tx *memoryTx) LedgerDrift(_ context.Context, tenantID int64) ([]Drift, error) {
	sums := map[StockKey]decimal.Decimal{}
	for _, e := range tx.state.entries {
		sums[e.StockKey] = sums[e.StockKey].Add(e.Quantity)
	}
	var out []Drift
	for key, level := range tx.state.levels {
		if key.TenantID != tenantID {
			continue
		}
		if !level.OnHand.Equal(sums[key]) {
			out = append(out, Drift{StockKey: key, OnHand: level.OnHand, LedgerTotal: sums[key]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j].StockKey) })
	return out, nil
}

var _ TxRepository = (*memoryTx)(nil)

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: map[string]struct{}{}}
}

func (m *memoryIdempotency) Claim(_ context.Context, tenantID int64, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := keyOf(tenantID, key)
	if _, ok := m.keys[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[k] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, tenantID int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, keyOf(tenantID, key))
	return nil
}

func keyOf(tenantID int64, key string) string {
	return strconv.FormatInt(tenantID, 10) + "|" + key
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

package manufacturing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
)

var errInjected = errors.New("injected failure")

type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
	// failInsertAt fails the n-th stock ledger insert of a transaction (1-based).
	failInsertAt int
	failUpdate   bool
}

type memoryState struct {
	nextID  int64
	boms    map[int64]BOM
	orders  map[int64]ProductionOrder
	levels  map[inventory.StockKey]inventory.StockLevel
	entries []inventory.LedgerEntry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		boms:   map[int64]BOM{},
		orders: map[int64]ProductionOrder{},
		levels: map[inventory.StockKey]inventory.StockLevel{},
	}}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		nextID: s.nextID,
		boms:   make(map[int64]BOM, len(s.boms)),
		orders: make(map[int64]ProductionOrder, len(s.orders)),
		levels: make(map[inventory.StockKey]inventory.StockLevel, len(s.levels)),
	}
	for k, v := range s.boms {
		c.boms[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.levels {
		c.levels[k] = v
	}
	c.entries = append([]inventory.LedgerEntry(nil), s.entries...)
	return c
}

// WithTx serialises whole transactions behind one mutex. Tests built on it
// cover check-then-debit atomicity across concurrent completions; the sorted
// row lock order only matters against a real database.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	tx := &memoryTx{state: working, failInsertAt: r.failInsertAt, failUpdate: r.failUpdate}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) seed(key inventory.StockKey, onHand, avgCost string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	qty := decimal.RequireFromString(onHand)
	r.state.levels[key] = inventory.StockLevel{StockKey: key, OnHand: qty, AvgCost: decimal.RequireFromString(avgCost)}
	r.state.nextID++
	r.state.entries = append(r.state.entries, inventory.LedgerEntry{
		ID: r.state.nextID, StockKey: key, Type: inventory.EntryTypeReceipt, Quantity: qty, BalanceAfter: qty,
	})
}

func (r *memoryRepo) reserve(key inventory.StockKey, qty string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level := r.state.levels[key]
	level.Reserved = decimal.RequireFromString(qty)
	r.state.levels[key] = level
}

func (r *memoryRepo) level(key inventory.StockKey) inventory.StockLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.levels[key]
}

func (r *memoryRepo) entries() []inventory.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]inventory.LedgerEntry(nil), r.state.entries...)
}

func (r *memoryRepo) order(id int64) ProductionOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.orders[id]
}

type memoryTx struct {
	state        *memoryState
	failInsertAt int
	failUpdate   bool
	inserts      int
}

func (tx *memoryTx) next() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) InsertBOM(_ context.Context, bom BOM) (BOM, error) {
	for _, existing := range tx.state.boms {
		if existing.TenantID == bom.TenantID && existing.Code == bom.Code {
			return BOM{}, ErrDuplicateCode
		}
	}
	bom.ID = tx.next()
	components := make([]BOMComponent, len(bom.Components))
	for i, c := range bom.Components {
		c.ID = tx.next()
		c.BOMID = bom.ID
		components[i] = c
	}
	bom.Components = components
	tx.state.boms[bom.ID] = bom
	return bom, nil
}

func (tx *memoryTx) GetBOM(_ context.Context, tenantID, id int64) (BOM, error) {
	bom, ok := tx.state.boms[id]
	if !ok || bom.TenantID != tenantID {
		return BOM{}, ErrBOMNotFound
	}
	return bom, nil
}

func (tx *memoryTx) InsertOrder(_ context.Context, order ProductionOrder) (ProductionOrder, error) {
	for _, existing := range tx.state.orders {
		if existing.TenantID == order.TenantID && existing.Number == order.Number {
			return ProductionOrder{}, ErrDuplicateCode
		}
	}
	order.ID = tx.next()
	order.UpdatedAt = order.CreatedAt
	tx.state.orders[order.ID] = order
	return order, nil
}

func (tx *memoryTx) GetOrder(_ context.Context, tenantID, id int64, _ bool) (ProductionOrder, error) {
	order, ok := tx.state.orders[id]
	if !ok || order.TenantID != tenantID {
		return ProductionOrder{}, ErrOrderNotFound
	}
	return order, nil
}

func (tx *memoryTx) UpdateOrder(_ context.Context, order ProductionOrder) error {
	if tx.failUpdate {
		return errInjected
	}
	if _, ok := tx.state.orders[order.ID]; !ok {
		return ErrOrderNotFound
	}
	tx.state.orders[order.ID] = order
	return nil
}

func (tx *memoryTx) ListOrders(_ context.Context, filter OrderFilter) ([]ProductionOrder, error) {
	var out []ProductionOrder
	for id := tx.state.nextID; id > 0 && len(out) < filter.Limit; id-- {
		order, ok := tx.state.orders[id]
		if !ok || order.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

func (tx *memoryTx) Stock() inventory.TxRepository {
	return tx
}

func (tx *memoryTx) LockStockLevel(_ context.Context, key inventory.StockKey) (inventory.StockLevel, error) {
	level, ok := tx.state.levels[key]
	if !ok {
		level = inventory.StockLevel{StockKey: key}
		tx.state.levels[key] = level
	}
	return level, nil
}

func (tx *memoryTx) GetStockLevel(_ context.Context, key inventory.StockKey) (inventory.StockLevel, error) {
	if level, ok := tx.state.levels[key]; ok {
		return level, nil
	}
	return inventory.StockLevel{StockKey: key}, nil
}

func (tx *memoryTx) SaveStockLevel(_ context.Context, level inventory.StockLevel) error {
	tx.state.levels[level.StockKey] = level
	return nil
}

func (tx *memoryTx) InsertLedgerEntry(_ context.Context, entry inventory.LedgerEntry) (inventory.LedgerEntry, error) {
	tx.inserts++
	if tx.failInsertAt > 0 && tx.inserts == tx.failInsertAt {
		return inventory.LedgerEntry{}, errInjected
	}
	entry.ID = tx.next()
	tx.state.entries = append(tx.state.entries, entry)
	return entry, nil
}

func (tx *memoryTx) ListLedger(context.Context, inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	return append([]inventory.LedgerEntry(nil), tx.state.entries...), nil
}

func (tx *memoryTx) LedgerDrift(context.Context, int64) ([]inventory.Drift, error) {
	return nil, nil
}

var (
	_ TxRepository           = (*memoryTx)(nil)
	_ inventory.TxRepository = (*memoryTx)(nil)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

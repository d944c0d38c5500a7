package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memoryRepo is an in-memory RepositoryPort. Each WithTx call works on a copy
// of the state that is only swapped in when fn succeeds.
type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
	// failOn forces the named tx method to fail, to exercise rollback.
	failOn string
}

type memoryState struct {
	nextID    int64
	periods   map[int64]Period
	accounts  map[int64]Account
	entries   map[int64]JournalEntry
	sequences map[int64]int64
	links     map[string]int64
	mappings  map[string]AccountMapping
}

var errInjected = errors.New("injected failure")

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		periods:   map[int64]Period{},
		accounts:  map[int64]Account{},
		entries:   map[int64]JournalEntry{},
		sequences: map[int64]int64{},
		links:     map[string]int64{},
		mappings:  map[string]AccountMapping{},
	}}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		nextID:    s.nextID,
		periods:   make(map[int64]Period, len(s.periods)),
		accounts:  make(map[int64]Account, len(s.accounts)),
		entries:   make(map[int64]JournalEntry, len(s.entries)),
		sequences: make(map[int64]int64, len(s.sequences)),
		links:     make(map[string]int64, len(s.links)),
		mappings:  make(map[string]AccountMapping, len(s.mappings)),
	}
	for k, v := range s.periods {
		c.periods[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.entries {
		v.Lines = append([]JournalLine(nil), v.Lines...)
		c.entries[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.mappings {
		c.mappings[k] = v
	}
	return c
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: working, failOn: r.failOn}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) addPeriod(tenantID int64, code string, start, end time.Time, status PeriodStatus) Period {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.nextID++
	p := Period{ID: r.state.nextID, TenantID: tenantID, Code: code, StartDate: start, EndDate: end, Status: status}
	r.state.periods[p.ID] = p
	return p
}

func (r *memoryRepo) addAccount(tenantID int64, code string, typ AccountType, parentID *int64) Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.nextID++
	a := Account{ID: r.state.nextID, TenantID: tenantID, Code: code, Name: code, Type: typ, NormalBalance: typ.DefaultNormalBalance(), ParentID: parentID, IsActive: true}
	r.state.accounts[a.ID] = a
	return a
}

func (r *memoryRepo) entryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.entries)
}

func (r *memoryRepo) allEntries() []JournalEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JournalEntry, 0, len(r.state.entries))
	for _, e := range r.state.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryTx struct {
	state  *memoryState
	failOn string
}

func (tx *memoryTx) fail(method string) error {
	if tx.failOn == method {
		return errInjected
	}
	return nil
}

func (tx *memoryTx) id() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) GetPeriod(_ context.Context, tenantID, periodID int64) (Period, error) {
	p, ok := tx.state.periods[periodID]
	if !ok || p.TenantID != tenantID {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (tx *memoryTx) GetPeriodForPosting(ctx context.Context, tenantID, periodID int64) (Period, error) {
	return tx.GetPeriod(ctx, tenantID, periodID)
}

func (tx *memoryTx) GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (Period, error) {
	return tx.GetPeriod(ctx, tenantID, periodID)
}

func (tx *memoryTx) ListPeriods(_ context.Context, tenantID int64) ([]Period, error) {
	var out []Period
	for _, p := range tx.state.periods {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (tx *memoryTx) FindOpenPeriodByDate(_ context.Context, tenantID int64, date time.Time) (Period, error) {
	for _, p := range tx.state.periods {
		if p.TenantID == tenantID && p.Status == PeriodStatusOpen && p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, ErrPeriodNotFound
}

func (tx *memoryTx) HasOverlappingPeriod(_ context.Context, tenantID int64, start, end time.Time) (bool, error) {
	for _, p := range tx.state.periods {
		if p.TenantID == tenantID && !p.StartDate.After(end) && !p.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertPeriod(_ context.Context, period Period) (Period, error) {
	period.ID = tx.id()
	tx.state.periods[period.ID] = period
	return period, nil
}

func (tx *memoryTx) UpdatePeriodStatus(_ context.Context, tenantID, periodID int64, status PeriodStatus, actorID int64, at time.Time) error {
	p, ok := tx.state.periods[periodID]
	if !ok || p.TenantID != tenantID {
		return ErrPeriodNotFound
	}
	p.Status = status
	p.UpdatedAt = at
	tx.state.periods[periodID] = p
	return nil
}

func (tx *memoryTx) CountDraftEntries(_ context.Context, tenantID, periodID int64) (int, error) {
	count := 0
	for _, e := range tx.state.entries {
		if e.TenantID == tenantID && e.PeriodID == periodID && e.Status == JournalStatusDraft {
			count++
		}
	}
	return count, nil
}

func (tx *memoryTx) withLeaf(a Account) Account {
	a.IsLeaf = true
	for _, other := range tx.state.accounts {
		if other.ParentID != nil && *other.ParentID == a.ID {
			a.IsLeaf = false
			break
		}
	}
	return a
}

func (tx *memoryTx) GetAccount(_ context.Context, tenantID, accountID int64) (Account, error) {
	a, ok := tx.state.accounts[accountID]
	if !ok || a.TenantID != tenantID {
		return Account{}, ErrAccountNotFound
	}
	return tx.withLeaf(a), nil
}

func (tx *memoryTx) GetAccounts(_ context.Context, tenantID int64, ids []int64) (map[int64]Account, error) {
	out := make(map[int64]Account, len(ids))
	for _, id := range ids {
		if a, ok := tx.state.accounts[id]; ok && a.TenantID == tenantID {
			out[id] = tx.withLeaf(a)
		}
	}
	return out, nil
}

func (tx *memoryTx) ListAccounts(_ context.Context, tenantID int64) ([]Account, error) {
	var out []Account
	for _, a := range tx.state.accounts {
		if a.TenantID == tenantID {
			out = append(out, tx.withLeaf(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (tx *memoryTx) InsertAccount(_ context.Context, account Account) (Account, error) {
	for _, a := range tx.state.accounts {
		if a.TenantID == account.TenantID && a.Code == account.Code {
			return Account{}, ErrAccountCodeExists
		}
	}
	account.ID = tx.id()
	tx.state.accounts[account.ID] = account
	return account, nil
}

func (tx *memoryTx) SetAccountActive(_ context.Context, tenantID, accountID int64, active bool) error {
	a, ok := tx.state.accounts[accountID]
	if !ok || a.TenantID != tenantID {
		return ErrAccountNotFound
	}
	a.IsActive = active
	tx.state.accounts[accountID] = a
	return nil
}

func mappingKey(tenantID int64, module, key string) string {
	return fmt.Sprintf("%d|%s|%s", tenantID, module, key)
}

func (tx *memoryTx) UpsertAccountMapping(_ context.Context, mapping AccountMapping) error {
	tx.state.mappings[mappingKey(mapping.TenantID, mapping.Module, mapping.Key)] = mapping
	return nil
}

func (tx *memoryTx) GetAccountMapping(_ context.Context, tenantID int64, module, key string) (AccountMapping, error) {
	m, ok := tx.state.mappings[mappingKey(tenantID, module, key)]
	if !ok {
		return AccountMapping{}, ErrMappingNotFound
	}
	return m, nil
}

func (tx *memoryTx) NextEntryNumber(_ context.Context, tenantID int64) (int64, error) {
	tx.state.sequences[tenantID]++
	return tx.state.sequences[tenantID], nil
}

func (tx *memoryTx) InsertJournalEntry(_ context.Context, entry JournalEntry) (JournalEntry, error) {
	if err := tx.fail("InsertJournalEntry"); err != nil {
		return JournalEntry{}, err
	}
	entry.ID = tx.id()
	entry.Lines = nil
	tx.state.entries[entry.ID] = entry
	return entry, nil
}

func (tx *memoryTx) InsertJournalLines(_ context.Context, tenantID, entryID int64, lines []JournalLine) error {
	if err := tx.fail("InsertJournalLines"); err != nil {
		return err
	}
	e := tx.state.entries[entryID]
	for _, line := range lines {
		line.ID = tx.id()
		line.EntryID = entryID
		e.Lines = append(e.Lines, line)
	}
	tx.state.entries[entryID] = e
	return nil
}

func (tx *memoryTx) GetJournal(_ context.Context, tenantID, entryID int64) (JournalEntry, error) {
	e, ok := tx.state.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return JournalEntry{}, ErrJournalNotFound
	}
	e.Lines = append([]JournalLine(nil), e.Lines...)
	return e, nil
}

func (tx *memoryTx) GetJournalForUpdate(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	return tx.GetJournal(ctx, tenantID, entryID)
}

func (tx *memoryTx) ListJournalEntries(_ context.Context, filter EntryFilter) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range tx.state.entries {
		if e.TenantID != filter.TenantID {
			continue
		}
		if filter.PeriodID != 0 && e.PeriodID != filter.PeriodID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		e.Lines = nil
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (tx *memoryTx) MarkPosted(_ context.Context, tenantID, entryID int64, number string, actorID int64, at time.Time) error {
	e, ok := tx.state.entries[entryID]
	if !ok || e.TenantID != tenantID || e.Status != JournalStatusDraft {
		return ErrInvalidStatus
	}
	e.Status = JournalStatusPosted
	e.Number = number
	e.PostedBy = actorID
	e.PostedAt = &at
	tx.state.entries[entryID] = e
	return nil
}

func (tx *memoryTx) MarkReversed(_ context.Context, tenantID, originalID, reversalID int64) error {
	e, ok := tx.state.entries[originalID]
	if !ok || e.TenantID != tenantID || e.Status != JournalStatusPosted {
		return ErrInvalidStatus
	}
	e.Status = JournalStatusReversed
	e.ReversalEntryID = &reversalID
	tx.state.entries[originalID] = e
	return nil
}

func (tx *memoryTx) LinkSource(_ context.Context, tenantID int64, module, ref string, entryID int64) error {
	key := mappingKey(tenantID, module, ref)
	if _, exists := tx.state.links[key]; exists {
		return errSourceConflict
	}
	tx.state.links[key] = entryID
	return nil
}

func (tx *memoryTx) AccountTotals(_ context.Context, tenantID, periodID int64) ([]TrialBalanceLine, error) {
	totals := map[int64]*TrialBalanceLine{}
	for _, e := range tx.state.entries {
		if e.TenantID != tenantID || e.PeriodID != periodID || e.Status == JournalStatusDraft {
			continue
		}
		for _, line := range e.Lines {
			t, ok := totals[line.AccountID]
			if !ok {
				a := tx.state.accounts[line.AccountID]
				t = &TrialBalanceLine{AccountID: a.ID, AccountCode: a.Code, AccountName: a.Name, Type: a.Type, Debit: decimal.Zero, Credit: decimal.Zero}
				totals[line.AccountID] = t
			}
			t.Debit = t.Debit.Add(line.Debit)
			t.Credit = t.Credit.Add(line.Credit)
		}
	}
	out := make([]TrialBalanceLine, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountCode < out[j].AccountCode })
	return out, nil
}

var _ TxRepository = (*memoryTx)(nil)

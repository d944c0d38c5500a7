package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetPeriod(ctx context.Context, tenantID, periodID int64) (Period, error)
	GetPeriodForPosting(ctx context.Context, tenantID, periodID int64) (Period, error)
	GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (Period, error)
	ListPeriods(ctx context.Context, tenantID int64) ([]Period, error)
	FindOpenPeriodByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error)
	HasOverlappingPeriod(ctx context.Context, tenantID int64, start, end time.Time) (bool, error)
	InsertPeriod(ctx context.Context, period Period) (Period, error)
	UpdatePeriodStatus(ctx context.Context, tenantID, periodID int64, status PeriodStatus, actorID int64, at time.Time) error
	CountDraftEntries(ctx context.Context, tenantID, periodID int64) (int, error)

	GetAccount(ctx context.Context, tenantID, accountID int64) (Account, error)
	GetAccounts(ctx context.Context, tenantID int64, ids []int64) (map[int64]Account, error)
	ListAccounts(ctx context.Context, tenantID int64) ([]Account, error)
	InsertAccount(ctx context.Context, account Account) (Account, error)
	SetAccountActive(ctx context.Context, tenantID, accountID int64, active bool) error
	UpsertAccountMapping(ctx context.Context, mapping AccountMapping) error
	GetAccountMapping(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error)

	NextEntryNumber(ctx context.Context, tenantID int64) (int64, error)
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, tenantID, entryID int64, lines []JournalLine) error
	GetJournal(ctx context.Context, tenantID, entryID int64) (JournalEntry, error)
	GetJournalForUpdate(ctx context.Context, tenantID, entryID int64) (JournalEntry, error)
	ListJournalEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)
	MarkPosted(ctx context.Context, tenantID, entryID int64, number string, actorID int64, at time.Time) error
	MarkReversed(ctx context.Context, tenantID, originalID, reversalID int64) error
	LinkSource(ctx context.Context, tenantID int64, module, ref string, entryID int64) error

	AccountTotals(ctx context.Context, tenantID, periodID int64) ([]TrialBalanceLine, error)
}

type txRepository struct {
	tx pgx.Tx
}

// errSourceConflict indicates the source link already exists.
var errSourceConflict = errors.New("accounting: source link conflict")

// WithTx executes fn within a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// FindUnbalancedEntries lists posted or reversed entries whose lines do not balance.
func (r *Repository) FindUnbalancedEntries(ctx context.Context) ([]UnbalancedEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.tenant_id, e.id, COALESCE(e.entry_number, ''), COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_entries e
LEFT JOIN journal_lines l ON l.entry_id = e.id
WHERE e.status IN ('POSTED','REVERSED')
GROUP BY e.tenant_id, e.id, e.entry_number
HAVING COALESCE(SUM(l.debit), 0) <> COALESCE(SUM(l.credit), 0) OR COUNT(l.id) < 2
ORDER BY e.tenant_id, e.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedEntry
	for rows.Next() {
		var u UnbalancedEntry
		if err := rows.Scan(&u.TenantID, &u.EntryID, &u.Number, &u.Debit, &u.Credit); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const periodColumns = `id, tenant_id, code, start_date, end_date, status, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.TenantID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) GetPeriod(ctx context.Context, tenantID, periodID int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 AND id=$2`, tenantID, periodID))
}

// GetPeriodForPosting takes a shared lock so concurrent postings proceed while
// a status change waits for them to finish.
func (r *txRepository) GetPeriodForPosting(ctx context.Context, tenantID, periodID int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 AND id=$2 FOR SHARE`, tenantID, periodID))
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, periodID))
}

func (r *txRepository) ListPeriods(ctx context.Context, tenantID int64) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 ORDER BY start_date`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *txRepository) FindOpenPeriodByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+`
FROM fiscal_periods WHERE tenant_id=$1 AND status='OPEN' AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, tenantID, date))
}

func (r *txRepository) HasOverlappingPeriod(ctx context.Context, tenantID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fiscal_periods WHERE tenant_id=$1 AND start_date <= $3 AND end_date >= $2)`, tenantID, start, end).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertPeriod(ctx context.Context, period Period) (Period, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO fiscal_periods (tenant_id, code, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`, period.TenantID, period.Code, period.StartDate, period.EndDate, period.Status).
		Scan(&period.ID, &period.CreatedAt, &period.UpdatedAt)
	if err != nil {
		if shared.IsExclusionViolation(err) {
			return Period{}, ErrPeriodOverlap
		}
		if shared.IsUniqueViolation(err) {
			return Period{}, fmt.Errorf("%w: code %s already used", ErrInvalidPeriodWindow, period.Code)
		}
		return Period{}, err
	}
	return period, nil
}

func (r *txRepository) UpdatePeriodStatus(ctx context.Context, tenantID, periodID int64, status PeriodStatus, actorID int64, at time.Time) error {
	var closedAt any
	var closedBy any
	if status == PeriodStatusClosed || status == PeriodStatusLocked {
		closedAt = at
		closedBy = nullInt(actorID)
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_periods SET status=$3, closed_at=$4, closed_by=$5, updated_at=$6 WHERE tenant_id=$1 AND id=$2`,
		tenantID, periodID, status, closedAt, closedBy, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) CountDraftEntries(ctx context.Context, tenantID, periodID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE tenant_id=$1 AND fiscal_period_id=$2 AND status='DRAFT'`, tenantID, periodID).Scan(&count)
	return count, err
}

const accountColumns = `a.id, a.tenant_id, a.code, a.name, a.type, a.normal_balance, a.parent_id, a.is_active,
NOT EXISTS (SELECT 1 FROM accounts c WHERE c.parent_id = a.id) AS is_leaf, a.created_at, a.updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.ParentID, &a.IsActive, &a.IsLeaf, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetAccount(ctx context.Context, tenantID, accountID int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.tenant_id=$1 AND a.id=$2`, tenantID, accountID))
}

func (r *txRepository) GetAccounts(ctx context.Context, tenantID int64, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.tenant_id=$1 AND a.id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) ListAccounts(ctx context.Context, tenantID int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.tenant_id=$1 ORDER BY a.code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, account Account) (Account, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO accounts (tenant_id, code, name, type, normal_balance, parent_id, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		account.TenantID, account.Code, account.Name, account.Type, account.NormalBalance, account.ParentID, account.IsActive).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountCodeExists, account.Code)
		}
		return Account{}, err
	}
	return account, nil
}

func (r *txRepository) SetAccountActive(ctx context.Context, tenantID, accountID int64, active bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET is_active=$3, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`, tenantID, accountID, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) UpsertAccountMapping(ctx context.Context, mapping AccountMapping) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO account_mappings (tenant_id, module, key, account_id)
VALUES ($1,$2,$3,$4)
ON CONFLICT (tenant_id, module, key) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()`,
		mapping.TenantID, mapping.Module, mapping.Key, mapping.AccountID)
	return err
}

func (r *txRepository) GetAccountMapping(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error) {
	var mapping AccountMapping
	err := r.tx.QueryRow(ctx, `SELECT tenant_id, module, key, account_id, created_at, updated_at FROM account_mappings WHERE tenant_id=$1 AND module=$2 AND key=$3`, tenantID, module, key).
		Scan(&mapping.TenantID, &mapping.Module, &mapping.Key, &mapping.AccountID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, fmt.Errorf("%w: %s/%s", ErrMappingNotFound, module, key)
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

// NextEntryNumber increments the tenant's journal sequence. The upsert holds
// the sequence row lock until commit, so numbers are gap-free per tenant.
func (r *txRepository) NextEntryNumber(ctx context.Context, tenantID int64) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_sequences (tenant_id, last_number) VALUES ($1, 1)
ON CONFLICT (tenant_id) DO UPDATE SET last_number = journal_sequences.last_number + 1
RETURNING last_number`, tenantID).Scan(&seq)
	return seq, err
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (tenant_id, fiscal_period_id, entry_number, entry_date, status, memo, source_module, source_ref, created_by, posted_by, posted_at, reverses_entry_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id, created_at, updated_at`,
		entry.TenantID, entry.PeriodID, nullString(entry.Number), entry.Date, entry.Status, entry.Memo, entry.SourceModule, entry.SourceRef,
		nullInt(entry.CreatedBy), nullInt(entry.PostedBy), entry.PostedAt, entry.ReversesEntryID).
		Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, tenantID, entryID int64, lines []JournalLine) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO journal_lines (entry_id, tenant_id, account_id, debit, credit, amount, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, entryID, tenantID, line.AccountID, line.Debit, line.Credit, line.Amount, line.Memo)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

const entryColumns = `id, tenant_id, fiscal_period_id, COALESCE(entry_number, ''), entry_date, status, memo, source_module, source_ref,
created_by, posted_by, posted_at, reversal_entry_id, reverses_entry_id, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var createdBy, postedBy *int64
	err := row.Scan(&e.ID, &e.TenantID, &e.PeriodID, &e.Number, &e.Date, &e.Status, &e.Memo, &e.SourceModule, &e.SourceRef,
		&createdBy, &postedBy, &e.PostedAt, &e.ReversalEntryID, &e.ReversesEntryID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	if createdBy != nil {
		e.CreatedBy = *createdBy
	}
	if postedBy != nil {
		e.PostedBy = *postedBy
	}
	return e, nil
}

func (r *txRepository) loadLines(ctx context.Context, entry *JournalEntry) error {
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, amount, memo, created_at
FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entry.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.Amount, &line.Memo, &line.CreatedAt); err != nil {
			return err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return rows.Err()
}

func (r *txRepository) GetJournal(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, entryID))
	if err != nil {
		return JournalEntry{}, err
	}
	if err := r.loadLines(ctx, &entry); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetJournalForUpdate(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, entryID))
	if err != nil {
		return JournalEntry{}, err
	}
	if err := r.loadLines(ctx, &entry); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) ListJournalEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE tenant_id=$1 AND ($2 = 0 OR fiscal_period_id=$2) AND ($3 = '' OR status=$3)
ORDER BY entry_date DESC, id DESC LIMIT $4`, filter.TenantID, filter.PeriodID, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) MarkPosted(ctx context.Context, tenantID, entryID int64, number string, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='POSTED', entry_number=$3, posted_by=$4, posted_at=$5, updated_at=$5
WHERE tenant_id=$1 AND id=$2 AND status='DRAFT'`, tenantID, entryID, number, nullInt(actorID), at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) MarkReversed(ctx context.Context, tenantID, originalID, reversalID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='REVERSED', reversal_entry_id=$3, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND status='POSTED'`, tenantID, originalID, reversalID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, tenantID int64, module, ref string, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (tenant_id, module, ref, entry_id) VALUES ($1,$2,$3,$4)`, tenantID, module, ref, entryID)
	if err != nil {
		if shared.IsUniqueViolation(err) && shared.ConstraintName(err) == "uq_source_links" {
			return errSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) AccountTotals(ctx context.Context, tenantID, periodID int64) ([]TrialBalanceLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.id, a.code, a.name, a.type, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.tenant_id=$1 AND e.fiscal_period_id=$2 AND e.status IN ('POSTED','REVERSED')
GROUP BY a.id, a.code, a.name, a.type
ORDER BY a.code`, tenantID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []TrialBalanceLine
	for rows.Next() {
		var line TrialBalanceLine
		if err := rows.Scan(&line.AccountID, &line.AccountCode, &line.AccountName, &line.Type, &line.Debit, &line.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

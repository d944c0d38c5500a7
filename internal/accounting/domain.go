package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// NormalBalance is the side on which an account increases.
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "DEBIT"
	NormalBalanceCredit NormalBalance = "CREDIT"
)

// DefaultNormalBalance returns the conventional side for the account type.
func (t AccountType) DefaultNormalBalance() NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusDraft  PeriodStatus = "DRAFT"
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft    JournalStatus = "DRAFT"
	JournalStatusPosted   JournalStatus = "POSTED"
	JournalStatusReversed JournalStatus = "REVERSED"
)

// Account models a chart of accounts node.
type Account struct {
	ID            int64
	TenantID      int64
	Code          string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	ParentID      *int64
	IsActive      bool
	// IsLeaf is derived: true when no account references this one as parent.
	IsLeaf    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsParent reports whether the account has children.
func (a Account) IsParent() bool { return !a.IsLeaf }

// Period represents a fiscal period window.
type Period struct {
	ID        int64
	TenantID  int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
	ClosedAt  *time.Time
	ClosedBy  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether date falls inside the inclusive window.
func (p Period) Contains(date time.Time) bool {
	d := dateOnly(date)
	return !d.Before(dateOnly(p.StartDate)) && !d.After(dateOnly(p.EndDate))
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID              int64
	TenantID        int64
	PeriodID        int64
	Number          string
	Date            time.Time
	Status          JournalStatus
	Memo            string
	SourceModule    string
	SourceRef       string
	CreatedBy       int64
	PostedBy        int64
	PostedAt        *time.Time
	ReversalEntryID *int64
	ReversesEntryID *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []JournalLine
}

// Totals sums both sides of the entry's lines.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	for _, line := range e.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Amount    decimal.Decimal
	Memo      string
	CreatedAt time.Time
}

// AccountMapping links integration keys to ledger accounts.
type AccountMapping struct {
	TenantID  int64
	Module    string
	Key       string
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// PostingInput groups fields required to create and post a journal entry.
type PostingInput struct {
	TenantID     int64
	PeriodID     int64
	Date         time.Time
	SourceModule string
	SourceRef    string
	Memo         string
	PostedBy     int64
	Lines        []PostingLineInput
}

// DraftInput opens a journal entry that accepts appended lines until posted.
type DraftInput struct {
	TenantID     int64
	PeriodID     int64
	Date         time.Time
	SourceModule string
	SourceRef    string
	Memo         string
	CreatedBy    int64
	Lines        []PostingLineInput
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	TenantID int64
	EntryID  int64
	ActorID  int64
	Memo     string
	// TargetPeriodID is required when the original period is no longer OPEN.
	TargetPeriodID int64
	// TargetDate defaults to the original entry date or the target period start.
	TargetDate *time.Time
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	TenantID int64
	PeriodID int64
	Status   JournalStatus
	Limit    int
}

// AccountInput describes a new chart of accounts node.
type AccountInput struct {
	TenantID      int64
	Code          string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	ParentID      *int64
}

// PeriodInput describes a new fiscal period.
type PeriodInput struct {
	TenantID  int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
}

// TrialBalanceLine aggregates posted activity for one account.
type TrialBalanceLine struct {
	AccountID   int64
	AccountCode string
	AccountName string
	Type        AccountType
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// Balance returns the net balance on the account's normal side.
func (l TrialBalanceLine) Balance() decimal.Decimal {
	if l.Type.DefaultNormalBalance() == NormalBalanceDebit {
		return l.Debit.Sub(l.Credit)
	}
	return l.Credit.Sub(l.Debit)
}

// TrialBalance is the per-account summary for a period.
type TrialBalance struct {
	TenantID    int64
	PeriodID    int64
	Lines       []TrialBalanceLine
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// Balanced reports whether both grand totals agree.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit)
}

// UnbalancedEntry is reported by integrity scans.
type UnbalancedEntry struct {
	TenantID int64
	EntryID  int64
	Number   string
	Debit    decimal.Decimal
	Credit   decimal.Decimal
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrInvalidLine indicates a malformed journal line.
	ErrInvalidLine = errors.New("accounting: invalid journal line")
	// ErrPeriodClosed indicates the fiscal period is not OPEN.
	ErrPeriodClosed = errors.New("accounting: period is not open")
	// ErrPeriodNotFound indicates a missing period.
	ErrPeriodNotFound = errors.New("accounting: period not found")
	// ErrPeriodOverlap indicates the window intersects another period.
	ErrPeriodOverlap = errors.New("accounting: period overlaps an existing period")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrDateOutOfRange indicates journal date mismatch.
	ErrDateOutOfRange = errors.New("accounting: date outside period")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = errors.New("accounting: account mapping not found")
	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrAccountNotPostable indicates a parent or inactive account.
	ErrAccountNotPostable = errors.New("accounting: account does not accept postings")
	// ErrAccountCodeExists indicates a duplicate code within the tenant.
	ErrAccountCodeExists = errors.New("accounting: account code already exists")
	// ErrInvalidAccount indicates invalid account attributes.
	ErrInvalidAccount = errors.New("accounting: invalid account")
	// ErrInvalidInput indicates missing or malformed request fields.
	ErrInvalidInput = errors.New("accounting: invalid input")
	// ErrInvalidPeriodWindow indicates a malformed period.
	ErrInvalidPeriodWindow = errors.New("accounting: invalid period window")
)

// ValidateLines ensures posting lines meet minimum criteria and balance exactly.
func ValidateLines(lines []PostingLineInput) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	if err := validateLineShapes(lines); err != nil {
		return err
	}
	return checkBalance(lines)
}

func validateLineShapes(lines []PostingLineInput) error {
	for idx, line := range lines {
		if line.AccountID == 0 {
			return fmt.Errorf("%w: line %d missing account", ErrInvalidLine, idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d negative amount", ErrInvalidLine, idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d must carry exactly one of debit or credit", ErrInvalidLine, idx)
		}
		if !line.Debit.Equal(line.Debit.Round(2)) || !line.Credit.Equal(line.Credit.Round(2)) {
			return fmt.Errorf("%w: line %d has more than two decimal places", ErrInvalidLine, idx)
		}
	}
	return nil
}

func checkBalance(lines []PostingLineInput) error {
	var debit, credit decimal.Decimal
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return &UnbalancedEntryError{Debit: debit, Credit: credit}
	}
	return nil
}

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if in.TenantID == 0 {
		return fmt.Errorf("%w: tenant required", ErrInvalidInput)
	}
	if in.PeriodID == 0 {
		return fmt.Errorf("%w: period required", ErrInvalidInput)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: entry date required", ErrInvalidInput)
	}
	if (in.SourceModule == "") != (in.SourceRef == "") {
		return fmt.Errorf("%w: source module and ref must be provided together", ErrInvalidInput)
	}
	return ValidateLines(in.Lines)
}

// Validate checks the draft header. Lines may be appended later.
func (in DraftInput) Validate() error {
	if in.TenantID == 0 {
		return fmt.Errorf("%w: tenant required", ErrInvalidInput)
	}
	if in.PeriodID == 0 {
		return fmt.Errorf("%w: period required", ErrInvalidInput)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: entry date required", ErrInvalidInput)
	}
	if (in.SourceModule == "") != (in.SourceRef == "") {
		return fmt.Errorf("%w: source module and ref must be provided together", ErrInvalidInput)
	}
	return validateLineShapes(in.Lines)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func toJournalLines(entryID int64, lines []PostingLineInput, ts time.Time) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		amount := line.Debit
		if line.Credit.IsPositive() {
			amount = line.Credit
		}
		out = append(out, JournalLine{
			EntryID:   entryID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Amount:    amount,
			Memo:      line.Memo,
			CreatedAt: ts,
		})
	}
	return out
}

func toPostingLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit, Memo: line.Memo})
	}
	return out
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Memo:      line.Memo,
		})
	}
	return out
}

func formatEntryNumber(seq int64) string {
	return fmt.Sprintf("JE-%06d", seq)
}

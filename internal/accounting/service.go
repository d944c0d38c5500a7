package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates drafting, posting, and reversing journal entries.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	guard PeriodGuard
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostJournal validates and persists a new journal entry in POSTED status.
// Nothing is written unless every check passes.
func (s *Service) PostJournal(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForPosting(ctx, input.TenantID, input.PeriodID)
		if err != nil {
			return err
		}
		if err := s.guard.EnsureOpen(period, input.Date); err != nil {
			return err
		}
		if err := ensurePostable(ctx, tx, input.TenantID, input.Lines); err != nil {
			return err
		}
		now := s.now()
		seq, err := tx.NextEntryNumber(ctx, input.TenantID)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertJournalEntry(ctx, JournalEntry{
			TenantID:     input.TenantID,
			PeriodID:     input.PeriodID,
			Number:       formatEntryNumber(seq),
			Date:         dateOnly(input.Date),
			Status:       JournalStatusPosted,
			Memo:         input.Memo,
			SourceModule: input.SourceModule,
			SourceRef:    input.SourceRef,
			CreatedBy:    input.PostedBy,
			PostedBy:     input.PostedBy,
			PostedAt:     &now,
		})
		if err != nil {
			return err
		}
		lines := toJournalLines(inserted.ID, input.Lines, now)
		if err := tx.InsertJournalLines(ctx, input.TenantID, inserted.ID, lines); err != nil {
			return err
		}
		if err := linkSource(ctx, tx, inserted); err != nil {
			return err
		}
		inserted.Lines = lines
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: entry.TenantID,
		ActorID:  input.PostedBy,
		Action:   "journal.post",
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta: map[string]any{
			"number":        entry.Number,
			"source_module": input.SourceModule,
			"source_ref":    input.SourceRef,
		},
	})
	return entry, nil
}

// CreateDraft opens a DRAFT entry. Lines may be supplied now or appended later.
func (s *Service) CreateDraft(ctx context.Context, input DraftInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForPosting(ctx, input.TenantID, input.PeriodID)
		if err != nil {
			return err
		}
		if !period.Contains(input.Date) {
			return fmt.Errorf("%w: %s", ErrDateOutOfRange, input.Date.Format(time.DateOnly))
		}
		if len(input.Lines) > 0 {
			if err := ensurePostable(ctx, tx, input.TenantID, input.Lines); err != nil {
				return err
			}
		}
		now := s.now()
		inserted, err := tx.InsertJournalEntry(ctx, JournalEntry{
			TenantID:     input.TenantID,
			PeriodID:     input.PeriodID,
			Date:         dateOnly(input.Date),
			Status:       JournalStatusDraft,
			Memo:         input.Memo,
			SourceModule: input.SourceModule,
			SourceRef:    input.SourceRef,
			CreatedBy:    input.CreatedBy,
		})
		if err != nil {
			return err
		}
		lines := toJournalLines(inserted.ID, input.Lines, now)
		if len(lines) > 0 {
			if err := tx.InsertJournalLines(ctx, input.TenantID, inserted.ID, lines); err != nil {
				return err
			}
		}
		inserted.Lines = lines
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: entry.TenantID,
		ActorID:  input.CreatedBy,
		Action:   "journal.draft",
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
	})
	return entry, nil
}

// AppendLines adds lines to a DRAFT entry. Posted entries are immutable.
func (s *Service) AppendLines(ctx context.Context, tenantID, entryID int64, lines []PostingLineInput) (JournalEntry, error) {
	if len(lines) == 0 {
		return JournalEntry{}, fmt.Errorf("%w: no lines supplied", ErrInvalidLine)
	}
	if err := validateLineShapes(lines); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalForUpdate(ctx, tenantID, entryID)
		if err != nil {
			return err
		}
		if current.Status != JournalStatusDraft {
			return fmt.Errorf("%w: entry %d is %s", ErrInvalidStatus, current.ID, current.Status)
		}
		if err := ensurePostable(ctx, tx, tenantID, lines); err != nil {
			return err
		}
		appended := toJournalLines(current.ID, lines, s.now())
		if err := tx.InsertJournalLines(ctx, tenantID, current.ID, appended); err != nil {
			return err
		}
		current.Lines = append(current.Lines, appended...)
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// PostEntry re-validates a DRAFT entry's full line set and marks it POSTED.
func (s *Service) PostEntry(ctx context.Context, tenantID, entryID, actorID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalForUpdate(ctx, tenantID, entryID)
		if err != nil {
			return err
		}
		if current.Status != JournalStatusDraft {
			return fmt.Errorf("%w: entry %d is %s", ErrInvalidStatus, current.ID, current.Status)
		}
		lines := toPostingLines(current.Lines)
		if err := ValidateLines(lines); err != nil {
			return err
		}
		period, err := tx.GetPeriodForPosting(ctx, tenantID, current.PeriodID)
		if err != nil {
			return err
		}
		if err := s.guard.EnsureOpen(period, current.Date); err != nil {
			return err
		}
		if err := ensurePostable(ctx, tx, tenantID, lines); err != nil {
			return err
		}
		seq, err := tx.NextEntryNumber(ctx, tenantID)
		if err != nil {
			return err
		}
		now := s.now()
		number := formatEntryNumber(seq)
		if err := tx.MarkPosted(ctx, tenantID, current.ID, number, actorID, now); err != nil {
			return err
		}
		current.Number = number
		current.Status = JournalStatusPosted
		current.PostedBy = actorID
		current.PostedAt = &now
		if err := linkSource(ctx, tx, current); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   "journal.post",
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta:     map[string]any{"number": entry.Number},
	})
	return entry, nil
}

// ReverseEntry posts a mirror entry with debit and credit swapped and flips
// the original to REVERSED.
func (s *Service) ReverseEntry(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.TenantID == 0 || input.EntryID == 0 {
		return JournalEntry{}, fmt.Errorf("%w: tenant and entry id required", ErrInvalidInput)
	}
	var reversal JournalEntry
	var original JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		original, err = tx.GetJournalForUpdate(ctx, input.TenantID, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != JournalStatusPosted {
			return fmt.Errorf("%w: entry %d is %s", ErrInvalidStatus, original.ID, original.Status)
		}
		target, err := tx.GetPeriodForPosting(ctx, input.TenantID, original.PeriodID)
		if err != nil {
			return err
		}
		targetDate := original.Date
		if input.TargetPeriodID != 0 && input.TargetPeriodID != original.PeriodID {
			target, err = tx.GetPeriodForPosting(ctx, input.TenantID, input.TargetPeriodID)
			if err != nil {
				return err
			}
			targetDate = target.StartDate
		}
		if input.TargetDate != nil {
			targetDate = *input.TargetDate
		}
		if err := s.guard.EnsureOpen(target, targetDate); err != nil {
			return err
		}
		seq, err := tx.NextEntryNumber(ctx, input.TenantID)
		if err != nil {
			return err
		}
		now := s.now()
		originalID := original.ID
		inserted, err := tx.InsertJournalEntry(ctx, JournalEntry{
			TenantID:        input.TenantID,
			PeriodID:        target.ID,
			Number:          formatEntryNumber(seq),
			Date:            dateOnly(targetDate),
			Status:          JournalStatusPosted,
			Memo:            defaultReversalMemo(input.Memo, original.Number),
			CreatedBy:       input.ActorID,
			PostedBy:        input.ActorID,
			PostedAt:        &now,
			ReversesEntryID: &originalID,
		})
		if err != nil {
			return err
		}
		lines := toJournalLines(inserted.ID, reverseLines(original.Lines), now)
		if err := tx.InsertJournalLines(ctx, input.TenantID, inserted.ID, lines); err != nil {
			return err
		}
		if err := tx.MarkReversed(ctx, input.TenantID, original.ID, inserted.ID); err != nil {
			return err
		}
		inserted.Lines = lines
		reversal = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: input.TenantID,
		ActorID:  input.ActorID,
		Action:   "journal.reverse",
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", input.EntryID),
		Meta: map[string]any{
			"reversal_id":     reversal.ID,
			"reversal_number": reversal.Number,
		},
	})
	return reversal, nil
}

// GetEntry loads an entry with its lines.
func (s *Service) GetEntry(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetJournal(ctx, tenantID, entryID)
		return err
	})
	return entry, err
}

// ListEntries retrieves journal headers matching the filter, newest first.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	if filter.TenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	var entries []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListJournalEntries(ctx, filter)
		return err
	})
	return entries, err
}

// TrialBalance sums posted activity per account for the period.
func (s *Service) TrialBalance(ctx context.Context, tenantID, periodID int64) (TrialBalance, error) {
	tb := TrialBalance{TenantID: tenantID, PeriodID: periodID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetPeriod(ctx, tenantID, periodID); err != nil {
			return err
		}
		lines, err := tx.AccountTotals(ctx, tenantID, periodID)
		if err != nil {
			return err
		}
		tb.Lines = lines
		return nil
	})
	if err != nil {
		return TrialBalance{}, err
	}
	for _, line := range tb.Lines {
		tb.TotalDebit = tb.TotalDebit.Add(line.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(line.Credit)
	}
	return tb, nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	log.At = s.now()
	_ = s.audit.Record(ctx, log)
}

func ensurePostable(ctx context.Context, tx TxRepository, tenantID int64, lines []PostingLineInput) error {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		ids = append(ids, line.AccountID)
	}
	accounts, err := tx.GetAccounts(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		account, ok := accounts[id]
		if !ok {
			return fmt.Errorf("%w: %d", ErrAccountNotFound, id)
		}
		if !account.IsActive || !account.IsLeaf {
			return fmt.Errorf("%w: %s", ErrAccountNotPostable, account.Code)
		}
	}
	return nil
}

func linkSource(ctx context.Context, tx TxRepository, entry JournalEntry) error {
	if entry.SourceModule == "" {
		return nil
	}
	if err := tx.LinkSource(ctx, entry.TenantID, entry.SourceModule, entry.SourceRef, entry.ID); err != nil {
		if errors.Is(err, errSourceConflict) {
			return fmt.Errorf("%w: %s/%s", ErrSourceAlreadyLinked, entry.SourceModule, entry.SourceRef)
		}
		return err
	}
	return nil
}

func defaultReversalMemo(memo, number string) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of %s", number)
}

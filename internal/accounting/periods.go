package accounting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PeriodService manages the fiscal period lifecycle.
type PeriodService struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewPeriodService constructs PeriodService.
func NewPeriodService(repo RepositoryPort, audit AuditPort) *PeriodService {
	return &PeriodService{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *PeriodService) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePeriod registers a DRAFT period that must not overlap another period of the tenant.
func (s *PeriodService) CreatePeriod(ctx context.Context, input PeriodInput) (Period, error) {
	input.Code = strings.TrimSpace(input.Code)
	if input.TenantID == 0 {
		return Period{}, shared.ErrTenantRequired
	}
	if input.Code == "" || input.StartDate.IsZero() || input.EndDate.IsZero() {
		return Period{}, fmt.Errorf("%w: code, start and end required", ErrInvalidPeriodWindow)
	}
	start, end := dateOnly(input.StartDate), dateOnly(input.EndDate)
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: end before start", ErrInvalidPeriodWindow)
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		overlap, err := tx.HasOverlappingPeriod(ctx, input.TenantID, start, end)
		if err != nil {
			return err
		}
		if overlap {
			return ErrPeriodOverlap
		}
		period, err = tx.InsertPeriod(ctx, Period{
			TenantID:  input.TenantID,
			Code:      input.Code,
			StartDate: start,
			EndDate:   end,
			Status:    PeriodStatusDraft,
		})
		return err
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// ListPeriods returns the tenant's periods ordered by start date.
func (s *PeriodService) ListPeriods(ctx context.Context, tenantID int64) ([]Period, error) {
	var periods []Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		periods, err = tx.ListPeriods(ctx, tenantID)
		return err
	})
	return periods, err
}

// FindOpenPeriodByDate returns the OPEN period covering date.
func (s *PeriodService) FindOpenPeriodByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.FindOpenPeriodByDate(ctx, tenantID, dateOnly(date))
		return err
	})
	return period, err
}

// OpenPeriod moves a DRAFT period to OPEN.
func (s *PeriodService) OpenPeriod(ctx context.Context, tenantID, periodID, actorID int64) (Period, error) {
	return s.transition(ctx, tenantID, periodID, actorID, PeriodStatusOpen, PeriodStatusDraft)
}

// ClosePeriod moves an OPEN period to CLOSED.
func (s *PeriodService) ClosePeriod(ctx context.Context, tenantID, periodID, actorID int64) (Period, error) {
	return s.transition(ctx, tenantID, periodID, actorID, PeriodStatusClosed, PeriodStatusOpen)
}

// ReopenPeriod moves a CLOSED period back to OPEN.
func (s *PeriodService) ReopenPeriod(ctx context.Context, tenantID, periodID, actorID int64) (Period, error) {
	return s.transition(ctx, tenantID, periodID, actorID, PeriodStatusOpen, PeriodStatusClosed)
}

// LockPeriod freezes an OPEN or CLOSED period permanently.
func (s *PeriodService) LockPeriod(ctx context.Context, tenantID, periodID, actorID int64) (Period, error) {
	return s.transition(ctx, tenantID, periodID, actorID, PeriodStatusLocked, PeriodStatusOpen, PeriodStatusClosed)
}

func (s *PeriodService) transition(ctx context.Context, tenantID, periodID, actorID int64, target PeriodStatus, from ...PeriodStatus) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPeriodForUpdate(ctx, tenantID, periodID)
		if err != nil {
			return err
		}
		if !statusIn(current.Status, from) {
			return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidPeriodTransition, current.Status, target)
		}
		if err := shared.ValidatePeriodTransition(string(current.Status), string(target)); err != nil {
			return err
		}
		if target == PeriodStatusClosed {
			drafts, err := tx.CountDraftEntries(ctx, tenantID, periodID)
			if err != nil {
				return err
			}
			if drafts > 0 {
				return fmt.Errorf("%w: %d draft entries remain in %s", ErrInvalidStatus, drafts, current.Code)
			}
		}
		now := s.now()
		if err := tx.UpdatePeriodStatus(ctx, tenantID, periodID, target, actorID, now); err != nil {
			return err
		}
		current.Status = target
		current.UpdatedAt = now
		if target == PeriodStatusClosed || target == PeriodStatusLocked {
			current.ClosedAt = &now
			current.ClosedBy = &actorID
		}
		period = current
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "period." + strings.ToLower(string(target)),
			Entity:   "fiscal_period",
			EntityID: fmt.Sprintf("%d", periodID),
			At:       s.now(),
		})
	}
	return period, nil
}

func statusIn(status PeriodStatus, allowed []PeriodStatus) bool {
	for _, candidate := range allowed {
		if candidate == status {
			return true
		}
	}
	return false
}


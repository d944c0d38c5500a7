package accounting

import (
	"fmt"
	"time"
)

// PeriodGuard rejects postings dated inside a period that is not OPEN.
type PeriodGuard struct{}

// EnsureOpen returns *PeriodClosedError unless the period is OPEN, and
// ErrDateOutOfRange when date falls outside the period window.
func (PeriodGuard) EnsureOpen(period Period, date time.Time) error {
	if period.Status != PeriodStatusOpen {
		return &PeriodClosedError{PeriodID: period.ID, Code: period.Code, Status: period.Status}
	}
	if !period.Contains(date) {
		return fmt.Errorf("%w: %s not within %s..%s", ErrDateOutOfRange,
			date.Format(time.DateOnly), period.StartDate.Format(time.DateOnly), period.EndDate.Format(time.DateOnly))
	}
	return nil
}

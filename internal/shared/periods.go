package shared

import "errors"

// Period statuses shared by the ledger and the jobs that scan it.
const (
	PeriodStatusDraft  = "DRAFT"
	PeriodStatusOpen   = "OPEN"
	PeriodStatusClosed = "CLOSED"
	PeriodStatusLocked = "LOCKED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// periodTransitions lists the reachable targets per status. LOCKED has none.
var periodTransitions = map[string][]string{
	PeriodStatusDraft:  {PeriodStatusOpen},
	PeriodStatusOpen:   {PeriodStatusClosed, PeriodStatusLocked},
	PeriodStatusClosed: {PeriodStatusOpen, PeriodStatusLocked},
}

// ValidatePeriodTransition reports whether a period may move from current to target.
func ValidatePeriodTransition(current, target string) error {
	for _, next := range periodTransitions[current] {
		if next == target {
			return nil
		}
	}
	return ErrInvalidPeriodTransition
}

package accounting

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// UnbalancedEntryError reports the diverging totals of a journal entry.
type UnbalancedEntryError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("accounting: journal lines must balance (debit %s, credit %s)", e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

// Is matches ErrUnbalanced.
func (e *UnbalancedEntryError) Is(target error) bool {
	return target == ErrUnbalanced
}

// PeriodClosedError reports a posting attempt against a non-OPEN period.
type PeriodClosedError struct {
	PeriodID int64
	Code     string
	Status   PeriodStatus
}

func (e *PeriodClosedError) Error() string {
	return fmt.Sprintf("accounting: period %s is %s; postings require an OPEN period", e.Code, e.Status)
}

// Is matches ErrPeriodClosed.
func (e *PeriodClosedError) Is(target error) bool {
	return target == ErrPeriodClosed
}

package report

import (
	"fmt"
	"time"

	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/shared"
)

// RangeKind names a reporting window.
type RangeKind string

const (
	RangeToday  RangeKind = "today"
	RangeWeek   RangeKind = "week"
	RangeMonth  RangeKind = "month"
	RangeYear   RangeKind = "year"
	RangeCustom RangeKind = "custom"
)

// DateRange is an inclusive reporting window.
type DateRange struct {
	Kind RangeKind `json:"kind"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ErrInvalidRange is returned for unknown range names or inverted custom windows.
var ErrInvalidRange = fmt.Errorf("report: %w", shared.ErrValidation)

// NamedRange resolves a named window ending at the end of now's day in loc.
// week covers the last seven days including today.
func NamedRange(kind RangeKind, now time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	r := DateRange{Kind: kind, To: ledger.EndOfDay(now)}
	switch kind {
	case RangeToday:
		r.From = today
	case RangeWeek:
		r.From = today.AddDate(0, 0, -6)
	case RangeMonth:
		r.From = time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case RangeYear:
		r.From = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return DateRange{}, fmt.Errorf("%w: unknown range %q", ErrInvalidRange, kind)
	}
	return r, nil
}

// CustomRange builds a window from the start of from's day to the end of to's day.
func CustomRange(from, to time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	if from.IsZero() || to.IsZero() {
		return DateRange{}, shared.NewValidationError("from", "from and to are required")
	}
	from = from.In(loc)
	y, m, d := from.Date()
	r := DateRange{
		Kind: RangeCustom,
		From: time.Date(y, m, d, 0, 0, 0, 0, loc),
		To:   ledger.EndOfDay(to.In(loc)),
	}
	if r.From.After(r.To) {
		return DateRange{}, fmt.Errorf("%w: from is after to", ErrInvalidRange)
	}
	return r, nil
}

package cascade

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoTiers         = errors.New("no tiers configured")
	ErrTierTimeout     = errors.New("tier timed out")
	ErrConditionNotMet = errors.New("success condition not met")
	ErrTotalTimeout    = errors.New("cascade total timeout exceeded")
	ErrAllTiersFailed  = errors.New("all tiers failed")
	ErrCanceled        = errors.New("cascade canceled")
)

// TierError is one tier's failure. It never leaves the cascade on its own: it ends up
// in the history, in later tiers' PreviousErrors and in AllTiersFailedError.
type TierError struct {
	Tier    string
	Err     error
	Attempt int
	At      time.Time
}

func (e TierError) Error() string {
	return fmt.Sprintf("tier %s (attempt %d): %v", e.Tier, e.Attempt, e.Err)
}

func (e TierError) Unwrap() error { return e.Err }

func (e TierError) TimedOut() bool { return errors.Is(e.Err, ErrTierTimeout) }

type TotalTimeoutError struct {
	Limit   time.Duration
	Elapsed time.Duration
	Errors  []TierError
	History []TierRecord
}

func (e *TotalTimeoutError) Error() string {
	return fmt.Sprintf("%v: elapsed %s, limit %s, %d tier(s) attempted", ErrTotalTimeout, e.Elapsed.Round(time.Millisecond), e.Limit, len(e.History))
}

func (e *TotalTimeoutError) Unwrap() error { return ErrTotalTimeout }

type AllTiersFailedError struct {
	Errors  []TierError
	History []TierRecord
}

func (e *AllTiersFailedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, te := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %v", te.Tier, te.Err))
	}
	return fmt.Sprintf("%v: %s", ErrAllTiersFailed, strings.Join(parts, "; "))
}

// Unwrap exposes the sentinel and every tier error to errors.Is/As.
func (e *AllTiersFailedError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors)+1)
	out = append(out, ErrAllTiersFailed)
	for _, te := range e.Errors {
		out = append(out, te)
	}
	return out
}

// CanceledError is returned when the caller's context ends mid-cascade.
type CanceledError struct {
	Cause   error
	Errors  []TierError
	History []TierRecord
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCanceled, e.Cause)
}

func (e *CanceledError) Unwrap() []error { return []error{ErrCanceled, e.Cause} }

// HistoryOf returns the history carried by a terminal cascade error.
func HistoryOf(err error) ([]TierRecord, bool) {
	var tt *TotalTimeoutError
	if errors.As(err, &tt) {
		return tt.History, true
	}
	var af *AllTiersFailedError
	if errors.As(err, &af) {
		return af.History, true
	}
	var ce *CanceledError
	if errors.As(err, &ce) {
		return ce.History, true
	}
	return nil, false
}

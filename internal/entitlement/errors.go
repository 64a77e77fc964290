package entitlement

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDevice   = errors.New("invalid device id")
	ErrAccountNotFound = errors.New("account not found")
	ErrNoCredits       = errors.New("no_credits")
	ErrLimitReached    = errors.New("limit_reached")
)

// DeniedError reports exhausted allowance together with the caller's current
// allowance so the client can update without another round trip.
type DeniedError struct {
	Reason         error
	Credits        int64
	Remaining      int64
	RequiresSignup bool
}

func (e *DeniedError) Error() string {
	if errors.Is(e.Reason, ErrNoCredits) {
		return fmt.Sprintf("%v: credits=%d", e.Reason, e.Credits)
	}
	return fmt.Sprintf("%v: remaining=%d", e.Reason, e.Remaining)
}

func (e *DeniedError) Unwrap() error {
	return e.Reason
}

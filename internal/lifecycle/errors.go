package lifecycle

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller logic failures. Nothing is recorded when these
// are returned.
var (
	ErrNoChange          = errors.New("card is already in the requested stage")
	ErrTerminalStage     = errors.New("card is in a terminal stage")
	ErrIllegalTransition = errors.New("transition not permitted from current stage")
	ErrSprintLocked      = errors.New("sprint is finalized or past its end date")
)

// IncompleteDataError reports which fields the caller must populate before
// re-attempting the move. It is the expected "needs more info" branch, not an
// exceptional condition.
type IncompleteDataError struct {
	Missing []Field
}

func (e *IncompleteDataError) Error() string {
	return fmt.Sprintf("card is missing required fields: %v", e.Missing)
}

// ValidationError reports invalid caller-supplied context, such as an empty
// pendency reason.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PersistenceError wraps an infrastructure failure that survived the single
// retry. The card's observed state reflects the last committed value.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persist card change: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

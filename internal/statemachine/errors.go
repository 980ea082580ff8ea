package statemachine

import (
	"errors"
	"fmt"

	"github.com/zaihebian/LeadGenNewVersion/internal/model"
)

// ErrStaleState is returned by LeadStore.UpdateLifecycle when the persisted
// state no longer matches the state the caller validated against. It means a
// concurrent job won the race for this lead.
var ErrStaleState = errors.New("lead state changed concurrently")

// StateMachineError reports an illegal transition or a violated guard. It is
// never retried automatically: it indicates the caller invoked an operation
// out of order.
type StateMachineError struct {
	LeadID int64
	From   model.LeadState
	To     model.LeadState
	Reason string
}

func (e *StateMachineError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("invalid transition for lead %d: %s -> %s (%s)", e.LeadID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid operation for lead %d in state %s: %s", e.LeadID, e.From, e.Reason)
}

// IsStateMachineError reports whether err is a guard violation.
func IsStateMachineError(err error) bool {
	var smErr *StateMachineError
	return errors.As(err, &smErr)
}

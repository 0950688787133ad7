package conversation

import (
	"fmt"
)

// ValidationError reports a malformed outbound message or action. It is
// returned before any transport call is made, and is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// TransportError reports a network or server failure. The affected message
// transitions to failed; user-initiated retry is the only recovery path.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StateError reports an operation invoked in a state that does not allow
// it, such as retrying a message that is not failed. No state is mutated.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

// ConflictError reports a server rejection referencing stale state, such as
// a postback against an already-paid buy action.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflicted: %v", e.Op, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

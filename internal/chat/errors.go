package chat

import "fmt"

// ValidationError is returned when a message fails validation before any
// network call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// TransientError wraps a network or timeout failure that may succeed on
// retry. It never indicates corrupted local state.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// CorruptDataError marks data that could not be interpreted: a snapshot
// entry without an id, or an unreadable cache blob. The offending data is
// discarded and processing continues.
type CorruptDataError struct {
	Detail string
	Err    error
}

func (e *CorruptDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt data (%s): %v", e.Detail, e.Err)
	}
	return "corrupt data: " + e.Detail
}

func (e *CorruptDataError) Unwrap() error {
	return e.Err
}

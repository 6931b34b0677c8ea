package wizard

import "fmt"

// ValidationError is a local precondition failure (empty credential, bad
// token prefix, empty template, ...). It blocks the offending action only and
// never reaches the network layer.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// PreconditionError rejects a forward step transition whose guard failed.
type PreconditionError struct {
	From   int
	To     int
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot advance from step %d to step %d: %s", e.From, e.To, e.Reason)
}

// IndexError is a programming-contract violation on positional recipient
// removal. It is not user-facing.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("recipient index %d out of range [0,%d)", e.Index, e.Len)
}

// ServiceError is a structured failure returned by a collaborator call. The
// message is suitable for direct display.
type ServiceError struct {
	Op      string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

// TransportError is a communication failure with a collaborator. One-shot
// calls surface it as retryable; the job monitor swallows it and re-polls.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: communication failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SubmissionError means the send collaborator rejected the job.
type SubmissionError struct {
	Message string
}

func (e *SubmissionError) Error() string { return "send submission rejected: " + e.Message }

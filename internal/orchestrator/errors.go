package orchestrator

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced to callers.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindTransientNetwork       Kind = "transient_network_error"
	KindRemoteJobFailure       Kind = "remote_job_failure"
	KindPollTimeout            Kind = "poll_timeout"
	KindLedgerDecrementFailure Kind = "ledger_decrement_failure"
	KindAbandoned              Kind = "abandoned"
)

// Error is the only error type returned by the orchestrator. Message is safe
// to show to end users; Err keeps the diagnostic chain.
type Error struct {
	Kind    Kind
	Message string
	JobID   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an orchestrator error, or "" for anything else.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

func newError(kind Kind, jobID, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, JobID: jobID, Err: err}
}

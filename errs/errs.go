// Package errs defines the error taxonomy for the partition processor and
// invocation task per spec §7. Sentinel errors classify failures so callers
// can use errors.Is/errors.As rather than string matching, the way
// lode/errors.go classifies storage failures.
package errs

import (
	"errors"
	"fmt"
)

// Partition-processor sentinels. Any of these, once observed by the main
// loop, is fatal to the partition: the partition is unavailable until the
// worker supervisor restarts it.
var (
	// ErrRecordDecoding marks a malformed envelope.
	ErrRecordDecoding = errors.New("record decoding failed")
	// ErrStorage marks a storage read/write failure.
	ErrStorage = errors.New("storage error")
	// ErrLogReaderTerminated marks an unexpected end of the log reader stream.
	ErrLogReaderTerminated = errors.New("log reader terminated")
	// ErrUnsupportedRecord marks a TrimGap or Seal record, unsupported by
	// this core until trimming/sealing is implemented.
	ErrUnsupportedRecord = errors.New("unsupported record kind")
	// ErrStateMachine marks a state-machine apply failure; the transaction
	// in progress is dropped (rolled back), never partially applied.
	ErrStateMachine = errors.New("state machine error")
)

// ErrProgrammer marks an invariant violation: a bug, not a runtime
// condition. The process should crash fast with the wrapped diagnostic
// rather than attempt recovery.
var ErrProgrammer = errors.New("programmer error")

// Invocation-task sentinels. These are non-fatal to the partition processor:
// they surface as the terminal state of one invocation task, and the state
// machine decides whether to retry or fail the invocation.
var (
	ErrUnexpectedResponse    = errors.New("unexpected response")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrUnexpectedMessage     = errors.New("unexpected protocol message")
	ErrEncoding              = errors.New("encoding error")
	ErrJournalReader         = errors.New("journal reader error")
	ErrNetwork               = errors.New("network error")
	ErrOther                 = errors.New("invocation task error")
)

// PartitionError wraps a fatal partition-processor failure with its kind
// and the operation that failed, mirroring lode.StorageError's
// Kind/Op/Err shape. It does not carry the LSN being applied.
type PartitionError struct {
	Kind error
	Op   string
	Err  error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}

func (e *PartitionError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewPartitionError classifies a fatal partition failure.
func NewPartitionError(kind error, op string, err error) *PartitionError {
	return &PartitionError{Kind: kind, Op: op, Err: err}
}

// Fatal reports whether err is one of the partition-processor fatal
// sentinels (directly or via errors.Is through a *PartitionError).
func Fatal(err error) bool {
	for _, sentinel := range []error{
		ErrRecordDecoding, ErrStorage, ErrLogReaderTerminated,
		ErrUnsupportedRecord, ErrStateMachine, ErrProgrammer,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// InvocationTaskError wraps a terminal invocation-task failure.
type InvocationTaskError struct {
	Kind error
	Op   string
	Err  error
}

func (e *InvocationTaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *InvocationTaskError) Unwrap() error {
	return e.Err
}

func (e *InvocationTaskError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewInvocationTaskError classifies an invocation-task failure.
func NewInvocationTaskError(kind error, op string, err error) *InvocationTaskError {
	return &InvocationTaskError{Kind: kind, Op: op, Err: err}
}

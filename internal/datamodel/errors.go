package datamodel

import "errors"

// ErrorKind classifies a runtime error per §7, so the dispatcher can decide
// retry/propagation behavior without string matching.
type ErrorKind int

const (
	KindSubmission ErrorKind = iota
	KindDependency
	KindTransfer
	KindWorkerUnreachable
	KindTaskFailure
	KindTimeout
	KindCorruptSchedulerState
	KindStreamClose
	KindStorageBackend
)

func (k ErrorKind) String() string {
	switch k {
	case KindSubmission:
		return "submission"
	case KindDependency:
		return "dependency"
	case KindTransfer:
		return "transfer"
	case KindWorkerUnreachable:
		return "worker_unreachable"
	case KindTaskFailure:
		return "task_failure"
	case KindTimeout:
		return "timeout"
	case KindCorruptSchedulerState:
		return "corrupt_scheduler_state"
	case KindStreamClose:
		return "stream_close"
	case KindStorageBackend:
		return "storage_backend"
	default:
		return "unknown"
	}
}

// Retriable reports whether the scheduler should requeue the action that
// produced an error of this kind (§4.3 retry policy, §7 propagation).
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindTransfer, KindWorkerUnreachable, KindTaskFailure, KindTimeout:
		return true
	default:
		return false
	}
}

// Fatal reports whether the error must stop the dispatcher from accepting
// new submissions (§4.2 failure model).
func (k ErrorKind) Fatal() bool {
	return k == KindCorruptSchedulerState
}

// RuntimeError wraps an underlying error with its §7 kind.
type RuntimeError struct {
	Kind ErrorKind
	Err  error
}

func (e *RuntimeError) Error() string {
	return e.Err.Error()
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError builds a RuntimeError of the given kind.
func NewRuntimeError(kind ErrorKind, err error) *RuntimeError {
	return &RuntimeError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to KindTaskFailure for
// errors that were never classified (matches the teacher's pattern of
// falling back to a safe default rather than panicking on an unexpected
// error shape).
func KindOf(err error) ErrorKind {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTaskFailure
}

var (
	ErrUnknownData           = errors.New("unknown data id")
	ErrCorruptSchedulerState = errors.New("corrupt scheduler state: dependency invariant violated")
	ErrNoSources             = errors.New("no live sources for renaming")
)

package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind labels a failure with its place in the pipeline so it can be
// stored on the entity it concerns and filtered in the review queue.
type ErrorKind string

const (
	ErrKindDecode       ErrorKind = "decode"
	ErrKindFetch        ErrorKind = "fetch"
	ErrKindTimeout      ErrorKind = "timeout"
	ErrKindCapture      ErrorKind = "capture"
	ErrKindDispatch     ErrorKind = "dispatch"
	ErrKindValidation   ErrorKind = "validation"
	ErrKindInvalidState ErrorKind = "invalid_state"
	ErrKindConflict     ErrorKind = "conflict"
	ErrKindCancelled    ErrorKind = "cancelled"
	ErrKindInternal     ErrorKind = "internal"
)

// ErrConcurrencyConflict is returned when a second run is triggered for an
// (agent type, target) key that already has a running AgentRun.
var ErrConcurrencyConflict = errors.New("run already in flight for this target")

// DecodeError reports image bytes that could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode image: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode image: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FetchError reports a failed candidate fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CaptureError reports a failed evidence capture.
type CaptureError struct {
	URL string
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capture %s: %v", e.URL, e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

// DispatchError reports a failed notice delivery attempt.
type DispatchError struct {
	NoticeID string
	Err      error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("dispatch notice %s: %v", e.NoticeID, e.Err) }
func (e *DispatchError) Unwrap() error { return e.Err }

// ValidationError lists the notice fields that must be present before the
// notice may leave Draft.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// InvalidStateError reports an illegal lifecycle transition. Callers must
// treat it as a workflow bug, not something to retry.
type InvalidStateError struct {
	NoticeID string
	From     string
	Action   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("notice %s: cannot %s from %s", e.NoticeID, e.Action, e.From)
}

// KindOf classifies an arbitrary error into the taxonomy, preferring the
// most specific wrapped type.
func KindOf(err error) ErrorKind {
	var decodeErr *DecodeError
	var fetchErr *FetchError
	var captureErr *CaptureError
	var dispatchErr *DispatchError
	var validationErr *ValidationError
	var stateErr *InvalidStateError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConcurrencyConflict):
		return ErrKindConflict
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.As(err, &decodeErr):
		return ErrKindDecode
	case errors.As(err, &fetchErr):
		return ErrKindFetch
	case errors.As(err, &captureErr):
		return ErrKindCapture
	case errors.As(err, &dispatchErr):
		return ErrKindDispatch
	case errors.As(err, &validationErr):
		return ErrKindValidation
	case errors.As(err, &stateErr):
		return ErrKindInvalidState
	case errors.Is(err, context.Canceled):
		return ErrKindCancelled
	default:
		return ErrKindInternal
	}
}

// ErrorInfo is the persisted form of a failure attached to the entity it
// concerns.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// NewErrorInfo snapshots err for persistence.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{
		Kind:    KindOf(err),
		Message: err.Error(),
		At:      time.Now().UTC(),
	}
}

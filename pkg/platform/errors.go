package platform

import (
	"context"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error taxonomy — every platform failure the core reasons about
// ---------------------------------------------------------------------------

var (
	// ErrNotFound reports that the target message or reaction vanished
	// between check and use. Call sites treat it as "goal already achieved"
	// for delete/clear and suppress it for best-effort cleanup.
	ErrNotFound = errors.New("platform: not found")

	// ErrForbidden reports that the bot lacks permission for the operation.
	ErrForbidden = errors.New("platform: forbidden")

	// ErrInvalidContext reports that the operation was invoked on a
	// message whose context structurally cannot support it (e.g. a
	// direct or console message for a reaction wait). Non-retryable.
	ErrInvalidContext = errors.New("platform: context does not support reactions")

	// ErrWaitTimeout reports that a bounded event wait elapsed with no
	// qualifying event.
	ErrWaitTimeout = errors.New("platform: wait timed out")
)

// TransportError wraps any other platform-call failure with the operation
// that produced it.
type TransportError struct {
	Op  string // "add_reaction", "delete_message", ...
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("platform: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a transport failure of op.
// NotFound-class errors pass through untouched so errors.Is keeps working.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// ---------------------------------------------------------------------------
// Failure kinds — compile-time checkable classification tags
// ---------------------------------------------------------------------------

// FailureKind classifies an error for supervision and suppression decisions.
type FailureKind int

const (
	// KindNone means no failure occurred.
	KindNone FailureKind = iota
	// KindNotFound covers ErrNotFound-class failures.
	KindNotFound
	// KindCancelled covers context cancellation and deadline expiry.
	KindCancelled
	// KindTransport covers any other platform-call failure.
	KindTransport
	// KindInternal covers failures originating inside the bot itself.
	KindInternal
)

// String implements fmt.Stringer.
func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindCancelled:
		return "cancelled"
	case KindTransport:
		return "transport"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Classify maps an error onto its FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		var te *TransportError
		if errors.As(err, &te) {
			return KindTransport
		}
		if errors.Is(err, ErrForbidden) || errors.Is(err, ErrWaitTimeout) {
			return KindTransport
		}
		return KindInternal
	}
}

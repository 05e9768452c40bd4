package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge failure.
type Kind string

// Failure kinds.
const (
	// KindSubmit means the wrapped script could not be evaluated.
	KindSubmit Kind = "submit"
	// KindPoll means polling kept failing past the retry budget.
	KindPoll Kind = "poll"
	// KindTimeout means the slot stayed pending for the whole poll budget.
	KindTimeout Kind = "timeout"
	// KindRemote means the operation ran and raised in the page.
	KindRemote Kind = "remote"
	// KindProtocol means the page returned something that is not a slot.
	KindProtocol Kind = "protocol"
	// KindCanceled means the caller stopped waiting.
	KindCanceled Kind = "canceled"
)

// Sentinel errors for errors.Is.
var (
	ErrTimeout  = errors.New("operation timed out")
	ErrCanceled = errors.New("operation canceled")
	ErrRemote   = errors.New("operation failed in page")
)

// Error is the error returned by Bridge.Run.
type Error struct {
	Kind Kind
	// Op is the operation name given to Run.
	Op string
	// Slot is the slot the operation used.
	Slot string
	// Msg is the human-readable message. For remote errors it is the
	// page's message verbatim.
	Msg string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Kind == KindRemote {
		return e.Msg
	}
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches a kind sentinel.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrCanceled:
		return e.Kind == KindCanceled
	case ErrRemote:
		return e.Kind == KindRemote
	default:
		return false
	}
}

// KindOf returns the kind of a bridge error, or "" for other errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

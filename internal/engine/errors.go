package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvariantError marks an engine-internal consistency failure: an illegal
// state transition, a double-release of a BlockingLink, or an unblock on a
// zero blockers counter. Per spec.md §7 these are programmer/invariant
// failures and are never recovered from in place — the caller is expected
// to let them propagate to a top-level panic.
type InvariantError struct {
	msg string
}

func (e *InvariantError) Error() string { return e.msg }

func invariantf(format string, args ...interface{}) error {
	return &InvariantError{msg: fmt.Sprintf(format, args...)}
}

// IsInvariant reports whether err (or something it wraps) is an
// InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// ErrorTag is the closed set of control-surface error tags (spec.md §6).
// A WaitingMethodReply link is always failed with one of these, never a
// bare string.
type ErrorTag string

const (
	ErrAlreadyStarted   ErrorTag = "AlreadyStarted"
	ErrAlreadyStopped   ErrorTag = "AlreadyStopped"
	ErrPermissionDenied ErrorTag = "PermissionDenied"
	ErrJobFailed        ErrorTag = "JobFailed"
	ErrEventFailed      ErrorTag = "EventFailed"
	ErrUnknownJob       ErrorTag = "UnknownJob"
	ErrUnknownInstance  ErrorTag = "UnknownInstance"
	ErrNoMemory         ErrorTag = "NoMemory"
	ErrInvalidArgument  ErrorTag = "InvalidArgument"
)

// TaggedError pairs a control-surface tag with its underlying cause.
type TaggedError struct {
	Tag   ErrorTag
	Cause error
}

func (e *TaggedError) Error() string {
	if e.Cause == nil {
		return string(e.Tag)
	}

	return string(e.Tag) + ": " + e.Cause.Error()
}

func (e *TaggedError) Unwrap() error { return e.Cause }

// NewError wraps cause (which may be nil) into a TaggedError, matching the
// teacher's errors.Wrapf convention for attaching context.
func NewError(tag ErrorTag, cause error) *TaggedError {
	if cause == nil {
		return &TaggedError{Tag: tag}
	}

	return &TaggedError{Tag: tag, Cause: errors.WithMessage(cause, string(tag))}
}

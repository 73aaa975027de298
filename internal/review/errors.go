package review

import (
	"errors"
	"fmt"
)

// Kind classifies orchestrator failures so callers can react without
// parsing messages.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindInvalidArgument     Kind = "invalid_argument"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamFailure     Kind = "upstream_failure"
	KindIncompleteReview    Kind = "incomplete_review"
	KindRenderFailure       Kind = "render_failure"
)

// Error is returned by every Orchestrator operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Outstanding item counts, set for KindIncompleteReview.
	Pending           int
	NeedsRegeneration int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

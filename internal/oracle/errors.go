package oracle

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies oracle failures for retry decisions.
type Kind string

const (
	// KindRateLimited is always retryable and may carry a retry-after hint.
	KindRateLimited Kind = "rate_limited"
	// KindTransient covers timeouts, connection failures and 5xx responses.
	KindTransient Kind = "transient_network"
	// KindMalformed means the response failed structural validation.
	KindMalformed Kind = "malformed_response"
	// KindPermanent covers unusable input and unrecoverable rejections.
	KindPermanent Kind = "permanent_input"
)

// Error is the typed failure returned by oracle clients. Usage is set when
// the provider billed the call before it failed, as with malformed output.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Usage      Usage
	Err        error
}

// NewError constructs an Error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Kind, msg, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf maps any error returned by a client onto the taxonomy. Deadline
// errors and unrecognised failures count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Kind != "" {
		return typed.Kind
	}
	return KindTransient
}

// WithUsage attaches billed usage to err. Errors that are not an *Error are
// wrapped as transient.
func WithUsage(err error, usage Usage) error {
	if err == nil || usage.Total() == 0 {
		return err
	}
	var typed *Error
	if !errors.As(err, &typed) {
		typed = &Error{Kind: KindTransient, Err: err}
		err = typed
	}
	typed.Usage = usage
	return err
}

// UsageOf returns the billed usage carried by err, if any.
func UsageOf(err error) Usage {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Usage
	}
	return Usage{}
}

// RetryAfterOf returns the server hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var typed *Error
	if errors.As(err, &typed) && typed.RetryAfter > 0 {
		return typed.RetryAfter
	}
	return 0
}

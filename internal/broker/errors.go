package broker

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindTransient        Kind = "transient"
	KindQuoteUnavailable Kind = "quote_unavailable"
	KindAuthExpired      Kind = "auth_expired"
	KindFatal            Kind = "fatal"
)

// Sentinel errors for errors.Is checks.
var (
	ErrTransient        = errors.New("transient gateway error")
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrAuthExpired      = errors.New("session expired")
	ErrFatal            = errors.New("fatal gateway error")
)

// Error is a classified gateway failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrQuoteUnavailable:
		return e.Kind == KindQuoteUnavailable
	case ErrAuthExpired:
		return e.Kind == KindAuthExpired
	case ErrFatal:
		return e.Kind == KindFatal
	}
	return false
}

// Transient wraps err as a retryable failure of op.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// QuoteUnavailable reports a missing or zero price.
func QuoteUnavailable(op string, err error) error {
	return &Error{Kind: KindQuoteUnavailable, Op: op, Err: err}
}

// AuthExpired reports a stale session.
func AuthExpired(op string, err error) error {
	return &Error{Kind: KindAuthExpired, Op: op, Err: err}
}

// Fatal wraps err as a non-retryable failure of op.
func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// Outcome is the result class of a gateway call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeQuoteUnavailable
	OutcomeAuthExpired
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeQuoteUnavailable:
		return "quote_unavailable"
	case OutcomeAuthExpired:
		return "auth_expired"
	default:
		return "fatal"
	}
}

// Retryable reports whether the monitor may retry within the same cycle.
func (o Outcome) Retryable() bool {
	return o == OutcomeTransient
}

// Classify maps any error from a gateway call to an Outcome. Unclassified errors are fatal,
// except timeouts, an open circuit breaker, and network timeouts which are transient.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		switch gwErr.Kind {
		case KindTransient:
			return OutcomeTransient
		case KindQuoteUnavailable:
			return OutcomeQuoteUnavailable
		case KindAuthExpired:
			return OutcomeAuthExpired
		default:
			return OutcomeFatal
		}
	}
	switch {
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return OutcomeTransient
	case errors.Is(err, ErrQuoteUnavailable):
		return OutcomeQuoteUnavailable
	case errors.Is(err, ErrAuthExpired):
		return OutcomeAuthExpired
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTransient
	}
	return OutcomeFatal
}

// Package failure defines the closed set of error kinds the relay reports.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies where in the pipeline an error originated.
type Kind int

const (
	// Unknown is the zero value; errors that did not come from this package.
	Unknown Kind = iota
	AuthFailure
	ParseFailure
	NormalizeFailure
	DeliveryFailure
)

func (k Kind) String() string {
	switch k {
	case AuthFailure:
		return "auth_failure"
	case ParseFailure:
		return "parse_failure"
	case NormalizeFailure:
		return "normalize_failure"
	case DeliveryFailure:
		return "delivery_failure"
	default:
		return "unknown"
	}
}

// Error carries a kind, a human message, and optional context describing the
// operation in flight (for example "sending recovered batch").
type Error struct {
	Kind    Kind
	Message string
	Context string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, msg, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without an underlying cause.
func New(kind Kind, context, message string) *Error {
	return &Error{Kind: kind, Message: message, Context: context}
}

// Wrap attaches a kind and context to err. The message is taken from err.
func Wrap(kind Kind, context string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Context: context, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

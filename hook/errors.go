package hook

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned when a hook is constructed with a bad configuration.
var ErrInvalidArgument = errors.New("invalid argument")

// ArgumentError describes which argument of a hook constructor was rejected and why.
type ArgumentError struct {
	Arg    string
	Value  any
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s: %s", ErrInvalidArgument, e.Arg, e.Reason)
	}
	return fmt.Sprintf("%s: %s %v: %s", ErrInvalidArgument, e.Arg, e.Value, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

func invalidArgument(arg string, value any, reason string) error {
	return &ArgumentError{Arg: arg, Value: value, Reason: reason}
}

package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an id-addressed operation matches nothing.
	ErrNotFound = errors.New("document not found")
)

// BadRequestError marks a failure caused by the caller's input: precondition
// violations, unknown update operators, protected-field writes and illegal
// state transitions. The HTTP layer translates it 1:1 into a 400 response.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string {
	return e.Msg
}

// NewBadRequest builds a BadRequestError with a formatted message.
func NewBadRequest(format string, args ...interface{}) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

// IsBadRequest reports whether err is a client error.
func IsBadRequest(err error) bool {
	var bad *BadRequestError
	return errors.As(err, &bad)
}

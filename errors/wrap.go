package errors

import (
	baseErrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return baseErrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return baseErrors.As(err, target)
}

// Unwrap returns the next error in err's chain.
func Unwrap(err error) error {
	return baseErrors.Unwrap(err)
}

// Join combines errors, discarding nils.
func Join(errs ...error) error {
	return baseErrors.Join(errs...)
}

type recoveredPanic struct {
	value any
}

func (p recoveredPanic) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// Recovered converts a value returned by recover() into an Error with
// codes.Internal. Errors passed to panic keep their identity for Is/As.
func Recovered(r any, skip int) *Error {
	if r == nil {
		return nil
	}
	var err error
	if e, ok := r.(error); ok {
		err = fmt.Errorf("panic: %w", e)
	} else {
		err = recoveredPanic{value: r}
	}
	return &Error{
		Err:   err,
		stack: callers(3 + skip),
		code:  codes.Internal,
	}
}

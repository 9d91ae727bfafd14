package perm

import (
	"fmt"

	"github.com/dpup/permissible/errors"
	"google.golang.org/grpc/codes"
)

var (
	// ErrConfiguration matches every ConfigurationError.
	ErrConfiguration = errors.NewC("permission configuration error", codes.Internal).
				WithPublicMessage("An internal error occurred")

	// ErrPermissionDenied is returned by helpers that turn a deny into an
	// error. Resolve itself reports a deny as a Decision.
	ErrPermissionDenied = errors.NewC("you are not authorized to perform this action", codes.PermissionDenied)

	// ErrUnauthenticated is the deny error for anonymous users.
	ErrUnauthenticated = errors.NewC("the requested action requires authentication", codes.Unauthenticated)
)

// ConfigurationError reports a misconfigured permission map: a getter or
// condition failed, or a type has no policy. It is a programming error and
// should never be retried or treated as a deny.
type ConfigurationError struct {
	Type   string
	Action Action
	Phase  Phase
	Def    string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("misconfigured %s permissions for %s.%s", e.Phase, e.Type, e.Action)
	if e.Def != "" {
		msg += " in " + e.Def
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Code lets errors.Code report codes.Internal without unwrapping to the cause.
func (e *ConfigurationError) Code() codes.Code { return codes.Internal }

func (e *ConfigurationError) HTTPStatusCode() int { return 500 }

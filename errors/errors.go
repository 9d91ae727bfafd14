// Package errors provides errors that carry a stack trace, a gRPC status code
// and an optional public message. Any *Error can be used wherever the builtin
// error interface is expected.
//
// Authorization code uses the status code to decide how an adapter should
// surface a failure, for example:
//
//	var ErrMisconfigured = errors.NewC("permission map misconfigured", codes.Internal).
//		WithPublicMessage("An internal error occurred")
//
//	func check() error {
//		if err := resolve(); err != nil {
//			return errors.WrapPrefix(err, "resolving project.update", 0)
//		}
//		return nil
//	}
//
// Callers inspect errors with Is, As and Code:
//
//	if errors.Code(err) == codes.PermissionDenied {
//		// render 403
//	}
package errors

import (
	"bytes"
	"fmt"
	"net/http"
	"reflect"
	"runtime"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/runtime/protoiface"
)

// MaxStackDepth caps the number of frames captured on any error.
var MaxStackDepth = 50

// Error is an error with an attached stacktrace.
type Error struct {
	Err    error
	stack  []uintptr
	frames []StackFrame
	prefix string
	suffix []string

	code           codes.Code
	details        []protoiface.MessageV1
	httpStatusCode int
	publicMessage  string
}

// New makes an Error from the given value. If that value is already an error
// it is used directly, otherwise it is formatted with fmt.Errorf("%v").
func New(e any) *Error {
	return newError(e, codes.Unknown, 1)
}

// NewC makes an Error with the given status code.
func NewC(e any, code codes.Code) *Error {
	return newError(e, code, 1)
}

func newError(e any, code codes.Code, skip int) *Error {
	var err error
	switch e := e.(type) {
	case error:
		err = e
	default:
		err = fmt.Errorf("%v", e)
	}
	return &Error{
		Err:   err,
		stack: callers(3 + skip),
		code:  code,
	}
}

// Wrap makes an Error from the given value, capturing the stack from the
// caller. Existing *Error values are returned unchanged. The skip parameter
// indicates how far up the stack to start the stacktrace.
func Wrap(e any, skip int) *Error {
	if e == nil {
		return nil
	}

	var err error
	switch e := e.(type) {
	case *Error:
		return e
	case error:
		err = e
	default:
		err = fmt.Errorf("%v", e)
	}

	return &Error{
		Err:   err,
		stack: callers(3 + skip),
		code:  inheritCode(err),
	}
}

// MaybeWrap wraps non-nil errors and passes nil through, which is useful for
// tail calls such as `return errors.MaybeWrap(json.Unmarshal(b, v), 0)`.
func MaybeWrap(err error, skip int) error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1+skip)
}

// WrapPrefix wraps the value and prefixes its message.
func WrapPrefix(e any, prefix string, skip int) *Error {
	if e == nil {
		return nil
	}

	c := Wrap(e, 1+skip).derive()
	c.prefix = prefix
	return c
}

// Mark resets the stack trace of an error to the point Mark was called. Use it
// when returning sentinel errors so the trace points at the failing call.
func Mark(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		c := err.derive()
		c.stack = callers(3 + skip)
		return c
	}
	return Wrap(e, 1+skip)
}

// Errorf is a drop-in replacement for fmt.Errorf which records a stack.
func Errorf(format string, a ...any) *Error {
	return Wrap(fmt.Errorf(format, a...), 1)
}

// Codef is like Errorf but sets the status code.
func Codef(code codes.Code, format string, a ...any) *Error {
	return Wrap(fmt.Errorf(format, a...), 1).WithCode(code)
}

// WithPublicMessage wraps err and sets a message safe to return to clients.
func WithPublicMessage(err error, publicMessage string) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).derive().WithPublicMessage(publicMessage)
}

// WithCode wraps err and sets its gRPC status code.
func WithCode(err error, code codes.Code) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).derive().WithCode(code)
}

// WithHTTPStatusCode wraps err and overrides the HTTP status otherwise derived
// from its gRPC code.
func WithHTTPStatusCode(err error, code int) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).derive().WithHTTPStatusCode(code)
}

// WithDetails wraps err and attaches gRPC details.
func WithDetails(err error, details ...protoiface.MessageV1) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).derive().WithDetails(details...)
}

// Error returns the message, including any prefix and appended context.
func (err *Error) Error() string {
	msg := err.Err.Error()
	if err.prefix != "" {
		msg = err.prefix + ": " + msg
	}
	if len(err.suffix) > 0 {
		msg += ": " + strings.Join(err.suffix, ": ")
	}
	return msg
}

// Append adds context to the end of the error message.
func (err *Error) Append(msg string) *Error {
	err.suffix = append(err.suffix, msg)
	return err
}

// Stack returns the callstack formatted like runtime/debug.Stack().
func (err *Error) Stack() []byte {
	buf := bytes.Buffer{}
	for _, frame := range err.StackFrames() {
		buf.WriteString(frame.String())
	}
	return buf.Bytes()
}

// MinimalStack returns up to length frames, starting skip frames in, in a
// compact single-line-per-frame format suited to structured logs.
func (err *Error) MinimalStack(skip, length int) []string {
	frames := err.StackFrames()
	if skip >= len(frames) {
		return nil
	}
	frames = frames[skip:]
	if len(frames) > length {
		frames = frames[:length]
	}
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Short()
	}
	return out
}

// Callers returns the raw program counters of the stack.
func (err *Error) Callers() []uintptr {
	return err.stack
}

// ErrorStack returns the type, message and callstack.
func (err *Error) ErrorStack() string {
	return err.TypeName() + " " + err.Error() + "\n" + string(err.Stack())
}

// StackFrames returns the frames of the captured stack.
func (err *Error) StackFrames() []StackFrame {
	if err.frames == nil {
		err.frames = make([]StackFrame, len(err.stack))
		for i, pc := range err.stack {
			err.frames[i] = NewStackFrame(pc)
		}
	}
	return err.frames
}

// TypeName returns the type of the underlying error, or "panic" for errors
// created by Recovered.
func (err *Error) TypeName() string {
	if inner, ok := err.Err.(*Error); ok {
		return inner.TypeName()
	}
	if _, ok := err.Err.(recoveredPanic); ok {
		return "panic"
	}
	return reflect.TypeOf(err.Err).String()
}

// Unwrap returns the underlying error.
func (err *Error) Unwrap() error {
	return err.Err
}

// Code returns the gRPC status code associated with the error.
func (err *Error) Code() codes.Code {
	return err.code
}

// WithCode sets the gRPC status code.
func (err *Error) WithCode(code codes.Code) *Error {
	err.code = code
	return err
}

// Details returns the gRPC details associated with the error.
func (err *Error) Details() []protoiface.MessageV1 {
	return err.details
}

// WithDetails appends gRPC details.
func (err *Error) WithDetails(details ...protoiface.MessageV1) *Error {
	err.details = append(err.details, details...)
	return err
}

// HTTPStatusCode returns the HTTP status to respond with, derived from the
// gRPC code unless explicitly overridden.
func (err *Error) HTTPStatusCode() int {
	if err.httpStatusCode != 0 {
		return err.httpStatusCode
	}
	return httpStatusFromCode(err.code)
}

// WithHTTPStatusCode overrides the HTTP status.
func (err *Error) WithHTTPStatusCode(code int) *Error {
	err.httpStatusCode = code
	return err
}

// PublicMessage returns the message that should be shown to clients.
func (err *Error) PublicMessage() string {
	if err.publicMessage != "" {
		return err.publicMessage
	}
	return err.Error()
}

// WithPublicMessage sets the message that should be shown to clients.
func (err *Error) WithPublicMessage(publicMessage string) *Error {
	err.publicMessage = publicMessage
	return err
}

// GRPCStatus returns a status for the error, used by grpc-go when the error
// is returned from a handler.
func (err *Error) GRPCStatus() *status.Status {
	st := status.New(err.Code(), err.PublicMessage())
	if len(err.details) > 0 {
		st, _ = st.WithDetails(err.details...)
	}
	return st
}

// derive returns a new Error wrapping err that inherits its metadata, so
// sentinel errors are never mutated and stay matchable with Is.
func (err *Error) derive() *Error {
	return &Error{
		Err:            err,
		stack:          err.stack,
		code:           err.code,
		details:        append([]protoiface.MessageV1(nil), err.details...),
		httpStatusCode: err.httpStatusCode,
		publicMessage:  err.publicMessage,
	}
}

// Code returns the status code for an error. nil maps to codes.OK, errors
// exposing a Code() method anywhere in their chain report that code, anything
// else is codes.Unknown.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var c codedError
	if As(err, &c) {
		return c.Code()
	}
	return codes.Unknown
}

// HTTPStatusCode returns the HTTP status for an error. nil maps to 200.
func HTTPStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var h httpError
	if As(err, &h) {
		return h.HTTPStatusCode()
	}
	var c codedError
	if As(err, &c) {
		return httpStatusFromCode(c.Code())
	}
	return http.StatusInternalServerError
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func inheritCode(err error) codes.Code {
	var c codedError
	if As(err, &c) {
		return c.Code()
	}
	return codes.Unknown
}

func callers(skip int) []uintptr {
	stack := make([]uintptr, MaxStackDepth)
	length := runtime.Callers(skip, stack)
	return stack[:length]
}

type codedError interface {
	Code() codes.Code
}

type httpError interface {
	HTTPStatusCode() int
}

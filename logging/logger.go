// Package logging provides a small logging abstraction over zap that travels
// in a context.Context. Permission checks and synchronization jobs attach
// their outcome to the scoped logger with Track, so the request-level log line
// carries the decision trail.
package logging

import "context"

type ctxkey struct {
	logger Logger
}

// With attaches a logger to the context.
//
// This can be used to create logging scopes like so:
//
//	for _, g := range rootGroups {
//	  ctx := With(ctx, logger.Named(g.Role))
//	  syncGroup(ctx, g)
//	}
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, &ctxkey{
		logger: logger,
	})
}

// FromContext returns the scoped logger, or a no-op logger when the context
// carries none.
func FromContext(ctx context.Context) Logger {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		return c.logger
	}
	return nopLogger
}

// Track a field across the lifetime of the context. Tracked values persist
// back up the call-chain to whoever created the scope, so do not use this in
// loops without first creating a new scope with With.
func Track(ctx context.Context, field string, value any) {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		c.logger = c.logger.With(field, value)
	}
}

// Logger is modelled on zap's SugaredLogger.
type Logger interface {
	Debug(args ...any)
	Debugw(msg string, keysAndValues ...any)
	Debugf(msg string, args ...any)
	Info(args ...any)
	Infow(msg string, keysAndValues ...any)
	Infof(msg string, args ...any)
	Warn(args ...any)
	Warnw(msg string, keysAndValues ...any)
	Warnf(msg string, args ...any)
	Error(args ...any)
	Errorw(msg string, keysAndValues ...any)
	Errorf(msg string, args ...any)

	// Named creates a child logger with the given name.
	Named(name string) Logger

	// With creates a child logger with a structured field attached.
	With(field string, value any) Logger
}

func Debugw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Debugw(msg, fields...)
}

func Infow(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Infow(msg, fields...)
}

func Warnw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Warnw(msg, fields...)
}

func Errorw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Errorw(msg, fields...)
}

func Info(ctx context.Context, msg string) {
	FromContext(ctx).Info(msg)
}

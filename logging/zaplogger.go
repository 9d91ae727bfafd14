package logging

import (
	"go.uber.org/zap"
)

var nopLogger Logger = &ZapLogger{z: zap.NewNop().Sugar()}

// NewDevLogger returns a zap logger that prints dev friendly output.
func NewDevLogger() Logger {
	l, _ := zap.NewDevelopment(zap.AddCallerSkip(1))
	return &ZapLogger{z: l.Sugar()}
}

// NewProdLogger returns a zap logger that outputs JSON.
func NewProdLogger() Logger {
	l, _ := zap.NewProduction(zap.AddCallerSkip(1))
	return &ZapLogger{z: l.Sugar()}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return nopLogger
}

// NewZapLogger adapts an existing zap logger, e.g. one built on an observer
// core in tests.
func NewZapLogger(l *zap.Logger) Logger {
	return &ZapLogger{z: l.Sugar()}
}

// ForMode returns a logger for a configured mode: "dev", "prod" or "nop".
// Unknown modes fall back to dev output.
func ForMode(mode string) Logger {
	switch mode {
	case "prod":
		return NewProdLogger()
	case "nop", "none":
		return NewNopLogger()
	default:
		return NewDevLogger()
	}
}

// ZapLogger adapts a zap SugaredLogger to Logger.
type ZapLogger struct {
	z *zap.SugaredLogger
}

func (z *ZapLogger) Debug(args ...any) { z.z.Debug(args...) }

func (z *ZapLogger) Debugw(msg string, kv ...any) { z.z.Debugw(msg, kv...) }

func (z *ZapLogger) Debugf(msg string, args ...any) { z.z.Debugf(msg, args...) }

func (z *ZapLogger) Info(args ...any) { z.z.Info(args...) }

func (z *ZapLogger) Infow(msg string, kv ...any) { z.z.Infow(msg, kv...) }

func (z *ZapLogger) Infof(msg string, args ...any) { z.z.Infof(msg, args...) }

func (z *ZapLogger) Warn(args ...any) { z.z.Warn(args...) }

func (z *ZapLogger) Warnw(msg string, kv ...any) { z.z.Warnw(msg, kv...) }

func (z *ZapLogger) Warnf(msg string, args ...any) { z.z.Warnf(msg, args...) }

func (z *ZapLogger) Error(args ...any) { z.z.Error(args...) }

func (z *ZapLogger) Errorw(msg string, kv ...any) { z.z.Errorw(msg, kv...) }

func (z *ZapLogger) Errorf(msg string, args ...any) { z.z.Errorf(msg, args...) }

func (z *ZapLogger) Named(name string) Logger {
	return &ZapLogger{z: z.z.Named(name)}
}

func (z *ZapLogger) With(field string, value any) Logger {
	return &ZapLogger{z: z.z.With(field, value)}
}

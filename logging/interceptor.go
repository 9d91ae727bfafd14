package logging

import (
	"context"
	"reflect"

	"github.com/dpup/permissible/errors"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

const stackSize = 5

// Interceptor returns a gRPC interceptor that scopes a logger per call, logs
// the call outcome and converts handler panics into Internal errors. Install
// it ahead of the authz interceptor so permission fields tracked during the
// check land on the call's log line.
func Interceptor(base Logger) grpc.UnaryServerInterceptor {
	return grpc_middleware.ChainUnaryServer(
		scopingInterceptor(base),
		grpcLoggingInterceptor,
		errorInterceptor,
	)
}

func scopingInterceptor(base Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		l := base
		if l == nil {
			l = FromContext(ctx)
		}
		return handler(With(ctx, l.Named(info.FullMethod)), req)
	}
}

func errorInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			Track(ctx, "error.panic", true)
			err = errors.Recovered(r, 2)
			resp = nil
		}
		if err != nil {
			trackError(ctx, err)
		}
	}()

	resp, err = handler(ctx, req)
	return
}

func trackError(ctx context.Context, err error) {
	Track(ctx, "error.type", reflect.TypeOf(err))
	Track(ctx, "error.http_status", errors.HTTPStatusCode(err))

	var e *errors.Error
	if errors.As(err, &e) {
		Track(ctx, "error.stack_trace", e.MinimalStack(0, stackSize))
		Track(ctx, "error.original_type", e.TypeName())
	}
}

var grpcLoggingInterceptor = grpc_logging.UnaryServerInterceptor(grpc_logging.LoggerFunc(func(ctx context.Context, lvl grpc_logging.Level, msg string, fields ...any) {
	logger := FromContext(ctx)

	// Stack traces are attached by errorInterceptor; zap's own trace would only
	// point at this function.
	if z, ok := logger.(*ZapLogger); ok {
		logger = &ZapLogger{z: z.z.Desugar().WithOptions(zap.AddStacktrace(zapcore.PanicLevel)).Sugar()}
	}

	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		logger = logger.With(key, fields[i+1])
	}

	switch lvl {
	case grpc_logging.LevelDebug:
		logger.Debug(msg)
	case grpc_logging.LevelInfo:
		logger.Info(msg)
	case grpc_logging.LevelWarn:
		logger.Warn(msg)
	default:
		logger.Error(msg)
	}
}))

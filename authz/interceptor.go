package authz

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/logging"
	"github.com/dpup/permissible/perm"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc"
)

// Rule is the check attached to a gRPC method.
type Rule struct {
	Action perm.Action
	Type   string

	// Key extracts the object key from the request message. When nil, or
	// when it returns nil, the check is type-level.
	Key func(req any) any
}

// Interceptor enforces the rule registered for the called method. Methods
// without a rule pass through. Handler errors are translated with Translate.
func (a *Authorizer) Interceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	rule, ok := a.rules[info.FullMethod]
	if !ok {
		resp, err := handler(ctx, req)
		return resp, Translate(err)
	}

	var key any
	if rule.Key != nil {
		key = rule.Key(req)
	}
	if err := a.Authorize(ctx, Params{
		Action: rule.Action,
		Type:   rule.Type,
		Key:    key,
		Info:   info.FullMethod,
	}); err != nil {
		return nil, err
	}

	resp, err := handler(ctx, req)
	return resp, Translate(err)
}

// Middleware guards an HTTP handler with a single check. key extracts the
// object key from the request; it may be nil for type-level checks.
func (a *Authorizer) Middleware(action perm.Action, typ string, key func(*http.Request) any) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var k any
			if key != nil {
				k = key(r)
			}
			err := a.Authorize(r.Context(), Params{
				Action: action,
				Type:   typ,
				Key:    k,
				Info:   r.Method + " " + r.URL.Path,
			})
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorResponse is the JSON body written for rejected HTTP requests.
type ErrorResponse struct {
	Code     int32  `json:"code"`
	CodeName string `json:"codeName"`
	Message  string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logging.Errorw(r.Context(), "authz: request failed", "error", err,
			"req.method", r.Method, "req.url", r.URL.String())
	}

	msg := err.Error()
	var e *errors.Error
	if errors.As(err, &e) {
		msg = e.PublicMessage()
	}
	c := int32(errors.Code(err))
	b, ferr := json.Marshal(&ErrorResponse{
		Code:     c,
		CodeName: code.Code_name[c],
		Message:  msg,
	})
	if ferr != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

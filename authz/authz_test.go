package authz_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/dpup/permissible/authz"
	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups/memgroups"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/roots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

type doc struct {
	ID    string
	Title string
}

func (d *doc) PermType() string { return "doc" }
func (d *doc) PermID() string   { return d.ID }

var docs = map[string]*doc{
	"1": {ID: "1", Title: "Roadmap"},
	"2": {ID: "2", Title: "Budget"},
}

// fixture grants:
//
//	alice: view, change on doc 1
//	bob:   view on doc 1
//	carol: nothing
func fixture(t *testing.T, opts ...authz.Option) *authz.Authorizer {
	t.Helper()
	ctx := context.Background()
	gs := memgroups.New()
	one := perm.Ref{Type: "doc", ID: "1"}
	require.NoError(t, gs.GrantUser(ctx, "alice", one, perm.CodeView))
	require.NoError(t, gs.GrantUser(ctx, "alice", one, perm.CodeChange))
	require.NoError(t, gs.GrantUser(ctx, "bob", one, perm.CodeView))

	r := perm.NewResolver(gs, perm.WithPolicy("doc", perm.Policy{
		Global: perm.PolicyNoRestrictionIfAuthenticated(),
		Object: perm.PolicyDefaultAllowCreate(),
	}))
	opts = append([]authz.Option{authz.WithTypedObjectFetcher("doc", authz.MapFetcher(docs))}, opts...)
	return authz.New(r, opts...)
}

func TestAuthorize(t *testing.T) {
	az := fixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   perm.User
		action perm.Action
		key    any
		want   codes.Code
	}{
		{"owner can update", perm.UserID("alice"), perm.ActionUpdate, "1", codes.OK},
		{"viewer can retrieve", perm.UserID("bob"), perm.ActionRetrieve, "1", codes.OK},
		{"viewer cannot update", perm.UserID("bob"), perm.ActionUpdate, "1", codes.PermissionDenied},
		{"stranger sees nothing", perm.UserID("carol"), perm.ActionUpdate, "1", codes.NotFound},
		{"stranger cannot retrieve", perm.UserID("carol"), perm.ActionRetrieve, "1", codes.NotFound},
		{"anonymous", perm.UserID(""), perm.ActionRetrieve, "1", codes.Unauthenticated},
		{"missing object", perm.UserID("alice"), perm.ActionRetrieve, "9", codes.NotFound},
		{"creation is type-level", perm.UserID("carol"), perm.ActionCreate, nil, codes.OK},
		{"anonymous creation", perm.UserID(""), perm.ActionCreate, nil, codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := az.Authorize(ctx, authz.Params{User: tt.user, Action: tt.action, Type: "doc", Key: tt.key})
			assert.Equal(t, tt.want, errors.Code(err))
		})
	}
}

func TestAuthorize_RevealExistence(t *testing.T) {
	az := fixture(t, authz.WithRevealExistence())
	err := az.Authorize(context.Background(), authz.Params{
		User: perm.UserID("carol"), Action: perm.ActionUpdate, Type: "doc", Key: "1",
	})
	assert.Equal(t, codes.PermissionDenied, errors.Code(err))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "Access denied: denied by object permissions", e.PublicMessage())
	assert.True(t, errors.Is(err, perm.ErrPermissionDenied))
}

func TestAuthorize_PreloadedObject(t *testing.T) {
	az := fixture(t)
	err := az.Authorize(context.Background(), authz.Params{
		User: perm.UserID("alice"), Action: perm.ActionUpdate, Type: "doc", Object: docs["1"],
	})
	assert.NoError(t, err)
}

func TestAuthorize_UserFunc(t *testing.T) {
	type userKey struct{}
	az := fixture(t, authz.WithUserFunc(func(ctx context.Context) (perm.User, error) {
		u, _ := ctx.Value(userKey{}).(string)
		return perm.UserID(u), nil
	}))

	ctx := context.WithValue(context.Background(), userKey{}, "alice")
	assert.NoError(t, az.Authorize(ctx, authz.Params{Action: perm.ActionUpdate, Type: "doc", Key: "1"}))

	err := az.Authorize(context.Background(), authz.Params{Action: perm.ActionUpdate, Type: "doc", Key: "1"})
	assert.Equal(t, codes.Unauthenticated, errors.Code(err))
}

func TestAuthorize_UserFuncError(t *testing.T) {
	failure := errors.NewC("bad token", codes.Unauthenticated)
	az := fixture(t, authz.WithUserFunc(func(ctx context.Context) (perm.User, error) {
		return nil, failure
	}))
	err := az.Authorize(context.Background(), authz.Params{Action: perm.ActionRetrieve, Type: "doc", Key: "1"})
	assert.ErrorIs(t, err, failure)
}

func TestAuthorize_MissingFetcher(t *testing.T) {
	az := authz.New(perm.NewResolver(memgroups.New()))
	err := az.Authorize(context.Background(), authz.Params{
		User: perm.UserID("alice"), Action: perm.ActionRetrieve, Type: "note", Key: "1", Info: "test",
	})
	assert.Equal(t, codes.Internal, errors.Code(err))
	assert.Contains(t, err.Error(), "no object fetcher for type 'note'")
}

func TestAuthorize_ConfigurationError(t *testing.T) {
	// "doc" is fetchable but the resolver has no policy for "note".
	az := authz.New(perm.NewResolver(memgroups.New()),
		authz.WithObjectFetcher("*", authz.ObjectFetcherFn(func(ctx context.Context, key any) (perm.Object, error) {
			return perm.Ref{Type: "note", ID: key.(string)}, nil
		})))
	err := az.Authorize(context.Background(), authz.Params{
		User: perm.UserID("alice"), Action: perm.ActionRetrieve, Type: "note", Key: "1",
	})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, errors.Code(err))
	assert.True(t, errors.Is(err, perm.ErrConfiguration))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "An internal error occurred", e.PublicMessage())
}

func TestAuthorize_Audit(t *testing.T) {
	var records []authz.AuditRecord
	az := fixture(t, authz.WithAuditLogger(func(_ context.Context, rec authz.AuditRecord) {
		records = append(records, rec)
	}))
	ctx := context.Background()

	_ = az.Authorize(ctx, authz.Params{User: perm.UserID("alice"), Action: perm.ActionUpdate, Type: "doc", Key: "1", Info: "update"})
	_ = az.Authorize(ctx, authz.Params{User: perm.UserID("bob"), Action: perm.ActionDestroy, Type: "doc", Key: "1", Info: "destroy"})

	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].UserID)
	assert.Equal(t, codes.OK, records[0].Code)
	assert.True(t, records[0].Allowed)
	assert.Equal(t, perm.Ref{Type: "doc", ID: "1"}, records[0].Object)

	assert.Equal(t, "destroy", records[1].Info)
	assert.Equal(t, codes.PermissionDenied, records[1].Code)
	assert.False(t, records[1].Allowed)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, authz.Translate(nil))

	plain := errors.NewC("boom", codes.Unavailable)
	assert.Equal(t, plain, authz.Translate(plain))

	tests := []struct {
		name    string
		cause   error
		code    codes.Code
		status  int
		message string
	}{
		{"plain store error", errors.New("store down"), codes.Internal, http.StatusInternalServerError, "An internal error occurred"},
		{"conflict", errors.NewC("row changed", codes.Aborted), codes.Internal, http.StatusInternalServerError, "An internal error occurred"},
		{"unavailable store", errors.NewC("no route", codes.Unavailable), codes.Unavailable, http.StatusServiceUnavailable, "Service temporarily unavailable, please retry"},
		{"timeout", errors.NewC("slow", codes.DeadlineExceeded), codes.DeadlineExceeded, http.StatusGatewayTimeout, "Service temporarily unavailable, please retry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncErr := &roots.SyncError{Op: "sync", Root: perm.Ref{Type: "team", ID: "t1"}, Role: "adm", Err: tt.cause}
			err := authz.Translate(syncErr)
			assert.Equal(t, tt.code, errors.Code(err))
			assert.Equal(t, tt.status, errors.HTTPStatusCode(err))
			assert.ErrorIs(t, err, roots.ErrSync)
			assert.ErrorIs(t, err, tt.cause)

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.message, e.PublicMessage())
		})
	}
}

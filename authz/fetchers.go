package authz

import (
	"context"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/storage"
	"google.golang.org/grpc/codes"
)

// ObjectFetcher loads the object a request refers to so that object-level
// permissions can be evaluated against it.
type ObjectFetcher interface {
	FetchObject(ctx context.Context, key any) (perm.Object, error)
}

// ObjectFetcherFn adapts a function to the ObjectFetcher interface.
type ObjectFetcherFn func(ctx context.Context, key any) (perm.Object, error)

// FetchObject implements ObjectFetcher.
func (f ObjectFetcherFn) FetchObject(ctx context.Context, key any) (perm.Object, error) {
	return f(ctx, key)
}

// TypedObjectFetcher fetches objects with type safety.
type TypedObjectFetcher[K comparable, T perm.Object] func(ctx context.Context, key K) (T, error)

// AsObjectFetcher converts a TypedObjectFetcher to the ObjectFetcher interface.
func AsObjectFetcher[K comparable, T perm.Object](fetcher TypedObjectFetcher[K, T]) ObjectFetcher {
	return ObjectFetcherFn(func(ctx context.Context, key any) (perm.Object, error) {
		typedKey, ok := key.(K)
		if !ok {
			return nil, errors.Codef(codes.Internal, "authz: expected key type %T, got %T", *new(K), key)
		}
		return fetcher(ctx, typedKey)
	})
}

// Fetcher creates a type-safe object fetcher from a function.
//
// Example:
//
//	authz.Fetcher(func(ctx context.Context, id string) (*Document, error) {
//	    return db.GetDocumentByID(ctx, id)
//	})
func Fetcher[K comparable, T perm.Object](fetch func(context.Context, K) (T, error)) TypedObjectFetcher[K, T] {
	return fetch
}

// MapFetcher creates an object fetcher from a static map. Missing keys return
// a NotFound error.
func MapFetcher[K comparable, T perm.Object](m map[K]T) TypedObjectFetcher[K, T] {
	return func(ctx context.Context, key K) (T, error) {
		if val, ok := m[key]; ok {
			return val, nil
		}
		var zero T
		return zero, errors.Codef(codes.NotFound, "object not found for key: %v", key)
	}
}

// StoredObject is a model that permissions can be checked against.
type StoredObject interface {
	perm.Object
	storage.Model
}

// StoreFetcher fetches objects by primary key from a storage.Store. Missing
// records surface as storage.ErrNotFound, which carries a NotFound status.
//
//	authz.StoreFetcher(db, func() *Team { return &Team{} })
func StoreFetcher[T StoredObject](db storage.Store, alloc func() T) TypedObjectFetcher[string, T] {
	return func(ctx context.Context, id string) (T, error) {
		obj := alloc()
		if err := db.Read(ctx, id, obj); err != nil {
			var zero T
			return zero, err
		}
		return obj, nil
	}
}

// ValidatedFetcher wraps a fetcher with a check that runs after a successful
// fetch and can reject the object, e.g. to treat soft-deleted rows as missing.
func ValidatedFetcher[K comparable, T perm.Object](
	fetcher TypedObjectFetcher[K, T],
	validate func(T) error,
) TypedObjectFetcher[K, T] {
	return func(ctx context.Context, key K) (T, error) {
		obj, err := fetcher(ctx, key)
		if err != nil {
			return obj, err
		}
		if err := validate(obj); err != nil {
			var zero T
			return zero, err
		}
		return obj, nil
	}
}

// ComposeFetchers tries each fetcher in order and returns the first success,
// or the last error if all fail.
func ComposeFetchers[K comparable, T perm.Object](fetchers ...TypedObjectFetcher[K, T]) TypedObjectFetcher[K, T] {
	return func(ctx context.Context, key K) (T, error) {
		var lastErr error
		for _, fetcher := range fetchers {
			obj, err := fetcher(ctx, key)
			if err == nil {
				return obj, nil
			}
			lastErr = err
		}
		var zero T
		if lastErr == nil {
			lastErr = errors.Codef(codes.NotFound, "object not found for key: %v", key)
		}
		return zero, lastErr
	}
}

// TransformKey adapts a fetcher to a different key type.
func TransformKey[K1, K2 comparable, T perm.Object](
	transform func(K1) K2,
	fetcher TypedObjectFetcher[K2, T],
) TypedObjectFetcher[K1, T] {
	return func(ctx context.Context, key K1) (T, error) {
		return fetcher(ctx, transform(key))
	}
}

// Package storage is the persistence layer used to hold permission roots,
// their role groups and derived membership records.
//
// Stores offer simple create, read, update, delete and list operations over
// models, which are plain structs with a `PK() string` method. Stores that
// implement Transactor can scope a sequence of operations to one transaction
// carried in the context:
//
//	err := storage.RunInTx(ctx, store, func(ctx context.Context) error {
//		if err := store.Create(ctx, rootGroup); err != nil {
//			return err
//		}
//		return syncGrants(ctx, rootGroup)
//	})
package storage

import (
	"context"

	"github.com/dpup/permissible/errors"
	"google.golang.org/grpc/codes"
)

var (
	// Returned when a record does not exist.
	ErrNotFound = errors.NewC("record not found", codes.NotFound)

	// Returned when a record conflicts with an existing key.
	ErrAlreadyExists = errors.NewC("primary key already exists", codes.AlreadyExists)

	// Returned when List is called with a non-slice.
	ErrSliceRequired = errors.NewC("pointer slice required", codes.InvalidArgument)

	// Returned when a store can not marshal/unmarshal a model.
	ErrInvalidModel = errors.NewC("invalid model", codes.InvalidArgument)

	// Returned when List is called with a filter and slice of mismatching types.
	ErrTypeMismatch = errors.NewC("type mismatch", codes.InvalidArgument)

	// Returned when a store is passed an uninitialized pointer.
	ErrNilModel = errors.NewC("uninitialized pointer passed as model", codes.InvalidArgument)
)

// Store offers a basic CRUUDLE (Create Read Update Upsert Delete List Exists)
// interface.
type Store interface {
	// Create multiple entities. Fails with ErrAlreadyExists if any exist.
	Create(ctx context.Context, models ...Model) error

	// Read a record with the given id.
	Read(ctx context.Context, id string, model Model) error

	// Update multiple entities. Fails with ErrNotFound if any are missing.
	Update(ctx context.Context, models ...Model) error

	// Upsert updates or inserts multiple entities.
	Upsert(ctx context.Context, models ...Model) error

	// Delete a record. Only the primary key needs to be populated.
	Delete(ctx context.Context, model Model) error

	// List populates the slice of models with records that have fields which
	// match the fields of filter. Zero-value fields are ignored, unless the
	// field is a pointer.
	List(ctx context.Context, models any, filter Model) error

	// Exists returns true if a record with the given id exists.
	Exists(ctx context.Context, id string, model Model) (bool, error)
}

// ModelInitializer is implemented by stores that support per-model setup,
// for example a table per model in SQL databases.
type ModelInitializer interface {
	InitModel(ctx context.Context, model Model) error
}

// Transactor is implemented by stores that can group operations atomically.
// Operations made with the context passed to fn join the transaction. If fn
// returns an error, or panics, every change is rolled back. Nested calls with
// a context that already carries a transaction join the outer one.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunInTx runs fn inside a transaction when s supports them, otherwise it
// simply calls fn.
func RunInTx(ctx context.Context, s Store, fn func(ctx context.Context) error) error {
	if t, ok := s.(Transactor); ok {
		return t.RunInTx(ctx, fn)
	}
	return fn(ctx)
}

// InitModels initializes each model if the store supports it.
func InitModels(ctx context.Context, s Store, models ...Model) error {
	i, ok := s.(ModelInitializer)
	if !ok {
		return nil
	}
	for _, m := range models {
		if err := i.InitModel(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// IgnoreNotFound returns nil for ErrNotFound and err otherwise.
func IgnoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// IgnoreAlreadyExists returns nil for ErrAlreadyExists and err otherwise.
func IgnoreAlreadyExists(err error) error {
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

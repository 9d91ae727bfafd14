// Package storagetests provides acceptance tests for storage.Store
// implementations.
package storagetests

import (
	"context"
	"errors"
	"testing"

	"github.com/dpup/permissible/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Tier int

const (
	TierFree       Tier = 1
	TierTeam       Tier = 2
	TierEnterprise Tier = 3
)

type Team struct {
	ID    string
	Name  string
	Tier  Tier
	Seats *int // Ptr fields allow filtering on zero values.
}

func (t Team) PK() string {
	return t.ID
}

type Project struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
}

func (p Project) PK() string {
	return p.ID
}

type BadModel struct {
	ID    string
	Cycle *BadModel
}

func (b BadModel) PK() string {
	return b.ID
}

func seats(i int) *int {
	return &i
}

// Run executes the suite. newStore must return an empty store on each call.
//
//nolint:funlen // This is a test helper.
func Run(t *testing.T, newStore func() storage.Store) {
	ctx := context.Background()

	t.Run("CreateReadRoundTrip", func(t *testing.T) {
		alpha := Team{ID: "1", Name: "Alpha", Tier: TierTeam}
		beta := Team{ID: "2", Name: "Beta", Tier: TierFree, Seats: seats(3)}

		store := newStore()
		require.NoError(t, store.Create(ctx, alpha, beta))

		var got Team
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, alpha, got)

		got = Team{}
		require.NoError(t, store.Read(ctx, "2", &got))
		assert.Equal(t, beta, got)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Team{ID: "1", Name: "Alpha"}))

		err := store.Create(ctx, Team{ID: "1", Name: "Other"})
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		var got Team
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, "Alpha", got.Name, "conflicting create must not overwrite")
	})

	t.Run("SameKeyDifferentModels", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Team{ID: "1"}, Project{ID: "1", TeamID: "1"}))

		var p Project
		require.NoError(t, store.Read(ctx, "1", &p))
		assert.Equal(t, "1", p.TeamID)
	})

	t.Run("CreateBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm

		err := newStore().Create(ctx, bm)
		require.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("ReadNotFound", func(t *testing.T) {
		store := newStore()
		require.ErrorIs(t, store.Read(ctx, "1", &Team{}), storage.ErrNotFound)

		require.NoError(t, store.Create(ctx, &Team{ID: "1", Name: "Alpha"}))
		require.ErrorIs(t, store.Read(ctx, "2", &Team{}), storage.ErrNotFound)
	})

	t.Run("ReadWithNilPointer", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Team{ID: "1"}))

		var got *Team
		require.ErrorIs(t, store.Read(ctx, "1", got), storage.ErrNilModel)
	})

	t.Run("Update", func(t *testing.T) {
		team := Team{ID: "1", Name: "Alpha", Tier: TierFree}

		store := newStore()
		require.NoError(t, store.Create(ctx, team))

		team.Tier = TierEnterprise
		require.NoError(t, store.Update(ctx, team))

		var got Team
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, team, got)
	})

	t.Run("UpdateNotExists", func(t *testing.T) {
		err := newStore().Update(ctx, Team{ID: "1"})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm

		err := newStore().Update(ctx, bm)
		require.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("Upsert", func(t *testing.T) {
		alpha := Team{ID: "1", Name: "Alpha", Tier: TierFree}

		store := newStore()
		require.NoError(t, store.Create(ctx, alpha))

		alpha.Tier = TierTeam
		beta := Team{ID: "2", Name: "Beta", Tier: TierFree}
		require.NoError(t, store.Upsert(ctx, alpha, beta))

		var got Team
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, alpha, got)

		got = Team{}
		require.NoError(t, store.Read(ctx, "2", &got))
		assert.Equal(t, beta, got)
	})

	t.Run("UpsertBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm

		err := newStore().Upsert(ctx, bm)
		require.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, &Team{ID: "4", Name: "Delta"}))

		exists, err := store.Exists(ctx, "4", &Team{})
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, store.Delete(ctx, &Team{ID: "4"}))

		exists, err = store.Exists(ctx, "4", &Team{})
		require.NoError(t, err)
		assert.False(t, exists)

		require.ErrorIs(t, store.Delete(ctx, &Team{ID: "4"}), storage.ErrNotFound)
	})

	t.Run("ListErrorCases", func(t *testing.T) {
		store := newStore()
		out := []Team{}

		tests := []struct {
			name    string
			models  any
			filter  storage.Model
			wantErr error
		}{
			{"Ok", &out, Team{}, nil},
			{"Not a slice", Team{}, Team{}, storage.ErrSliceRequired},
			{"Not a pointer", out, Team{}, storage.ErrSliceRequired},
			{"Mismatched type", &out, Project{}, storage.ErrTypeMismatch},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := store.List(ctx, tt.models, tt.filter)
				if tt.wantErr == nil {
					require.NoError(t, err)
				} else {
					require.ErrorIs(t, err, tt.wantErr)
				}
			})
		}
	})

	t.Run("List", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Team{"3", "Gamma", TierEnterprise, nil},
			Team{"1", "Alpha", TierTeam, nil},
			Team{"2", "Beta", TierFree, nil},
		))

		var got []Team
		require.NoError(t, store.List(ctx, &got, Team{}))
		assert.Equal(t, []Team{
			{"1", "Alpha", TierTeam, nil},
			{"2", "Beta", TierFree, nil},
			{"3", "Gamma", TierEnterprise, nil},
		}, got)
	})

	t.Run("ListFilter", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Team{"1", "Alpha", TierTeam, nil},
			Team{"2", "Beta", TierFree, nil},
			Team{"3", "Gamma", TierEnterprise, nil},
			Team{"4", "Delta", TierTeam, nil},
		))

		var got []Team
		require.NoError(t, store.List(ctx, &got, Team{Tier: TierTeam}))
		assert.Equal(t, []Team{
			{"1", "Alpha", TierTeam, nil},
			{"4", "Delta", TierTeam, nil},
		}, got)
	})

	t.Run("ListFilterJSONKeys", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Project{ID: "p1", TeamID: "1"},
			Project{ID: "p2", TeamID: "2"},
			Project{ID: "p3", TeamID: "1"},
		))

		var got []Project
		require.NoError(t, store.List(ctx, &got, Project{TeamID: "1"}))
		assert.Equal(t, []Project{{ID: "p1", TeamID: "1"}, {ID: "p3", TeamID: "1"}}, got)
	})

	t.Run("ListFilterZero", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Team{"1", "Alpha", TierTeam, seats(4)},
			Team{"2", "Beta", TierFree, seats(0)},
			Team{"3", "Gamma", TierFree, seats(0)},
			Team{"4", "Delta", TierTeam, nil},
		))

		var got []Team
		require.NoError(t, store.List(ctx, &got, Team{Seats: seats(0)}))
		assert.Equal(t, []Team{
			{"2", "Beta", TierFree, seats(0)},
			{"3", "Gamma", TierFree, seats(0)},
		}, got)
	})

	t.Run("Exists", func(t *testing.T) {
		store := newStore()
		exists, err := store.Exists(ctx, "3", &Team{})
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, store.Create(ctx, &Team{ID: "3", Name: "Gamma"}))

		exists, err = store.Exists(ctx, "3", &Team{})
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Transactions", func(t *testing.T) {
		if _, ok := newStore().(storage.Transactor); !ok {
			t.Skip("store does not implement storage.Transactor")
		}
		runTxTests(t, newStore)
	})
}

var errAbort = errors.New("abort")

func runTxTests(t *testing.T, newStore func() storage.Store) {
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		store := newStore()
		err := storage.RunInTx(ctx, store, func(ctx context.Context) error {
			if err := store.Create(ctx, Team{ID: "1", Name: "Alpha"}); err != nil {
				return err
			}
			var got Team
			if err := store.Read(ctx, "1", &got); err != nil {
				return err
			}
			got.Tier = TierTeam
			return store.Update(ctx, got)
		})
		require.NoError(t, err)

		var got Team
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, TierTeam, got.Tier)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Team{ID: "1", Name: "Alpha"}))

		err := storage.RunInTx(ctx, store, func(ctx context.Context) error {
			if err := store.Create(ctx, Team{ID: "2", Name: "Beta"}); err != nil {
				return err
			}
			if err := store.Delete(ctx, Team{ID: "1"}); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		exists, err := store.Exists(ctx, "1", Team{})
		require.NoError(t, err)
		assert.True(t, exists, "delete should have been rolled back")

		exists, err = store.Exists(ctx, "2", Team{})
		require.NoError(t, err)
		assert.False(t, exists, "create should have been rolled back")
	})

	t.Run("RollbackOnPanic", func(t *testing.T) {
		store := newStore()
		assert.Panics(t, func() {
			_ = storage.RunInTx(ctx, store, func(ctx context.Context) error {
				if err := store.Create(ctx, Team{ID: "1"}); err != nil {
					return err
				}
				panic("boom")
			})
		})

		exists, err := store.Exists(ctx, "1", Team{})
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("NestedJoinsOuter", func(t *testing.T) {
		store := newStore()
		err := storage.RunInTx(ctx, store, func(ctx context.Context) error {
			inner := storage.RunInTx(ctx, store, func(ctx context.Context) error {
				return store.Create(ctx, Team{ID: "1"})
			})
			if inner != nil {
				return inner
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		exists, err := store.Exists(ctx, "1", Team{})
		require.NoError(t, err)
		assert.False(t, exists, "inner work should roll back with the outer transaction")
	})

	t.Run("ListInsideTx", func(t *testing.T) {
		store := newStore()
		err := storage.RunInTx(ctx, store, func(ctx context.Context) error {
			if err := store.Create(ctx, Project{ID: "p1", TeamID: "1"}, Project{ID: "p2", TeamID: "1"}); err != nil {
				return err
			}
			var got []Project
			if err := store.List(ctx, &got, Project{TeamID: "1"}); err != nil {
				return err
			}
			assert.Len(t, got, 2)
			return nil
		})
		require.NoError(t, err)
	})
}

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"bolt":   bolt,
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := record{Name: "a", Amount: decimal.RequireFromString("1000000000000000000000")}

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				return tx.Put("records", "a", want)
			}))

			var got record
			require.NoError(t, s.View(ctx, func(tx Tx) error {
				ok, err := tx.Get("records", "a", &got)
				require.True(t, ok)
				return err
			}))
			require.Equal(t, want.Name, got.Name)
			require.True(t, want.Amount.Equal(got.Amount))

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				return tx.Delete("records", "a")
			}))
			require.NoError(t, s.View(ctx, func(tx Tx) error {
				ok, err := tx.Get("records", "a", &got)
				require.False(t, ok)
				return err
			}))
		})
	}
}

func TestStore_FailedUpdateWritesNothing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("boom")

			err := s.Update(ctx, func(tx Tx) error {
				require.NoError(t, tx.Put("records", "a", record{Name: "a"}))
				require.NoError(t, tx.Put("records", "b", record{Name: "b"}))
				return boom
			})
			require.ErrorIs(t, err, boom)

			count := 0
			require.NoError(t, s.View(ctx, func(tx Tx) error {
				return tx.ForEach("records", func(string, []byte) error {
					count++
					return nil
				})
			}))
			require.Zero(t, count)
		})
	}
}

func TestStore_ForEachOrdered(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				for _, id := range []uint64{10, 2, 33, 1} {
					if err := tx.Put("courses", Uint64Key(id), record{Name: Uint64Key(id)}); err != nil {
						return err
					}
				}
				return nil
			}))

			var keys []string
			require.NoError(t, s.View(ctx, func(tx Tx) error {
				return tx.ForEach("courses", func(k string, raw []byte) error {
					var r record
					if err := Decode(raw, &r); err != nil {
						return err
					}
					keys = append(keys, r.Name)
					return nil
				})
			}))
			require.Equal(t, []string{Uint64Key(1), Uint64Key(2), Uint64Key(10), Uint64Key(33)}, keys)
		})
	}
}

func TestJournal_CommitAndRevert(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	balances := map[string]int{"alice": 5}
	j := NewJournal()

	old := balances["alice"]
	balances["alice"] = 9
	j.OnRollback(func() { balances["alice"] = old })
	j.Stage("balances", "alice", func() any {
		if v, ok := balances["alice"]; ok {
			return v
		}
		return nil
	})

	balances["bob"] = 3
	j.OnRollback(func() { delete(balances, "bob") })
	j.Stage("balances", "bob", func() any {
		if v, ok := balances["bob"]; ok {
			return v
		}
		return nil
	})

	require.NoError(t, j.Commit(ctx, s))

	var got int
	require.NoError(t, s.View(ctx, func(tx Tx) error {
		_, err := tx.Get("balances", "bob", &got)
		return err
	}))
	require.Equal(t, 3, got)

	require.NoError(t, j.Revert(ctx, s))
	require.Equal(t, map[string]int{"alice": 5}, balances)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		ok, err := tx.Get("balances", "bob", &got)
		require.False(t, ok)
		if err != nil {
			return err
		}
		_, err = tx.Get("balances", "alice", &got)
		return err
	}))
	require.Equal(t, 5, got)
}

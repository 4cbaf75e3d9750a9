package store

import (
	"context"
	"fmt"
)

// Journal tracks the in-memory mutations of one ledger transition so they
// can be persisted in a single Update, or undone together.
//
// Staged values are read through their getter at commit time, so the
// journal always persists the latest in-memory value. A getter returning
// nil deletes the key.
type Journal struct {
	staged map[string]stagedWrite
	order  []string
	undo   []func()
}

type stagedWrite struct {
	bucket string
	key    string
	get    func() any
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{staged: make(map[string]stagedWrite)}
}

// Stage marks bucket/key as dirty.
func (j *Journal) Stage(bucket, key string, get func() any) {
	id := bucket + "\x00" + key
	if _, ok := j.staged[id]; !ok {
		j.order = append(j.order, id)
	}
	j.staged[id] = stagedWrite{bucket: bucket, key: key, get: get}
}

// OnRollback registers fn to restore in-memory state. Callbacks run in
// reverse registration order.
func (j *Journal) OnRollback(fn func()) {
	j.undo = append(j.undo, fn)
}

// Rollback undoes every registered in-memory mutation. It is safe to call
// more than once.
func (j *Journal) Rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// Discard forgets the undo log after a successful commit.
func (j *Journal) Discard() {
	j.undo = nil
}

// Dirty reports how many keys are staged.
func (j *Journal) Dirty() int { return len(j.order) }

// Commit writes every staged key in one Update.
func (j *Journal) Commit(ctx context.Context, s Store) error {
	if len(j.order) == 0 {
		return nil
	}
	err := s.Update(ctx, func(tx Tx) error {
		for _, id := range j.order {
			w := j.staged[id]
			v := w.get()
			if v == nil {
				if err := tx.Delete(w.bucket, w.key); err != nil {
					return err
				}
				continue
			}
			if err := tx.Put(w.bucket, w.key, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: commit journal: %w", err)
	}
	return nil
}

// Revert undoes the in-memory mutations and persists the restored values.
// It compensates a journal that was already committed when a later step
// of the same transition failed.
func (j *Journal) Revert(ctx context.Context, s Store) error {
	j.Rollback()
	return j.Commit(context.WithoutCancel(ctx), s)
}

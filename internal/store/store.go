// Package store persists ledger state. Every ledger transition is written
// through a single Update call so a crash never leaves half a transition on
// disk.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tx is a read-write view of the store inside Update or View.
type Tx interface {
	// Put encodes v and stores it under bucket/key.
	Put(bucket, key string, v any) error
	// Get decodes the value under bucket/key into v. It reports false when
	// the key is absent.
	Get(bucket, key string, v any) (bool, error)
	// Delete removes bucket/key. Deleting a missing key is not an error.
	Delete(bucket, key string) error
	// ForEach visits every key of bucket in ascending byte order.
	ForEach(bucket string, fn func(key string, raw []byte) error) error
}

// Store is a transactional bucketed key-value store.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Decode unmarshals a raw value handed out by ForEach.
func Decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return data, nil
}

// Uint64Key formats a numeric id so that byte order matches numeric order.
func Uint64Key(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Writes inside Update are staged and
// only become visible when fn returns nil.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{base: s.buckets, writes: make(map[string]map[string][]byte), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	for bucket, kv := range tx.writes {
		dst, ok := s.buckets[bucket]
		if !ok {
			dst = make(map[string][]byte)
			s.buckets[bucket] = dst
		}
		for k, v := range kv {
			if v == nil {
				delete(dst, k)
				continue
			}
			dst[k] = v
		}
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{base: s.buckets})
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

type memTx struct {
	base     map[string]map[string][]byte
	writes   map[string]map[string][]byte // nil value marks a delete
	writable bool
}

func (t *memTx) lookup(bucket, key string) ([]byte, bool) {
	if kv, ok := t.writes[bucket]; ok {
		if v, ok := kv[key]; ok {
			return v, v != nil
		}
	}
	v, ok := t.base[bucket][key]
	return v, ok
}

func (t *memTx) stage(bucket, key string, v []byte) {
	kv, ok := t.writes[bucket]
	if !ok {
		kv = make(map[string][]byte)
		t.writes[bucket] = kv
	}
	kv[key] = v
}

func (t *memTx) Put(bucket, key string, v any) error {
	if !t.writable {
		return fmt.Errorf("store: put %s/%s in read-only transaction", bucket, key)
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	t.stage(bucket, key, data)
	return nil
}

func (t *memTx) Get(bucket, key string, v any) (bool, error) {
	data, ok := t.lookup(bucket, key)
	if !ok {
		return false, nil
	}
	if err := Decode(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (t *memTx) Delete(bucket, key string) error {
	if !t.writable {
		return fmt.Errorf("store: delete %s/%s in read-only transaction", bucket, key)
	}
	t.stage(bucket, key, nil)
	return nil
}

func (t *memTx) ForEach(bucket string, fn func(key string, raw []byte) error) error {
	seen := make(map[string]struct{})
	var keys []string
	for k := range t.base[bucket] {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for k := range t.writes[bucket] {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := t.lookup(bucket, k)
		if !ok {
			continue
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

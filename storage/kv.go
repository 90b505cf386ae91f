// Package storage wraps the partition-local KV engine (out of scope per
// spec §1) behind typed accessors and a scoped transaction, per spec §4.1.
// The KV engine itself is a narrow interface; MemKV is an in-memory
// map-backed implementation used by tests, not a production store.
package storage

import (
	"context"
	"sort"
	"sync"
)

// KV is the minimal ordered, transactional read-modify-write engine the
// partition storage layer is built on. A real deployment backs this with a
// linearizable single-writer embedded store; that store's design is out of
// scope per spec §1.
type KV interface {
	// Get returns the value for key, or ok=false if absent.
	Get(ctx context.Context, table, key string) (value []byte, ok bool, err error)
	// WriteBatch atomically applies a set of puts and deletes, in the order
	// they appear in the batch, and returns once durable.
	WriteBatch(ctx context.Context, batch []KVWrite) error
}

// KVWrite is one mutation within a WriteBatch.
type KVWrite struct {
	Table  string
	Key    string
	Value  []byte // ignored when Delete is set
	Delete bool
}

// MemKV is an in-memory KV engine: an unordered Go map per table guarded
// by a single mutex (Keys sorts on demand), matching the "linearizable single-writer" assumption spec
// §1 makes about the real engine.
type MemKV struct {
	mu     sync.Mutex
	tables map[string]map[string][]byte
}

// NewMemKV creates an empty in-memory KV engine.
func NewMemKV() *MemKV {
	return &MemKV{tables: make(map[string]map[string][]byte)}
}

// Get implements KV.
func (m *MemKV) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, false, nil
	}
	v, ok := t[key]
	return v, ok, nil
}

// WriteBatch implements KV.
func (m *MemKV) WriteBatch(ctx context.Context, batch []KVWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range batch {
		t, ok := m.tables[w.Table]
		if !ok {
			t = make(map[string][]byte)
			m.tables[w.Table] = t
		}
		if w.Delete {
			delete(t, w.Key)
			continue
		}
		t[w.Key] = w.Value
	}
	return nil
}

// Keys returns the keys present in table, sorted, giving the key-ordered
// view of a logical table described in spec §6.
func (m *MemKV) Keys(table string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[table]
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

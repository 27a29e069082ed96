package store

import (
	"context"
	"errors"
	"sync"

	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/model"
)

var (
	errReadOnly    = errors.New("store: write in read-only transaction")
	errEmptyRecord = errors.New("store: empty record")
)

type entryKey struct {
	kind Kind
	addr model.Address
}

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
// Update transactions are serialized by a single mutex.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[entryKey][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[entryKey][]byte)}
}

func (s *MemoryStore) View(_ context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memTx{store: s, readOnly: true})
}

func (s *MemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, staged: make(map[entryKey][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.staged {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = v
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// memTx stages writes in an overlay; a nil value marks a deletion.
type memTx struct {
	store    *MemoryStore
	readOnly bool
	staged   map[entryKey][]byte
}

func (t *memTx) lookup(k entryKey) ([]byte, bool) {
	if v, ok := t.staged[k]; ok {
		return v, v != nil
	}
	v, ok := t.store.data[k]
	return v, ok
}

func (t *memTx) Get(_ context.Context, kind Kind, addr model.Address) ([]byte, error) {
	v, ok := t.lookup(entryKey{kind, addr})
	if !ok {
		return nil, notFound(kind, addr)
	}
	return append([]byte(nil), v...), nil
}

func (t *memTx) Create(_ context.Context, kind Kind, addr model.Address, data []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	if len(data) == 0 {
		return errEmptyRecord
	}
	k := entryKey{kind, addr}
	if _, ok := t.lookup(k); ok {
		return alreadyExists(kind, addr)
	}
	t.staged[k] = append([]byte(nil), data...)
	return nil
}

func (t *memTx) Put(_ context.Context, kind Kind, addr model.Address, data []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	if len(data) == 0 {
		return errEmptyRecord
	}
	k := entryKey{kind, addr}
	if _, ok := t.lookup(k); !ok {
		return notFound(kind, addr)
	}
	t.staged[k] = append([]byte(nil), data...)
	return nil
}

func (t *memTx) Delete(_ context.Context, kind Kind, addr model.Address) error {
	if t.readOnly {
		return errReadOnly
	}
	k := entryKey{kind, addr}
	if _, ok := t.lookup(k); !ok {
		return notFound(kind, addr)
	}
	t.staged[k] = nil
	return nil
}

func notFound(kind Kind, addr model.Address) error {
	return errcode.ErrNotFound.Withf("%s %s not found", kind, addr)
}

func alreadyExists(kind Kind, addr model.Address) error {
	return errcode.ErrAlreadyExists.Withf("%s %s already exists", kind, addr)
}

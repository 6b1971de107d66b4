// Package storage provides the keyed table abstraction spec.md §2.2
// describes: insert(key|autogen, value), get, update, delete, enumerate, with
// optional per-entry expiration. It generalizes the teacher's
// internal/server.Sessions (a map guarded by a mutex, keyed by a
// uuid-generated id) from one hardcoded session table into a reusable store
// usable for every table named in spec.md §6 (client and server alike).
package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get/Update/Delete when the key does not exist,
// or existed but has expired.
var ErrNotFound = errors.New("storage: not found")

// Store is a keyed table. Implementations must be safe for concurrent use.
type Store interface {
	// Insert stores value under key. If key is empty, a key is
	// autogenerated and returned.
	Insert(key string, value []byte) (string, error)

	// InsertExpiring is Insert plus an expiration; the entry disappears
	// from Get/Enumerate once expiresAt is reached.
	InsertExpiring(key string, value []byte, expiresAt time.Time) (string, error)

	Get(key string) ([]byte, error)
	Update(key string, value []byte) error
	Delete(key string) error
	Enumerate() (map[string][]byte, error)
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero value means "does not expire"
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Store, grounded on the teacher's
// Sessions{mu sync.RWMutex; sessions map[string]*Session}. Both the client
// and server sides of this core use independent Memory instances (spec.md
// §2.2's "two instances, independent lifetimes").
type Memory struct {
	mu      sync.RWMutex
	rows    map[string]entry
	nowFunc func() time.Time
}

// NewMemory creates an empty table. nowFunc defaults to time.Now; tests may
// override it to make expiration deterministic.
func NewMemory(nowFunc func() time.Time) *Memory {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Memory{
		rows:    make(map[string]entry),
		nowFunc: nowFunc,
	}
}

func (m *Memory) Insert(key string, value []byte) (string, error) {
	return m.InsertExpiring(key, value, time.Time{})
}

func (m *Memory) InsertExpiring(key string, value []byte, expiresAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == "" {
		key = uuid.NewString()
	}
	m.rows[key] = entry{value: value, expiresAt: expiresAt}
	return key, nil
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.expired(m.nowFunc()) {
		delete(m.rows, key)
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Update(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rows[key]
	if !ok || e.expired(m.nowFunc()) {
		return ErrNotFound
	}
	e.value = value
	m.rows[key] = e
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rows[key]
	if !ok {
		return ErrNotFound
	}
	delete(m.rows, key)
	if e.expired(m.nowFunc()) {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) Enumerate() (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	out := make(map[string][]byte, len(m.rows))
	for k, e := range m.rows {
		if e.expired(now) {
			delete(m.rows, k)
			continue
		}
		out[k] = e.value
	}
	return out, nil
}

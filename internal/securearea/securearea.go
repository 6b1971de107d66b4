// Package securearea is the Secure Key Store abstraction of spec.md §2.3:
// non-exportable key pairs created under an opaque alias, signed with, and
// deleted — never read back as a private key. The real app binds this to a
// platform secure element; the pool manager only calls createKey, getKeyInfo,
// and deleteKey (spec.md §2.3); the interface adds Sign for the signing
// hand-off, and has no way to enumerate the keys it holds.
//
// The in-memory implementation generates the same EC keys the teacher's
// internal/cryptoroot package generates for its root/end-entity pairs
// (crypto/ecdsa + crypto/rand), just keyed by alias instead of written to a
// PEM file on disk.
package securearea

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownAlias is returned by GetKeyInfo/Sign/DeleteKey when alias was
// never created, or was already deleted.
var ErrUnknownAlias = errors.New("securearea: unknown alias")

// Alias is the opaque handle returned by CreateKey. Callers never see the
// private key material behind it.
type Alias string

// KeyInfo is everything about a key that is safe to hand to a caller.
type KeyInfo struct {
	Alias     Alias
	PublicKey *ecdsa.PublicKey
}

// Area is the Secure Key Store. Implementations must be safe for concurrent
// use.
type Area interface {
	CreateKey() (KeyInfo, error)
	GetKeyInfo(alias Alias) (KeyInfo, error)
	Sign(alias Alias, digest []byte) ([]byte, error)
	DeleteKey(alias Alias) error
}

// Memory is an in-process Area over P-256 keys, standing in for a platform
// secure element the way the teacher's ecdsa.GenerateKey(elliptic.P256(), ...)
// calls stand in for hardware-backed key generation in its demo server.
type Memory struct {
	mu   sync.Mutex
	keys map[Alias]*ecdsa.PrivateKey
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[Alias]*ecdsa.PrivateKey)}
}

func (m *Memory) CreateKey() (KeyInfo, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("securearea: generate key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	alias := Alias(uuid.NewString())
	m.keys[alias] = key

	return KeyInfo{Alias: alias, PublicKey: &key.PublicKey}, nil
}

func (m *Memory) GetKeyInfo(alias Alias) (KeyInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[alias]
	if !ok {
		return KeyInfo{}, ErrUnknownAlias
	}
	return KeyInfo{Alias: alias, PublicKey: &key.PublicKey}, nil
}

func (m *Memory) Sign(alias Alias, digest []byte) ([]byte, error) {
	m.mu.Lock()
	key, ok := m.keys[alias]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownAlias
	}
	return ecdsa.SignASN1(rand.Reader, key, digest)
}

func (m *Memory) DeleteKey(alias Alias) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[alias]; !ok {
		return ErrUnknownAlias
	}
	delete(m.keys, alias)
	return nil
}

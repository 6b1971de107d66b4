package readerclient

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dzuluaga/MpzIdentityReader/internal/attestation"
	"github.com/dzuluaga/MpzIdentityReader/internal/cryptoroot"
	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
	"github.com/dzuluaga/MpzIdentityReader/internal/securearea"
	"github.com/dzuluaga/MpzIdentityReader/internal/storage"
	"github.com/dzuluaga/MpzIdentityReader/internal/transport"
)

// Config holds the pool manager tunables that aren't themselves collaborator
// objects (the transport, storage, and secure area arrive as constructor
// arguments).
type Config struct {
	// TargetCount is N, the steady-state pool size (typ. 10).
	TargetCount int
}

// ReaderBackendClient is the client pool manager: it keeps a locally
// balanced supply of certified reader keys, replenishing and evicting them
// against freshness and connectivity constraints. Scheduling is cooperative
// and single-threaded per instance: every mutating public method
// serialises on mu, which covers the in-memory pool cache, both storage
// tables, and the secure area.
type ReaderBackendClient struct {
	mu sync.Mutex

	transport  transport.Client
	regStore   storage.Store
	keysStore  storage.Store
	secureArea securearea.Area
	generator  attestation.Generator
	builtIn    *BuiltInTrustManager

	targetCount int
	now         func() time.Time

	pool   map[string]certifiedKey
	loaded bool

	registration *registrationData
}

// NewReaderBackendClient wires a pool manager. builtIn may be nil; the
// client then still answers GetTrustedIssuers, it just never persists a
// rebuilt trust manager (see RefreshTrustedIssuers).
func NewReaderBackendClient(tport transport.Client, regStore, keysStore storage.Store, secureArea securearea.Area, generator attestation.Generator, builtIn *BuiltInTrustManager, cfg Config) *ReaderBackendClient {
	targetCount := cfg.TargetCount
	if targetCount <= 0 {
		targetCount = 10
	}
	return &ReaderBackendClient{
		transport:   tport,
		regStore:    regStore,
		keysStore:   keysStore,
		secureArea:  secureArea,
		generator:   generator,
		builtIn:     builtIn,
		targetCount: targetCount,
		now:         time.Now,
		pool:        make(map[string]certifiedKey),
	}
}

// SetNowFunc overrides the wall clock, for deterministic tests.
func (c *ReaderBackendClient) SetNowFunc(f func() time.Time) { c.now = f }

func (c *ReaderBackendClient) clockNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// loadPoolLocked lazily mirrors keysStore into the in-memory map on first
// use; the map is then the authoritative in-process cache until the
// process restarts.
func (c *ReaderBackendClient) loadPoolLocked() error {
	if c.loaded {
		return nil
	}
	rows, err := c.keysStore.Enumerate()
	if err != nil {
		return fmt.Errorf("readerclient: load pool: %w", err)
	}
	for id, raw := range rows {
		var k certifiedKey
		if err := json.Unmarshal(raw, &k); err != nil {
			return fmt.Errorf("readerclient: decode pool row %s: %w", id, err)
		}
		c.pool[id] = k
	}
	c.loaded = true
	return nil
}

func (c *ReaderBackendClient) findByAliasLocked(alias securearea.Alias) (string, certifiedKey, bool) {
	for id, k := range c.pool {
		if k.Alias == alias {
			return id, k, true
		}
	}
	return "", certifiedKey{}, false
}

// deleteRowLocked removes a row's secure-store material and table row
// together. Both sides are idempotent so a retried call after a partial
// failure is safe.
func (c *ReaderBackendClient) deleteRowLocked(id string) error {
	k, ok := c.pool[id]
	if !ok {
		return nil
	}
	if err := c.secureArea.DeleteKey(k.Alias); err != nil && !errors.Is(err, securearea.ErrUnknownAlias) {
		return fmt.Errorf("readerclient: delete key material for row %s: %w", id, err)
	}
	if err := c.keysStore.Delete(id); err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("readerclient: delete pool row %s: %w", id, err)
	}
	delete(c.pool, id)
	return nil
}

// GetKey is spec.md §4.3's getKey(now): best-effort replenish, then return
// the oldest still-valid key.
func (c *ReaderBackendClient) GetKey(ctx context.Context, now time.Time) (securearea.KeyInfo, [][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureReplenishedLocked(ctx, now); errors.Is(err, ErrRegistrationLost) {
		_ = c.ensureReplenishedLocked(ctx, now) // retry once, per spec.md §4.3
	}
	// Any other replenishment error is swallowed here: getKey is
	// best-effort and only surfaces the terminal ErrNoValidKey below.

	if err := c.loadPoolLocked(); err != nil {
		return securearea.KeyInfo{}, nil, err
	}

	// Candidates are tried oldest-validFrom-first; a row whose alias no
	// longer exists in the secure store is corrupt (never expected in
	// practice, see pool.go's rollback high-water mark) and is dropped
	// rather than surfaced, so one bad row can't hide the rest of an
	// otherwise-valid pool behind ErrUnknownAlias.
	var candidates []string
	for id, k := range c.pool {
		if k.validAt(now) {
			candidates = append(candidates, id)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return c.pool[candidates[i]].ValidFrom.Before(c.pool[candidates[j]].ValidFrom)
	})

	for _, id := range candidates {
		k := c.pool[id]
		info, err := c.secureArea.GetKeyInfo(k.Alias)
		if err != nil {
			if errors.Is(err, securearea.ErrUnknownAlias) {
				_ = c.deleteRowLocked(id)
				continue
			}
			return securearea.KeyInfo{}, nil, fmt.Errorf("readerclient: %w", err)
		}
		return info, k.CertChain, nil
	}
	return securearea.KeyInfo{}, nil, ErrNoValidKey
}

// MarkKeyAsUsed is spec.md §4.3's markKeyAsUsed(keyInfo, now): delete the
// key unless it is the last one, in which case try to replenish first and
// only then delete it — the continuity principle of spec.md §4.3/§9.
func (c *ReaderBackendClient) MarkKeyAsUsed(ctx context.Context, info securearea.KeyInfo, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadPoolLocked(); err != nil {
		return err
	}

	rowID, _, ok := c.findByAliasLocked(info.Alias)
	if !ok {
		return ErrUnknownKey
	}

	if len(c.pool) > 1 {
		return c.deleteRowLocked(rowID)
	}

	err := c.ensureReplenishedLocked(ctx, now)
	if errors.Is(err, ErrRegistrationLost) {
		err = c.ensureReplenishedLocked(ctx, now)
	}
	if err != nil {
		return nil // offline: retain the last key rather than surface Transport
	}

	if _, _, ok := c.findByAliasLocked(info.Alias); !ok {
		return nil // ensureReplenished's own refreshAt eviction already took it
	}
	if len(c.pool) <= 1 {
		return nil // replenishment ran but produced no net-new good keys
	}
	return c.deleteRowLocked(rowID)
}

// ensureRegisteredLocked is spec.md §4.3's ensureRegistered(): return the
// cached/persisted registration, or perform getNonce→generateAttestation→
// register and persist the result.
func (c *ReaderBackendClient) ensureRegisteredLocked(ctx context.Context) (*registrationData, error) {
	if c.registration != nil {
		return c.registration, nil
	}

	raw, err := c.regStore.Get(registrationKey)
	if err == nil {
		var rd registrationData
		if err := json.Unmarshal(raw, &rd); err != nil {
			return nil, fmt.Errorf("readerclient: decode registration: %w", err)
		}
		c.registration = &rd
		return &rd, nil
	}
	if err != storage.ErrNotFound {
		return nil, fmt.Errorf("readerclient: load registration: %w", err)
	}

	nonce, err := c.getNonce(ctx)
	if err != nil {
		return nil, err
	}

	blob, key, err := c.generator.GenerateAttestation(nonce)
	if err != nil {
		return nil, fmt.Errorf("readerclient: generate attestation: %w", err)
	}

	registrationID, err := c.register(ctx, nonce, blob)
	if err != nil {
		return nil, err
	}

	keyPEM, err := cryptoroot.EncodeKeyPEM(key)
	if err != nil {
		return nil, fmt.Errorf("readerclient: encode attestation key: %w", err)
	}

	rd := registrationData{AttestationKeyPEM: keyPEM, RegistrationID: registrationID}
	raw2, err := json.Marshal(rd)
	if err != nil {
		return nil, fmt.Errorf("readerclient: encode registration: %w", err)
	}
	if _, err := c.regStore.Insert(registrationKey, raw2); err != nil {
		return nil, fmt.Errorf("readerclient: store registration: %w", err)
	}
	c.registration = &rd
	return &rd, nil
}

// ensureReplenishedLocked implements the algorithm of spec.md §4.3.
func (c *ReaderBackendClient) ensureReplenishedLocked(ctx context.Context, now time.Time) error {
	if err := c.loadPoolLocked(); err != nil {
		return err
	}

	var toDelete []string
	goodCount := 0
	for id, k := range c.pool {
		if now.After(k.RefreshAt) {
			toDelete = append(toDelete, id)
			continue
		}
		if k.validAt(now) {
			goodCount++
		}
	}

	if goodCount > c.targetCount/2 {
		for _, id := range toDelete {
			if err := c.deleteRowLocked(id); err != nil {
				return err
			}
		}
		return nil
	}

	rd, err := c.ensureRegisteredLocked(ctx)
	if err != nil {
		return err
	}

	nonce, err := c.getNonce(ctx)
	if err != nil {
		return err
	}

	attestationKey, err := cryptoroot.DecodeKeyPEM(rd.AttestationKeyPEM)
	if err != nil {
		return fmt.Errorf("readerclient: decode attestation key: %w", err)
	}

	assertion, err := c.generator.GenerateAssertion(nonce, attestationKey)
	if err != nil {
		return fmt.Errorf("readerclient: generate assertion: %w", err)
	}

	need := c.targetCount - goodCount
	created := make([]securearea.KeyInfo, 0, need)
	// committed tracks how many of created have already been written to
	// keysStore/c.pool as live rows; rollback must only discard the
	// uncommitted tail, never an alias a CertifiedKey row already points
	// at (spec.md §3: "the secure-store key at alias exists for every
	// row").
	committed := 0
	rollback := func() {
		for _, info := range created[committed:] {
			_ = c.secureArea.DeleteKey(info.Alias)
		}
	}

	for i := 0; i < need; i++ {
		info, err := c.secureArea.CreateKey()
		if err != nil {
			rollback()
			return fmt.Errorf("readerclient: create key %d/%d: %w", i+1, need, err)
		}
		created = append(created, info)
	}

	jwks := make([]protocol.JWK, len(created))
	for i, info := range created {
		jwk, err := protocol.ECPublicKeyToJWK(info.PublicKey)
		if err != nil {
			rollback()
			return fmt.Errorf("readerclient: encode jwk %d: %w", i, err)
		}
		jwks[i] = jwk
	}

	chains, status, err := c.certifyKeys(ctx, rd.RegistrationID, nonce, assertion, jwks)
	if status == http.StatusNotFound {
		// Per spec.md §9 open question 2, this implementation discards
		// the keys it just created rather than carrying them across the
		// re-registration: they were never certified, so nothing else
		// references their aliases, and discarding keeps the retry's
		// need calculation simple.
		rollback()
		if derr := c.regStore.Delete(registrationKey); derr != nil && derr != storage.ErrNotFound {
			return fmt.Errorf("readerclient: drop lost registration: %w", derr)
		}
		c.registration = nil
		return ErrRegistrationLost
	}
	if err != nil {
		rollback()
		return err
	}
	if len(chains) != len(jwks) {
		rollback()
		return fmt.Errorf("readerclient: certifyKeys returned %d certifications for %d keys", len(chains), len(jwks))
	}

	for i, info := range created {
		chain := chains[i]
		if len(chain) == 0 {
			rollback()
			return fmt.Errorf("readerclient: empty certification chain for key %d", i)
		}
		leaf, err := x509.ParseCertificate(chain[0])
		if err != nil {
			rollback()
			return fmt.Errorf("readerclient: parse leaf certificate %d: %w", i, err)
		}

		ck := certifiedKey{
			Alias:      info.Alias,
			CertChain:  chain,
			ValidFrom:  leaf.NotBefore,
			ValidUntil: leaf.NotAfter,
		}
		ck.RefreshAt = ck.ValidFrom.Add(ck.ValidUntil.Sub(ck.ValidFrom) * 2 / 3)

		raw, err := json.Marshal(ck)
		if err != nil {
			rollback()
			return fmt.Errorf("readerclient: encode certified key %d: %w", i, err)
		}
		rowID, err := c.keysStore.Insert("", raw)
		if err != nil {
			rollback()
			return fmt.Errorf("readerclient: store certified key %d: %w", i, err)
		}
		c.pool[rowID] = ck
		committed = i + 1
	}

	for _, id := range toDelete {
		if err := c.deleteRowLocked(id); err != nil {
			return err
		}
	}
	return nil
}

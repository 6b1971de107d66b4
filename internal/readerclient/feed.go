package readerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
	"github.com/dzuluaga/MpzIdentityReader/internal/storage"
	"github.com/dzuluaga/MpzIdentityReader/internal/trustlist"
)

// builtInVersionKey is the single meta row key storing
// builtInIssuersVersion/builtInIssuersUpdatedAt, per spec.md §4.4.
const builtInVersionKey = "builtin"

type builtInMeta struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BuiltInTrustManager is the client-side "built-in" trust manager of
// spec.md §3/§4.4, entirely replaced on every successful feed pull. It is
// disjoint from and does not touch the user-managed trust list.
type BuiltInTrustManager struct {
	mu      sync.Mutex
	entries storage.Store
	meta    storage.Store
}

// NewBuiltInTrustManager wires a manager over two tables: entries (ordered
// via zero-padded index keys, since storage.Store.Enumerate does not
// preserve insertion order) and meta (the single version/updatedAt row).
func NewBuiltInTrustManager(entries, meta storage.Store) *BuiltInTrustManager {
	return &BuiltInTrustManager{entries: entries, meta: meta}
}

// Replace rebuilds the manager's entries wholesale: enumerate the existing
// rows, delete them, insert the new list in order, then persist the new
// version/timestamp — spec.md §4.4's exact sequence.
func (m *BuiltInTrustManager) Replace(feed trustlist.Feed, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.entries.Enumerate()
	if err != nil {
		return fmt.Errorf("readerclient: enumerate built-in issuers: %w", err)
	}
	for key := range existing {
		if err := m.entries.Delete(key); err != nil && err != storage.ErrNotFound {
			return fmt.Errorf("readerclient: delete built-in issuer %s: %w", key, err)
		}
	}

	for i, e := range feed.Entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("readerclient: encode built-in issuer %d: %w", i, err)
		}
		if _, err := m.entries.Insert(orderedKey(i), raw); err != nil {
			return fmt.Errorf("readerclient: insert built-in issuer %d: %w", i, err)
		}
	}

	raw, err := json.Marshal(builtInMeta{Version: feed.Version, UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("readerclient: encode built-in issuers meta: %w", err)
	}
	if err := m.meta.Update(builtInVersionKey, raw); err != nil {
		if err != storage.ErrNotFound {
			return fmt.Errorf("readerclient: update built-in issuers meta: %w", err)
		}
		if _, err := m.meta.Insert(builtInVersionKey, raw); err != nil {
			return fmt.Errorf("readerclient: insert built-in issuers meta: %w", err)
		}
	}
	return nil
}

// Entries returns the currently-applied list, in the order it was last
// inserted.
func (m *BuiltInTrustManager) Entries() ([]trustlist.IssuerTrustEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.entries.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("readerclient: enumerate built-in issuers: %w", err)
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]trustlist.IssuerTrustEntry, 0, len(keys))
	for _, k := range keys {
		var e trustlist.IssuerTrustEntry
		if err := json.Unmarshal(rows[k], &e); err != nil {
			return nil, fmt.Errorf("readerclient: decode built-in issuer %s: %w", k, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Version returns the last-applied version and timestamp, or ok=false if
// the manager has never been populated.
func (m *BuiltInTrustManager) Version() (version int64, updatedAt time.Time, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.meta.Get(builtInVersionKey)
	if err == storage.ErrNotFound {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("readerclient: load built-in issuers meta: %w", err)
	}
	var meta builtInMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return 0, time.Time{}, false, fmt.Errorf("readerclient: decode built-in issuers meta: %w", err)
	}
	return meta.Version, meta.UpdatedAt, true, nil
}

func orderedKey(i int) string {
	return fmt.Sprintf("%06d", i)
}

// GetTrustedIssuers is spec.md §4.3's getTrustedIssuers(currentVersion):
// delegate to the server and return nil (no update) when the server
// reports upToDate.
func (c *ReaderBackendClient) GetTrustedIssuers(ctx context.Context, currentVersion *int64) (*trustlist.Feed, error) {
	req := protocol.GetIssuerListRequest{CurrentVersion: currentVersion}
	var resp protocol.GetIssuerListResponse
	if _, err := c.transport.Post(ctx, "getIssuerList", req, &resp); err != nil {
		return nil, fmt.Errorf("readerclient: getIssuerList: %w", err)
	}
	if resp.UpToDate {
		return nil, nil
	}

	entries := make([]trustlist.IssuerTrustEntry, len(resp.Entries))
	for i, w := range resp.Entries {
		e, err := trustlist.FromWire(w)
		if err != nil {
			return nil, fmt.Errorf("readerclient: decode issuer entry %d: %w", i, err)
		}
		entries[i] = e
	}
	return &trustlist.Feed{Version: resp.Version, Entries: entries}, nil
}

// RefreshTrustedIssuers is the client-driven pull of spec.md §4.4: each call
// fetches against the built-in manager's last-applied version and replaces
// it on update. It performs one pull per call; this package does not
// schedule repeated pulls (IssuerFeedInterval names the cadence).
func (c *ReaderBackendClient) RefreshTrustedIssuers(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current *int64
	if c.builtIn != nil {
		version, _, ok, err := c.builtIn.Version()
		if err != nil {
			return err
		}
		if ok {
			current = &version
		}
	}

	feed, err := c.GetTrustedIssuers(ctx, current)
	if err != nil {
		return err
	}
	if feed == nil || c.builtIn == nil {
		return nil
	}
	return c.builtIn.Replace(*feed, now)
}

// IssuerFeedInterval is the pull cadence of spec.md §4.4.
const IssuerFeedInterval = 4 * time.Hour

// Package readerbackend implements the Server Reader Backend of spec.md
// §4.2: nonce minting, device registration, key certification, and
// issuer-list distribution. It generalizes the teacher's
// internal/server.Server — a stateless-over-Sessions verifier backend — into
// a stateless-over-storage.Store reader-certification backend: nonces and
// registrations move from an in-memory Sessions map straight into
// internal/storage, and the teacher's cryptoroot-generated signing identity
// becomes two independently persisted reader roots (trusted /
// untrusted-devices), per spec.md §3.
package readerbackend

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dzuluaga/MpzIdentityReader/internal/attestation"
	"github.com/dzuluaga/MpzIdentityReader/internal/cryptoroot"
	"github.com/dzuluaga/MpzIdentityReader/internal/storage"
	"github.com/dzuluaga/MpzIdentityReader/internal/trustlist"
)

// RootSlotTrusted and RootSlotUntrusted are the named persistence slots from
// spec.md §3 ("reader_root_identity" and
// "reader_root_identity_untrusted_devices").
const (
	RootSlotTrusted   = "reader_root_identity"
	RootSlotUntrusted = "reader_root_identity_untrusted_devices"
)

// Config is the server configuration table of spec.md §6.
type Config struct {
	ReaderCertValidityDays int
	Policy                 attestation.Policy
	// MaintainUntrustedRoot enables the second root slot: attestation
	// policy failures still succeed registration, but are tagged to
	// certify under the untrusted root, per spec.md §4.2.
	MaintainUntrustedRoot bool
	Verbose               bool
}

func (c Config) certValidity() time.Duration {
	return time.Duration(c.ReaderCertValidityDays) * 24 * time.Hour
}

// Backend is the Server Reader Backend. Handlers are stateless across
// requests; all correctness relies on storage.Store providing linearizable
// single-key operations, per spec.md §5.
type Backend struct {
	nonces  storage.Store
	clients storage.Store

	rootStore storage.Store
	validator attestation.Validator

	config Config
	now    func() time.Time

	trustedRoot   *cryptoroot.ReaderRootIdentity
	untrustedRoot *cryptoroot.ReaderRootIdentity

	trustList trustlist.Feed
}

// NewBackend wires a fresh backend, loading or generating its reader root
// identities from rootStore. Grounded on the teacher's NewServer(), which
// loads/generates its signing identity exactly once at construction time.
func NewBackend(nonces, clients, rootStore storage.Store, validator attestation.Validator, config Config, trustList trustlist.Feed) (*Backend, error) {
	trustedRoot, err := loadOrGenerateRoot(rootStore, RootSlotTrusted)
	if err != nil {
		return nil, fmt.Errorf("readerbackend: load trusted root: %w", err)
	}

	b := &Backend{
		nonces:      nonces,
		clients:     clients,
		rootStore:   rootStore,
		validator:   validator,
		config:      config,
		now:         time.Now,
		trustedRoot: trustedRoot,
		trustList:   trustList,
	}

	if config.MaintainUntrustedRoot {
		untrustedRoot, err := loadOrGenerateRoot(rootStore, RootSlotUntrusted)
		if err != nil {
			return nil, fmt.Errorf("readerbackend: load untrusted root: %w", err)
		}
		b.untrustedRoot = untrustedRoot
	}

	return b, nil
}

// SetNowFunc overrides the wall clock, for deterministic tests (spec.md §5).
func (b *Backend) SetNowFunc(f func() time.Time) { b.now = f }

func loadOrGenerateRoot(store storage.Store, slot string) (*cryptoroot.ReaderRootIdentity, error) {
	raw, err := store.Get(slot)
	if err == nil {
		return decodeRoot(raw)
	}
	if err != storage.ErrNotFound {
		return nil, err
	}

	root, err := cryptoroot.GenerateReaderRoot("Multipaz Identity Reader Root CA")
	if err != nil {
		return nil, err
	}
	encoded, err := encodeRoot(root)
	if err != nil {
		return nil, err
	}
	if _, err := store.Insert(slot, encoded); err != nil {
		return nil, err
	}
	return root, nil
}

type encodedRoot struct {
	Key  []byte `json:"key"`
	Cert []byte `json:"cert"`
}

func encodeRoot(root *cryptoroot.ReaderRootIdentity) ([]byte, error) {
	keyPEM, err := cryptoroot.EncodeKeyPEM(root.PrivateKey)
	if err != nil {
		return nil, err
	}
	certPEM := cryptoroot.EncodeCertChainPEM([][]byte{root.Cert.Raw})
	return json.Marshal(encodedRoot{Key: keyPEM, Cert: certPEM})
}

func decodeRoot(raw []byte) (*cryptoroot.ReaderRootIdentity, error) {
	var er encodedRoot
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, err
	}
	key, err := cryptoroot.DecodeKeyPEM(er.Key)
	if err != nil {
		return nil, err
	}
	certs, err := cryptoroot.DecodeCertChainPEM(er.Cert)
	if err != nil {
		return nil, err
	}
	return &cryptoroot.ReaderRootIdentity{PrivateKey: key, Cert: certs[0]}, nil
}

func (b *Backend) debugf(format string, args ...interface{}) {
	if b.config.Verbose {
		log.Printf(format, args...)
	}
}

// rootFor selects the trusted or untrusted-devices root for a registration,
// per spec.md §4.2: "registration still succeeds but the registrationId is
// tagged so later certifications use the untrusted-device root."
func (b *Backend) rootFor(untrusted bool) *cryptoroot.ReaderRootIdentity {
	if untrusted && b.untrustedRoot != nil {
		return b.untrustedRoot
	}
	return b.trustedRoot
}

// Package trustlist implements the issuer trust feed: a versioned,
// server-distributed list of trusted mdoc issuers. The client-side
// built-in trust manager that replaces its contents wholesale on every
// update is internal/readerclient's BuiltInTrustManager. IssuerTrustEntry
// is a tagged union (iaca | vical) decoded as a flat struct with a kind
// field rather than as an interface hierarchy.
package trustlist

import (
	"crypto/x509"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/veraison/go-cose"
)

type EntryKind string

const (
	KindIACA  EntryKind = "iaca"
	KindVICAL EntryKind = "vical"
)

// Metadata is the non-secret display information carried alongside every
// entry.
type Metadata struct {
	DisplayName      string `mapstructure:"displayName"`
	Icon             string `mapstructure:"icon,omitempty"`
	PrivacyPolicyURL string `mapstructure:"privacyPolicyUrl,omitempty"`
	TestOnly         bool   `mapstructure:"testOnly,omitempty"`
}

// IssuerTrustEntry is the tagged union {iaca, vical}.
type IssuerTrustEntry struct {
	Kind EntryKind

	// Cert is set when Kind == KindIACA: a DER-encoded issuer CA
	// certificate.
	Cert []byte

	// SignedVICAL is set when Kind == KindVICAL: a COSE Sign1-signed
	// CBOR-encoded VICAL payload (ISO/IEC 18013-5 Annex C).
	SignedVICAL []byte

	Metadata Metadata
}

// DecodeMetadata turns a loosely-typed map (as decoded off an arbitrary JSON
// transport) into Metadata.
func DecodeMetadata(raw map[string]interface{}) (Metadata, error) {
	var m Metadata
	if err := mapstructure.Decode(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("trustlist: decode metadata: %w", err)
	}
	return m, nil
}

// IACACertificate parses Cert for a KindIACA entry.
func (e IssuerTrustEntry) IACACertificate() (*x509.Certificate, error) {
	if e.Kind != KindIACA {
		return nil, fmt.Errorf("trustlist: entry is not %q", KindIACA)
	}
	return x509.ParseCertificate(e.Cert)
}

// VerifyVICAL verifies the entry's SignedVICAL against the given candidate
// verifier and returns the decoded payload on success. Establishing trust in
// the verifier's key (typically the VICAL's own embedded certificate) is
// left to the caller; this only checks a signature it is handed.
func (e IssuerTrustEntry) VerifyVICAL(verifier cose.Verifier) (*VICALPayload, error) {
	if e.Kind != KindVICAL {
		return nil, fmt.Errorf("trustlist: entry is not %q", KindVICAL)
	}
	return VerifySignedVICAL(e.SignedVICAL, verifier)
}

// Feed is the full versioned list distributed by getIssuerList.
type Feed struct {
	Version int64
	Entries []IssuerTrustEntry
}

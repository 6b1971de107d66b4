package trustlist

import (
	"encoding/base64"
	"fmt"

	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
)

// ToWire renders e as the wire-shape protocol.IssuerEntry, base64url
// encoding its binary fields.
func (e IssuerTrustEntry) ToWire() protocol.IssuerEntry {
	w := protocol.IssuerEntry{
		Type: string(e.Kind),
		Metadata: protocol.IssuerMetadata{
			DisplayName:      e.Metadata.DisplayName,
			Icon:             e.Metadata.Icon,
			PrivacyPolicyURL: e.Metadata.PrivacyPolicyURL,
			TestOnly:         e.Metadata.TestOnly,
		},
	}
	switch e.Kind {
	case KindIACA:
		w.Cert = base64.RawURLEncoding.EncodeToString(e.Cert)
	case KindVICAL:
		w.SignedVICAL = base64.RawURLEncoding.EncodeToString(e.SignedVICAL)
	}
	return w
}

// FromWire is the inverse of ToWire, used by internal/readerclient when
// rebuilding its built-in trust manager from a getIssuerList response.
func FromWire(w protocol.IssuerEntry) (IssuerTrustEntry, error) {
	e := IssuerTrustEntry{
		Kind: EntryKind(w.Type),
		Metadata: Metadata{
			DisplayName:      w.Metadata.DisplayName,
			Icon:             w.Metadata.Icon,
			PrivacyPolicyURL: w.Metadata.PrivacyPolicyURL,
			TestOnly:         w.Metadata.TestOnly,
		},
	}
	switch e.Kind {
	case KindIACA:
		cert, err := base64.RawURLEncoding.DecodeString(w.Cert)
		if err != nil {
			return IssuerTrustEntry{}, fmt.Errorf("trustlist: decode cert: %w", err)
		}
		e.Cert = cert
	case KindVICAL:
		signed, err := base64.RawURLEncoding.DecodeString(w.SignedVICAL)
		if err != nil {
			return IssuerTrustEntry{}, fmt.Errorf("trustlist: decode signedVical: %w", err)
		}
		e.SignedVICAL = signed
	default:
		return IssuerTrustEntry{}, fmt.Errorf("trustlist: unknown entry type %q", w.Type)
	}
	return e, nil
}

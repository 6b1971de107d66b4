package readerclient

import (
	"time"

	"github.com/dzuluaga/MpzIdentityReader/internal/securearea"
)

// registrationKey is the fixed single row key for the persisted
// registration record.
const registrationKey = "default"

// registrationData is the client-persisted handle to this device's
// attestation. AttestationKeyPEM is the attested EC private key produced
// alongside the attestation blob at register time, a stand-in for a
// platform's opaque deviceAttestationId handle, since GenerateAssertion
// needs that same key again on every subsequent certifyKeys call.
type registrationData struct {
	AttestationKeyPEM []byte `json:"attestationKeyPem"`
	RegistrationID    string `json:"registrationId"`
}

// certifiedKey is a client-persisted CertifiedKey row.
type certifiedKey struct {
	Alias      securearea.Alias `json:"alias"`
	CertChain  [][]byte         `json:"certChain"`
	ValidFrom  time.Time        `json:"validFrom"`
	ValidUntil time.Time        `json:"validUntil"`
	RefreshAt  time.Time        `json:"refreshAt"`
}

// validAt reports whether now falls strictly between ValidFrom and
// ValidUntil.
func (k certifiedKey) validAt(now time.Time) bool {
	return k.ValidFrom.Before(now) && now.Before(k.ValidUntil)
}

package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"

	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
)

// coseEC2Key is the COSE_Key (RFC 8152 §13.1) CBOR shape for an EC2 key,
// keyed the same way the teacher's mdoc.COSEKey is (int labels 1/3/-1/-2/-3),
// so that webauthncose.ParsePublicKey on the receiving side decodes it.
type coseEC2Key struct {
	Kty int    `cbor:"1,keyasint"`
	Alg int    `cbor:"3,keyasint"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

const (
	coseKtyEC2  = 2
	coseAlgES256 = -7
	coseCrvP256  = 1
)

// Generator is the device-side counterpart of Validator: it is how the
// reader device produces the opaque Blob/Assertion this core hands off to
// the backend. Real implementations call into platform APIs (App Attest,
// Play Integrity) per spec.md §1's Non-goals; CBORGenerator is the reference
// implementation that pairs with CBORValidator for local development and
// tests.
type Generator interface {
	GenerateAttestation(challenge protocol.Nonce) (Blob, *ecdsa.PrivateKey, error)
	GenerateAssertion(challenge protocol.Nonce, key *ecdsa.PrivateKey) (Assertion, error)
}

// CBORGenerator fabricates attestation/assertion envelopes describing a
// single simulated device, identified by Platform/AppIdentifier and the
// other Evidence fields.
type CBORGenerator struct {
	Platform          string
	AppIdentifier     string
	ReleaseBuild      bool
	GMSAttested       bool
	VerifiedBootGreen bool
	SigningCertSHA256 string
}

func (g CBORGenerator) GenerateAttestation(challenge protocol.Nonce) (Blob, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("attestation: generate attested key: %w", err)
	}

	coseKey, err := cbor.Marshal(coseEC2Key{
		Kty: coseKtyEC2,
		Alg: coseAlgES256,
		Crv: coseCrvP256,
		X:   key.X.Bytes(),
		Y:   key.Y.Bytes(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("attestation: encode attested key: %w", err)
	}

	env := envelope{
		Platform:          g.Platform,
		AppIdentifier:     g.AppIdentifier,
		ReleaseBuild:      g.ReleaseBuild,
		GMSAttested:       g.GMSAttested,
		VerifiedBootGreen: g.VerifiedBootGreen,
		SigningCertSHA256: g.SigningCertSHA256,
		Challenge:         []byte(challenge),
		PublicKey:         coseKey,
	}
	blob, err := webauthncbor.Marshal(env)
	if err != nil {
		return nil, nil, fmt.Errorf("attestation: marshal blob: %w", err)
	}
	return Blob(blob), key, nil
}

func (g CBORGenerator) GenerateAssertion(challenge protocol.Nonce, key *ecdsa.PrivateKey) (Assertion, error) {
	digest := sha256.Sum256([]byte(challenge))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("attestation: sign assertion: %w", err)
	}
	env := assertionEnvelope{
		Challenge: []byte(challenge),
		Signature: sig,
	}
	b, err := webauthncbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("attestation: marshal assertion: %w", err)
	}
	return Assertion(b), nil
}

// Package attestation is the Attestation / Assertion Adapter of spec.md §2.1:
// it wraps platform-specific device-integrity evidence into opaque blobs and
// validates them against a policy, binding to a fresh challenge nonce. The
// actual platform validators (Apple App Attest, Android Play Integrity) are
// external collaborators per spec.md §1 and are not implemented here; this
// package defines the Validator seam the core calls through, plus a CBOR/COSE
// based reference Validator for local development and tests, grounded on the
// same github.com/go-webauthn/webauthn primitives the teacher uses in
// internal/model/dpk.go to parse and verify device-bound attestation
// evidence (webauthncbor.Unmarshal, webauthncose.ParsePublicKey/VerifySignature).
package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"

	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
)

// Blob is the opaque device attestation evidence produced on register,
// bound to a challenge nonce at creation time (spec.md §3).
type Blob []byte

// Assertion is a live signature over a nonce, binding a prior attestation to
// the present moment (GLOSSARY: "Device assertion").
type Assertion []byte

var (
	ErrPolicyRejected    = errors.New("attestation: policy rejected")
	ErrChallengeMismatch = errors.New("attestation: challenge mismatch")
)

// Policy is the configuration table from spec.md §6.
type Policy struct {
	IOSReleaseBuild                     bool
	IOSAppIdentifier                    string
	AndroidRequireGMSAttestation        bool
	AndroidRequireVerifiedBootGreen     bool
	AndroidAppSignatureCertificateSHA256 []string
}

// Evidence is everything this core needs out of a validated attestation,
// independent of which platform produced it.
type Evidence struct {
	Platform          string // "ios" | "android"
	AppIdentifier      string
	ReleaseBuild      bool
	GMSAttested       bool
	VerifiedBootGreen bool
	SigningCertSHA256 string
	PublicKey         *ecdsa.PublicKey

	// cosePublicKey is the same attested key in the webauthncose shape
	// ParsePublicKey handed back, kept alongside PublicKey so
	// ValidateAssertion can verify through webauthncose.VerifySignature
	// instead of re-deriving it from PublicKey's curve/X/Y.
	cosePublicKey webauthncose.EC2PublicKeyData
}

// Validator is the seam this core calls through; a concrete implementation
// is injected by internal/readerbackend. ValidateAttestation binds blob to
// challenge and enforces policy. ParseEvidence re-derives the same Evidence
// from a previously-accepted blob without re-checking the (by then
// consumed) original challenge or policy — certifyKeys needs the device's
// attested public key again to check the live assertion, but the nonce it
// was originally bound to no longer exists (spec.md §4.2: "validates the
// assertion binds to the stored attestation"). ValidateAssertion checks that
// assertion is a live signature over challenge by the key bound in evidence.
type Validator interface {
	ValidateAttestation(blob Blob, challenge protocol.Nonce, policy Policy) (*Evidence, error)
	ParseEvidence(blob Blob) (*Evidence, error)
	ValidateAssertion(assertion Assertion, challenge protocol.Nonce, evidence *Evidence) error
}

// envelope is the reference Validator's wire format for Blob/Assertion. Real
// platform attestations are opaque to this core (spec.md §2.1); this format
// only exists so the reference Validator below has something concrete to
// decode in development and in tests.
type envelope struct {
	Platform          string          `cbor:"platform"`
	AppIdentifier     string          `cbor:"appIdentifier"`
	ReleaseBuild      bool            `cbor:"releaseBuild"`
	GMSAttested       bool            `cbor:"gmsAttested"`
	VerifiedBootGreen bool            `cbor:"verifiedBootGreen"`
	SigningCertSHA256 string          `cbor:"signingCertSha256"`
	Challenge         []byte          `cbor:"challenge"`
	PublicKey         []byte          `cbor:"publicKey"` // COSE_Key bytes
}

type assertionEnvelope struct {
	Challenge []byte `cbor:"challenge"`
	Signature []byte `cbor:"signature"`
}

// CBORValidator is the reference Validator: it decodes envelope/
// assertionEnvelope CBOR structures with webauthncbor, the same decoder the
// teacher uses for WebAuthn's devicePubKey extension output.
type CBORValidator struct{}

func NewCBORValidator() *CBORValidator { return &CBORValidator{} }

func (CBORValidator) ValidateAttestation(blob Blob, challenge protocol.Nonce, policy Policy) (*Evidence, error) {
	ev, env, err := decodeEnvelope(blob)
	if err != nil {
		return nil, err
	}
	if len(env.Challenge) == 0 || string(env.Challenge) != string(challenge) {
		return nil, ErrChallengeMismatch
	}
	if err := enforcePolicy(ev, policy); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParseEvidence re-decodes blob without checking a challenge or enforcing
// policy; both were already done once, at register time.
func (CBORValidator) ParseEvidence(blob Blob) (*Evidence, error) {
	ev, _, err := decodeEnvelope(blob)
	return ev, err
}

func decodeEnvelope(blob Blob) (*Evidence, envelope, error) {
	var env envelope
	if err := webauthncbor.Unmarshal(blob, &env); err != nil {
		return nil, env, fmt.Errorf("attestation: decode blob: %w", err)
	}

	pub, err := webauthncose.ParsePublicKey(env.PublicKey)
	if err != nil {
		return nil, env, fmt.Errorf("attestation: parse attested public key: %w", err)
	}
	ecKey, ok := pub.(webauthncose.EC2PublicKeyData)
	if !ok {
		return nil, env, fmt.Errorf("attestation: unsupported attested key type %T", pub)
	}
	if ecKey.Curve != coseCrvP256 {
		return nil, env, fmt.Errorf("attestation: unsupported attested key curve %d", ecKey.Curve)
	}
	ecdsaPub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(ecKey.XCoord),
		Y:     new(big.Int).SetBytes(ecKey.YCoord),
	}

	ev := &Evidence{
		Platform:          env.Platform,
		AppIdentifier:     env.AppIdentifier,
		ReleaseBuild:      env.ReleaseBuild,
		GMSAttested:       env.GMSAttested,
		VerifiedBootGreen: env.VerifiedBootGreen,
		SigningCertSHA256: env.SigningCertSHA256,
		PublicKey:         ecdsaPub,
		cosePublicKey:     ecKey,
	}
	return ev, env, nil
}

func (CBORValidator) ValidateAssertion(assertion Assertion, challenge protocol.Nonce, evidence *Evidence) error {
	var env assertionEnvelope
	if err := webauthncbor.Unmarshal(assertion, &env); err != nil {
		return fmt.Errorf("attestation: decode assertion: %w", err)
	}
	if len(env.Challenge) == 0 || string(env.Challenge) != string(challenge) {
		return ErrChallengeMismatch
	}
	valid, err := webauthncose.VerifySignature(evidence.cosePublicKey, env.Challenge, env.Signature)
	if err != nil {
		return fmt.Errorf("attestation: verify assertion signature: %w", err)
	}
	if !valid {
		return fmt.Errorf("attestation: %w: assertion signature invalid", ErrPolicyRejected)
	}
	return nil
}

func enforcePolicy(ev *Evidence, policy Policy) error {
	switch ev.Platform {
	case "ios":
		if policy.IOSReleaseBuild && !ev.ReleaseBuild {
			return fmt.Errorf("attestation: %w: non-release iOS build", ErrPolicyRejected)
		}
		if policy.IOSAppIdentifier != "" && ev.AppIdentifier != policy.IOSAppIdentifier {
			return fmt.Errorf("attestation: %w: unexpected app identifier %q", ErrPolicyRejected, ev.AppIdentifier)
		}
	case "android":
		if policy.AndroidRequireGMSAttestation && !ev.GMSAttested {
			return fmt.Errorf("attestation: %w: missing GMS attestation", ErrPolicyRejected)
		}
		if policy.AndroidRequireVerifiedBootGreen && !ev.VerifiedBootGreen {
			return fmt.Errorf("attestation: %w: verified boot state not green", ErrPolicyRejected)
		}
		if len(policy.AndroidAppSignatureCertificateSHA256) > 0 && !contains(policy.AndroidAppSignatureCertificateSHA256, ev.SigningCertSHA256) {
			return fmt.Errorf("attestation: %w: signing certificate not allowlisted", ErrPolicyRejected)
		}
	default:
		return fmt.Errorf("attestation: %w: unknown platform %q", ErrPolicyRejected, ev.Platform)
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

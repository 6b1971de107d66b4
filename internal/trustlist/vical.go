package trustlist

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// VICALPayload is the CBOR-encoded body of a COSE Sign1 "VICAL" (Verified
// Issuer Certificate Authority List), ISO/IEC 18013-5 Annex C.
type VICALPayload struct {
	Version              string            `cbor:"version"`
	VicalProvider        string            `cbor:"vicalProvider"`
	Date                 time.Time         `cbor:"date"`
	NextUpdate           time.Time         `cbor:"nextUpdate,omitempty"`
	CertificateInfos     []CertificateInfo `cbor:"certificateInfos"`
}

type CertificateInfo struct {
	Certificate []byte   `cbor:"certificate"`
	DocType     []string `cbor:"docType,omitempty"`
}

// VerifySignedVICAL unmarshals a COSE Sign1-signed VICAL and verifies it
// against verifier before decoding the CBOR payload.
func VerifySignedVICAL(signed []byte, verifier cose.Verifier) (*VICALPayload, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(signed); err != nil {
		return nil, fmt.Errorf("trustlist: unmarshal signed vical: %w", err)
	}

	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("trustlist: verify signed vical: %w", err)
	}

	var payload VICALPayload
	if err := cbor.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("trustlist: decode vical payload: %w", err)
	}
	return &payload, nil
}

// SignVICAL CBOR-encodes payload and produces a tagged COSE Sign1 message
// with it. Tagged rather than untagged, since a distributed VICAL is a
// self-describing CBOR object, not a wire field nested in a larger message.
func SignVICAL(payload VICALPayload, signer cose.Signer, alg cose.Algorithm) ([]byte, error) {
	body, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("trustlist: encode vical payload: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Payload = body
	msg.Headers.Protected.SetAlgorithm(alg)

	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("trustlist: sign vical: %w", err)
	}
	return msg.MarshalCBOR()
}

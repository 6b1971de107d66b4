package readerbackend

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/dzuluaga/MpzIdentityReader/internal/attestation"
	"github.com/dzuluaga/MpzIdentityReader/internal/cryptoroot"
	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
)

// NonceValidity is the nonce lifetime of spec.md §3: "expiration = now + 5
// minutes."
const NonceValidity = 5 * time.Minute

// registrationRecord is the server-persisted form of spec.md §3's
// DeviceAttestation blob, tagged with which reader root later
// certifications under this registration should use.
type registrationRecord struct {
	Attestation   []byte `json:"attestation"`
	UntrustedRoot bool   `json:"untrustedRoot"`
}

// GetNonce mints a fresh nonce and stores it with a 5-minute expiration,
// per spec.md §4.2.
func (b *Backend) GetNonce() (*protocol.GetNonceResponse, error) {
	nonce, err := protocol.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("readerbackend: mint nonce: %w", err)
	}
	if _, err := b.nonces.InsertExpiring(nonce.String(), []byte("{}"), b.now().Add(NonceValidity)); err != nil {
		return nil, fmt.Errorf("readerbackend: store nonce: %w", err)
	}
	b.debugf("readerbackend: getNonce -> %s", nonce.String())
	return &protocol.GetNonceResponse{Nonce: nonce.String()}, nil
}

// consumeNonce checks that nonce is extant and deletes it, enforcing
// single-use (spec.md §9 open question 1: this implementation resolves the
// question by deleting on consume rather than leaving the nonce live until
// its natural expiry).
func (b *Backend) consumeNonce(nonce protocol.Nonce) error {
	if _, err := b.nonces.Get(nonce.String()); err != nil {
		return fmt.Errorf("%w", ErrNonceUnknown)
	}
	return b.nonces.Delete(nonce.String())
}

// Register validates a device attestation against the configured policy and
// persists it under a fresh registrationId, per spec.md §4.2.
func (b *Backend) Register(req protocol.RegisterRequest) (*protocol.RegisterResponse, error) {
	nonce, err := protocol.ParseNonce(req.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", ErrNonceUnknown, err)
	}
	if err := b.consumeNonce(nonce); err != nil {
		return nil, err
	}

	blob, err := base64.RawURLEncoding.DecodeString(req.DeviceAttestation)
	if err != nil {
		return nil, fmt.Errorf("readerbackend: decode deviceAttestation: %w", err)
	}

	untrusted := false
	if _, err := b.validator.ValidateAttestation(attestation.Blob(blob), nonce, b.config.Policy); err != nil {
		if !errors.Is(err, attestation.ErrPolicyRejected) || !b.config.MaintainUntrustedRoot || b.untrustedRoot == nil {
			return nil, fmt.Errorf("%w: %v", ErrAttestationInvalid, err)
		}
		// Degrade instead of failing outright: the evidence still has to
		// parse cleanly, it just doesn't have to satisfy policy.
		if _, perr := b.validator.ParseEvidence(attestation.Blob(blob)); perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrAttestationInvalid, perr)
		}
		untrusted = true
	}

	rec := registrationRecord{Attestation: blob, UntrustedRoot: untrusted}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("readerbackend: encode registration: %w", err)
	}
	id, err := b.clients.Insert("", raw)
	if err != nil {
		return nil, fmt.Errorf("readerbackend: store registration: %w", err)
	}

	if b.config.Verbose {
		spew.Dump(rec)
	}
	b.debugf("readerbackend: register -> %s (untrustedRoot=%v)", id, untrusted)
	return &protocol.RegisterResponse{RegistrationID: id}, nil
}

// CertifyKeys validates the live assertion against the stored attestation
// and issues one reader certificate per submitted key, per spec.md §4.2.
func (b *Backend) CertifyKeys(req protocol.CertifyKeysRequest) (*protocol.CertifyKeysResponse, error) {
	raw, err := b.clients.Get(req.RegistrationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistrationUnknown, err)
	}
	var rec registrationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("readerbackend: decode registration: %w", err)
	}

	nonce, err := protocol.ParseNonce(req.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", ErrNonceUnknown, err)
	}
	if err := b.consumeNonce(nonce); err != nil {
		return nil, err
	}

	evidence, err := b.validator.ParseEvidence(attestation.Blob(rec.Attestation))
	if err != nil {
		return nil, fmt.Errorf("readerbackend: re-derive evidence for %s: %w", req.RegistrationID, err)
	}

	assertionBlob, err := base64.RawURLEncoding.DecodeString(req.DeviceAssertion)
	if err != nil {
		return nil, fmt.Errorf("readerbackend: decode deviceAssertion: %w", err)
	}
	if err := b.validator.ValidateAssertion(attestation.Assertion(assertionBlob), nonce, evidence); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssertionMismatch, err)
	}

	root := b.rootFor(rec.UntrustedRoot)
	now := b.now()

	resp := &protocol.CertifyKeysResponse{ReaderCertifications: make([][]string, len(req.Keys))}
	for i, jwk := range req.Keys {
		pub, err := protocol.JWKToECPublicKey(jwk)
		if err != nil {
			return nil, fmt.Errorf("readerbackend: decode key %d: %w", i, err)
		}
		leaf, validFrom, validUntil, err := cryptoroot.IssueReaderCertificate(pub, root, now, b.config.certValidity())
		if err != nil {
			return nil, fmt.Errorf("readerbackend: issue certificate %d: %w", i, err)
		}
		resp.ReaderCertifications[i] = []string{
			base64.StdEncoding.EncodeToString(leaf.Raw),
			base64.StdEncoding.EncodeToString(root.Cert.Raw),
		}
		b.debugf("readerbackend: certifyKeys[%d] validFrom=%s validUntil=%s", i, validFrom, validUntil)
	}
	return resp, nil
}

// GetIssuerList compares the caller's currentVersion against the
// configured trust list and returns the full list on mismatch, or
// upToDate=true otherwise, per spec.md §4.1/§4.2.
func (b *Backend) GetIssuerList(req protocol.GetIssuerListRequest) (*protocol.GetIssuerListResponse, error) {
	if req.CurrentVersion != nil && *req.CurrentVersion == b.trustList.Version {
		return &protocol.GetIssuerListResponse{UpToDate: true}, nil
	}

	entries := make([]protocol.IssuerEntry, len(b.trustList.Entries))
	for i, e := range b.trustList.Entries {
		entries[i] = e.ToWire()
	}
	return &protocol.GetIssuerListResponse{Version: b.trustList.Version, Entries: entries}, nil
}

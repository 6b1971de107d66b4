package readerbackend

import (
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/dzuluaga/MpzIdentityReader/internal/attestation"
	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
	"github.com/dzuluaga/MpzIdentityReader/internal/storage"
	"github.com/dzuluaga/MpzIdentityReader/internal/trustlist"
)

func newTestBackend(t *testing.T, cfg Config, feed trustlist.Feed) *Backend {
	t.Helper()
	b, err := NewBackend(storage.NewMemory(nil), storage.NewMemory(nil), storage.NewMemory(nil), attestation.NewCBORValidator(), cfg, feed)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

// registerDevice runs a full getNonce+register pair and returns the
// registration plus the attestation private key bound into it, so a caller
// can later produce a matching live assertion.
func registerDevice(t *testing.T, b *Backend, gen attestation.CBORGenerator) (*protocol.RegisterResponse, *ecdsa.PrivateKey) {
	t.Helper()
	nonceResp, err := b.GetNonce()
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	nonce, err := protocol.ParseNonce(nonceResp.Nonce)
	if err != nil {
		t.Fatalf("ParseNonce: %v", err)
	}
	blob, key, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}
	resp, err := b.Register(protocol.RegisterRequest{
		Nonce:             nonce.String(),
		DeviceAttestation: base64.RawURLEncoding.EncodeToString(blob),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return resp, key
}

func TestGetNonce_SingleUse(t *testing.T) {
	b := newTestBackend(t, Config{ReaderCertValidityDays: 30}, trustlist.Feed{})

	resp, err := b.GetNonce()
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	nonce, err := protocol.ParseNonce(resp.Nonce)
	if err != nil {
		t.Fatalf("ParseNonce: %v", err)
	}

	if err := b.consumeNonce(nonce); err != nil {
		t.Fatalf("first consumeNonce: %v", err)
	}
	if err := b.consumeNonce(nonce); !errors.Is(err, ErrNonceUnknown) {
		t.Fatalf("second consumeNonce = %v, want ErrNonceUnknown", err)
	}
}

func TestRegister_PolicyRejectedWithoutUntrustedRoot(t *testing.T) {
	b := newTestBackend(t, Config{
		ReaderCertValidityDays: 30,
		Policy:                 attestation.Policy{IOSReleaseBuild: true},
	}, trustlist.Feed{})

	nonceResp, err := b.GetNonce()
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	nonce, _ := protocol.ParseNonce(nonceResp.Nonce)

	gen := attestation.CBORGenerator{Platform: "ios", ReleaseBuild: false}
	blob, _, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}

	_, err = b.Register(protocol.RegisterRequest{
		Nonce:             nonce.String(),
		DeviceAttestation: base64.RawURLEncoding.EncodeToString(blob),
	})
	if !errors.Is(err, ErrAttestationInvalid) {
		t.Fatalf("Register = %v, want ErrAttestationInvalid", err)
	}
}

func TestRegister_PolicyRejectedDegradesToUntrustedRoot(t *testing.T) {
	b := newTestBackend(t, Config{
		ReaderCertValidityDays: 30,
		Policy:                 attestation.Policy{IOSReleaseBuild: true},
		MaintainUntrustedRoot:  true,
	}, trustlist.Feed{})

	nonceResp, err := b.GetNonce()
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	nonce, _ := protocol.ParseNonce(nonceResp.Nonce)

	gen := attestation.CBORGenerator{Platform: "ios", ReleaseBuild: false}
	blob, _, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}

	resp, err := b.Register(protocol.RegisterRequest{
		Nonce:             nonce.String(),
		DeviceAttestation: base64.RawURLEncoding.EncodeToString(blob),
	})
	if err != nil {
		t.Fatalf("Register = %v, want success under untrusted root degrade", err)
	}
	if resp.RegistrationID == "" {
		t.Fatal("Register returned empty registrationId")
	}
}

func TestCertifyKeys_Success(t *testing.T) {
	b := newTestBackend(t, Config{ReaderCertValidityDays: 30}, trustlist.Feed{})
	gen := attestation.CBORGenerator{Platform: "ios", ReleaseBuild: true}

	regResp, attestKey := registerDevice(t, b, gen)

	nonceResp, err := b.GetNonce()
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	nonce, _ := protocol.ParseNonce(nonceResp.Nonce)

	assertion, err := gen.GenerateAssertion(nonce, attestKey)
	if err != nil {
		t.Fatalf("GenerateAssertion: %v", err)
	}

	jwk, err := protocol.ECPublicKeyToJWK(&attestKey.PublicKey)
	if err != nil {
		t.Fatalf("ECPublicKeyToJWK: %v", err)
	}

	resp, err := b.CertifyKeys(protocol.CertifyKeysRequest{
		RegistrationID:  regResp.RegistrationID,
		Nonce:           nonce.String(),
		DeviceAssertion: base64.RawURLEncoding.EncodeToString(assertion),
		Keys:            []protocol.JWK{jwk},
	})
	if err != nil {
		t.Fatalf("CertifyKeys: %v", err)
	}
	if len(resp.ReaderCertifications) != 1 {
		t.Fatalf("len(ReaderCertifications) = %d, want 1", len(resp.ReaderCertifications))
	}
	if len(resp.ReaderCertifications[0]) != 2 {
		t.Fatalf("chain length = %d, want 2", len(resp.ReaderCertifications[0]))
	}
}

func TestCertifyKeys_AssertionMismatch(t *testing.T) {
	b := newTestBackend(t, Config{ReaderCertValidityDays: 30}, trustlist.Feed{})
	gen := attestation.CBORGenerator{Platform: "ios", ReleaseBuild: true}

	regResp, attestKey := registerDevice(t, b, gen)

	nonceResp, err := b.GetNonce()
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	nonce, _ := protocol.ParseNonce(nonceResp.Nonce)

	// sign over a different challenge than the one issued for this call.
	wrongNonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	assertion, err := gen.GenerateAssertion(wrongNonce, attestKey)
	if err != nil {
		t.Fatalf("GenerateAssertion: %v", err)
	}

	jwk, err := protocol.ECPublicKeyToJWK(&attestKey.PublicKey)
	if err != nil {
		t.Fatalf("ECPublicKeyToJWK: %v", err)
	}

	_, err = b.CertifyKeys(protocol.CertifyKeysRequest{
		RegistrationID:  regResp.RegistrationID,
		Nonce:           nonce.String(),
		DeviceAssertion: base64.RawURLEncoding.EncodeToString(assertion),
		Keys:            []protocol.JWK{jwk},
	})
	if !errors.Is(err, ErrAssertionMismatch) {
		t.Fatalf("CertifyKeys = %v, want ErrAssertionMismatch", err)
	}
}

func TestCertifyKeys_UnknownRegistration(t *testing.T) {
	b := newTestBackend(t, Config{ReaderCertValidityDays: 30}, trustlist.Feed{})

	nonceResp, err := b.GetNonce()
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	nonce, _ := protocol.ParseNonce(nonceResp.Nonce)

	_, err = b.CertifyKeys(protocol.CertifyKeysRequest{
		RegistrationID:  "does-not-exist",
		Nonce:           nonce.String(),
		DeviceAssertion: base64.RawURLEncoding.EncodeToString([]byte("whatever")),
	})
	if !IsRegistrationUnknown(err) {
		t.Fatalf("CertifyKeys = %v, want ErrRegistrationUnknown", err)
	}
}

func TestGetIssuerList_VersionSemantics(t *testing.T) {
	feed := trustlist.Feed{
		Version: 5,
		Entries: []trustlist.IssuerTrustEntry{
			{Kind: trustlist.KindIACA, Cert: []byte("cert-bytes")},
		},
	}
	b := newTestBackend(t, Config{ReaderCertValidityDays: 30}, feed)

	resp, err := b.GetIssuerList(protocol.GetIssuerListRequest{})
	if err != nil {
		t.Fatalf("GetIssuerList(nil): %v", err)
	}
	if resp.UpToDate {
		t.Fatal("GetIssuerList(nil) reported UpToDate")
	}
	if resp.Version != 5 || len(resp.Entries) != 1 {
		t.Fatalf("GetIssuerList(nil) = %+v", resp)
	}

	current := int64(5)
	resp, err = b.GetIssuerList(protocol.GetIssuerListRequest{CurrentVersion: &current})
	if err != nil {
		t.Fatalf("GetIssuerList(5): %v", err)
	}
	if !resp.UpToDate {
		t.Fatalf("GetIssuerList(5) = %+v, want UpToDate", resp)
	}

	stale := int64(4)
	resp, err = b.GetIssuerList(protocol.GetIssuerListRequest{CurrentVersion: &stale})
	if err != nil {
		t.Fatalf("GetIssuerList(4): %v", err)
	}
	if resp.UpToDate || resp.Version != 5 {
		t.Fatalf("GetIssuerList(4) = %+v", resp)
	}
}

func TestRegister_RejectsReusedNonce(t *testing.T) {
	b := newTestBackend(t, Config{ReaderCertValidityDays: 30}, trustlist.Feed{})
	gen := attestation.CBORGenerator{Platform: "ios", ReleaseBuild: true}

	nonceResp, err := b.GetNonce()
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	nonce, _ := protocol.ParseNonce(nonceResp.Nonce)
	blob, _, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}
	if _, err := b.Register(protocol.RegisterRequest{
		Nonce:             nonce.String(),
		DeviceAttestation: base64.RawURLEncoding.EncodeToString(blob),
	}); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	_, err = b.Register(protocol.RegisterRequest{
		Nonce:             nonce.String(),
		DeviceAttestation: base64.RawURLEncoding.EncodeToString(blob),
	})
	if !errors.Is(err, ErrNonceUnknown) {
		t.Fatalf("Register with reused nonce = %v, want ErrNonceUnknown", err)
	}
}

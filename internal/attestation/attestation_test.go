package attestation

import (
	"errors"
	"testing"

	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
)

func TestValidateAttestation_Success(t *testing.T) {
	v := NewCBORValidator()
	gen := CBORGenerator{Platform: "ios", AppIdentifier: "com.example.reader", ReleaseBuild: true}

	nonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	blob, key, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}

	evidence, err := v.ValidateAttestation(blob, nonce, Policy{IOSReleaseBuild: true, IOSAppIdentifier: "com.example.reader"})
	if err != nil {
		t.Fatalf("ValidateAttestation: %v", err)
	}
	if evidence.Platform != "ios" || !evidence.ReleaseBuild {
		t.Fatalf("evidence = %+v", evidence)
	}
	if evidence.PublicKey.X.Cmp(key.X) != 0 || evidence.PublicKey.Y.Cmp(key.Y) != 0 {
		t.Fatal("evidence public key does not match generated key")
	}
}

func TestValidateAttestation_ChallengeMismatch(t *testing.T) {
	v := NewCBORValidator()
	gen := CBORGenerator{Platform: "ios", ReleaseBuild: true}

	nonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	blob, _, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}

	other, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	if _, err := v.ValidateAttestation(blob, other, Policy{}); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("ValidateAttestation = %v, want ErrChallengeMismatch", err)
	}
}

func TestValidateAttestation_PolicyRejected(t *testing.T) {
	v := NewCBORValidator()
	gen := CBORGenerator{Platform: "android", GMSAttested: false}

	nonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	blob, _, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}

	_, err = v.ValidateAttestation(blob, nonce, Policy{AndroidRequireGMSAttestation: true})
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("ValidateAttestation = %v, want ErrPolicyRejected", err)
	}
}

func TestValidateAttestation_AndroidSignatureAllowlist(t *testing.T) {
	v := NewCBORValidator()
	gen := CBORGenerator{Platform: "android", SigningCertSHA256: "abc123"}

	nonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	blob, _, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}

	if _, err := v.ValidateAttestation(blob, nonce, Policy{AndroidAppSignatureCertificateSHA256: []string{"def456"}}); !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("ValidateAttestation with non-allowlisted digest = %v, want ErrPolicyRejected", err)
	}
	if _, err := v.ValidateAttestation(blob, nonce, Policy{AndroidAppSignatureCertificateSHA256: []string{"abc123"}}); err != nil {
		t.Fatalf("ValidateAttestation with allowlisted digest: %v", err)
	}
}

func TestParseEvidence_SkipsChallengeAndPolicy(t *testing.T) {
	v := NewCBORValidator()
	gen := CBORGenerator{Platform: "ios", ReleaseBuild: false}

	nonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	blob, key, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}

	// a strict policy would reject this at register time; ParseEvidence
	// still recovers the evidence, since it neither checks the (by-then
	// consumed) challenge nor re-enforces policy.
	evidence, err := v.ParseEvidence(blob)
	if err != nil {
		t.Fatalf("ParseEvidence: %v", err)
	}
	if evidence.PublicKey.X.Cmp(key.X) != 0 {
		t.Fatal("ParseEvidence public key mismatch")
	}
}

func TestValidateAssertion_Success(t *testing.T) {
	v := NewCBORValidator()
	gen := CBORGenerator{Platform: "ios", ReleaseBuild: true}

	registerNonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	blob, key, err := gen.GenerateAttestation(registerNonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}
	evidence, err := v.ValidateAttestation(blob, registerNonce, Policy{IOSReleaseBuild: true})
	if err != nil {
		t.Fatalf("ValidateAttestation: %v", err)
	}

	liveNonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	assertion, err := gen.GenerateAssertion(liveNonce, key)
	if err != nil {
		t.Fatalf("GenerateAssertion: %v", err)
	}

	if err := v.ValidateAssertion(assertion, liveNonce, evidence); err != nil {
		t.Fatalf("ValidateAssertion: %v", err)
	}
}

func TestValidateAssertion_ChallengeMismatch(t *testing.T) {
	v := NewCBORValidator()
	gen := CBORGenerator{Platform: "ios", ReleaseBuild: true}

	nonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	blob, key, err := gen.GenerateAttestation(nonce)
	if err != nil {
		t.Fatalf("GenerateAttestation: %v", err)
	}
	evidence, err := v.ValidateAttestation(blob, nonce, Policy{})
	if err != nil {
		t.Fatalf("ValidateAttestation: %v", err)
	}

	liveNonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	assertion, err := gen.GenerateAssertion(liveNonce, key)
	if err != nil {
		t.Fatalf("GenerateAssertion: %v", err)
	}

	otherNonce, err := protocol.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	if err := v.ValidateAssertion(assertion, otherNonce, evidence); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("ValidateAssertion = %v, want ErrChallengeMismatch", err)
	}
}

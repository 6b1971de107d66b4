package readerclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/dzuluaga/MpzIdentityReader/internal/attestation"
	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
)

// getNonce drives the getNonce RPC of spec.md §4.1.
func (c *ReaderBackendClient) getNonce(ctx context.Context) (protocol.Nonce, error) {
	var resp protocol.GetNonceResponse
	if _, err := c.transport.Post(ctx, "getNonce", protocol.GetNonceRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("readerclient: getNonce: %w", err)
	}
	nonce, err := protocol.ParseNonce(resp.Nonce)
	if err != nil {
		return nil, fmt.Errorf("readerclient: decode nonce: %w", err)
	}
	return nonce, nil
}

// register drives the register RPC of spec.md §4.1.
func (c *ReaderBackendClient) register(ctx context.Context, nonce protocol.Nonce, blob attestation.Blob) (string, error) {
	req := protocol.RegisterRequest{
		Nonce:             nonce.String(),
		DeviceAttestation: base64.RawURLEncoding.EncodeToString(blob),
	}
	var resp protocol.RegisterResponse
	if _, err := c.transport.Post(ctx, "register", req, &resp); err != nil {
		return "", fmt.Errorf("readerclient: register: %w", err)
	}
	return resp.RegistrationID, nil
}

// certifyKeys drives the certifyKeys RPC of spec.md §4.1, decoding each
// returned x5c chain into raw DER bytes. A 404 status is protocol-
// significant (spec.md §7's RegistrationLost) and is returned alongside err
// so the caller can distinguish it from any other transport failure.
func (c *ReaderBackendClient) certifyKeys(ctx context.Context, registrationID string, nonce protocol.Nonce, assertion attestation.Assertion, keys []protocol.JWK) ([][][]byte, int, error) {
	req := protocol.CertifyKeysRequest{
		RegistrationID:  registrationID,
		Nonce:           nonce.String(),
		DeviceAssertion: base64.RawURLEncoding.EncodeToString(assertion),
		Keys:            keys,
	}
	var resp protocol.CertifyKeysResponse
	status, err := c.transport.Post(ctx, "certifyKeys", req, &resp)
	if status == http.StatusNotFound {
		return nil, status, err
	}
	if err != nil {
		return nil, status, fmt.Errorf("readerclient: certifyKeys: %w", err)
	}

	chains := make([][][]byte, len(resp.ReaderCertifications))
	for i, x5c := range resp.ReaderCertifications {
		chain := make([][]byte, len(x5c))
		for j, s := range x5c {
			der, derr := base64.StdEncoding.DecodeString(s)
			if derr != nil {
				return nil, status, fmt.Errorf("readerclient: decode x5c[%d][%d]: %w", i, j, derr)
			}
			chain[j] = der
		}
		chains[i] = chain
	}
	return chains, status, nil
}

// Package protocol defines the four JSON request/response shapes exchanged
// between a reader device (internal/readerclient) and the reader backend
// (internal/readerbackend). It carries no business logic, mirroring the
// teacher's split between wire-shape packages (protocol/session.go,
// internal/exchange_protocol) and the handlers that interpret them.
package protocol

// GetNonceRequest has no fields; the method name alone drives the backend.
type GetNonceRequest struct{}

type GetNonceResponse struct {
	Nonce string `json:"nonce"`
}

type RegisterRequest struct {
	Nonce             string `json:"nonce"`
	DeviceAttestation string `json:"deviceAttestation"`
}

type RegisterResponse struct {
	RegistrationID string `json:"registrationId"`
}

type CertifyKeysRequest struct {
	RegistrationID  string `json:"registrationId"`
	Nonce           string `json:"nonce"`
	DeviceAssertion string `json:"deviceAssertion"`
	Keys            []JWK  `json:"keys"`
}

type CertifyKeysResponse struct {
	// ReaderCertifications holds one x5c chain per submitted key, in the
	// same order, leaf first.
	ReaderCertifications [][]string `json:"readerCertifications"`
}

type GetIssuerListRequest struct {
	// CurrentVersion is nil to request the full list unconditionally.
	CurrentVersion *int64 `json:"currentVersion,omitempty"`
}

type GetIssuerListResponse struct {
	UpToDate bool            `json:"upToDate,omitempty"`
	Version  int64           `json:"version,omitempty"`
	Entries  []IssuerEntry   `json:"entries,omitempty"`
}

// JWK is the subset of RFC 7517 this protocol needs: an EC public key, the
// wire form of the keys a reader device submits for certification. Field
// layout mirrors the teacher's JWK in internal/server/jwks.go.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// IssuerEntry is the wire form of trustlist.IssuerTrustEntry: a tagged union
// carrying only non-secret material, per spec.md §3/§4.4.
type IssuerEntry struct {
	Type         string          `json:"type"`
	Cert         string          `json:"cert,omitempty"`
	SignedVICAL  string          `json:"signedVical,omitempty"`
	Metadata     IssuerMetadata  `json:"metadata"`
}

type IssuerMetadata struct {
	DisplayName      string `json:"displayName"`
	Icon             string `json:"icon,omitempty"`
	PrivacyPolicyURL string `json:"privacyPolicyUrl,omitempty"`
	TestOnly         bool   `json:"testOnly,omitempty"`
}

// ErrorResponse is the body returned alongside any non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

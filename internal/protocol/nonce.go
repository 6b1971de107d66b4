package protocol

import (
	"crypto/rand"
	"encoding/base64"
)

// NonceLength is the byte length of a minted nonce, per spec.md §3.
const NonceLength = 16

// Nonce is a freshness token minted by the reader backend and echoed back by
// the reader device in register/certifyKeys requests.
type Nonce []byte

// NewNonce mints NonceLength cryptographically random bytes.
func NewNonce() (Nonce, error) {
	n := make([]byte, NonceLength)
	if _, err := rand.Read(n); err != nil {
		return nil, err
	}
	return n, nil
}

// String renders the nonce as unpadded URL-safe base64, the wire form used by
// every request/response field in this protocol.
func (n Nonce) String() string {
	return base64.RawURLEncoding.EncodeToString(n)
}

// ParseNonce decodes the wire form back into bytes.
func ParseNonce(s string) (Nonce, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return Nonce(b), nil
}

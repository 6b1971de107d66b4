// Package readerclient implements the client pool manager: the
// ReaderBackendClient that keeps a locally balanced supply of certified
// reader keys, driving replenishment and eviction against freshness,
// expiry, and connectivity constraints. It talks to a reader backend only
// through internal/transport.Client.
package readerclient

import "errors"

var (
	// ErrNoValidKey is returned by GetKey when the local pool has no
	// currently-valid key and replenishment failed. User-visible.
	ErrNoValidKey = errors.New("readerclient: no valid key available")

	// ErrUnknownKey is returned by MarkKeyAsUsed when alias is not in the
	// pool. Programmer error.
	ErrUnknownKey = errors.New("readerclient: unknown key alias")

	// ErrRegistrationLost is the internal signal raised when the server
	// 404s a certifyKeys call: local RegistrationData has been dropped and
	// the caller should retry once.
	ErrRegistrationLost = errors.New("readerclient: registration lost")
)

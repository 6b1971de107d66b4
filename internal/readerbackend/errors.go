package readerbackend

import "errors"

// Error kinds from spec.md §7. Each is a distinct sentinel wrapped with
// context via fmt.Errorf("%w: ...", sentinel), the same idiom as the
// teacher's mdoc.NewWrappedError / IsDocumentError helpers (mdoc/errors.go),
// scaled down to what this backend actually needs to distinguish.
var (
	ErrNonceUnknown        = errors.New("readerbackend: nonce unknown or expired")
	ErrAttestationInvalid  = errors.New("readerbackend: attestation policy rejection")
	ErrAssertionMismatch   = errors.New("readerbackend: assertion challenge mismatch or binding failure")
	ErrRegistrationUnknown = errors.New("readerbackend: registration unknown")
)

// IsRegistrationUnknown reports whether err is (or wraps) ErrRegistrationUnknown
// — the only server-side failure with protocol-defined (404) semantics,
// per spec.md §4.2/§7.
func IsRegistrationUnknown(err error) bool {
	return errors.Is(err, ErrRegistrationUnknown)
}

package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// ReaderLeafSubject is the fixed subject of every issued reader
// certificate, per spec.md §4.2.
const ReaderLeafSubject = "Multipaz Identity Verifier Single-Use Key"

// JitterWindow is the maximum random offset applied to a leaf's validFrom
// (backward) and validUntil (forward), per spec.md §4.2: "The jitter breaks
// correlation of simultaneously-issued certs."
const JitterWindow = 12 * time.Hour

// IssueReaderCertificate signs pub under root, with validFrom/validUntil
// jittered around [now, now+certValidity] per spec.md §4.2. It mirrors the
// teacher's createEndEntityCertificate template-and-sign shape, generalized
// from a fixed one-year TLS-flavored leaf to this spec's short-lived,
// jittered reader-auth leaf.
func IssueReaderCertificate(pub *ecdsa.PublicKey, root *ReaderRootIdentity, now time.Time, certValidity time.Duration) (cert *x509.Certificate, validFrom, validUntil time.Time, err error) {
	jitterFrom, err := randomJitter()
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	jitterUntil, err := randomJitter()
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}

	validFrom = now.Truncate(time.Second).Add(-jitterFrom)
	validUntil = now.Truncate(time.Second).Add(certValidity).Add(jitterUntil)

	serial, err := randomSerial()
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}

	template := x509.Certificate{
		SerialNumber:   serial,
		Subject:        pkix.Name{CommonName: ReaderLeafSubject},
		NotBefore:      validFrom,
		NotAfter:       validUntil,
		KeyUsage:       x509.KeyUsageDigitalSignature,
		IsCA:           false,
		SubjectKeyId:   CalcKID(pub, "sha1"),
		AuthorityKeyId: CalcKID(&root.PrivateKey.PublicKey, "sha1"),
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, root.Cert, pub, root.PrivateKey)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("cryptoroot: create reader certificate: %w", err)
	}
	cert, err = x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("cryptoroot: parse reader certificate: %w", err)
	}
	// The encoded certificate holds whole seconds; report the window it
	// actually carries.
	return cert, cert.NotBefore, cert.NotAfter, nil
}

func randomJitter() (time.Duration, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(JitterWindow)))
	if err != nil {
		return 0, fmt.Errorf("cryptoroot: jitter: %w", err)
	}
	return time.Duration(n.Int64()), nil
}

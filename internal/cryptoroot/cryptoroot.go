// Package cryptoroot generates and persists the Reader root identity
// (spec.md §3/§4.5/§4.6): the CA that signs short-lived reader-auth leaf
// certificates. It generalizes the teacher's GenECDSAKeys (one P-256 root
// generated once per NewServer() call, kept in pem/rootKey.pem on disk) into
// independently-persisted P-384 roots loaded through internal/storage
// instead of the filesystem, and a reader leaf issuance function with the
// jittered validity window spec.md §4.2 requires.
package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"hash"
	"math/big"
	"time"
)

// ReaderRootIdentity is a {privateKey, certChain} pair, generated on first
// use over EC P-384 with five-year validity (spec.md §3).
type ReaderRootIdentity struct {
	PrivateKey *ecdsa.PrivateKey
	Cert       *x509.Certificate
}

// RootValidity is the reader root's lifetime, per spec.md §3.
const RootValidity = 5 * 365 * 24 * time.Hour

// GenerateReaderRoot creates a fresh self-signed P-384 reader root, the way
// the teacher's GenECDSAKeys generates its demo root, but over P-384 (this
// spec's required curve) and five years validity instead of ten.
func GenerateReaderRoot(commonName string) (*ReaderRootIdentity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoroot: generate root key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now,
		NotAfter:              now.Add(RootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		SubjectKeyId:          CalcKID(&key.PublicKey, "sha1"),
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("cryptoroot: create root certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoroot: parse root certificate: %w", err)
	}

	return &ReaderRootIdentity{PrivateKey: key, Cert: cert}, nil
}

// CalcKID is the teacher's SubjectKeyId/AuthorityKeyId computation
// (internal/cryptoroot/cryptoroot.go, internal/server/jwks.go), reused
// verbatim: SHA-1 or SHA-256 over the uncompressed marshaled public key.
func CalcKID(pub *ecdsa.PublicKey, hashAlgo string) []byte {
	b := elliptic.Marshal(pub.Curve, pub.X, pub.Y)

	var h hash.Hash
	switch hashAlgo {
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	default:
		h = sha256.New()
	}
	h.Write(b)
	return h.Sum(nil)
}

func randomSerial() (*big.Int, error) {
	// 128-bit random serial, spec.md §4.2/§4.6.
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

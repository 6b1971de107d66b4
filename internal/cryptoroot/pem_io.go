package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// EncodeKeyPEM/DecodeKeyPEM and EncodeCertChainPEM/DecodeCertChainPEM replace the
// teacher's file-based writePEMFile/readPEMFile/writeCertificatePEM/
// readCertificatePEM (internal/cryptoroot/pem_io.go originally wrote to
// disk). The reader root identity is now persisted through
// internal/storage (spec.md §4.5), so these operate on byte slices that
// become storage row values instead of file contents.

func EncodeKeyPEM(privateKey *ecdsa.PrivateKey) ([]byte, error) {
	derBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: derBytes}), nil
}

func DecodeKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("cryptoroot: pem block not found")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

func EncodeCertChainPEM(certs [][]byte) []byte {
	var out []byte
	for _, der := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	return out
}

func DecodeCertChainPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("cryptoroot: no certificates in pem data")
	}
	return certs, nil
}

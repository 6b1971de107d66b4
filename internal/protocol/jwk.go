package protocol

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"fmt"
	"math/big"
)

// ECPublicKeyToJWK converts an ECDSA public key into its JWK wire form, the
// same field mapping the teacher uses in internal/server/jwks.go
// (ecdsaPublicKeyToJWKS), minus the enc-specific Alg/Use/Kid defaults that
// only made sense for that HPKE use case.
func ECPublicKeyToJWK(pub *ecdsa.PublicKey) (JWK, error) {
	crv, err := curveName(pub.Curve)
	if err != nil {
		return JWK{}, err
	}
	return JWK{
		Kty: "EC",
		Crv: crv,
		X:   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}, nil
}

// JWKToECPublicKey is the inverse of ECPublicKeyToJWK.
func JWKToECPublicKey(k JWK) (*ecdsa.PublicKey, error) {
	if k.Kty != "EC" {
		return nil, fmt.Errorf("protocol: unsupported key type %q", k.Kty)
	}
	curve, err := curveByName(k.Crv)
	if err != nil {
		return nil, err
	}
	xb, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode jwk.x: %w", err)
	}
	yb, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode jwk.y: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xb),
		Y:     new(big.Int).SetBytes(yb),
	}, nil
}

func curveName(curve elliptic.Curve) (string, error) {
	switch curve {
	case elliptic.P256():
		return "P-256", nil
	case elliptic.P384():
		return "P-384", nil
	case elliptic.P521():
		return "P-521", nil
	default:
		return "", fmt.Errorf("protocol: unsupported curve %s", curve.Params().Name)
	}
}

func curveByName(name string) (elliptic.Curve, error) {
	switch name {
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("protocol: unsupported curve %q", name)
	}
}

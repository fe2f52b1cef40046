package security

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidKey is returned when key material is not PEM or holds an unsupported key type.
var ErrInvalidKey = errors.New("invalid key")

// pemBlock decodes inline PEM carried in a credential or token set. Escaped "\n" sequences
// (common when the blob passed through env vars or JSON) become newlines.
func pemBlock(s string) (*pem.Block, error) {
	s = strings.TrimSpace(s)
	if !IsPEM(s) {
		return nil, ErrInvalidKey
	}
	block, _ := pem.Decode([]byte(strings.ReplaceAll(s, `\n`, "\n")))
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// IsPEM reports whether s looks like inline PEM.
func IsPEM(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "-----BEGIN")
}

// ParsePrivateKey parses an inline PEM private key: PKCS#8 (Ed25519, RSA, ECDSA), PKCS#1 RSA or SEC 1 EC.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := pemBlock(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidKey, block.Type)
	}
}

// ParsePublicKey parses the inline PEM public key of a token set for the given JWT algorithm.
func ParsePublicKey(alg, s string) (crypto.PublicKey, error) {
	block, err := pemBlock(s)
	if err != nil {
		return nil, err
	}
	pemBytes := pem.EncodeToMemory(block)
	switch {
	case alg == "EdDSA":
		return jwt.ParseEdPublicKeyFromPEM(pemBytes)
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	case strings.HasPrefix(alg, "ES"):
		return jwt.ParseECPublicKeyFromPEM(pemBytes)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
}

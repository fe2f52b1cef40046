package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"strings"

	"golang.org/x/crypto/ed25519"

	"infractl/client/internal/clienterr"
)

// Signature algorithm identifiers sent as signature_algorithm in token login.
const (
	AlgEd25519     = "ed25519"
	AlgRSASHA256   = "rsa-sha256"
	AlgECDSASHA256 = "ecdsa-sha256"
)

// Signer produces a signature over a canonical payload with an asymmetric private key.
type Signer interface {
	Algorithm() string
	Sign(payload []byte) ([]byte, error)
}

// KeySigner signs with a crypto.Signer. Ed25519 signs the payload directly; RSA and ECDSA sign its SHA-256 digest.
type KeySigner struct {
	key crypto.Signer
	alg string
}

// NewSigner builds a Signer from the credential's private key. A PEM key (inline) is parsed with ParsePrivateKey;
// anything else is treated as a base64 Ed25519 seed (32 bytes) or private key (64 bytes).
// The credential's algorithm, when set, must match the key type.
func NewSigner(cred *Credential) (*KeySigner, error) {
	if cred == nil {
		return nil, fmt.Errorf("%w: nil credential", clienterr.ErrMalformedCredential)
	}
	var key crypto.Signer
	material := strings.TrimSpace(cred.PrivateKey)
	if IsPEM(material) {
		k, err := ParsePrivateKey(material)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", clienterr.ErrMalformedCredential, err)
		}
		key = k
	} else {
		raw, err := decodeBase64(material)
		if err != nil {
			return nil, fmt.Errorf("%w: private key: %v", clienterr.ErrMalformedCredential, err)
		}
		switch len(raw) {
		case ed25519.SeedSize:
			key = ed25519.NewKeyFromSeed(raw)
		case ed25519.PrivateKeySize:
			key = ed25519.PrivateKey(raw)
		default:
			return nil, fmt.Errorf("%w: ed25519 key must be %d or %d bytes, got %d",
				clienterr.ErrMalformedCredential, ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
		}
	}
	alg := KeyAlg(key.Public())
	if alg == "" {
		return nil, fmt.Errorf("%w: unsupported key type %T", clienterr.ErrMalformedCredential, key.Public())
	}
	if want := strings.ToLower(strings.TrimSpace(cred.Algorithm)); want != "" && want != alg {
		return nil, fmt.Errorf("%w: algorithm %q does not match %s key", clienterr.ErrMalformedCredential, cred.Algorithm, alg)
	}
	return &KeySigner{key: key, alg: alg}, nil
}

// Algorithm returns the signature algorithm identifier.
func (s *KeySigner) Algorithm() string { return s.alg }

// Public returns the public half of the signing key.
func (s *KeySigner) Public() crypto.PublicKey { return s.key.Public() }

// Sign signs payload.
func (s *KeySigner) Sign(payload []byte) ([]byte, error) {
	if s.alg == AlgEd25519 {
		return s.key.Sign(rand.Reader, payload, crypto.Hash(0))
	}
	digest := sha256.Sum256(payload)
	return s.key.Sign(rand.Reader, digest[:], crypto.SHA256)
}

// KeyAlg returns the signature algorithm identifier for pub; empty for unsupported key types.
func KeyAlg(pub crypto.PublicKey) string {
	switch pub.(type) {
	case ed25519.PublicKey:
		return AlgEd25519
	case *rsa.PublicKey:
		return AlgRSASHA256
	case *ecdsa.PublicKey:
		return AlgECDSASHA256
	default:
		return ""
	}
}

// Verify checks signature over payload with pub using the algorithm implied by the key type.
func Verify(pub crypto.PublicKey, payload, signature []byte) bool {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return ed25519.Verify(k, payload, signature)
	case *rsa.PublicKey:
		digest := sha256.Sum256(payload)
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], signature) == nil
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(payload)
		return ecdsa.VerifyASN1(k, digest[:], signature)
	default:
		return false
	}
}

package security

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/ed25519"

	"infractl/client/internal/tokenset/domain"
)

// TestIssuer mints EdDSA-signed token sets the way the control service does.
// For unit tests and local fakes only.
type TestIssuer struct {
	priv         ed25519.PrivateKey
	PublicKeyPEM string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Roles        []string
}

// NewTestIssuer returns an issuer with a fresh Ed25519 key pair, 15m access and 24h refresh lifetimes, role admin.
func NewTestIssuer() (*TestIssuer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &TestIssuer{
		priv:         priv,
		PublicKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   24 * time.Hour,
		Roles:        []string{"admin"},
	}, nil
}

// Issue returns a complete token set for userID with expiries relative to now.
func (i *TestIssuer) Issue(userID string, now time.Time) (*domain.TokenSet, error) {
	accessExp := now.Add(i.AccessTTL)
	access, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{
		ID:        randomHex(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(accessExp),
	}).SignedString(i.priv)
	if err != nil {
		return nil, err
	}
	return &domain.TokenSet{
		AccessToken:      access,
		RefreshToken:     "rt-" + randomHex(),
		CSRFToken:        "csrf-" + randomHex(),
		PublicKey:        i.PublicKeyPEM,
		Algorithm:        "EdDSA",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: now.Add(i.RefreshTTL),
		UserID:           userID,
		Roles:            append([]string(nil), i.Roles...),
	}, nil
}

func randomHex() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

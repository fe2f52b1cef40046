package security

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"infractl/client/internal/clienterr"
	"infractl/client/internal/tokenset/domain"
)

// ErrInvalidToken is returned when a server-issued token fails signature or claim checks.
var ErrInvalidToken = errors.New("invalid token")

// VerifyAccessToken checks the access token as a JWT signed with the set's own public key and algorithm.
// Expiry is checked with domain.ExpiryTolerance leeway so it agrees with domain.Validate.
// A subject claim, when present, must equal the set's user id.
func VerifyAccessToken(ts *domain.TokenSet) error {
	if ts == nil {
		return clienterr.Validation("token set is empty")
	}
	key, err := ParsePublicKey(ts.Algorithm, ts.PublicKey)
	if err != nil {
		return clienterr.Validation("public key: %v", err)
	}
	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(ts.AccessToken, &claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{ts.Algorithm}), jwt.WithLeeway(domain.ExpiryTolerance))
	if err != nil {
		return fmt.Errorf("%w: %w: %v", clienterr.ErrValidationFailed, ErrInvalidToken, err)
	}
	if claims.Subject != "" && claims.Subject != ts.UserID {
		return fmt.Errorf("%w: %w: subject %q does not match user %q",
			clienterr.ErrValidationFailed, ErrInvalidToken, claims.Subject, ts.UserID)
	}
	return nil
}

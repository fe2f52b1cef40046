// Package domain defines the Token Set, the unit of authentication held by a session and shared through the token store.
package domain

import (
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"infractl/client/internal/clienterr"
)

// ExpiryTolerance is how far in the past an access or refresh expiry may be and still validate.
const ExpiryTolerance = 10 * time.Minute

// TokenSet holds the credentials returned by a login or refresh exchange. It is replaced wholesale, never patched.
type TokenSet struct {
	AccessToken      string    `json:"access_token" validate:"required"`
	RefreshToken     string    `json:"refresh_token" validate:"required"`
	CSRFToken        string    `json:"csrf_token" validate:"required"`
	PublicKey        string    `json:"public_key" validate:"required"`
	Algorithm        string    `json:"algorithm" validate:"required"`
	AccessExpiresAt  time.Time `json:"access_expires_at" validate:"required"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at" validate:"required"`
	UserID           string    `json:"user_id" validate:"required"`
	Roles            []string  `json:"roles" validate:"required,min=1,dive,required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks that every field is present and that neither expiry is more than tolerance in the past.
// It returns the first violated rule wrapped in clienterr.ErrValidationFailed, or nil when the set is usable.
// A tolerance <= 0 uses ExpiryTolerance.
func Validate(ts *TokenSet, now time.Time, tolerance time.Duration) error {
	if ts == nil {
		return clienterr.Validation("token set is empty")
	}
	if tolerance <= 0 {
		tolerance = ExpiryTolerance
	}
	if err := validate.Struct(ts); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return clienterr.Validation("%s is required", fieldName(errs[0]))
		}
		return clienterr.Validation("%v", err)
	}
	if now.Sub(ts.AccessExpiresAt) > tolerance {
		return clienterr.Validation("access token expired at %s", ts.AccessExpiresAt.UTC().Format(time.RFC3339))
	}
	if now.Sub(ts.RefreshExpiresAt) > tolerance {
		return clienterr.Validation("refresh token expired at %s", ts.RefreshExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// fieldName returns the JSON name of the failing field; dive errors on roles report "roles".
func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}

// Clone returns a deep copy; nil for nil.
func (ts *TokenSet) Clone() *TokenSet {
	if ts == nil {
		return nil
	}
	c := *ts
	c.Roles = slices.Clone(ts.Roles)
	return &c
}

// SameTokens reports whether both sets carry the same access and refresh tokens.
// Two sets that differ only in metadata are considered the same credential.
func SameTokens(a, b *TokenSet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.AccessToken == b.AccessToken && a.RefreshToken == b.RefreshToken
}

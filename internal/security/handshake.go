package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimestampFormat is the wall-clock format of the timestamp field in token login.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// NonceLength is the number of characters in a login nonce.
const NonceLength = 32

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewNonce returns a fresh alphanumeric nonce of NonceLength characters.
// Nonces are not tracked client-side; replay protection is up to the server.
func NewNonce() (string, error) {
	// 248 is the largest multiple of 62 below 256; rejecting above it keeps the distribution uniform.
	const limit = 248
	out := make([]byte, 0, NonceLength)
	buf := make([]byte, NonceLength*2)
	for len(out) < NonceLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate nonce: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			if len(out) == NonceLength {
				break
			}
		}
	}
	return string(out), nil
}

// CanonicalPayload sorts field names lexicographically and joins them as key=value pairs with "&".
// Values are used verbatim; the server rebuilds the same string from the plaintext fields.
func CanonicalPayload(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// TokenLoginRequest is the body of POST <base>/auth/by-token.
type TokenLoginRequest struct {
	User               string `json:"user"`
	Device             string `json:"device"`
	Serial             string `json:"serial"`
	Nonce              string `json:"nonce"`
	Timestamp          string `json:"timestamp"`
	SignatureAlgorithm string `json:"signature_algorithm"`
	Signature          string `json:"signature"`
}

// Fields returns the signed fields keyed by their canonical names.
func (r *TokenLoginRequest) Fields() map[string]string {
	return map[string]string{
		"timestamp": r.Timestamp,
		"nonce":     r.Nonce,
		"user":      r.User,
		"serial":    r.Serial,
		"device":    r.Device,
	}
}

// BuildTokenLogin collects the signed fields, signs their canonical form with signer,
// and returns the complete login request. The signature is standard base64.
func BuildTokenLogin(cred *Credential, signer Signer, deviceID string, now time.Time) (*TokenLoginRequest, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	req := &TokenLoginRequest{
		User:               cred.ID,
		Device:             deviceID,
		Serial:             cred.Serial,
		Nonce:              nonce,
		Timestamp:          now.UTC().Format(TimestampFormat),
		SignatureAlgorithm: signer.Algorithm(),
	}
	sig, err := signer.Sign([]byte(CanonicalPayload(req.Fields())))
	if err != nil {
		return nil, fmt.Errorf("sign login payload: %w", err)
	}
	req.Signature = base64.StdEncoding.EncodeToString(sig)
	return req, nil
}

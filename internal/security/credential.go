package security

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"infractl/client/internal/clienterr"
)

// Credential is the decoded token-login credential issued by the control service.
type Credential struct {
	// ID identifies the user the credential belongs to.
	ID string `json:"id"`
	// Serial identifies the key pair; the server looks up the public half by serial.
	Serial string `json:"serial"`
	// Algorithm names the key type, e.g. "ed25519". Empty means infer from the key.
	Algorithm string `json:"algorithm"`
	// PrivateKey is either a base64 Ed25519 seed/key or a PEM private key.
	PrivateKey string `json:"private_key"`
}

// DecodeCredential decodes a base64-encoded JSON credential blob. Standard and URL alphabets,
// padded or not, are accepted. A blob that cannot be decoded or has no identifier yields ErrMalformedCredential.
func DecodeCredential(encoded string) (*Credential, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty credential", clienterr.ErrMalformedCredential)
	}
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", clienterr.ErrMalformedCredential, err)
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", clienterr.ErrMalformedCredential, err)
	}
	if strings.TrimSpace(cred.ID) == "" {
		return nil, fmt.Errorf("%w: missing identifier", clienterr.ErrMalformedCredential)
	}
	if strings.TrimSpace(cred.PrivateKey) == "" {
		return nil, fmt.Errorf("%w: missing private key", clienterr.ErrMalformedCredential)
	}
	return &cred, nil
}

// Encode returns the base64 (standard, padded) JSON encoding of the credential.
func (c *Credential) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"infractl/client/internal/clienterr"
	"infractl/client/internal/security"
	"infractl/client/internal/tokenset/domain"
)

// PasswordLoginRequest is the body of a password login.
type PasswordLoginRequest struct {
	User   string `json:"user"`
	Device string `json:"device"`
	Secret string `json:"secret"`
}

// RefreshRequest is the body of a refresh exchange.
type RefreshRequest struct {
	User   string `json:"user"`
	Device string `json:"device"`
	Token  string `json:"token"`
}

// LoginBySecret exchanges a shared secret for a token set.
func (c *Client) LoginBySecret(ctx context.Context, req PasswordLoginRequest) (*domain.TokenSet, error) {
	return c.exchange(ctx, PathBySecret, req)
}

// LoginByToken sends a signed token login request.
func (c *Client) LoginByToken(ctx context.Context, req *security.TokenLoginRequest) (*domain.TokenSet, error) {
	return c.exchange(ctx, PathByToken, req)
}

// Refresh exchanges a refresh token for a new token set.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) (*domain.TokenSet, error) {
	return c.exchange(ctx, PathRefresh, req)
}

// exchange posts an unauthenticated auth request. The token set is returned as-is; callers validate it.
func (c *Client) exchange(ctx context.Context, path string, body any) (*domain.TokenSet, error) {
	data, err := c.Post(ctx, path, body, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, clienterr.Validation("server returned no token set")
	}
	var ts domain.TokenSet
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("%w: decode token set: %v", clienterr.ErrValidationFailed, err)
	}
	return &ts, nil
}

// Package session implements the Session Manager: it acquires, validates and renews the token set of one
// client session and coordinates with other sessions through the shared token store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"infractl/client/internal/clienterr"
	"infractl/client/internal/security"
	"infractl/client/internal/tokenset/domain"
	"infractl/client/internal/tokenstore"
	"infractl/client/internal/transport"
)

const (
	// HeartbeatLead is how long before access expiry the heartbeat fires.
	HeartbeatLead = 90 * time.Second
	// DefaultMinHeartbeatInterval floors the heartbeat delay.
	DefaultMinHeartbeatInterval = time.Second
	// RefreshTimeout bounds one shared refresh exchange.
	RefreshTimeout = 30 * time.Second
)

// ErrReleased is returned by operations on a released session.
var ErrReleased = errors.New("session released")

// AuthClient is the minimal handshake transport needed by the session manager.
type AuthClient interface {
	LoginBySecret(ctx context.Context, req transport.PasswordLoginRequest) (*domain.TokenSet, error)
	LoginByToken(ctx context.Context, req *security.TokenLoginRequest) (*domain.TokenSet, error)
	Refresh(ctx context.Context, req transport.RefreshRequest) (*domain.TokenSet, error)
}

// Config holds the collaborators and tunables of a Manager. Auth is required; everything else is optional.
type Config struct {
	Auth     AuthClient
	Store    tokenstore.Store
	Notifier tokenstore.Notifier

	// SessionKey names the token set in Store. Sessions sharing a key share tokens. Defaults to the session ID.
	SessionKey string
	// DeviceID identifies this client to the server. Defaults to a random UUID.
	DeviceID string

	HeartbeatLead        time.Duration
	MinHeartbeatInterval time.Duration
	// Tolerance is the expiry tolerance used by validation; zero means domain.ExpiryTolerance.
	Tolerance time.Duration
	// VerifySignatures additionally checks the access token signature before adopting a set.
	VerifySignatures bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager owns the authenticated state of one session. All methods are safe for concurrent use;
// heartbeat callbacks run on their own goroutines.
type Manager struct {
	id         string
	deviceID   string
	sessionKey string

	auth     AuthClient
	store    tokenstore.Store
	notifier tokenstore.Notifier
	logger   *slog.Logger
	nowFunc  func() time.Time

	lead        time.Duration
	minInterval time.Duration
	tolerance   time.Duration
	verify      bool

	refreshGroup singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	tokens        *domain.TokenSet
	authenticated bool
	timer         *time.Timer
	timerGen      uint64
	released      bool
}

// New returns an unauthenticated Manager. Call Release when done with it.
func New(cfg Config) (*Manager, error) {
	if cfg.Auth == nil {
		return nil, errors.New("session: auth client is required")
	}
	id := uuid.NewString()
	m := &Manager{
		id:          id,
		deviceID:    cfg.DeviceID,
		sessionKey:  cfg.SessionKey,
		auth:        cfg.Auth,
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
		nowFunc:     cfg.Now,
		lead:        cfg.HeartbeatLead,
		minInterval: cfg.MinHeartbeatInterval,
		tolerance:   cfg.Tolerance,
		verify:      cfg.VerifySignatures,
	}
	if m.deviceID == "" {
		m.deviceID = uuid.NewString()
	}
	if m.sessionKey == "" {
		m.sessionKey = id
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("session_id", id)
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	if m.lead <= 0 {
		m.lead = HeartbeatLead
	}
	if m.minInterval <= 0 {
		m.minInterval = DefaultMinHeartbeatInterval
	}
	if m.tolerance <= 0 {
		m.tolerance = domain.ExpiryTolerance
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// ID returns the session's stable identity.
func (m *Manager) ID() string { return m.id }

// DeviceID returns the device identifier sent on login and refresh.
func (m *Manager) DeviceID() string { return m.deviceID }

// SessionKey returns the token store key shared with other sessions.
func (m *Manager) SessionKey() string { return m.sessionKey }

// Authenticated reports whether the session currently holds a usable token set.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// Tokens returns a copy of the current token set, or nil.
func (m *Manager) Tokens() *domain.TokenSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens.Clone()
}

// Roles returns the roles of the current token set.
func (m *Manager) Roles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		return nil
	}
	return append([]string(nil), m.tokens.Roles...)
}

// Credentials returns the access and CSRF tokens to attach to a command, or ErrUnauthenticated.
func (m *Manager) Credentials() (transport.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated || m.tokens == nil {
		return transport.Credentials{}, clienterr.ErrUnauthenticated
	}
	return transport.Credentials{AccessToken: m.tokens.AccessToken, CSRFToken: m.tokens.CSRFToken}, nil
}

// ValidateTokens checks ts without touching session state.
func (m *Manager) ValidateTokens(ts *domain.TokenSet) error {
	if err := domain.Validate(ts, m.nowFunc(), m.tolerance); err != nil {
		return err
	}
	if m.verify {
		return security.VerifyAccessToken(ts)
	}
	return nil
}

// AuthenticateByPassword exchanges user and password for a token set and adopts it.
func (m *Manager) AuthenticateByPassword(ctx context.Context, user, password string) error {
	ts, err := m.auth.LoginBySecret(ctx, transport.PasswordLoginRequest{User: user, Device: m.deviceID, Secret: password})
	if err != nil {
		return fmt.Errorf("password login: %w", clienterr.Rejected(err))
	}
	return m.accept(ctx, ts)
}

// AuthenticateByToken decodes an encoded credential, signs a login request with its key and adopts the result.
func (m *Manager) AuthenticateByToken(ctx context.Context, encoded string) error {
	cred, err := security.DecodeCredential(encoded)
	if err != nil {
		return err
	}
	signer, err := security.NewSigner(cred)
	if err != nil {
		if errors.Is(err, clienterr.ErrMalformedCredential) {
			return err
		}
		return fmt.Errorf("%w: %v", clienterr.ErrMalformedCredential, err)
	}
	req, err := security.BuildTokenLogin(cred, signer, m.deviceID, m.nowFunc())
	if err != nil {
		return err
	}
	ts, err := m.auth.LoginByToken(ctx, req)
	if err != nil {
		return fmt.Errorf("token login: %w", clienterr.Rejected(err))
	}
	return m.accept(ctx, ts)
}

// LoadTokens adopts an externally obtained set without a network call. An invalid set leaves state unchanged.
func (m *Manager) LoadTokens(ctx context.Context, ts *domain.TokenSet) error {
	return m.accept(ctx, ts)
}

// RefreshToken exchanges the current refresh token for a new set, adopts it and writes it to the store.
// Concurrent callers share one exchange. The exchange is detached from the callers' cancellation and is
// bounded by RefreshTimeout and Release instead; a caller whose ctx ends gets ctx.Err() while the exchange
// carries on for the others. A refresh token the server rejects yields ErrUnauthenticated.
func (m *Manager) RefreshToken(ctx context.Context) error {
	ch := m.refreshGroup.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RefreshTimeout)
		defer cancel()
		stop := context.AfterFunc(m.ctx, cancel)
		defer stop()
		return nil, m.refresh(rctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	cur := m.tokens.Clone()
	m.mu.Unlock()
	if cur == nil {
		return clienterr.ErrUnauthenticated
	}
	ts, err := m.auth.Refresh(ctx, transport.RefreshRequest{User: cur.UserID, Device: m.deviceID, Token: cur.RefreshToken})
	if err != nil {
		return fmt.Errorf("refresh: %w", clienterr.Rejected(err))
	}
	return m.accept(ctx, ts)
}

// SyncFromStore adopts the store's token set when it differs from the local one, is valid, and does not
// expire earlier than the local set. It reports whether a set was adopted.
func (m *Manager) SyncFromStore(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	ts, err := m.store.Get(ctx, m.sessionKey)
	if err != nil {
		return false, fmt.Errorf("sync from store: %w", err)
	}
	if ts == nil {
		return false, nil
	}
	m.mu.Lock()
	cur := m.tokens
	stale := domain.SameTokens(cur, ts) || (cur != nil && ts.AccessExpiresAt.Before(cur.AccessExpiresAt))
	m.mu.Unlock()
	if stale {
		return false, nil
	}
	if err := m.ValidateTokens(ts); err != nil {
		m.logger.Debug("session: ignoring invalid stored token set", "error", err)
		return false, nil
	}
	if err := m.adopt(ctx, ts, false); err != nil {
		return false, err
	}
	m.logger.Debug("session: adopted token set from store", "access", security.TokenFingerprint(ts.AccessToken))
	return true, nil
}

// OnValidationExpired moves the session to the unauthenticated state. It fires one state-change and one
// auth-expired notification, and does nothing when the session is already unauthenticated.
func (m *Manager) OnValidationExpired() {
	m.mu.Lock()
	if !m.authenticated {
		m.mu.Unlock()
		return
	}
	m.authenticated = false
	m.tokens = nil
	m.stopHeartbeatLocked()
	m.mu.Unlock()

	m.logger.Warn("session: authentication expired")
	if m.notifier != nil {
		m.notifier.OnAuthStateChanged(m.sessionKey, false)
		m.notifier.OnAuthExpired(m.id)
	}
}

// Logout drops the local token set and clears the store key.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	wasAuthenticated := m.authenticated
	m.authenticated = false
	m.tokens = nil
	m.stopHeartbeatLocked()
	m.mu.Unlock()

	var err error
	if m.store != nil {
		if err = m.store.Set(ctx, m.sessionKey, nil); err != nil {
			err = fmt.Errorf("clear stored tokens: %w", err)
		}
	}
	if wasAuthenticated && m.notifier != nil {
		m.notifier.OnAuthStateChanged(m.sessionKey, false)
	}
	return err
}

// Release stops the heartbeat and cancels background work. It is safe to call more than once
// and must be called whatever the authentication state.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	m.stopHeartbeatLocked()
	m.cancel()
}

// accept validates ts, adopts it and persists it to the store.
func (m *Manager) accept(ctx context.Context, ts *domain.TokenSet) error {
	if err := m.ValidateTokens(ts); err != nil {
		return err
	}
	return m.adopt(ctx, ts, true)
}

// adopt installs ts as the current set and re-arms the heartbeat. A store write failure is logged;
// the session stays authenticated with the new set.
func (m *Manager) adopt(ctx context.Context, ts *domain.TokenSet, persist bool) error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return ErrReleased
	}
	wasAuthenticated := m.authenticated
	m.tokens = ts.Clone()
	m.authenticated = true
	m.startHeartbeatLocked()
	m.mu.Unlock()

	if persist && m.store != nil {
		if err := m.store.Set(ctx, m.sessionKey, ts); err != nil {
			m.logger.Warn("session: failed to write token set to store", "error", err)
		}
	}
	if !wasAuthenticated {
		m.logger.Info("session: authenticated", "user_id", ts.UserID)
		if m.notifier != nil {
			m.notifier.OnAuthStateChanged(m.sessionKey, true)
		}
	}
	return nil
}

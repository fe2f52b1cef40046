package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"infractl/client/internal/clienterr"
	"infractl/client/internal/security"
	"infractl/client/internal/tokenset/domain"
	"infractl/client/internal/tokenstore"
	"infractl/client/internal/transport"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeAuth issues token sets from a TestIssuer and records every exchange.
type fakeAuth struct {
	mu          sync.Mutex
	issuer      *security.TestIssuer
	now         func() time.Time
	loginErr    error
	refreshErr  error
	mutate      func(*domain.TokenSet)
	refreshTTL  time.Duration
	loginCalls  int
	refreshes   []transport.RefreshRequest
	lastSecret  transport.PasswordLoginRequest
	lastToken   *security.TokenLoginRequest
	refreshedCh chan struct{}

	// refreshGate, when set, holds each refresh until it is closed or the exchange ctx ends.
	refreshGate  chan struct{}
	refreshEnter chan struct{}
}

func newFakeAuth(t *testing.T, now func() time.Time) *fakeAuth {
	t.Helper()
	issuer, err := security.NewTestIssuer()
	if err != nil {
		t.Fatalf("NewTestIssuer: %v", err)
	}
	return &fakeAuth{issuer: issuer, now: now, refreshedCh: make(chan struct{}, 16), refreshEnter: make(chan struct{}, 16)}
}

func (f *fakeAuth) issue(user string) (*domain.TokenSet, error) {
	ts, err := f.issuer.Issue(user, f.now())
	if err != nil {
		return nil, err
	}
	if f.mutate != nil {
		f.mutate(ts)
	}
	return ts, nil
}

func (f *fakeAuth) LoginBySecret(_ context.Context, req transport.PasswordLoginRequest) (*domain.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	f.lastSecret = req
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.issue(req.User)
}

func (f *fakeAuth) LoginByToken(_ context.Context, req *security.TokenLoginRequest) (*domain.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	f.lastToken = req
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.issue(req.User)
}

func (f *fakeAuth) Refresh(ctx context.Context, req transport.RefreshRequest) (*domain.TokenSet, error) {
	select {
	case f.refreshEnter <- struct{}{}:
	default:
	}
	if f.refreshGate != nil {
		select {
		case <-f.refreshGate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", clienterr.ErrTransport, ctx.Err())
		}
	}
	f.mu.Lock()
	defer func() {
		f.mu.Unlock()
		f.refreshedCh <- struct{}{}
	}()
	f.refreshes = append(f.refreshes, req)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	ts, err := f.issue(req.User)
	if err == nil && f.refreshTTL > 0 {
		ts.AccessExpiresAt = f.now().Add(f.refreshTTL)
	}
	return ts, err
}

func (f *fakeAuth) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshes)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []bool
	keys    []string
	expired []string
}

func (n *recordingNotifier) OnAuthStateChanged(sessionKey string, authenticated bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, sessionKey)
	n.changes = append(n.changes, authenticated)
}

func (n *recordingNotifier) OnAuthExpired(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired = append(n.expired, sessionID)
}

func (n *recordingNotifier) counts() (changes []bool, expired []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.changes...), append([]string(nil), n.expired...)
}

type harness struct {
	m        *Manager
	auth     *fakeAuth
	store    *tokenstore.MemoryStore
	notifier *recordingNotifier
	clock    *fakeClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, mod func(*Config)) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Now().UTC()}
	h := &harness{
		auth:     newFakeAuth(t, clock.Now),
		store:    tokenstore.NewMemoryStore(),
		notifier: &recordingNotifier{},
		clock:    clock,
	}
	cfg := Config{
		Auth:       h.auth,
		Store:      h.store,
		Notifier:   h.notifier,
		SessionKey: "ops",
		DeviceID:   "device-1",
		Logger:     discardLogger(),
		Now:        clock.Now,
	}
	if mod != nil {
		mod(&cfg)
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Release)
	h.m = m
	return h
}

package tokenstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"infractl/client/internal/tokenset/domain"
)

func sampleSet(access string) *domain.TokenSet {
	now := time.Now().UTC()
	return &domain.TokenSet{
		AccessToken:      access,
		RefreshToken:     "refresh-" + access,
		CSRFToken:        "csrf",
		PublicKey:        "pk",
		Algorithm:        "EdDSA",
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshExpiresAt: now.Add(24 * time.Hour),
		UserID:           "u1",
		Roles:            []string{"admin"},
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()
	ts, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ts != nil {
		t.Errorf("Get missing = %+v, want nil", ts)
	}
}

func TestMemoryStore_SetGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Set(ctx, "k", sampleSet("a1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ts, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ts == nil || ts.AccessToken != "a1" {
		t.Fatalf("Get = %+v, want access a1", ts)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	in := sampleSet("a1")
	_ = store.Set(ctx, "k", in)
	in.AccessToken = "mutated"

	out, _ := store.Get(ctx, "k")
	if out.AccessToken != "a1" {
		t.Errorf("stored set mutated through caller copy: %q", out.AccessToken)
	}
	out.Roles[0] = "viewer"
	again, _ := store.Get(ctx, "k")
	if again.Roles[0] != "admin" {
		t.Errorf("stored roles mutated through returned copy: %v", again.Roles)
	}
}

func TestMemoryStore_SetNilClears(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, "k", sampleSet("a1"))
	if err := store.Set(ctx, "k", nil); err != nil {
		t.Fatalf("Set nil: %v", err)
	}
	ts, _ := store.Get(ctx, "k")
	if ts != nil {
		t.Errorf("Get after clear = %+v, want nil", ts)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Set(ctx, "k", sampleSet("a"))
			_, _ = store.Get(ctx, "k")
		}()
	}
	wg.Wait()
	ts, _ := store.Get(ctx, "k")
	if ts == nil {
		t.Fatal("expected a stored set after concurrent writes")
	}
}

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/repo-mashup/pkg/mashup"
)

// setupTestRedis starts an in-memory Redis server for unit tests.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		client.Close()
	})

	return client, mr
}

func TestNewRedis_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedis should panic with nil redis client")
		}
	}()
	NewRedis[string](nil, "test")
}

func TestRedis_SetAndGet(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedis[[]mashup.Subject](client, "mashup")
	ctx := context.Background()

	subjects := []mashup.Subject{
		{Name: "reactor", Description: "reactive streams", Forks: 10, Watchers: 99},
		{Name: "rxjava", URL: "https://example.com/rxjava"},
	}

	if err := store.Set(ctx, "search:reactive", subjects, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "search:reactive")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 || got[0] != subjects[0] || got[1] != subjects[1] {
		t.Errorf("Get() = %+v, want %+v", got, subjects)
	}
}

func TestRedis_KeyPrefixAndTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedis[string](client, "mashup")
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", 30*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if !mr.Exists("mashup:k") {
		t.Fatal("expected prefixed key mashup:k to exist")
	}
	if ttl := mr.TTL("mashup:k"); ttl != 30*time.Second {
		t.Errorf("TTL = %v, want 30s", ttl)
	}

	mr.FastForward(31 * time.Second)

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss after expiry, got %v", err)
	}
}

func TestRedis_Miss(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedis[string](client, "")

	if _, err := store.Get(context.Background(), "nonexistent"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestRedis_NonPositiveTTLIsNoop(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedis[string](client, "mashup")

	if err := store.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if mr.Exists("mashup:k") {
		t.Error("ttl=0 must not store a value")
	}
}

func TestRedis_InvalidKey(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedis[string](client, "mashup")
	ctx := context.Background()

	if err := store.Set(ctx, "", "v", time.Minute); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Set: expected ErrInvalidKey, got %v", err)
	}
	if _, err := store.Get(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Get: expected ErrInvalidKey, got %v", err)
	}
}

func TestRedis_InvalidEntry(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedis[[]mashup.Subject](client, "mashup")

	if err := mr.Set("mashup:broken", "not-json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := store.Get(context.Background(), "broken"); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestRedis_ConnectionError(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedis[string](client, "mashup")

	mr.Close()

	_, err := store.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected a backend error distinct from ErrCacheMiss, got %v", err)
	}
}

func TestRedis_Delete(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedis[string](client, "mashup")
	ctx := context.Background()

	_ = store.Set(ctx, "k", "v", time.Minute)
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss after delete, got %v", err)
	}
}

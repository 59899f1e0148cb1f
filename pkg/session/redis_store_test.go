package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// setupRedisStoreTest creates a miniredis instance and a store on top of it
func setupRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client, err := NewRedisClient(context.Background(), RedisOptions{URL: "redis://" + mr.Addr(), PoolSize: 5})
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis client: %v", err)
	}

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return NewRedisStore(client), mr, cleanup
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisOptions{URL: "not a url"})
	if err == nil {
		t.Fatal("Expected error for invalid URL")
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisClient(context.Background(), RedisOptions{URL: "redis://" + addr})
	if err == nil {
		t.Fatal("Expected error for unreachable server")
	}
}

func TestRedisStore_SaveLoadDelete(t *testing.T) {
	store, mr, cleanup := setupRedisStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	sess := &Session{AccountID: 7, Email: "jane@example.com", ExpiresAt: time.Now().Add(time.Hour)}

	if err := store.Save(ctx, "hash-1", sess, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if !mr.Exists(redisKeyPrefix + "hash-1") {
		t.Fatal("Expected session key to exist in redis")
	}
	if ttl := mr.TTL(redisKeyPrefix + "hash-1"); ttl != time.Hour {
		t.Errorf("TTL = %v, want %v", ttl, time.Hour)
	}

	loaded, err := store.Load(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.AccountID != 7 || loaded.Email != "jane@example.com" {
		t.Errorf("Load() = %+v", loaded)
	}

	if err := store.Delete(ctx, "hash-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "hash-1"); err != ErrNotFound {
		t.Errorf("Load() after delete error = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	store, mr, cleanup := setupRedisStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.Save(ctx, "hash-2", &Session{AccountID: 1}, time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Load(ctx, "hash-2"); err != ErrNotFound {
		t.Errorf("Load() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	store, mr, cleanup := setupRedisStoreTest(t)
	defer cleanup()

	if err := mr.Set(redisKeyPrefix+"hash-3", "{not json"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := store.Load(context.Background(), "hash-3"); err == nil {
		t.Fatal("Expected error for corrupt record")
	}
	if mr.Exists(redisKeyPrefix + "hash-3") {
		t.Error("Expected corrupt record to be deleted")
	}
}

func TestRedisStore_ConnectionError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client)
	mr.Close()

	if _, err := store.Load(context.Background(), "hash"); err == nil || err == ErrNotFound {
		t.Errorf("Load() error = %v, want connection error", err)
	}
}

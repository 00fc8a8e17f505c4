package identity

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := NewRedisStore(rdb)
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	return s, mr
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := newMiniredisStore(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := newMiniredisStore(t)

	p, err := s.CreatePrincipal(context.Background(), CreatePrincipalInput{
		Handle:       "Keys",
		Email:        "Keys@Example.com",
		PasswordHash: "h",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got, _ := mr.Get("voir:principal:handle:keys"); got != p.ID {
		t.Fatalf("handle index: got %q want %q", got, p.ID)
	}
	if got, _ := mr.Get("voir:principal:email:keys@example.com"); got != p.ID {
		t.Fatalf("email index: got %q want %q", got, p.ID)
	}
	if got := mr.HGet("voir:principal:"+p.ID, "password_hash"); got != "h" {
		t.Fatalf("hash field: got %q", got)
	}
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := NewRedisStore(rdb, WithKeyPrefix("tenant1"))
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	p, err := s.CreatePrincipal(context.Background(), CreatePrincipalInput{Handle: "x", Email: "x@y.z", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("tenant1:principal:" + p.ID) {
		t.Fatalf("expected prefixed principal key")
	}
}

func TestNewRedisStore_NilClient(t *testing.T) {
	if _, err := NewRedisStore(nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_SetNXAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.Now = func() time.Time { return now }

	if ok, _ := s.SetNX(ctx, "lock", []byte("a"), time.Minute); !ok {
		t.Fatalf("first SetNX must succeed")
	}
	if ok, _ := s.SetNX(ctx, "lock", []byte("b"), time.Minute); ok {
		t.Fatalf("second SetNX must fail while key is live")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := s.SetNX(ctx, "lock", []byte("b"), time.Minute); !ok {
		t.Fatalf("SetNX after expiry must succeed")
	}
	v, found, _ := s.Get(ctx, "lock")
	if !found || string(v) != "b" {
		t.Fatalf("value=%q found=%v", v, found)
	}
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "k", []byte("token-1"), 0)
	if ok, _ := s.CompareAndDelete(ctx, "k", []byte("token-2")); ok {
		t.Fatalf("mismatched token must not delete")
	}
	if ok, _ := s.CompareAndDelete(ctx, "k", []byte("token-1")); !ok {
		t.Fatalf("matching token must delete")
	}
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Fatalf("key must be gone")
	}
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mtfcascade/internal/cache"
	memoryrepository "mtfcascade/internal/repository/memory"
)

func TestRunLock_Backends(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(baseNow)
	store := memoryrepository.New()
	store.Now = clock.Now
	mem := cache.NewMemoryStore()
	mem.Now = clock.Now

	locks := map[string]RunLock{
		"db":    &RepoRunLock{Repo: store, Clock: clock},
		"cache": &CacheRunLock{Store: mem, Clock: clock},
	}
	for name, lock := range locks {
		key := "cycle:" + name
		ok, err := lock.Acquire(ctx, key, "token-a", time.Minute, map[string]any{"cycle_id": "c1"})
		if err != nil || !ok {
			t.Fatalf("%s: first acquire ok=%v err=%v", name, ok, err)
		}
		ok, err = lock.Acquire(ctx, key, "token-b", time.Minute, nil)
		if err != nil || ok {
			t.Fatalf("%s: contended acquire ok=%v err=%v", name, ok, err)
		}
		info, err := lock.Info(ctx, key)
		if err != nil || info == nil || info.HolderToken != "token-a" || info.Metadata["cycle_id"] != "c1" {
			t.Fatalf("%s: info=%+v err=%v", name, info, err)
		}
		if ok, _ := lock.Release(ctx, key, "token-b"); ok {
			t.Fatalf("%s: foreign token released the lock", name)
		}
		if ok, _ := lock.Release(ctx, key, "token-a"); !ok {
			t.Fatalf("%s: holder could not release", name)
		}
		if ok, _ := lock.Acquire(ctx, key, "token-b", time.Minute, nil); !ok {
			t.Fatalf("%s: acquire after release failed", name)
		}
	}
}

// failingMetaStore rejects writes to the lock metadata key.
type failingMetaStore struct {
	*cache.MemoryStore
}

func (s failingMetaStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if strings.HasSuffix(key, ":meta") {
		return errors.New("meta write refused")
	}
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func TestCacheRunLock_MetadataFailureReleasesKey(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(baseNow)
	mem := cache.NewMemoryStore()
	mem.Now = clock.Now
	lock := &CacheRunLock{Store: failingMetaStore{mem}, Clock: clock}

	ok, err := lock.Acquire(ctx, "cycle:1m", "token-a", time.Minute, nil)
	if ok || err == nil {
		t.Fatalf("acquire ok=%v err=%v want failure", ok, err)
	}
	if _, found, _ := mem.Get(ctx, "cycle:1m"); found {
		t.Fatalf("lock key left behind after metadata failure")
	}
	healthy := &CacheRunLock{Store: mem, Clock: clock}
	if ok, err := healthy.Acquire(ctx, "cycle:1m", "token-b", time.Minute, nil); err != nil || !ok {
		t.Fatalf("next acquire ok=%v err=%v", ok, err)
	}
}

func TestRunLock_TakeoverAfterExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(baseNow)
	store := memoryrepository.New()
	store.Now = clock.Now
	mem := cache.NewMemoryStore()
	mem.Now = clock.Now

	for name, lock := range map[string]RunLock{
		"db":    &RepoRunLock{Repo: store, Clock: clock},
		"cache": &CacheRunLock{Store: mem, Clock: clock},
	} {
		clock.Set(baseNow)
		key := "expiry:" + name
		if ok, _ := lock.Acquire(ctx, key, "crashed", 30*time.Second, nil); !ok {
			t.Fatalf("%s: acquire failed", name)
		}
		clock.Add(31 * time.Second)
		if info, _ := lock.Info(ctx, key); info != nil {
			t.Fatalf("%s: expired lock still reported: %+v", name, info)
		}
		ok, err := lock.Acquire(ctx, key, "fresh", 30*time.Second, nil)
		if err != nil || !ok {
			t.Fatalf("%s: takeover ok=%v err=%v", name, ok, err)
		}
		if ok, _ := lock.Release(ctx, key, "crashed"); ok {
			t.Fatalf("%s: stale holder released the new lease", name)
		}
	}
}

func TestNewRunLock(t *testing.T) {
	store := memoryrepository.New()
	if _, err := NewRunLock("db", store, nil, nil); err != nil {
		t.Fatalf("db: %v", err)
	}
	if _, err := NewRunLock("memory", nil, nil, nil); err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, err := NewRunLock("redis", nil, nil, nil); err == nil {
		t.Fatalf("redis without a store must fail")
	}
	if _, err := NewRunLock("zookeeper", store, nil, nil); err == nil {
		t.Fatalf("unknown backend must fail")
	}
}

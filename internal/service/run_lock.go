package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"mtfcascade/internal/cache"
	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

var ErrLockNotHeld = errors.New("run lock not held by this token")

type LockInfo struct {
	Key         string         `json:"key"`
	HolderToken string         `json:"holder_token"`
	AcquiredAt  time.Time      `json:"acquired_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RunLock is a single-holder lease with a TTL. Acquire never waits.
type RunLock interface {
	Acquire(ctx context.Context, key, holderToken string, ttl time.Duration, metadata map[string]any) (bool, error)
	Release(ctx context.Context, key, holderToken string) (bool, error)
	Info(ctx context.Context, key string) (*LockInfo, error)
}

// NewRunLock picks the backend named in config: "db", "redis" or "memory".
func NewRunLock(backend string, repo repository.RunLockRepository, store cache.Store, clock timeframe.Clock) (RunLock, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "db":
		if repo == nil {
			return nil, errors.New("run lock: db backend needs a repository")
		}
		return &RepoRunLock{Repo: repo, Clock: clock}, nil
	case "redis":
		if store == nil {
			return nil, errors.New("run lock: redis backend needs a cache store")
		}
		return &CacheRunLock{Store: store, Clock: clock}, nil
	case "memory":
		return &CacheRunLock{Store: cache.NewMemoryStore(), Clock: clock}, nil
	}
	return nil, fmt.Errorf("run lock: unknown backend %q", backend)
}

func clockNow(c timeframe.Clock) time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c.Now()
}

// RepoRunLock keeps the lease in the run_locks table.
type RepoRunLock struct {
	Repo  repository.RunLockRepository
	Clock timeframe.Clock
}

func (l *RepoRunLock) Acquire(ctx context.Context, key, holderToken string, ttl time.Duration, metadata map[string]any) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("run lock: ttl must be positive")
	}
	now := clockNow(l.Clock)
	raw, err := json.Marshal(metadata)
	if err != nil {
		return false, err
	}
	return l.Repo.AcquireRunLock(ctx, &models.RunLock{
		LockKey:     key,
		HolderToken: holderToken,
		ExpiresAt:   now.Add(ttl),
		Metadata:    datatypes.JSON(raw),
		AcquiredAt:  now,
	}, now)
}

func (l *RepoRunLock) Release(ctx context.Context, key, holderToken string) (bool, error) {
	return l.Repo.ReleaseRunLock(ctx, key, holderToken)
}

func (l *RepoRunLock) Info(ctx context.Context, key string) (*LockInfo, error) {
	row, err := l.Repo.GetRunLock(ctx, key)
	if err != nil || row == nil {
		return nil, err
	}
	if !row.ExpiresAt.After(clockNow(l.Clock)) {
		return nil, nil
	}
	info := &LockInfo{
		Key:         row.LockKey,
		HolderToken: row.HolderToken,
		AcquiredAt:  row.AcquiredAt.UTC(),
		ExpiresAt:   row.ExpiresAt.UTC(),
	}
	if len(row.Metadata) > 0 {
		_ = json.Unmarshal(row.Metadata, &info.Metadata)
	}
	return info, nil
}

// CacheRunLock keeps the lease in a cache.Store: SET NX on the key plus a metadata key with
// the same TTL.
type CacheRunLock struct {
	Store cache.Store
	Clock timeframe.Clock
}

func metaKey(key string) string { return key + ":meta" }

func (l *CacheRunLock) Acquire(ctx context.Context, key, holderToken string, ttl time.Duration, metadata map[string]any) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("run lock: ttl must be positive")
	}
	ok, err := l.Store.SetNX(ctx, key, []byte(holderToken), ttl)
	if err != nil || !ok {
		return false, err
	}
	now := clockNow(l.Clock)
	raw, err := json.Marshal(LockInfo{
		Key:         key,
		HolderToken: holderToken,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
		Metadata:    metadata,
	})
	if err == nil {
		err = l.Store.Set(ctx, metaKey(key), raw, ttl)
	}
	if err != nil {
		// Roll back the lease.
		_, _ = l.Store.CompareAndDelete(ctx, key, []byte(holderToken))
		return false, fmt.Errorf("run lock metadata %s: %w", key, err)
	}
	return true, nil
}

func (l *CacheRunLock) Release(ctx context.Context, key, holderToken string) (bool, error) {
	ok, err := l.Store.CompareAndDelete(ctx, key, []byte(holderToken))
	if err != nil || !ok {
		return false, err
	}
	return true, l.Store.Delete(ctx, metaKey(key))
}

func (l *CacheRunLock) Info(ctx context.Context, key string) (*LockInfo, error) {
	token, found, err := l.Store.Get(ctx, key)
	if err != nil || !found {
		return nil, err
	}
	info := &LockInfo{Key: key, HolderToken: string(token)}
	raw, found, err := l.Store.Get(ctx, metaKey(key))
	if err != nil {
		return nil, err
	}
	if found {
		var stored LockInfo
		if json.Unmarshal(raw, &stored) == nil && stored.HolderToken == info.HolderToken {
			info = &stored
		}
	}
	return info, nil
}

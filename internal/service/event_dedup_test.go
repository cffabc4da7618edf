package service

import (
	"context"
	"errors"
	"testing"
	"time"

	memoryrepository "mtfcascade/internal/repository/memory"
)

func TestEventDedupGuard_AcceptOnce(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(baseNow)
	store := memoryrepository.New()
	g := &EventDedupGuard{Repo: store, Clock: clock}

	ok, err := g.Accept(ctx, "fill-1", "exchange")
	if err != nil || !ok {
		t.Fatalf("first accept ok=%v err=%v", ok, err)
	}
	ok, err = g.Accept(ctx, " fill-1 ", "exchange")
	if err != nil || ok {
		t.Fatalf("repeat accept ok=%v err=%v", ok, err)
	}
	if _, err := g.Accept(ctx, "  ", "exchange"); !errors.Is(err, ErrEmptyEventID) {
		t.Fatalf("err=%v want ErrEmptyEventID", err)
	}
}

func TestEventDedupGuard_Prune(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(baseNow)
	store := memoryrepository.New()
	g := &EventDedupGuard{Repo: store, Clock: clock}

	if _, err := g.Accept(ctx, "old", "test"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	clock.Add(48 * time.Hour)
	if _, err := g.Accept(ctx, "new", "test"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	n, err := g.Prune(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("pruned=%d err=%v want 1", n, err)
	}
	// A pruned id is accepted again.
	if ok, _ := g.Accept(ctx, "old", "test"); !ok {
		t.Fatalf("pruned id must be accepted again")
	}
	if ok, _ := g.Accept(ctx, "new", "test"); ok {
		t.Fatalf("retained id must stay deduplicated")
	}
}

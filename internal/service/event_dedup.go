package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

var ErrEmptyEventID = errors.New("event id is required")

type dedupInserter interface {
	InsertEventDedup(ctx context.Context, item *models.EventDedupRecord) (bool, error)
}

// EventDedupGuard lets each external event id through exactly once.
type EventDedupGuard struct {
	Repo    repository.EventDedupRepository
	Clock   timeframe.Clock
	Logger  *zap.Logger
	Metrics Metrics
}

func (g *EventDedupGuard) now() time.Time {
	if g == nil || g.Clock == nil {
		return time.Now().UTC()
	}
	return g.Clock.Now()
}

// Accept reports true the first time eventID is seen and false for every repeat.
func (g *EventDedupGuard) Accept(ctx context.Context, eventID, source string) (bool, error) {
	if g == nil || g.Repo == nil {
		return false, nil
	}
	return g.accept(ctx, g.Repo, eventID, source)
}

// AcceptTx is Accept inside a router transaction, so the mark and the transition commit together.
func (g *EventDedupGuard) AcceptTx(ctx context.Context, tx repository.EligibilityTx, eventID, source string) (bool, error) {
	return g.accept(ctx, tx, eventID, source)
}

func (g *EventDedupGuard) accept(ctx context.Context, ins dedupInserter, eventID, source string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	ok, err := ins.InsertEventDedup(ctx, &models.EventDedupRecord{
		EventID:     eventID,
		Source:      strings.TrimSpace(source),
		ProcessedAt: g.now(),
	})
	if err != nil {
		return false, err
	}
	if !ok {
		if g != nil && g.Logger != nil {
			g.Logger.Debug("duplicate event ignored", zap.String("event_id", eventID), zap.String("source", source))
		}
		if g != nil {
			metricsOrNop(g.Metrics).DuplicateEvent(source)
		}
	}
	return ok, nil
}

// Prune drops dedup rows older than retention and returns how many went.
func (g *EventDedupGuard) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if g == nil || g.Repo == nil || retention <= 0 {
		return 0, nil
	}
	return g.Repo.DeleteEventDedupBefore(ctx, g.now().Add(-retention))
}

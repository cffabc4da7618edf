package cronrunner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mtfcascade/internal/service"
	"mtfcascade/internal/timeframe"
)

// CycleRunner is the part of service.CycleRunner the scheduler drives.
type CycleRunner interface {
	Run(ctx context.Context, tf timeframe.Timeframe, opts service.CycleOptions) (service.CycleSummary, error)
}

type Maintainer interface {
	PruneDedup(ctx context.Context) (int64, error)
	SweepPending(ctx context.Context) (int64, error)
}

// RegisterCycles adds one job per timeframe. Unknown timeframes and empty specs fail the whole
// registration so a typo in config is caught at startup.
func RegisterCycles(r *Runner, cycles CycleRunner, specs map[string]string) error {
	if r == nil || cycles == nil {
		return errors.New("cron: runner and cycles are required")
	}
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, raw := range keys {
		tf, err := timeframe.Parse(raw)
		if err != nil {
			return fmt.Errorf("cron cycle %q: %w", raw, err)
		}
		spec := strings.TrimSpace(specs[raw])
		if spec == "" {
			return fmt.Errorf("cron cycle %s: empty spec", tf)
		}
		if _, err := r.Add("cycle_"+tf.String(), spec, cycleJob(r.logger, cycles, tf)); err != nil {
			return fmt.Errorf("cron cycle %s: %w", tf, err)
		}
	}
	return nil
}

func cycleJob(logger *zap.Logger, cycles CycleRunner, tf timeframe.Timeframe) func(context.Context) error {
	return func(ctx context.Context) error {
		summary, err := cycles.Run(ctx, tf, service.CycleOptions{})
		if err != nil {
			return err
		}
		if summary.Status == service.CycleAlreadyInProgress {
			logger.Info("cycle skipped, lock held", zap.String("timeframe", tf.String()))
		}
		return nil
	}
}

// RegisterMaintenance adds the dedup prune and pending sweep jobs; an empty spec disables one.
func RegisterMaintenance(r *Runner, m Maintainer, dedupSpec, pendingSpec string) error {
	if r == nil || m == nil {
		return errors.New("cron: runner and maintenance are required")
	}
	if spec := strings.TrimSpace(dedupSpec); spec != "" {
		if _, err := r.Add("dedup_prune", spec, func(ctx context.Context) error {
			_, err := m.PruneDedup(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("cron dedup_prune: %w", err)
		}
	}
	if spec := strings.TrimSpace(pendingSpec); spec != "" {
		if _, err := r.Add("pending_sweep", spec, func(ctx context.Context) error {
			_, err := m.SweepPending(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("cron pending_sweep: %w", err)
		}
	}
	return nil
}

package service

import (
	"context"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
	"github.com/bnema/waveshift/internal/infrastructure/metrics"
)

const staleTaskMessage = "stage timed out"

// Reaper fails tasks whose external stage never called back.
type Reaper struct {
	tasks    *TaskService
	timeout  time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewReaper(tasks *TaskService, timeout, interval time.Duration, m *metrics.Metrics) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reaper{
		tasks:    tasks,
		timeout:  timeout,
		interval: interval,
		metrics:  m,
	}
}

// Run sweeps once per interval until ctx is done. A zero timeout disables it.
func (r *Reaper) Run(ctx context.Context) {
	if r.timeout <= 0 {
		logger.Info.Printf("stale task reaper disabled")
		return
	}
	logger.Info.Printf("stale task reaper started (timeout %s, every %s)", r.timeout, r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info.Printf("stale task reaper shutting down")
			return
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				logger.Error.Printf("stale task sweep failed: %v", err)
			}
		}
	}
}

// ReapOnce fails every in-progress task idle for longer than the timeout and
// returns how many it failed. Tasks that move while being reaped are skipped.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	if r.timeout <= 0 {
		return 0, nil
	}
	stale, err := r.tasks.ListStale(ctx, r.timeout)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, t := range stale {
		_, err := r.tasks.Transition(ctx, t.ID, t.Status, domain.TaskStatusFailed, domain.TaskPatch{
			JobHandle: domain.StringPtr(""),
			Error: &domain.TaskError{
				Message: staleTaskMessage,
				Detail:  "no callback for " + string(t.Status) + " since " + t.UpdatedAt.UTC().Format(time.RFC3339),
			},
		})
		if isConflict(err) {
			continue
		}
		if err != nil {
			logger.Error.Printf("task %s: failed to reap: %v", t.ID, err)
			continue
		}
		logger.Warn.Printf("task %s: reaped after %s in %s", t.ID, r.timeout, t.Status)
		r.metrics.Reaped()
		reaped++
	}
	return reaped, nil
}

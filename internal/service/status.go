package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/metrics"
)

// StatusService serves task snapshots, either once or as a stream that
// re-reads the store on every tick and emits only when the snapshot changed.
type StatusService struct {
	tasks    *TaskService
	events   *EventBus
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewStatusService(tasks *TaskService, events *EventBus, interval time.Duration, m *metrics.Metrics) *StatusService {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusService{
		tasks:    tasks,
		events:   events,
		interval: interval,
		metrics:  m,
	}
}

func (s *StatusService) Get(ctx context.Context, ownerID, taskID string) (*domain.Snapshot, error) {
	t, err := s.tasks.GetOwned(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	snap := t.Snapshot()
	return &snap, nil
}

// Stream calls emit with the current snapshot and then with every snapshot
// that moved the task, until the task is terminal, ctx is done or emit fails.
// A change notice on the event bus triggers an early read; the ticker
// guarantees one read per interval either way.
//
// A task that disappears mid-stream ends it with a not_found error.
func (s *StatusService) Stream(ctx context.Context, ownerID, taskID string, emit func(*domain.Snapshot) error) error {
	// Authorization happens once, before anything is written.
	if _, err := s.tasks.GetOwned(ctx, ownerID, taskID); err != nil {
		return err
	}

	done := s.metrics.StreamOpened()
	defer done()

	var notices chan TaskEvent
	if s.events != nil {
		notices = s.events.Subscribe(taskID)
		defer s.events.Unsubscribe(taskID, notices)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last []byte
	for {
		t, err := s.tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}

		snap := t.Snapshot()
		key, err := changeKey(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if !bytes.Equal(key, last) {
			if err := emit(&snap); err != nil {
				return err
			}
			last = key
		}
		if snap.Status.IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-notices:
		}
	}
}

// changeKey encodes the fields a client follows progress by. PipelineStatus
// is left out: a chained stage acknowledging its job moves it without the
// task taking a step.
func changeKey(snap domain.Snapshot) ([]byte, error) {
	snap.PipelineStatus = ""
	return json.Marshal(snap)
}

package port

import (
	"context"
	"time"

	"github.com/bnema/waveshift/internal/domain"
)

// TaskStore is the single source of truth for task state. Update is the only
// way to change a stored task: it loads the task, fails with a conflict if its
// status is not expected, applies fn and persists the result atomically.
type TaskStore interface {
	Create(ctx context.Context, t *domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Task, error)
	ListStale(ctx context.Context, statuses []domain.TaskStatus, updatedBefore time.Time) ([]*domain.Task, error)
	Update(ctx context.Context, id string, expected domain.TaskStatus, fn func(t *domain.Task) error) (*domain.Task, error)
}

type TranscriptStore interface {
	SaveTranscript(ctx context.Context, t *domain.Transcript) error
	GetTranscript(ctx context.Context, id string) (*domain.Transcript, error)
}

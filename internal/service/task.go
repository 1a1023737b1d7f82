package service

import (
	"context"
	"strings"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
	"github.com/bnema/waveshift/internal/infrastructure/metrics"
	"github.com/bnema/waveshift/internal/port"
	"github.com/bnema/waveshift/internal/validation"
)

const (
	maxTargetLanguageLength = 16
	maxStyleLength          = 64
)

type CreateTaskInput struct {
	FileName string
	FileSize int64
	MimeType string
	Options  domain.PipelineOptions
}

// TaskService owns every status change. Callers never write to the store
// directly, so each change goes through the transition table and the
// store's expected-status guard.
type TaskService struct {
	store            port.TaskStore
	maxFileSize      int64
	synthesisEnabled bool
	metrics          *metrics.Metrics
	events           *EventBus
	now              func() time.Time
}

func NewTaskService(store port.TaskStore, maxFileSize int64, synthesisEnabled bool, m *metrics.Metrics) *TaskService {
	return &TaskService{
		store:            store,
		maxFileSize:      maxFileSize,
		synthesisEnabled: synthesisEnabled,
		metrics:          m,
		now:              time.Now,
	}
}

// WithEvents makes every stored change announce itself on bus.
func (s *TaskService) WithEvents(bus *EventBus) *TaskService {
	s.events = bus
	return s
}

func (s *TaskService) Create(ctx context.Context, ownerID string, in CreateTaskInput) (*domain.Task, error) {
	name := strings.TrimSpace(in.FileName)
	if name == "" {
		return nil, domain.Validationf("fileName is required")
	}
	if in.FileSize <= 0 {
		return nil, domain.Validationf("fileSize must be positive")
	}
	if s.maxFileSize > 0 && in.FileSize > s.maxFileSize {
		return nil, domain.Validationf("fileSize %d exceeds the %d byte limit", in.FileSize, s.maxFileSize)
	}
	mimeType, err := validation.MediaType(in.MimeType, name)
	if err != nil {
		return nil, err
	}

	opts := domain.PipelineOptions{
		TargetLanguage: strings.TrimSpace(in.Options.TargetLanguage),
		Style:          strings.TrimSpace(in.Options.Style),
		Synthesize:     in.Options.Synthesize,
	}
	if len(opts.TargetLanguage) > maxTargetLanguageLength {
		return nil, domain.Validationf("targetLanguage is too long")
	}
	if len(opts.Style) > maxStyleLength {
		return nil, domain.Validationf("style is too long")
	}
	if opts.Synthesize && !s.synthesisEnabled {
		return nil, domain.Validationf("speech synthesis is not available")
	}

	task := domain.NewTask(ownerID, domain.InputDescriptor{
		FileName: name,
		FileSize: in.FileSize,
		MimeType: mimeType,
	}, opts, s.now())
	task.Input.ObjectKey = validation.ObjectKey(ownerID, task.ID, name)

	if err := s.store.Create(ctx, task); err != nil {
		logger.Error.Printf("failed to create task for owner %s: %v", logger.SanitizeForLog(ownerID), err)
		return nil, err
	}

	logger.Info.Printf("task created: id=%s, owner=%s, file=%s, size=%d",
		task.ID, logger.SanitizeForLog(ownerID), logger.SanitizeForLog(name), in.FileSize)
	s.metrics.Transition(string(domain.TaskStatusCreated))
	return task, nil
}

// Transition moves a task from the expected status to another, merging patch.
// It fails with a conflict when the stored status is not from or the edge is
// not legal, and leaves the stored task untouched in that case.
func (s *TaskService) Transition(ctx context.Context, id string, from, to domain.TaskStatus, patch domain.TaskPatch) (*domain.Task, error) {
	if from == to {
		return nil, domain.Conflictf("task %s is already %s", id, to)
	}
	t, err := s.store.Update(ctx, id, from, func(t *domain.Task) error {
		return t.Apply(to, patch, s.now())
	})
	if err != nil {
		return nil, err
	}

	logger.Info.Printf("task %s: %s -> %s (progress %d)", id, from, to, t.Progress)
	s.metrics.Transition(string(to))
	s.events.Publish(TaskEvent{TaskID: id, Status: to})
	return t, nil
}

// Amend merges patch into a task that is still in the expected status.
// check, when set, runs against the stored task before the patch.
func (s *TaskService) Amend(ctx context.Context, id string, expected domain.TaskStatus, patch domain.TaskPatch, check func(*domain.Task) error) (*domain.Task, error) {
	t, err := s.store.Update(ctx, id, expected, func(t *domain.Task) error {
		if check != nil {
			if err := check(t); err != nil {
				return err
			}
		}
		return t.Apply(expected, patch, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(TaskEvent{TaskID: id, Status: expected})
	return t, nil
}

func (s *TaskService) Get(ctx context.Context, id string) (*domain.Task, error) {
	return s.store.Get(ctx, id)
}

// GetOwned returns the task only when ownerID owns it.
func (s *TaskService) GetOwned(ctx context.Context, ownerID, id string) (*domain.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, domain.Forbiddenf("task %s belongs to another owner", id)
	}
	return t, nil
}

func (s *TaskService) List(ctx context.Context, ownerID string) ([]*domain.Task, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

func (s *TaskService) ListStale(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	return s.store.ListStale(ctx, domain.InProgressStatuses, s.now().Add(-olderThan))
}

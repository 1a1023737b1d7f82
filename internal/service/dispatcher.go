package service

import (
	"context"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
	"github.com/bnema/waveshift/internal/infrastructure/metrics"
	"github.com/bnema/waveshift/internal/port"
)

const pipelineStatusDispatched = "dispatched"

// Dispatcher starts the stage that matches a task's current status. It sends
// one request per call and never retries; a failed call leaves the task as it
// was so the client can dispatch again.
type Dispatcher struct {
	tasks       *TaskService
	stages      port.StageClient
	callbackURL string
	metrics     *metrics.Metrics
}

func NewDispatcher(tasks *TaskService, stages port.StageClient, callbackURL string, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		tasks:       tasks,
		stages:      stages,
		callbackURL: callbackURL,
		metrics:     m,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	t, err := d.tasks.GetOwned(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, t)
}

// stageFor picks the stage to start, or a conflict when nothing is pending.
func stageFor(t *domain.Task) (domain.Stage, error) {
	switch {
	case t.Status == domain.TaskStatusUploaded:
		return domain.StageSeparation, nil
	case t.Status == domain.TaskStatusTranscribing || t.Status == domain.TaskStatusSynthesizing:
		if t.JobHandle != "" {
			return "", domain.Conflictf("task %s already has a running job %s", t.ID, t.JobHandle)
		}
		stage, _ := domain.StageForStatus(t.Status)
		return stage, nil
	case t.Status == domain.TaskStatusSeparating:
		return "", domain.Conflictf("task %s is already separating", t.ID)
	default:
		return "", domain.Conflictf("task %s is %s; nothing to dispatch", t.ID, t.Status)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	stage, err := stageFor(t)
	if err != nil {
		return nil, err
	}
	if !d.stages.Supports(stage) {
		return nil, domain.DispatchError(0, "no service configured for stage "+string(stage), nil)
	}

	start := time.Now()
	ack, err := d.stages.Start(ctx, domain.NewStageRequest(t, stage, d.callbackURL))
	if err != nil {
		d.metrics.Dispatch(string(stage), "error", time.Since(start))
		logger.Error.Printf("task %s: %s dispatch failed: %v", t.ID, stage, err)
		return nil, err
	}
	d.metrics.Dispatch(string(stage), "ok", time.Since(start))

	// Services that do not name their job are correlated by task id.
	handle := ack.JobHandle
	if handle == "" {
		handle = t.ID
	}
	pipelineStatus := ack.Status
	if pipelineStatus == "" {
		pipelineStatus = pipelineStatusDispatched
	}
	patch := domain.TaskPatch{
		JobHandle:      domain.StringPtr(handle),
		PipelineStatus: domain.StringPtr(pipelineStatus),
	}

	var updated *domain.Task
	if stage == domain.StageSeparation {
		updated, err = d.tasks.Transition(ctx, t.ID, domain.TaskStatusUploaded, domain.TaskStatusSeparating, patch)
	} else {
		updated, err = d.tasks.Amend(ctx, t.ID, t.Status, patch, func(cur *domain.Task) error {
			if cur.JobHandle != "" {
				return domain.Conflictf("task %s already has a running job %s", cur.ID, cur.JobHandle)
			}
			return nil
		})
	}
	if err != nil {
		logger.Warn.Printf("task %s: %s started as %s but the task moved on: %v",
			t.ID, stage, logger.SanitizeForLog(handle), err)
		return nil, err
	}

	logger.Info.Printf("task %s: %s dispatched (job %s)", t.ID, stage, logger.SanitizeForLog(handle))
	return updated, nil
}

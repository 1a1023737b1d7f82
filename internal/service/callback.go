package service

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
	"github.com/bnema/waveshift/internal/infrastructure/metrics"
	"github.com/bnema/waveshift/internal/port"
)

// CallbackOutcome reports what a callback did. Applied is false for accepted
// duplicates and late arrivals.
type CallbackOutcome struct {
	Task    *domain.Task
	Applied bool
}

// CallbackService applies stage notifications sent by processing services.
type CallbackService struct {
	tasks       *TaskService
	transcripts port.TranscriptStore
	dispatcher  *Dispatcher
	secret      []byte
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewCallbackService(tasks *TaskService, transcripts port.TranscriptStore, dispatcher *Dispatcher, secret string, m *metrics.Metrics) *CallbackService {
	return &CallbackService{
		tasks:       tasks,
		transcripts: transcripts,
		dispatcher:  dispatcher,
		secret:      []byte(secret),
		metrics:     m,
		now:         time.Now,
	}
}

// Authenticate compares the presented secret in constant time. An empty
// configured secret rejects everything.
func (s *CallbackService) Authenticate(presented string) error {
	if len(s.secret) == 0 || subtle.ConstantTimeCompare([]byte(presented), s.secret) != 1 {
		s.metrics.Callback("unauthorized")
		return domain.Unauthorizedf("invalid callback credentials")
	}
	return nil
}

// Handle authenticates, parses and applies a callback body. The body is not
// looked at when authentication fails.
func (s *CallbackService) Handle(ctx context.Context, presentedSecret string, body []byte) (*CallbackOutcome, error) {
	if err := s.Authenticate(presentedSecret); err != nil {
		return nil, err
	}
	return s.Process(ctx, body)
}

// Process parses and applies a body whose sender was already authenticated.
func (s *CallbackService) Process(ctx context.Context, body []byte) (*CallbackOutcome, error) {
	cb, err := domain.ParseCallback(body)
	if err != nil {
		s.metrics.Callback("rejected")
		return nil, err
	}
	return s.Apply(ctx, cb)
}

// Apply is safe to call repeatedly with the same callback. If the task moves
// between the read and the write, it is read again once and the callback is
// re-judged against the new status.
func (s *CallbackService) Apply(ctx context.Context, cb *domain.Callback) (*CallbackOutcome, error) {
	var (
		out *CallbackOutcome
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		var t *domain.Task
		t, err = s.tasks.Get(ctx, cb.TaskID)
		if err != nil {
			s.metrics.Callback("rejected")
			return nil, err
		}
		out, err = s.applyTo(ctx, t, cb)
		if err == nil || !isConflict(err) {
			break
		}
	}

	switch {
	case err != nil:
		s.metrics.Callback("rejected")
		logger.Warn.Printf("callback for task %s rejected: %v", logger.SanitizeForLog(cb.TaskID), err)
	case out.Applied:
		s.metrics.Callback("applied")
	default:
		s.metrics.Callback("duplicate")
	}
	return out, err
}

// resolveStage decides which stage cb reports on. ok is false when the
// callback is a late duplicate that must be accepted without effect.
func resolveStage(t *domain.Task, cb *domain.Callback) (stage domain.Stage, ok bool, err error) {
	if t.Status.IsTerminal() {
		return cb.Stage, false, nil
	}

	stage = cb.Stage
	if stage == "" {
		stage, ok, err = inferStage(t, cb)
		if err != nil || !ok {
			return stage, false, err
		}
	}

	running := stage.Status()
	switch {
	case t.Status == running:
		return stage, true, nil
	case t.Status.Reached(running):
		return stage, false, nil
	default:
		return stage, false, domain.Conflictf("task %s is %s and has not reached %s", t.ID, t.Status, stage)
	}
}

// inferStage names the stage of a callback that did not name one. A completed
// result is judged by the outputs it carries. A failure carries none, so it
// is taken for the running stage only while that stage is the first one or
// when its job id is the live handle. Otherwise it could be a late retry from
// a stage the task already left.
func inferStage(t *domain.Task, cb *domain.Callback) (domain.Stage, bool, error) {
	switch result := cb.Result.(type) {
	case domain.StageCompleted:
		stage, ok := result.Stage()
		if !ok {
			return "", false, domain.Validationf("completed callback carries no stage output")
		}
		return stage, true, nil

	case domain.StageFailed:
		stage, running := domain.StageForStatus(t.Status)
		if !running {
			return "", false, domain.Conflictf("task %s is %s; no stage is running", t.ID, t.Status)
		}
		switch {
		case stage == domain.StageSeparation:
			return stage, true, nil
		case cb.JobID != "" && cb.JobID == t.JobHandle:
			return stage, true, nil
		case cb.JobID != "" && !jobMatches(t, cb.JobID):
			// A job that is no longer live.
			return "", false, nil
		default:
			return "", false, domain.Conflictf("task %s is %s; a failure without stage must carry the live job id", t.ID, t.Status)
		}

	default:
		return "", false, domain.Validationf("unsupported callback result")
	}
}

// jobMatches reports whether a callback's job id belongs to the live job.
// Handles equal to the task id are fallbacks for services that return none.
func jobMatches(t *domain.Task, jobID string) bool {
	if jobID == "" || t.JobHandle == "" || t.JobHandle == t.ID {
		return true
	}
	return jobID == t.JobHandle
}

func (s *CallbackService) applyTo(ctx context.Context, t *domain.Task, cb *domain.Callback) (*CallbackOutcome, error) {
	stage, ok, err := resolveStage(t, cb)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info.Printf("task %s: late %s callback ignored (task is %s)", t.ID, stage, t.Status)
		return &CallbackOutcome{Task: t}, nil
	}
	if !jobMatches(t, cb.JobID) {
		logger.Info.Printf("task %s: callback for stale job %s ignored (live job %s)",
			t.ID, logger.SanitizeForLog(cb.JobID), logger.SanitizeForLog(t.JobHandle))
		return &CallbackOutcome{Task: t}, nil
	}

	from := t.Status
	switch result := cb.Result.(type) {
	case domain.StageFailed:
		updated, err := s.tasks.Transition(ctx, t.ID, from, domain.TaskStatusFailed, domain.TaskPatch{
			JobHandle:      domain.StringPtr(""),
			PipelineStatus: domain.StringPtr(domain.CallbackStatusFailed),
			Error:          &domain.TaskError{Message: result.Message, Detail: result.Detail},
		})
		if err != nil {
			return nil, err
		}
		logger.Warn.Printf("task %s: %s failed: %s", t.ID, stage, logger.SanitizeForLog(result.Message))
		return &CallbackOutcome{Task: updated, Applied: true}, nil

	case domain.StageCompleted:
		return s.complete(ctx, t, stage, result)

	default:
		return nil, domain.Validationf("unsupported callback result")
	}
}

func (s *CallbackService) complete(ctx context.Context, t *domain.Task, stage domain.Stage, result domain.StageCompleted) (*CallbackOutcome, error) {
	if err := result.Validate(stage); err != nil {
		return nil, err
	}

	patch := domain.TaskPatch{
		JobHandle:      domain.StringPtr(""),
		PipelineStatus: domain.StringPtr(domain.CallbackStatusCompleted),
	}
	var to domain.TaskStatus

	switch stage {
	case domain.StageSeparation:
		to = domain.TaskStatusTranscribing
		patch.Outputs = domain.Outputs{AudioPath: result.Outputs.AudioPath, VideoPath: result.Outputs.VideoPath}

	case domain.StageTranscription:
		to = t.NextStatus()
		transcript := &domain.Transcript{
			ID:        t.ID,
			TaskID:    t.ID,
			Segments:  result.Segments,
			CreatedAt: s.now(),
		}
		// Saved before the transition; the id is the task id so a retry
		// after a lost race replaces rather than duplicates.
		if err := s.transcripts.SaveTranscript(ctx, transcript); err != nil {
			logger.Error.Printf("task %s: failed to save transcript: %v", t.ID, err)
			return nil, err
		}
		patch.Outputs = domain.Outputs{TranscriptID: transcript.ID, SegmentCount: transcript.SegmentCount()}

	case domain.StageSynthesis:
		to = domain.TaskStatusCompleted
		patch.Outputs = domain.Outputs{SynthesizedPath: result.Outputs.SynthesizedPath}
	}

	updated, err := s.tasks.Transition(ctx, t.ID, t.Status, to, patch)
	if err != nil {
		return nil, err
	}

	if to == domain.TaskStatusTranscribing || to == domain.TaskStatusSynthesizing {
		s.chain(ctx, updated)
	}
	return &CallbackOutcome{Task: updated, Applied: true}, nil
}

// chain starts the next stage. A failure is only logged: the task stays in
// its new status without a job and the client can dispatch it again.
func (s *CallbackService) chain(ctx context.Context, t *domain.Task) {
	if s.dispatcher == nil {
		return
	}
	next, err := s.dispatcher.dispatch(ctx, t)
	if err != nil {
		logger.Warn.Printf("task %s: could not start next stage after %s: %v", t.ID, t.Status, err)
		return
	}
	*t = *next
}

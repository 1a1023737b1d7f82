package domain

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusCreated      TaskStatus = "created"
	TaskStatusUploading    TaskStatus = "uploading"
	TaskStatusUploaded     TaskStatus = "uploaded"
	TaskStatusSeparating   TaskStatus = "separating"
	TaskStatusTranscribing TaskStatus = "transcribing"
	TaskStatusSynthesizing TaskStatus = "synthesizing"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusFailed       TaskStatus = "failed"
)

// statusRank orders the pipeline. failed has no rank because it can follow
// any non-terminal status.
var statusRank = map[TaskStatus]int{
	TaskStatusCreated:      0,
	TaskStatusUploading:    1,
	TaskStatusUploaded:     2,
	TaskStatusSeparating:   3,
	TaskStatusTranscribing: 4,
	TaskStatusSynthesizing: 5,
	TaskStatusCompleted:    6,
}

// progressMilestones is the progress a task reaches when it enters a status.
var progressMilestones = map[TaskStatus]int{
	TaskStatusCreated:      0,
	TaskStatusUploading:    5,
	TaskStatusUploaded:     30,
	TaskStatusSeparating:   30,
	TaskStatusTranscribing: 55,
	TaskStatusSynthesizing: 85,
	TaskStatusCompleted:    100,
}

func (s TaskStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == TaskStatusFailed
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// InProgress reports whether an external stage owns the task.
func (s TaskStatus) InProgress() bool {
	return s == TaskStatusSeparating || s == TaskStatusTranscribing || s == TaskStatusSynthesizing
}

// Reached reports whether a task in status s has already passed through other.
// Terminal statuses have reached everything.
func (s TaskStatus) Reached(other TaskStatus) bool {
	if s.IsTerminal() {
		return true
	}
	return statusRank[s] >= statusRank[other]
}

// Milestone returns the fixed progress value for a status.
func (s TaskStatus) Milestone() int {
	return progressMilestones[s]
}

var InProgressStatuses = []TaskStatus{
	TaskStatusSeparating,
	TaskStatusTranscribing,
	TaskStatusSynthesizing,
}

type InputDescriptor struct {
	FileName  string `json:"fileName"`
	ObjectKey string `json:"objectKey"`
	FileSize  int64  `json:"fileSize"`
	MimeType  string `json:"mimeType"`
}

type PipelineOptions struct {
	TargetLanguage string `json:"targetLanguage,omitempty"`
	Style          string `json:"style,omitempty"`
	Synthesize     bool   `json:"synthesize"`
}

type Outputs struct {
	AudioPath       string `json:"audioPath,omitempty"`
	VideoPath       string `json:"videoPath,omitempty"`
	TranscriptID    string `json:"transcriptId,omitempty"`
	SegmentCount    int    `json:"segmentCount,omitempty"`
	SynthesizedPath string `json:"synthesizedPath,omitempty"`
}

// merge copies every non-empty field of o into dst. Set fields are never cleared.
func (dst *Outputs) merge(o Outputs) {
	if o.AudioPath != "" {
		dst.AudioPath = o.AudioPath
	}
	if o.VideoPath != "" {
		dst.VideoPath = o.VideoPath
	}
	if o.TranscriptID != "" {
		dst.TranscriptID = o.TranscriptID
	}
	if o.SegmentCount > 0 {
		dst.SegmentCount = o.SegmentCount
	}
	if o.SynthesizedPath != "" {
		dst.SynthesizedPath = o.SynthesizedPath
	}
}

type TaskError struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Task struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	Status         TaskStatus      `json:"status"`
	Progress       int             `json:"progress"`
	Input          InputDescriptor `json:"input"`
	Options        PipelineOptions `json:"options"`
	UploadID       string          `json:"uploadId,omitempty"`
	UploadedPath   string          `json:"uploadedPath,omitempty"`
	JobHandle      string          `json:"jobHandle,omitempty"`
	PipelineStatus string          `json:"pipelineStatus,omitempty"`
	Outputs        Outputs         `json:"outputs"`
	Error          *TaskError      `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// NewTask allocates a task in the created status. The caller validates input.
func NewTask(ownerID string, input InputDescriptor, opts PipelineOptions, now time.Time) *Task {
	return &Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    TaskStatusCreated,
		Input:     input,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NextStatus returns the single forward edge out of the task's current status,
// or "" when the task is terminal.
func (t *Task) NextStatus() TaskStatus {
	switch t.Status {
	case TaskStatusCreated:
		return TaskStatusUploading
	case TaskStatusUploading:
		return TaskStatusUploaded
	case TaskStatusUploaded:
		return TaskStatusSeparating
	case TaskStatusSeparating:
		return TaskStatusTranscribing
	case TaskStatusTranscribing:
		if t.Options.Synthesize {
			return TaskStatusSynthesizing
		}
		return TaskStatusCompleted
	case TaskStatusSynthesizing:
		return TaskStatusCompleted
	default:
		return ""
	}
}

// CanTransition reports whether to is a legal target from the current status.
func (t *Task) CanTransition(to TaskStatus) bool {
	if t.Status.IsTerminal() {
		return false
	}
	if to == TaskStatusFailed {
		return true
	}
	return to == t.NextStatus()
}

// TaskPatch holds the fields a transition may set. Nil pointers are left alone.
type TaskPatch struct {
	UploadID       *string
	UploadedPath   *string
	JobHandle      *string
	PipelineStatus *string
	Outputs        Outputs
	Error          *TaskError
}

// Apply moves the task to status to and merges patch. When to equals the
// current status the patch is merged without a transition.
func (t *Task) Apply(to TaskStatus, patch TaskPatch, now time.Time) error {
	if to == t.Status {
		if t.Status.IsTerminal() {
			return Conflictf("task %s is %s", t.ID, t.Status)
		}
	} else if !t.CanTransition(to) {
		return Conflictf("illegal transition %s -> %s for task %s", t.Status, to, t.ID)
	}

	if patch.UploadID != nil {
		t.UploadID = *patch.UploadID
	}
	if patch.UploadedPath != nil {
		t.UploadedPath = *patch.UploadedPath
	}
	if patch.JobHandle != nil {
		t.JobHandle = *patch.JobHandle
	}
	if patch.PipelineStatus != nil {
		t.PipelineStatus = *patch.PipelineStatus
	}
	t.Outputs.merge(patch.Outputs)
	if patch.Error != nil && t.Error == nil {
		e := *patch.Error
		t.Error = &e
	}

	t.Status = to
	if m := to.Milestone(); m > t.Progress {
		t.Progress = m
	}
	if to == TaskStatusSeparating && t.StartedAt == nil {
		ts := now
		t.StartedAt = &ts
	}
	if to.IsTerminal() && t.CompletedAt == nil {
		ts := now
		t.CompletedAt = &ts
	}
	t.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so stores can hand out tasks without sharing state.
func (t *Task) Clone() *Task {
	c := *t
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

func StringPtr(s string) *string {
	return &s
}

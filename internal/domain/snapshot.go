package domain

import "time"

// Snapshot is the client-facing view of a task.
type Snapshot struct {
	ID             string          `json:"id"`
	Status         TaskStatus      `json:"status"`
	Progress       int             `json:"progress"`
	FileName       string          `json:"fileName"`
	FileSize       int64           `json:"fileSize"`
	MimeType       string          `json:"mimeType"`
	Options        PipelineOptions `json:"options"`
	PipelineStatus string          `json:"pipelineStatus,omitempty"`
	Outputs        Outputs         `json:"outputs"`
	Error          *TaskError      `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

func (t *Task) Snapshot() Snapshot {
	c := t.Clone()
	return Snapshot{
		ID:             c.ID,
		Status:         c.Status,
		Progress:       c.Progress,
		FileName:       c.Input.FileName,
		FileSize:       c.Input.FileSize,
		MimeType:       c.Input.MimeType,
		Options:        c.Options,
		PipelineStatus: c.PipelineStatus,
		Outputs:        c.Outputs,
		Error:          c.Error,
		CreatedAt:      c.CreatedAt,
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
	}
}

package domain

type Stage string

const (
	StageSeparation    Stage = "separation"
	StageTranscription Stage = "transcription"
	StageSynthesis     Stage = "synthesis"
)

func (s Stage) Valid() bool {
	switch s {
	case StageSeparation, StageTranscription, StageSynthesis:
		return true
	}
	return false
}

// Status is the task status while the stage is running.
func (s Stage) Status() TaskStatus {
	switch s {
	case StageSeparation:
		return TaskStatusSeparating
	case StageTranscription:
		return TaskStatusTranscribing
	case StageSynthesis:
		return TaskStatusSynthesizing
	}
	return ""
}

// StageForStatus maps an in-progress status back to its stage.
func StageForStatus(status TaskStatus) (Stage, bool) {
	switch status {
	case TaskStatusSeparating:
		return StageSeparation, true
	case TaskStatusTranscribing:
		return StageTranscription, true
	case TaskStatusSynthesizing:
		return StageSynthesis, true
	}
	return "", false
}

// StageRequest is the body sent to a processing service.
type StageRequest struct {
	TaskID       string       `json:"taskId"`
	Stage        Stage        `json:"stage"`
	InputPath    string       `json:"inputPath"`
	AudioPath    string       `json:"audioPath,omitempty"`
	VideoPath    string       `json:"videoPath,omitempty"`
	TranscriptID string       `json:"transcriptId,omitempty"`
	Options      StageOptions `json:"options"`
	CallbackURL  string       `json:"callbackUrl"`
}

type StageOptions struct {
	TargetLanguage string `json:"targetLanguage,omitempty"`
	Style          string `json:"style,omitempty"`
}

// StageAck is the synchronous acknowledgment of a stage request.
type StageAck struct {
	JobHandle string
	Status    string
}

// NewStageRequest builds the request for stage from the task's current outputs.
func NewStageRequest(t *Task, stage Stage, callbackURL string) StageRequest {
	input := t.UploadedPath
	if input == "" {
		input = t.Input.ObjectKey
	}
	return StageRequest{
		TaskID:       t.ID,
		Stage:        stage,
		InputPath:    input,
		AudioPath:    t.Outputs.AudioPath,
		VideoPath:    t.Outputs.VideoPath,
		TranscriptID: t.Outputs.TranscriptID,
		Options: StageOptions{
			TargetLanguage: t.Options.TargetLanguage,
			Style:          t.Options.Style,
		},
		CallbackURL: callbackURL,
	}
}

package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	CallbackStatusCompleted = "completed"
	CallbackStatusFailed    = "failed"
)

// Callback is a parsed stage notification. Result is either StageCompleted
// or StageFailed.
type Callback struct {
	TaskID string
	Stage  Stage
	JobID  string
	Result CallbackResult
}

type CallbackResult interface {
	callbackResult()
}

type StageCompleted struct {
	Outputs Outputs
	// Segments is nil when the payload carried no segment list.
	Segments []Segment
}

type StageFailed struct {
	Message string
	Detail  string
}

func (StageCompleted) callbackResult() {}
func (StageFailed) callbackResult() {}

type callbackPayload struct {
	TaskID string          `json:"taskId"`
	Status string          `json:"status"`
	Stage  Stage           `json:"stage"`
	JobID  string          `json:"jobId"`
	Result *resultPayload  `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type resultPayload struct {
	AudioPath       string    `json:"audioPath"`
	VideoPath       string    `json:"videoPath"`
	SynthesizedPath string    `json:"synthesizedPath"`
	Segments        []Segment `json:"segments"`
}

type errorPayload struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// ParseCallback decodes and shape-checks a callback body. Stage specific
// output requirements are checked later by StageCompleted.Validate, once the
// stage is known.
func ParseCallback(data []byte) (*Callback, error) {
	var p callbackPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&p); err != nil {
		return nil, Validationf("malformed callback body: %v", err)
	}

	if strings.TrimSpace(p.TaskID) == "" {
		return nil, Validationf("callback is missing taskId")
	}
	if p.Stage != "" && !p.Stage.Valid() {
		return nil, Validationf("unknown stage %q", p.Stage)
	}

	cb := &Callback{TaskID: p.TaskID, Stage: p.Stage, JobID: p.JobID}

	switch p.Status {
	case CallbackStatusCompleted:
		if p.Result == nil {
			return nil, Validationf("completed callback is missing result")
		}
		cb.Result = StageCompleted{
			Outputs: Outputs{
				AudioPath:       p.Result.AudioPath,
				VideoPath:       p.Result.VideoPath,
				SynthesizedPath: p.Result.SynthesizedPath,
			},
			Segments: p.Result.Segments,
		}
	case CallbackStatusFailed:
		failed, err := parseFailure(p.Error)
		if err != nil {
			return nil, err
		}
		cb.Result = failed
	default:
		return nil, Validationf("unknown callback status %q", p.Status)
	}

	return cb, nil
}

// parseFailure accepts either a bare string or {message, detail}.
func parseFailure(raw json.RawMessage) (StageFailed, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return StageFailed{Message: "stage failed"}, nil
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		if msg == "" {
			msg = "stage failed"
		}
		return StageFailed{Message: msg}, nil
	}

	var ep errorPayload
	if err := json.Unmarshal(raw, &ep); err != nil {
		return StageFailed{}, Validationf("malformed callback error: %v", err)
	}
	if ep.Message == "" {
		ep.Message = "stage failed"
	}
	return StageFailed{Message: ep.Message, Detail: ep.Detail}, nil
}

// Stage names the stage whose output the result carries. ok is false when it
// carries none.
func (c StageCompleted) Stage() (stage Stage, ok bool) {
	switch {
	case c.Outputs.SynthesizedPath != "":
		return StageSynthesis, true
	case c.Segments != nil:
		return StageTranscription, true
	case c.Outputs.AudioPath != "" || c.Outputs.VideoPath != "":
		return StageSeparation, true
	}
	return "", false
}

// Validate checks that the result carries what stage must produce.
func (c StageCompleted) Validate(stage Stage) error {
	switch stage {
	case StageSeparation:
		if c.Outputs.AudioPath == "" || c.Outputs.VideoPath == "" {
			return Validationf("separation result requires audioPath and videoPath")
		}
	case StageTranscription:
		if c.Segments == nil {
			return Validationf("transcription result requires segments")
		}
		return ValidateSegments(c.Segments)
	case StageSynthesis:
		if c.Outputs.SynthesizedPath == "" {
			return Validationf("synthesis result requires synthesizedPath")
		}
	default:
		return Validationf("unknown stage %q", stage)
	}
	return nil
}

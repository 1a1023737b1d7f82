package domain

import "time"

type Segment struct {
	Sequence    int     `json:"sequence"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Speaker     string  `json:"speaker,omitempty"`
	Original    string  `json:"original"`
	Translation string  `json:"translation,omitempty"`
}

// Transcript is the stored output of the transcription stage. Its ID is the
// owning task's ID, so a repeated completion replaces rather than duplicates.
type Transcript struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Segments  []Segment `json:"segments"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t *Transcript) SegmentCount() int {
	return len(t.Segments)
}

func ValidateSegments(segments []Segment) error {
	seen := make(map[int]bool, len(segments))
	for i, s := range segments {
		if s.Sequence < 1 {
			return Validationf("segment %d: sequence must be >= 1", i)
		}
		if seen[s.Sequence] {
			return Validationf("segment %d: duplicate sequence %d", i, s.Sequence)
		}
		seen[s.Sequence] = true
		if s.Start < 0 || s.End < s.Start {
			return Validationf("segment %d: invalid time span %.3f-%.3f", s.Sequence, s.Start, s.End)
		}
	}
	return nil
}

// Package transcript holds the final, globally timed transcript returned to
// callers and its text renderings (SRT, WebVTT, plain text).
package transcript

import (
	"fmt"
	"strings"
)

// Segment is one timed piece of the merged transcript.
//
// Invariants kept by Recompute and by the merge engine:
//   - Idx equals the position in Transcript.Segments (dense, 0-based)
//   - StartMs is non-decreasing across the slice
//   - EndMs >= StartMs
type Segment struct {
	Idx     int    `json:"idx"`
	StartMs int64  `json:"startMs"`
	EndMs   int64  `json:"endMs"`
	Text    string `json:"text"`
}

// Transcript is the result of one transcription request.
type Transcript struct {
	ID         string    `json:"id"`
	SourceRef  string    `json:"sourceRef"`
	Language   string    `json:"language,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	Model      string    `json:"model,omitempty"`
	Text       string    `json:"text"`
	Segments   []Segment `json:"segments"`
}

// Recompute re-derives Idx, Text and DurationMs from Segments.
// Text is never taken from a provider; it is always the space-joined
// concatenation of trimmed segment texts.
func (t *Transcript) Recompute() {
	if t.Segments == nil {
		t.Segments = []Segment{}
	}
	parts := make([]string, 0, len(t.Segments))
	for i := range t.Segments {
		t.Segments[i].Idx = i
		t.Segments[i].Text = strings.TrimSpace(t.Segments[i].Text)
		if t.Segments[i].Text != "" {
			parts = append(parts, t.Segments[i].Text)
		}
		// ends are not ordered; an early long segment can outlast later ones
		t.DurationMs = max(t.DurationMs, t.Segments[i].EndMs)
	}
	t.Text = strings.Join(parts, " ")
}

// Validate reports the first ordering violation, or nil.
func (t *Transcript) Validate() error {
	var prevStart int64
	for i, s := range t.Segments {
		if s.Idx != i {
			return &InvariantError{Index: i, Reason: "idx does not match position"}
		}
		if s.EndMs < s.StartMs {
			return &InvariantError{Index: i, Reason: "endMs before startMs"}
		}
		if i > 0 && s.StartMs < prevStart {
			return &InvariantError{Index: i, Reason: "startMs decreases"}
		}
		prevStart = s.StartMs
	}
	return nil
}

// InvariantError describes a segment that breaks the transcript ordering rules.
type InvariantError struct {
	Index  int
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("segment %d: %s", e.Index, e.Reason)
}

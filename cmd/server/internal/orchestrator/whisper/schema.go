package whisper

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// verboseJSON mirrors the provider payload with pointer fields so missing
// required keys can be told apart from zero values.
type verboseJSON struct {
	Text     *string       `json:"text"`
	Language *string       `json:"language"`
	Duration *float64      `json:"duration"`
	Model    *string       `json:"model"`
	Segments *[]verboseSeg `json:"segments"`
}

type verboseSeg struct {
	ID    *int     `json:"id"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
	Text  *string  `json:"text"`
}

// decodeVerboseJSON parses and validates a verbose_json response body.
//
// Required: segments[] with start, end and text on every segment, start >= 0 and
// end >= start. Optional: text, language, duration, model, segment id.
func decodeVerboseJSON(backend string, r io.Reader) (*TranscriptionResult, error) {
	var raw verboseJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &MalformedResponseError{Backend: backend, Reason: "invalid JSON: " + err.Error()}
	}
	if raw.Segments == nil {
		return nil, &MalformedResponseError{Backend: backend, Reason: "missing segments"}
	}

	result := &TranscriptionResult{
		Segments: make([]TranscriptionSegment, 0, len(*raw.Segments)),
	}
	for i, s := range *raw.Segments {
		switch {
		case s.Start == nil:
			return nil, &MalformedResponseError{Backend: backend, Reason: fmt.Sprintf("segment %d: missing start", i)}
		case s.End == nil:
			return nil, &MalformedResponseError{Backend: backend, Reason: fmt.Sprintf("segment %d: missing end", i)}
		case s.Text == nil:
			return nil, &MalformedResponseError{Backend: backend, Reason: fmt.Sprintf("segment %d: missing text", i)}
		case *s.Start < 0:
			return nil, &MalformedResponseError{Backend: backend, Reason: fmt.Sprintf("segment %d: negative start %.3f", i, *s.Start)}
		case *s.End < *s.Start:
			return nil, &MalformedResponseError{Backend: backend, Reason: fmt.Sprintf("segment %d: end %.3f before start %.3f", i, *s.End, *s.Start)}
		}
		id := i
		if s.ID != nil {
			id = *s.ID
		}
		result.Segments = append(result.Segments, TranscriptionSegment{
			ID:    id,
			Start: *s.Start,
			End:   *s.End,
			Text:  *s.Text,
		})
	}

	if raw.Text != nil {
		result.Text = strings.TrimSpace(*raw.Text)
	} else {
		result.Text = joinSegmentText(result.Segments)
	}
	if raw.Language != nil {
		result.Language = *raw.Language
	}
	if raw.Duration != nil {
		result.Duration = *raw.Duration
	}
	if raw.Model != nil {
		result.Model = *raw.Model
	}
	return result, nil
}

func joinSegmentText(segments []TranscriptionSegment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

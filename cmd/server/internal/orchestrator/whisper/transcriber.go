// Package whisper provides an abstraction layer for Whisper audio transcription backends.
// It defines the standard interface and data structures shared by the cloud
// (OpenAI-compatible, e.g. Groq) and local (faster-whisper service) implementations.
package whisper

import (
	"context"
)

// TranscriptionSegment represents a single segment of transcribed audio with timing information.
// Times are in seconds relative to the start of the uploaded file.
type TranscriptionSegment struct {
	// ID is the sequential identifier of this segment within the transcription
	ID int `json:"id"`

	// Start is the beginning time of this segment in seconds from the audio start
	Start float64 `json:"start"`

	// End is the ending time of this segment in seconds from the audio start
	End float64 `json:"end"`

	// Text is the transcribed text content of this segment
	Text string `json:"text"`
}

// TranscriptionResult is the provider-shaped (verbose_json) result of one backend call.
// It is validated against the expected schema before being returned to callers.
type TranscriptionResult struct {
	// Segments is the list of all transcribed segments with timing information
	Segments []TranscriptionSegment `json:"segments"`

	// Text is the complete transcribed text as reported by the provider
	Text string `json:"text"`

	// Language is the detected or specified language code (e.g., "en", "zh")
	Language string `json:"language,omitempty"`

	// Duration is the total duration of the audio in seconds (0 when not reported)
	Duration float64 `json:"duration,omitempty"`

	// Model is the model that produced this result; falls back to the requested model
	// when the provider does not echo it
	Model string `json:"model,omitempty"`
}

// WhisperTranscriber defines the standard interface for transcription backends.
// Both the cloud and the local variant implement it, so the router and the retry
// dispatcher can treat them interchangeably.
type WhisperTranscriber interface {
	// Transcribe uploads one audio file and returns the validated provider result.
	//
	// Parameters:
	//   - ctx: Context for timeout control and cancellation
	//   - audioPath: Path to the audio file (16kHz mono WAV produced by the transcoder)
	//   - options: Optional transcription parameters (model, language, task, prompt)
	//
	// Returns:
	//   - *TranscriptionResult: Validated verbose_json result
	//   - error: *BackendError for non-2xx responses, ErrMalformedResponse for schema
	//     violations, or a wrapped transport error
	Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error)

	// HealthCheck is the liveness probe of the backend.
	//
	// Returns:
	//   - bool: true if the backend is ready to transcribe
	//   - error: Non-nil if the probe itself failed (network error, non-200)
	HealthCheck(ctx context.Context) (bool, error)

	// Name returns the identifier of this backend ("cloud", "local"), used for
	// logging, metrics and fallback bookkeeping.
	Name() string
}

// Task selects between transcription and translation to English.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// TranscribeOptions defines optional parameters for the Transcribe operation.
// All fields are optional; implementations provide sensible defaults.
type TranscribeOptions struct {
	// Model overrides the backend's default model.
	Model string

	// Language forces transcription in a specific language (ISO 639-1 code).
	// Empty string means auto-detection.
	Language string

	// Task is "transcribe" (default) or "translate".
	Task Task

	// Prompt provides context to improve transcription accuracy (optional).
	Prompt string

	// Temperature is the sampling temperature; 0 reduces hallucinations.
	Temperature float64
}

package whisper

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBackendUnavailable is returned when the liveness probe of a backend fails.
	ErrBackendUnavailable = errors.New("transcription backend unavailable")

	// ErrMalformedResponse is returned when a 2xx response does not match the
	// verbose_json schema.
	ErrMalformedResponse = errors.New("malformed transcription response")
)

// maxErrorBody bounds the provider error body kept on BackendError.
const maxErrorBody = 4096

// BackendError is a non-2xx HTTP response from a transcription backend.
type BackendError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend returned status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying on the same chunk (429, 5xx).
func (e *BackendError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PayloadTooLarge reports a 413 response.
func (e *BackendError) PayloadTooLarge() bool {
	return e.StatusCode == http.StatusRequestEntityTooLarge
}

// IsTransient reports whether err carries a retryable backend status.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient()
}

// IsPayloadTooLarge reports whether err carries a 413 backend status.
func IsPayloadTooLarge(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.PayloadTooLarge()
}

// MalformedResponseError describes which schema rule a response violated.
type MalformedResponseError struct {
	Backend string
	Reason  string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s backend: %s: %s", e.Backend, ErrMalformedResponse, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return ErrMalformedResponse
}

package dependency

import (
	"errors"
	"fmt"
)

// AcquisitionKind classifies why a source could not be fetched.
type AcquisitionKind string

const (
	KindInvalidSource AcquisitionKind = "invalid_source"
	KindNotFound      AcquisitionKind = "not_found"
	KindUnsupported   AcquisitionKind = "unsupported"
	KindToolFailure   AcquisitionKind = "tool_failure"
	KindNoOutput      AcquisitionKind = "no_output"
)

// ErrObjectNotFound is returned by ObjectFetcher implementations for missing objects.
var ErrObjectNotFound = errors.New("object not found")

// AcquisitionError reports a failed source download or copy.
type AcquisitionError struct {
	Kind   AcquisitionKind
	Source string
	Cause  error
}

func (e *AcquisitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("acquire %s (%s): %v", e.Source, e.Kind, e.Cause)
	}
	return fmt.Sprintf("acquire %s (%s)", e.Source, e.Kind)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Cause
}

// TranscodeError reports a failed ffmpeg/ffprobe operation.
type TranscodeError struct {
	Op    string // "convert", "extract", "probe"
	Input string
	Cause error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Input, e.Cause)
}

func (e *TranscodeError) Unwrap() error {
	return e.Cause
}

// Package retry sends one chunk to a transcription backend, retrying
// transient failures with a fixed backoff schedule and re-splitting the chunk
// when the backend rejects it as too large.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/chunking"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/vtscribe/pkg/logger"
	"github.com/houzhh15/vtscribe/pkg/metrics"
)

// ErrRetriesExhausted wraps the last transient error once every attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Policy configures retries and emergency re-splitting.
type Policy struct {
	// MaxAttempts is the total number of calls for one chunk, first call included.
	MaxAttempts int

	// Backoff[i] is the wait after failed attempt i+1. The last entry repeats.
	Backoff []time.Duration

	// ResplitSeconds is the sub-chunk length used after the first 413.
	// Nested 413s halve it.
	ResplitSeconds float64

	// MaxResplitDepth bounds nested re-splitting.
	MaxResplitDepth int
}

// DefaultPolicy: 3 attempts, 1s/3s/7s backoff, 300s sub-chunks, depth 3.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		Backoff:         []time.Duration{1 * time.Second, 3 * time.Second, 7 * time.Second},
		ResplitSeconds:  300,
		MaxResplitDepth: 3,
	}
}

// Resplitter cuts a chunk into sub-chunks (chunking.Splitter).
type Resplitter interface {
	Split(ctx context.Context, assetPath, outDir string, chunkSeconds, overlapSeconds float64) ([]chunking.Chunk, error)
}

// Dispatcher applies a Policy around WhisperTranscriber.Transcribe.
type Dispatcher struct {
	policy   Policy
	splitter Resplitter
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithSleep replaces the context-aware backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher. Zero policy fields take their defaults.
func NewDispatcher(policy Policy, splitter Resplitter, opts ...Option) *Dispatcher {
	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if len(policy.Backoff) == 0 {
		policy.Backoff = def.Backoff
	}
	if policy.ResplitSeconds <= 0 {
		policy.ResplitSeconds = def.ResplitSeconds
	}
	if policy.MaxResplitDepth <= 0 {
		policy.MaxResplitDepth = def.MaxResplitDepth
	}

	d := &Dispatcher{
		policy:   policy,
		splitter: splitter,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logger.OrDiscard(d.logger).With("component", "retry")
	return d
}

// Policy returns the effective policy.
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Dispatch transcribes chunkPath on backend.
//
//   - 429 and 5xx are retried on the same chunk following the backoff schedule;
//     when attempts run out the error wraps ErrRetriesExhausted.
//   - 413 re-splits the chunk and transcribes the sub-chunks in order. Their
//     segments are shifted into the chunk's own time base.
//   - Anything else is returned as is.
func (d *Dispatcher) Dispatch(ctx context.Context, backend whisper.WhisperTranscriber, chunkPath string, opts *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	return d.dispatch(ctx, backend, chunkPath, opts, d.policy.ResplitSeconds, 0)
}

func (d *Dispatcher) dispatch(ctx context.Context, backend whisper.WhisperTranscriber, path string, opts *whisper.TranscribeOptions, subSeconds float64, depth int) (*whisper.TranscriptionResult, error) {
	res, err := d.withRetries(ctx, backend, path, opts)
	if err == nil {
		return res, nil
	}
	if !whisper.IsPayloadTooLarge(err) || d.splitter == nil {
		return nil, err
	}
	if depth >= d.policy.MaxResplitDepth {
		d.logger.Error("payload still too large at maximum resplit depth", "backend", backend.Name(), "path", path, "depth", depth)
		return nil, err
	}
	metrics.RecordRetryEvent(backend.Name(), "payload_too_large")
	return d.resplit(ctx, backend, path, opts, subSeconds, depth)
}

func (d *Dispatcher) withRetries(ctx context.Context, backend whisper.WhisperTranscriber, path string, opts *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		res, err := backend.Transcribe(ctx, path, opts)
		if err == nil {
			if attempt > 1 {
				d.logger.Info("chunk succeeded after retry", "backend", backend.Name(), "attempt", attempt)
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !whisper.IsTransient(err) {
			return nil, err
		}

		lastErr = err
		if attempt == d.policy.MaxAttempts {
			break
		}
		wait := d.backoff(attempt)
		metrics.RecordRetryEvent(backend.Name(), retryReason(err))
		d.logger.Warn("transient backend error, retrying",
			"backend", backend.Name(), "attempt", attempt, "max_attempts", d.policy.MaxAttempts,
			"backoff", wait, "error", err)
		if err := d.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, d.policy.MaxAttempts, lastErr)
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	i := attempt - 1
	if i >= len(d.policy.Backoff) {
		i = len(d.policy.Backoff) - 1
	}
	return d.policy.Backoff[i]
}

// resplit transcribes path as sub-chunks of subSeconds and concatenates the
// results in path-local time.
func (d *Dispatcher) resplit(ctx context.Context, backend whisper.WhisperTranscriber, path string, opts *whisper.TranscribeOptions, subSeconds float64, depth int) (*whisper.TranscriptionResult, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	subDir := filepath.Join(filepath.Dir(path), base+"_split"+strconv.Itoa(depth+1))
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		return nil, fmt.Errorf("create resplit dir: %w", err)
	}
	defer os.RemoveAll(subDir)

	d.logger.Warn("payload too large, re-splitting chunk",
		"backend", backend.Name(), "path", path, "sub_chunk_sec", subSeconds, "depth", depth+1)

	subs, err := d.splitter.Split(ctx, path, subDir, subSeconds, 0)
	if err != nil {
		return nil, fmt.Errorf("resplit %s: %w", filepath.Base(path), err)
	}

	out := &whisper.TranscriptionResult{Segments: []whisper.TranscriptionSegment{}}
	var texts []string
	for _, sub := range subs {
		res, err := d.dispatch(ctx, backend, sub.Path, opts, subSeconds/2, depth+1)
		if err != nil {
			return nil, fmt.Errorf("sub-chunk %d of %s: %w", sub.Index, filepath.Base(path), err)
		}
		for _, seg := range res.Segments {
			seg.ID = len(out.Segments)
			seg.Start += sub.StartSec
			seg.End += sub.StartSec
			out.Segments = append(out.Segments, seg)
		}
		if t := strings.TrimSpace(res.Text); t != "" {
			texts = append(texts, t)
		}
		if out.Language == "" {
			out.Language = res.Language
		}
		if out.Model == "" {
			out.Model = res.Model
		}
		if end := sub.StartSec + res.Duration; res.Duration > 0 && end > out.Duration {
			out.Duration = end
		}
	}
	out.Text = strings.Join(texts, " ")
	return out, nil
}

func retryReason(err error) string {
	var be *whisper.BackendError
	if errors.As(err, &be) {
		if be.StatusCode == http.StatusTooManyRequests {
			return "rate_limited"
		}
		return "server_error"
	}
	return "unknown"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

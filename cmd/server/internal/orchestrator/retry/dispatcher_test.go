package retry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/chunking"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
)

// scriptedBackend answers each path from a queue of errors, then succeeds with
// the configured result (or a default one-segment result).
type scriptedBackend struct {
	mu      sync.Mutex
	errs    map[string][]error
	results map[string]*whisper.TranscriptionResult
	calls   []string
}

func newScripted() *scriptedBackend {
	return &scriptedBackend{errs: map[string][]error{}, results: map[string]*whisper.TranscriptionResult{}}
}

func (b *scriptedBackend) Transcribe(ctx context.Context, path string, opts *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, path)
	if q := b.errs[path]; len(q) > 0 {
		b.errs[path] = q[1:]
		return nil, q[0]
	}
	if r, ok := b.results[path]; ok {
		return r, nil
	}
	return &whisper.TranscriptionResult{
		Text:     filepath.Base(path),
		Segments: []whisper.TranscriptionSegment{{ID: 0, Start: 0, End: 1, Text: filepath.Base(path)}},
	}, nil
}

func (b *scriptedBackend) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (b *scriptedBackend) Name() string                                  { return "cloud" }

// fakeSplitter cuts every path into n sub-chunks of length sec, like chunking.Splitter.
type fakeSplitter struct {
	n       int
	lengths []float64
	dirs    []string
}

func (s *fakeSplitter) Split(ctx context.Context, path, outDir string, sec, overlap float64) ([]chunking.Chunk, error) {
	s.lengths = append(s.lengths, sec)
	s.dirs = append(s.dirs, outDir)
	chunks := make([]chunking.Chunk, s.n)
	for i := range chunks {
		p := dependency.ChunkAudioPath(outDir, i)
		if err := os.WriteFile(p, []byte("RIFF"), 0o644); err != nil {
			return nil, err
		}
		start := float64(i) * sec
		chunks[i] = chunking.Chunk{Index: i, Path: p, StartSec: start, EndSec: start + sec}
	}
	return chunks, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func status(code int) error {
	return &whisper.BackendError{Backend: "cloud", StatusCode: code, Body: "x"}
}

func TestDispatch_Success(t *testing.T) {
	b := newScripted()
	rec := &sleepRecorder{}
	d := NewDispatcher(DefaultPolicy(), nil, WithSleep(rec.sleep))

	res, err := d.Dispatch(context.Background(), b, "/w/chunk_0000.wav", nil)
	require.NoError(t, err)
	assert.Equal(t, "chunk_0000.wav", res.Text)
	assert.Len(t, b.calls, 1)
	assert.Empty(t, rec.waits)
}

func TestDispatch_TransientThenSuccess(t *testing.T) {
	b := newScripted()
	b.errs["c.wav"] = []error{status(429), status(503)}
	rec := &sleepRecorder{}
	d := NewDispatcher(DefaultPolicy(), nil, WithSleep(rec.sleep))

	_, err := d.Dispatch(context.Background(), b, "c.wav", nil)
	require.NoError(t, err)
	assert.Len(t, b.calls, 3)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, rec.waits)
}

func TestDispatch_RetriesExhausted(t *testing.T) {
	b := newScripted()
	b.errs["c.wav"] = []error{status(500), status(502), status(504), status(500)}
	rec := &sleepRecorder{}
	d := NewDispatcher(DefaultPolicy(), nil, WithSleep(rec.sleep))

	_, err := d.Dispatch(context.Background(), b, "c.wav", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	var be *whisper.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 504, be.StatusCode)
	assert.Len(t, b.calls, 3)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, rec.waits)
}

func TestDispatch_LongerScheduleUsesSevenSeconds(t *testing.T) {
	b := newScripted()
	b.errs["c.wav"] = []error{status(429), status(429), status(429), status(429)}
	rec := &sleepRecorder{}
	policy := DefaultPolicy()
	policy.MaxAttempts = 5
	d := NewDispatcher(policy, nil, WithSleep(rec.sleep))

	_, err := d.Dispatch(context.Background(), b, "c.wav", nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 7 * time.Second, 7 * time.Second}, rec.waits)
}

func TestDispatch_NonTransientPropagates(t *testing.T) {
	for _, err := range []error{status(400), status(401), errors.New("connection refused"), whisper.ErrMalformedResponse} {
		b := newScripted()
		b.errs["c.wav"] = []error{err}
		d := NewDispatcher(DefaultPolicy(), &fakeSplitter{n: 2}, WithSleep((&sleepRecorder{}).sleep))

		_, got := d.Dispatch(context.Background(), b, "c.wav", nil)
		assert.ErrorIs(t, got, err)
		assert.NotErrorIs(t, got, ErrRetriesExhausted)
		assert.Len(t, b.calls, 1)
	}
}

func TestDispatch_CancelledDuringBackoff(t *testing.T) {
	b := newScripted()
	b.errs["c.wav"] = []error{status(429)}
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(DefaultPolicy(), nil, WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	_, err := d.Dispatch(ctx, b, "c.wav", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, b.calls, 1)
}

func TestDispatch_PayloadTooLargeResplits(t *testing.T) {
	dir := t.TempDir()
	parent := filepath.Join(dir, "chunk_0001.wav")
	sub0 := filepath.Join(dir, "chunk_0001_split1", "chunk_0000.wav")
	sub1 := filepath.Join(dir, "chunk_0001_split1", "chunk_0001.wav")

	b := newScripted()
	b.errs[parent] = []error{status(413)}
	b.errs[sub1] = []error{status(503)}
	b.results[sub0] = &whisper.TranscriptionResult{
		Text: "first half", Language: "en", Duration: 300,
		Segments: []whisper.TranscriptionSegment{{Start: 0, End: 2, Text: "first"}, {Start: 290, End: 299, Text: "half"}},
	}
	b.results[sub1] = &whisper.TranscriptionResult{
		Text: "second half", Duration: 120,
		Segments: []whisper.TranscriptionSegment{{Start: 1, End: 4, Text: "second half"}},
	}

	splitter := &fakeSplitter{n: 2}
	rec := &sleepRecorder{}
	d := NewDispatcher(DefaultPolicy(), splitter, WithSleep(rec.sleep))

	res, err := d.Dispatch(context.Background(), b, parent, nil)
	require.NoError(t, err)

	assert.Equal(t, []float64{300}, splitter.lengths)
	assert.Equal(t, []string{parent, sub0, sub1, sub1}, b.calls)
	assert.Equal(t, []time.Duration{time.Second}, rec.waits)

	require.Len(t, res.Segments, 3)
	assert.Equal(t, 0.0, res.Segments[0].Start)
	assert.Equal(t, 290.0, res.Segments[1].Start)
	// sub-chunk 1 starts 300s into the parent chunk
	assert.Equal(t, 301.0, res.Segments[2].Start)
	assert.Equal(t, 304.0, res.Segments[2].End)
	assert.Equal(t, 2, res.Segments[2].ID)
	assert.Equal(t, "first half second half", res.Text)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 420.0, res.Duration)

	_, err = os.Stat(filepath.Join(dir, "chunk_0001_split1"))
	assert.True(t, os.IsNotExist(err), "sub-chunk dir must be removed")
}

func TestDispatch_NestedPayloadTooLargeHalvesLength(t *testing.T) {
	dir := t.TempDir()
	parent := filepath.Join(dir, "chunk_0000.wav")
	level1 := filepath.Join(dir, "chunk_0000_split1", "chunk_0000.wav")

	b := newScripted()
	b.errs[parent] = []error{status(413)}
	b.errs[level1] = []error{status(413)}

	splitter := &fakeSplitter{n: 1}
	d := NewDispatcher(DefaultPolicy(), splitter, WithSleep((&sleepRecorder{}).sleep))

	res, err := d.Dispatch(context.Background(), b, parent, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{300, 150}, splitter.lengths)
	require.Len(t, res.Segments, 1)
}

func TestDispatch_ResplitDepthIsBounded(t *testing.T) {
	b := &alwaysTooLarge{}
	splitter := &fakeSplitter{n: 1}
	d := NewDispatcher(DefaultPolicy(), splitter, WithSleep((&sleepRecorder{}).sleep))

	_, err := d.Dispatch(context.Background(), b, filepath.Join(t.TempDir(), "chunk_0000.wav"), nil)
	require.Error(t, err)
	assert.True(t, whisper.IsPayloadTooLarge(err))
	assert.Equal(t, []float64{300, 150, 75}, splitter.lengths)
	assert.Equal(t, 4, b.calls)
}

func TestDispatch_PayloadTooLargeWithoutSplitter(t *testing.T) {
	b := newScripted()
	b.errs["c.wav"] = []error{status(413)}
	d := NewDispatcher(DefaultPolicy(), nil)

	_, err := d.Dispatch(context.Background(), b, "c.wav", nil)
	assert.True(t, whisper.IsPayloadTooLarge(err))
}

type alwaysTooLarge struct{ calls int }

func (a *alwaysTooLarge) Transcribe(ctx context.Context, path string, opts *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	a.calls++
	return nil, status(413)
}
func (a *alwaysTooLarge) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (a *alwaysTooLarge) Name() string                                  { return "cloud" }

func TestNewDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(Policy{}, nil)
	assert.Equal(t, DefaultPolicy(), d.Policy())
}

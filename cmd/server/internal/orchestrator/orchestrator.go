// Package orchestrator turns a source reference into one merged transcript.
//
// A request runs through: acquire -> transcode to 16 kHz mono -> probe ->
// route (quota for cloud, liveness for local) -> split -> dispatch chunks
// with retry -> merge. Every file a request produces lives in its own job
// directory, removed when the request ends whatever the outcome.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/houzhh15/vtscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/chunking"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/merge"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/quota"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/retry"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/router"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/transcript"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/vtscribe/pkg/logger"
)

// MinChunkSeconds is the shortest chunk a request may ask for.
const MinChunkSeconds = 10.0

// ChunkingOptions controls how long audio is split.
type ChunkingOptions struct {
	Enabled        bool    `json:"enabled"`
	ChunkSeconds   float64 `json:"chunkSeconds"`
	OverlapSeconds float64 `json:"overlapSeconds"`
	Accelerated    bool    `json:"accelerated"` // dispatch chunks concurrently
}

// Request is one transcription request. It is passed by value and never mutated.
type Request struct {
	SourceRef string
	Language  string // empty: auto-detect
	Model     string // empty: backend default
	Task      whisper.Task
	Backend   router.Mode
	Chunking  *ChunkingOptions // nil: service defaults
}

// MediaAsset is the transcoded audio of a job.
type MediaAsset struct {
	Path            string
	DurationSeconds float64 // 0 when unknown
}

// Media acquires and transcodes source media (dependency.DependencyClient).
type Media interface {
	chunking.MediaTool
	Acquire(ctx context.Context, sourceRef, destDir string) (string, error)
	ConvertAudio(ctx context.Context, inputPath, outputPath string) error
}

// QuotaChecker answers the daily exhaustion pre-check (quota.Guard).
type QuotaChecker interface {
	CheckExhaustion(ctx context.Context, anticipatedSeconds float64) (quota.Exhaustion, error)
	Limits() quota.Limits
}

// Config holds runtime adjustable parameters.
type Config struct {
	WorkDir             string
	MaxConcurrentJobs   int             // jobs holding a slot at once; others wait
	MaxParallelChunks   int             // concurrent chunk requests in accelerated mode
	Chunking            ChunkingOptions // defaults for requests without their own
	SimilarityThreshold int             // simhash distance for near-duplicate boundary segments; 0 disables
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		WorkDir:           os.TempDir(),
		MaxConcurrentJobs: 4,
		MaxParallelChunks: 4,
		Chunking: ChunkingOptions{
			Enabled:      true,
			ChunkSeconds: 600,
		},
	}
}

// ApplyRuntimeDefaults fills zero values with DefaultConfig.
func (cfg *Config) ApplyRuntimeDefaults() {
	def := DefaultConfig()
	if cfg.WorkDir == "" {
		cfg.WorkDir = def.WorkDir
	}
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if cfg.MaxParallelChunks < 1 {
		cfg.MaxParallelChunks = def.MaxParallelChunks
	}
	switch {
	case cfg.Chunking.ChunkSeconds <= 0:
		cfg.Chunking.ChunkSeconds = def.Chunking.ChunkSeconds
	case cfg.Chunking.ChunkSeconds < MinChunkSeconds:
		cfg.Chunking.ChunkSeconds = MinChunkSeconds
	}
	if cfg.Chunking.OverlapSeconds < 0 || cfg.Chunking.OverlapSeconds > cfg.Chunking.ChunkSeconds/2 {
		cfg.Chunking.OverlapSeconds = 0
	}
}

// Orchestrator runs transcription requests.
type Orchestrator struct {
	cfg        Config
	media      Media
	paths      *dependency.PathManager
	splitter   *chunking.Splitter
	dispatcher *retry.Dispatcher
	router     *router.Router
	quota      QuotaChecker
	jobs       *semaphore.Weighted
	newID      func() string
	logger     *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithQuotaChecker enables the daily exhaustion pre-check for cloud-first plans.
func WithQuotaChecker(q QuotaChecker) Option {
	return func(o *Orchestrator) { o.quota = q }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithIDGenerator replaces uuid.NewString for job and transcript ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an Orchestrator.
func New(cfg Config, media Media, rt *router.Router, dispatcher *retry.Dispatcher, opts ...Option) *Orchestrator {
	cfg.ApplyRuntimeDefaults()
	o := &Orchestrator{
		cfg:        cfg,
		media:      media,
		paths:      dependency.NewPathManager(cfg.WorkDir),
		dispatcher: dispatcher,
		router:     rt,
		jobs:       semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrDiscard(o.logger).With("component", "orchestrator")
	o.splitter = chunking.NewSplitter(media, o.logger)
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// job is the per-request state shared by the backend legs.
type job struct {
	id       string
	req      Request
	task     whisper.Task
	chunking ChunkingOptions
	asset    MediaAsset
	dir      string
	log      *slog.Logger

	mu     sync.Mutex
	chunks []chunking.Chunk
}

// Transcribe runs req to completion. Every error it returns is an *OrchError.
func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (tr *transcript.Transcript, err error) {
	start := time.Now()
	defer func() {
		code := ""
		if err != nil {
			oe := Classify(err)
			err = oe
			code = string(oe.Code)
		}
		metrics.RecordJob(code, time.Since(start).Seconds())
	}()

	mode, task, chunkOpts, err := o.validate(req)
	if err != nil {
		return nil, err
	}
	routes, err := o.router.Plan(mode)
	if err != nil {
		return nil, err
	}
	if err := o.precheckQuota(ctx, routes); err != nil {
		return nil, err
	}

	if err := o.jobs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.jobs.Release(1)
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	j := &job{
		id:       o.newID(),
		req:      req,
		task:     task,
		chunking: chunkOpts,
	}
	j.log = o.logger.With("job_id", j.id)

	j.dir, err = o.paths.EnsureJobDir(j.id)
	if err != nil {
		return nil, fmt.Errorf("prepare job dir: %w", err)
	}
	defer func() {
		if rmErr := o.paths.RemoveJobDir(j.id); rmErr != nil {
			j.log.Warn("failed to remove job dir", "dir", j.dir, "error", rmErr)
		}
	}()

	j.log.Info("transcription started", "source", req.SourceRef, "backend", mode, "plan", routeNames(routes),
		"chunking", chunkOpts.Enabled, "accelerated", chunkOpts.Accelerated)

	j.asset, err = o.prepareAsset(ctx, j)
	if err != nil {
		return nil, err
	}

	tr, err = o.router.Transcribe(ctx, mode, j.asset.DurationSeconds, o.leg(j))
	if err != nil {
		j.log.Error("transcription failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}

	tr.ID = j.id
	tr.SourceRef = req.SourceRef
	tr.DurationMs = max(tr.DurationMs, int64(math.Round(j.asset.DurationSeconds*1000)))
	tr.Recompute()

	j.log.Info("transcription completed", "segments", len(tr.Segments), "duration_ms", tr.DurationMs,
		"model", tr.Model, "elapsed", time.Since(start))
	return tr, nil
}

// validate checks req and resolves the defaults it leaves open.
func (o *Orchestrator) validate(req Request) (router.Mode, whisper.Task, ChunkingOptions, error) {
	var none ChunkingOptions
	if strings.TrimSpace(req.SourceRef) == "" {
		return "", "", none, NewInvalidRequestError("source reference is required")
	}

	mode, err := router.ParseMode(string(req.Backend))
	if err != nil {
		return "", "", none, NewInvalidRequestError("%v", err)
	}

	task := req.Task
	switch task {
	case "":
		task = whisper.TaskTranscribe
	case whisper.TaskTranscribe, whisper.TaskTranslate:
	default:
		return "", "", none, NewInvalidRequestError("unknown task %q (want transcribe|translate)", req.Task)
	}

	if req.Model != "" && !whisper.IsValidModel(req.Model) {
		return "", "", none, NewInvalidRequestError("unknown model %q", req.Model)
	}
	if task == whisper.TaskTranslate && req.Model != "" && !whisper.SupportsTranslation(req.Model) {
		return "", "", none, NewInvalidRequestError("model %q is English-only and cannot translate", req.Model)
	}

	opts := o.cfg.Chunking
	if req.Chunking != nil {
		opts = *req.Chunking
	}
	if opts.Enabled && (opts.ChunkSeconds < MinChunkSeconds || opts.OverlapSeconds < 0 || opts.OverlapSeconds > opts.ChunkSeconds/2) {
		return "", "", none, NewInvalidRequestError("invalid chunking: chunk=%gs overlap=%gs (need chunk >= %gs, 0 <= overlap <= chunk/2)",
			opts.ChunkSeconds, opts.OverlapSeconds, MinChunkSeconds)
	}
	return mode, task, opts, nil
}

// precheckQuota fails fast when the plan starts with the cloud backend and
// a daily ceiling is already reached.
func (o *Orchestrator) precheckQuota(ctx context.Context, routes []router.Route) error {
	if o.quota == nil || len(routes) == 0 || !routes[0].Cloud {
		return nil
	}
	ex, err := o.quota.CheckExhaustion(ctx, 0)
	if err != nil {
		return err
	}
	limits := o.quota.Limits()
	switch {
	case ex.RequestsExhausted:
		return &quota.ExceededError{Window: quota.WindowDayRequests, Limit: float64(limits.DayRequests), Used: float64(limits.DayRequests)}
	case ex.AudioSecondsExhausted:
		return &quota.ExceededError{Window: quota.WindowDayAudioSeconds, Limit: limits.DayAudioSeconds, Used: limits.DayAudioSeconds}
	}
	return nil
}

// prepareAsset downloads the source and transcodes it to the job WAV.
func (o *Orchestrator) prepareAsset(ctx context.Context, j *job) (MediaAsset, error) {
	t0 := time.Now()
	src, err := o.media.Acquire(ctx, j.req.SourceRef, j.dir)
	if err != nil {
		return MediaAsset{}, err
	}
	j.log.Info("source acquired", "path", src, "elapsed", time.Since(t0))

	wav := o.paths.TranscodedPath(j.id)
	if err := o.media.ConvertAudio(ctx, src, wav); err != nil {
		return MediaAsset{}, err
	}
	if src != wav {
		_ = os.Remove(src)
	}

	duration, err := o.media.ProbeDuration(ctx, wav)
	if err != nil {
		if ctx.Err() != nil {
			return MediaAsset{}, ctx.Err()
		}
		j.log.Warn("duration probe failed, continuing with unknown duration", "error", err)
		duration = 0
	}
	return MediaAsset{Path: wav, DurationSeconds: duration}, nil
}

// leg returns the chunk pipeline the router runs on one backend.
func (o *Orchestrator) leg(j *job) router.LegFunc {
	return func(ctx context.Context, backend whisper.WhisperTranscriber) (*transcript.Transcript, error) {
		chunks, err := o.chunksFor(ctx, j)
		if err != nil {
			return nil, err
		}

		opts := &whisper.TranscribeOptions{
			Model:    modelFor(backend.Name(), j.req.Model),
			Language: j.req.Language,
			Task:     j.task,
		}
		if j.req.Model != "" && opts.Model == "" {
			j.log.Info("requested model not served by backend, using its default", "backend", backend.Name(), "model", j.req.Model)
		}

		results, err := o.dispatchAll(ctx, j, backend, chunks, opts)
		if err != nil {
			return nil, err
		}

		overlap := 0.0
		if j.chunking.Enabled {
			overlap = j.chunking.OverlapSeconds
		}
		return merge.Merge(results, merge.Options{
			OverlapSeconds:      overlap,
			SimilarityThreshold: o.cfg.SimilarityThreshold,
		}), nil
	}
}

// chunksFor splits the asset once per job; a fallback leg reuses the files.
func (o *Orchestrator) chunksFor(ctx context.Context, j *job) ([]chunking.Chunk, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.chunks != nil {
		return j.chunks, nil
	}

	if !j.chunking.Enabled {
		j.chunks = []chunking.Chunk{{Index: 0, Path: j.asset.Path, EndSec: j.asset.DurationSeconds}}
		return j.chunks, nil
	}
	chunks, err := o.splitter.Split(ctx, j.asset.Path, j.dir, j.chunking.ChunkSeconds, j.chunking.OverlapSeconds)
	if err != nil {
		return nil, err
	}
	j.chunks = chunks
	return chunks, nil
}

// dispatchAll transcribes every chunk, sequentially or with bounded
// parallelism, and returns the results ordered by chunk index. Any chunk
// failure fails the whole leg.
func (o *Orchestrator) dispatchAll(ctx context.Context, j *job, backend whisper.WhisperTranscriber, chunks []chunking.Chunk, opts *whisper.TranscribeOptions) ([]merge.ChunkTranscript, error) {
	results := make([]merge.ChunkTranscript, len(chunks))

	run := func(ctx context.Context, i int, c chunking.Chunk) error {
		t0 := time.Now()
		res, err := o.dispatcher.Dispatch(ctx, backend, c.Path, opts)
		elapsed := time.Since(t0).Milliseconds()
		metrics.RecordChunkProcessed(backend.Name(), err == nil)
		if err != nil {
			logger.LogChunkProcessing(j.log, "dispatcher", "error", c.Index, elapsed, string(Classify(err).Code))
			return fmt.Errorf("chunk %d on %s: %w", c.Index, backend.Name(), err)
		}
		logger.LogChunkProcessing(j.log, "dispatcher", "success", c.Index, elapsed, "")
		results[i] = merge.ChunkTranscript{
			Index:    c.Index,
			StartSec: c.StartSec,
			EndSec:   c.EndSec,
			Language: res.Language,
			Model:    res.Model,
			Segments: res.Segments,
		}
		return nil
	}

	if !j.chunking.Accelerated || len(chunks) == 1 {
		for i, c := range chunks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := run(ctx, i, c); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxParallelChunks)
	for i, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return run(gctx, i, c)
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return results, nil
}

// modelFor keeps the requested model only when backend serves it.
func modelFor(backend, requested string) string {
	if requested == "" {
		return ""
	}
	catalogue := whisper.LocalModels
	if backend == whisper.NameCloud {
		catalogue = whisper.CloudModels
	}
	if slices.Contains(catalogue, requested) {
		return requested
	}
	return ""
}

func routeNames(routes []router.Route) string {
	names := make([]string, len(routes))
	for i, r := range routes {
		names[i] = r.Name()
	}
	return strings.Join(names, ",")
}

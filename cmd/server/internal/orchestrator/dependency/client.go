package dependency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/houzhh15/vtscribe/pkg/logger"
)

// ObjectFetcher downloads objects from an object store (s3://bucket/key sources).
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string, w io.Writer) error
}

// DependencyClient is the facade the orchestrator uses to acquire media and
// drive ffmpeg/ffprobe, without knowing how the tools are executed.
type DependencyClient struct {
	executor    DependencyExecutor
	config      ExecutorConfig
	pathManager *PathManager
	fetcher     ObjectFetcher
	logger      *slog.Logger
}

// ClientOption customizes a DependencyClient.
type ClientOption func(*DependencyClient)

// WithObjectFetcher enables s3:// sources.
func WithObjectFetcher(f ObjectFetcher) ClientOption {
	return func(c *DependencyClient) { c.fetcher = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *DependencyClient) { c.logger = l }
}

// WithExecutor replaces the local executor (tests).
func WithExecutor(e DependencyExecutor) ClientOption {
	return func(c *DependencyClient) { c.executor = e }
}

// NewClient creates a DependencyClient running tools on the local host.
func NewClient(config ExecutorConfig, opts ...ClientOption) *DependencyClient {
	c := &DependencyClient{
		executor:    NewLocalExecutor(config),
		config:      config,
		pathManager: NewPathManager(config.WorkDir),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrDiscard(c.logger).With("component", "dependency")
	return c
}

// Acquire fetches sourceRef into destDir and returns the local media path.
//
// Supported sources:
//   - http(s):// URLs, downloaded with yt-dlp (best audio-only stream)
//   - s3://bucket/key objects, when an ObjectFetcher is configured
//   - file:// URLs and local paths, copied so the job owns its asset
func (c *DependencyClient) Acquire(ctx context.Context, sourceRef, destDir string) (string, error) {
	ref := strings.TrimSpace(sourceRef)
	if ref == "" {
		return "", &AcquisitionError{Kind: KindInvalidSource, Source: sourceRef, Cause: errors.New("empty source")}
	}

	if path, ok := LocalPath(ref); ok {
		return c.copyLocal(path, destDir)
	}

	u, _ := url.Parse(ref)
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return "", &AcquisitionError{Kind: KindInvalidSource, Source: ref, Cause: errors.New("missing host")}
		}
		return c.download(ctx, ref, destDir)
	case "s3":
		return c.fetchObject(ctx, ref, u, destDir)
	default:
		return "", &AcquisitionError{Kind: KindUnsupported, Source: ref, Cause: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
}

// LocalPath reports the filesystem path of a local path or file:// source.
// Windows drive letters parse as one-letter schemes and count as local.
func LocalPath(sourceRef string) (string, bool) {
	ref := strings.TrimSpace(sourceRef)
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return ref, true
	}
	if strings.EqualFold(u.Scheme, "file") {
		return u.Path, true
	}
	return "", false
}

// ResolveUnderRoot resolves path (relative paths are taken from root) and
// returns its absolute location if it is a file inside root. Symlinks are
// followed on both sides, so a link under root cannot escape it.
func ResolveUnderRoot(path, root string) (string, error) {
	if root == "" {
		return "", errors.New("local sources are disabled")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("media root: %w", err)
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("%s is not under the media root", path)
	}
	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not under the media root", path)
	}
	return realPath, nil
}

// download runs yt-dlp for the best audio stream into destDir/source.<ext>.
func (c *DependencyClient) download(ctx context.Context, ref, destDir string) (string, error) {
	req := CommandRequest{
		Command: ToolYtDlp,
		Args: []string{
			"-f", "bestaudio/best",
			"--no-playlist",
			"--no-progress",
			"-o", filepath.Join(destDir, "source.%(ext)s"),
			ref,
		},
	}
	if ffmpeg := c.config.LocalBinaryPaths[ToolFFmpeg]; ffmpeg != "" && filepath.IsAbs(ffmpeg) {
		req.Args = append([]string{"--ffmpeg-location", ffmpeg}, req.Args...)
	}

	c.logger.Info("downloading source", "source", ref)
	resp, err := c.run(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &AcquisitionError{Kind: classifyDownloadFailure(resp.Stderr), Source: ref, Cause: err}
	}

	matches, _ := filepath.Glob(filepath.Join(destDir, "source.*"))
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		if fi, err := os.Stat(m); err == nil && fi.Size() > 0 {
			return m, nil
		}
	}
	return "", &AcquisitionError{Kind: KindNoOutput, Source: ref, Cause: errors.New("yt-dlp produced no media file")}
}

// classifyDownloadFailure maps yt-dlp stderr to an acquisition kind.
func classifyDownloadFailure(stderr string) AcquisitionKind {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "unsupported url"):
		return KindUnsupported
	case strings.Contains(s, "http error 404"),
		strings.Contains(s, "video unavailable"),
		strings.Contains(s, "private video"),
		strings.Contains(s, "does not exist"):
		return KindNotFound
	default:
		return KindToolFailure
	}
}

func (c *DependencyClient) fetchObject(ctx context.Context, ref string, u *url.URL, destDir string) (string, error) {
	if c.fetcher == nil {
		return "", &AcquisitionError{Kind: KindUnsupported, Source: ref, Cause: errors.New("object store sources are not configured")}
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", &AcquisitionError{Kind: KindInvalidSource, Source: ref, Cause: errors.New("expected s3://bucket/key")}
	}

	dest := filepath.Join(destDir, "source"+filepath.Ext(key))
	f, err := os.Create(dest)
	if err != nil {
		return "", &AcquisitionError{Kind: KindToolFailure, Source: ref, Cause: err}
	}
	defer f.Close()

	c.logger.Info("fetching source object", "bucket", bucket, "key", key)
	if err := c.fetcher.Fetch(ctx, bucket, key, f); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		kind := KindToolFailure
		if errors.Is(err, ErrObjectNotFound) {
			kind = KindNotFound
		}
		return "", &AcquisitionError{Kind: kind, Source: ref, Cause: err}
	}
	return dest, nil
}

func (c *DependencyClient) copyLocal(path, destDir string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		kind := KindToolFailure
		if errors.Is(err, os.ErrNotExist) {
			kind = KindNotFound
		}
		return "", &AcquisitionError{Kind: kind, Source: path, Cause: err}
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil || !fi.Mode().IsRegular() {
		return "", &AcquisitionError{Kind: KindInvalidSource, Source: path, Cause: errors.New("not a regular file")}
	}

	dest := filepath.Join(destDir, "source"+filepath.Ext(path))
	dst, err := os.Create(dest)
	if err != nil {
		return "", &AcquisitionError{Kind: KindToolFailure, Source: path, Cause: err}
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", &AcquisitionError{Kind: KindToolFailure, Source: path, Cause: err}
	}
	if err := dst.Close(); err != nil {
		return "", &AcquisitionError{Kind: KindToolFailure, Source: path, Cause: err}
	}
	return dest, nil
}

// ConvertAudio transcodes inputPath to a 16 kHz mono PCM WAV at outputPath.
func (c *DependencyClient) ConvertAudio(ctx context.Context, inputPath, outputPath string) error {
	req := CommandRequest{
		Command: ToolFFmpeg,
		Args: []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", inputPath,
			"-vn",
			"-ac", "1",
			"-ar", "16000",
			"-c:a", "pcm_s16le",
			outputPath,
		},
	}
	if _, err := c.run(ctx, req); err != nil {
		return &TranscodeError{Op: "convert", Input: inputPath, Cause: err}
	}
	if err := checkOutput(outputPath); err != nil {
		return &TranscodeError{Op: "convert", Input: inputPath, Cause: err}
	}
	return nil
}

// ExtractSegment writes [startSec, startSec+durationSec) of inputPath to
// outputPath as 16 kHz mono WAV.
func (c *DependencyClient) ExtractSegment(ctx context.Context, inputPath, outputPath string, startSec, durationSec float64) error {
	req := CommandRequest{
		Command: ToolFFmpeg,
		Args: []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-ss", formatSeconds(startSec),
			"-t", formatSeconds(durationSec),
			"-i", inputPath,
			"-vn",
			"-ac", "1",
			"-ar", "16000",
			"-c:a", "pcm_s16le",
			outputPath,
		},
	}
	if _, err := c.run(ctx, req); err != nil {
		return &TranscodeError{Op: "extract", Input: inputPath, Cause: err}
	}
	if err := checkOutput(outputPath); err != nil {
		return &TranscodeError{Op: "extract", Input: inputPath, Cause: err}
	}
	return nil
}

// ProbeDuration returns the media duration in seconds as reported by ffprobe.
func (c *DependencyClient) ProbeDuration(ctx context.Context, path string) (float64, error) {
	req := CommandRequest{
		Command: ToolFFprobe,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		},
	}
	resp, err := c.run(ctx, req)
	if err != nil {
		return 0, &TranscodeError{Op: "probe", Input: path, Cause: err}
	}
	raw := strings.TrimSpace(resp.Stdout)
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		return 0, &TranscodeError{Op: "probe", Input: path, Cause: fmt.Errorf("unparseable duration %q", raw)}
	}
	return d, nil
}

// HealthCheck verifies that the underlying executor is ready to handle requests.
func (c *DependencyClient) HealthCheck(ctx context.Context) error {
	return c.executor.HealthCheck(ctx)
}

// PathManager returns the path manager for job directories.
func (c *DependencyClient) PathManager() *PathManager {
	return c.pathManager
}

// run validates and executes req, folding a non-zero exit into the error.
func (c *DependencyClient) run(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	if err := ValidateCommandRequest(req, c.config); err != nil {
		return CommandResponse{}, fmt.Errorf("command validation failed: %w", err)
	}

	c.logger.Debug("executing command", "command", req.Command, "args", req.Args)
	resp, err := c.executor.ExecuteCommand(ctx, req)
	if err != nil && resp.ExitCode <= 0 {
		return resp, fmt.Errorf("%s failed: %w", req.Command, err)
	}
	if err != nil || !resp.Success || resp.ExitCode != 0 {
		c.logger.Warn("command failed", "command", req.Command, "exit_code", resp.ExitCode, "stderr", tail(resp.Stderr, 512))
		return resp, fmt.Errorf("%s failed (exit code %d): %s", req.Command, resp.ExitCode, tail(resp.Stderr, 512))
	}
	return resp, nil
}

func checkOutput(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output file not created: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("output file is empty: %s", path)
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

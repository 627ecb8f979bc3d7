package whisper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/houzhh15/vtscribe/pkg/logger"
	"github.com/houzhh15/vtscribe/pkg/metrics"
)

const (
	// NameCloud identifies the metered OpenAI-compatible backend.
	NameCloud = "cloud"
	// NameLocal identifies the self-hosted faster-whisper service.
	NameLocal = "local"
)

// HTTPConfig configures an OpenAI-compatible transcription endpoint.
type HTTPConfig struct {
	Name           string        // backend identifier ("cloud", "local")
	BaseURL        string        // e.g. "https://api.groq.com/openai/v1"
	TranscribePath string        // path appended to BaseURL for transcription
	TranslatePath  string        // path for translation; empty means use TranscribePath with task field
	HealthPath     string        // liveness probe path
	APIKey         string        // bearer token; empty disables the Authorization header
	DefaultModel   string        // used when TranscribeOptions.Model is empty
	Timeout        time.Duration // absolute per-call timeout

	Logger     *slog.Logger
	HTTPClient *http.Client // optional, mainly for tests
}

// HTTPTranscriber implements WhisperTranscriber over an OpenAI-compatible
// multipart/form-data transcription API. The cloud (Groq) and local
// (faster-whisper) backends are both instances of it.
type HTTPTranscriber struct {
	cfg        HTTPConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPTranscriber creates a transcriber for the given endpoint configuration.
func NewHTTPTranscriber(cfg HTTPConfig) *HTTPTranscriber {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPTranscriber{
		cfg:        cfg,
		httpClient: client,
		logger:     logger.OrDiscard(cfg.Logger).With("component", "whisper", "backend", cfg.Name),
	}
}

// NewCloudTranscriber creates the metered backend (Groq or any OpenAI-compatible API).
//
// Endpoints:
//   - POST {baseURL}/audio/transcriptions
//   - POST {baseURL}/audio/translations (task=translate)
//   - GET  {baseURL}/models (health)
func NewCloudTranscriber(baseURL, apiKey, defaultModel string, timeout time.Duration, log *slog.Logger) *HTTPTranscriber {
	return NewHTTPTranscriber(HTTPConfig{
		Name:           NameCloud,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		TranscribePath: "/audio/transcriptions",
		TranslatePath:  "/audio/translations",
		HealthPath:     "/models",
		APIKey:         apiKey,
		DefaultModel:   defaultModel,
		Timeout:        timeout,
		Logger:         log,
	})
}

// NewLocalTranscriber creates the self-hosted faster-whisper backend.
//
// Endpoints:
//   - POST {baseURL}/openai/v1/audio/transcriptions
//   - GET  {baseURL}/healthz
func NewLocalTranscriber(baseURL, defaultModel string, timeout time.Duration, log *slog.Logger) *HTTPTranscriber {
	return NewHTTPTranscriber(HTTPConfig{
		Name:           NameLocal,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		TranscribePath: "/openai/v1/audio/transcriptions",
		HealthPath:     "/healthz",
		DefaultModel:   defaultModel,
		Timeout:        timeout,
		Logger:         log,
	})
}

// Transcribe uploads the audio file as multipart/form-data and validates the
// verbose_json response.
func (h *HTTPTranscriber) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	opts := TranscribeOptions{}
	if options != nil {
		opts = *options
	}
	model := opts.Model
	if model == "" {
		model = h.cfg.DefaultModel
	}

	body, contentType, err := h.buildForm(audioPath, model, opts)
	if err != nil {
		return nil, err
	}

	endpoint := h.cfg.BaseURL + h.cfg.TranscribePath
	if opts.Task == TaskTranslate && h.cfg.TranslatePath != "" {
		endpoint = h.cfg.BaseURL + h.cfg.TranslatePath
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	h.authorize(req)

	h.logger.Debug("sending transcription request", "endpoint", endpoint, "audio", filepath.Base(audioPath), "model", model)

	start := time.Now()
	resp, err := h.httpClient.Do(req)
	if err != nil {
		metrics.RecordBackendRequest(h.cfg.Name, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%s transcription request failed: %w", h.cfg.Name, err)
	}
	defer resp.Body.Close()
	metrics.RecordBackendRequest(h.cfg.Name, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		h.logger.Warn("transcription request rejected", "status", resp.StatusCode, "body", string(bodyBytes))
		return nil, &BackendError{Backend: h.cfg.Name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	result, err := decodeVerboseJSON(h.cfg.Name, resp.Body)
	if err != nil {
		return nil, err
	}
	if result.Model == "" {
		result.Model = model
	}
	return result, nil
}

// buildForm assembles the multipart request body.
func (h *HTTPTranscriber) buildForm(audioPath, model string, opts TranscribeOptions) (io.Reader, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fileName := filepath.Base(audioPath)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName)))
	header.Set("Content-Type", audioMimeType(fileName))
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy file data: %w", err)
	}

	fields := [][2]string{
		{"model", model},
		{"response_format", "verbose_json"},
		{"temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64)},
	}
	if opts.Language != "" {
		fields = append(fields, [2]string{"language", opts.Language})
	}
	if opts.Prompt != "" {
		fields = append(fields, [2]string{"prompt", opts.Prompt})
	}
	if opts.Task == TaskTranslate && h.cfg.TranslatePath == "" {
		fields = append(fields, [2]string{"task", string(TaskTranslate)})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// HealthCheck probes the backend's liveness endpoint.
func (h *HTTPTranscriber) HealthCheck(ctx context.Context) (bool, error) {
	endpoint := h.cfg.BaseURL + h.cfg.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}
	h.authorize(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

// Name returns the backend identifier.
func (h *HTTPTranscriber) Name() string {
	return h.cfg.Name
}

// DefaultModel returns the model used when a request does not name one.
func (h *HTTPTranscriber) DefaultModel() string {
	return h.cfg.DefaultModel
}

func (h *HTTPTranscriber) authorize(req *http.Request) {
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// audioMimeType maps common audio extensions to their MIME type, defaulting to WAV.
func audioMimeType(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

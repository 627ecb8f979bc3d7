package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestAudio(t *testing.T, name string) string {
	t.Helper()
	audioPath := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(audioPath, []byte("RIFF....WAVE"), 0644); err != nil {
		t.Fatalf("Failed to create test audio file: %v", err)
	}
	return audioPath
}

// TestCloudTranscriber tests the OpenAI-compatible cloud client.
func TestCloudTranscriber(t *testing.T) {
	t.Run("successful transcription", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/openai/v1/audio/transcriptions" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if got := r.Header.Get("Authorization"); got != "Bearer gsk_test" {
				t.Errorf("Authorization = %q", got)
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("ParseMultipartForm: %v", err)
				return
			}
			if got := r.FormValue("model"); got != "whisper-large-v3" {
				t.Errorf("model = %q", got)
			}
			if got := r.FormValue("response_format"); got != "verbose_json" {
				t.Errorf("response_format = %q", got)
			}
			if got := r.FormValue("language"); got != "en" {
				t.Errorf("language = %q", got)
			}
			_, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("FormFile: %v", err)
				return
			}
			if header.Header.Get("Content-Type") != "audio/wav" {
				t.Errorf("file content type = %q", header.Header.Get("Content-Type"))
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"text": " Hello world ",
				"segments": []map[string]interface{}{
					{"id": 0, "text": " Hello", "start": 0.0, "end": 1.2},
					{"id": 1, "text": " world", "start": 1.2, "end": 2.8},
				},
				"language": "en",
				"duration": 2.8,
			})
		}))
		defer server.Close()

		impl := NewCloudTranscriber(server.URL+"/openai/v1/", "gsk_test", "whisper-large-v3-turbo", time.Minute, nil)
		result, err := impl.Transcribe(context.Background(), writeTestAudio(t, "chunk_0000.wav"), &TranscribeOptions{
			Model:    "whisper-large-v3",
			Language: "en",
		})
		if err != nil {
			t.Fatalf("Transcribe() error = %v", err)
		}
		if result.Text != "Hello world" {
			t.Errorf("Text = %q, want %q", result.Text, "Hello world")
		}
		if len(result.Segments) != 2 {
			t.Fatalf("len(Segments) = %d, want 2", len(result.Segments))
		}
		if result.Segments[1].Start != 1.2 || result.Segments[1].End != 2.8 {
			t.Errorf("unexpected segment timing: %+v", result.Segments[1])
		}
		if result.Model != "whisper-large-v3" {
			t.Errorf("Model = %q, want requested model", result.Model)
		}
		if impl.Name() != NameCloud {
			t.Errorf("Name() = %q", impl.Name())
		}
	})

	t.Run("translate uses translation endpoint", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Write([]byte(`{"segments": []}`))
		}))
		defer server.Close()

		impl := NewCloudTranscriber(server.URL, "k", "whisper-large-v3", time.Minute, nil)
		if _, err := impl.Transcribe(context.Background(), writeTestAudio(t, "a.wav"), &TranscribeOptions{Task: TaskTranslate}); err != nil {
			t.Fatalf("Transcribe() error = %v", err)
		}
		if gotPath != "/audio/translations" {
			t.Errorf("path = %q, want /audio/translations", gotPath)
		}
	})

	t.Run("status errors are typed", func(t *testing.T) {
		tests := []struct {
			status    int
			transient bool
			tooLarge  bool
		}{
			{http.StatusTooManyRequests, true, false},
			{http.StatusInternalServerError, true, false},
			{http.StatusBadGateway, true, false},
			{http.StatusRequestEntityTooLarge, false, true},
			{http.StatusBadRequest, false, false},
			{http.StatusUnauthorized, false, false},
		}
		for _, tt := range tests {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": "nope"}`))
			}))

			impl := NewCloudTranscriber(server.URL, "k", "m", time.Minute, nil)
			_, err := impl.Transcribe(context.Background(), writeTestAudio(t, "a.wav"), nil)
			server.Close()

			var be *BackendError
			if !errors.As(err, &be) {
				t.Fatalf("status %d: expected *BackendError, got %v", tt.status, err)
			}
			if be.StatusCode != tt.status || !strings.Contains(be.Body, "nope") {
				t.Errorf("status %d: unexpected error %+v", tt.status, be)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("status %d: IsTransient = %v", tt.status, IsTransient(err))
			}
			if IsPayloadTooLarge(err) != tt.tooLarge {
				t.Errorf("status %d: IsPayloadTooLarge = %v", tt.status, IsPayloadTooLarge(err))
			}
		}
	})

	t.Run("missing audio file", func(t *testing.T) {
		impl := NewCloudTranscriber("http://127.0.0.1:1", "k", "m", time.Minute, nil)
		if _, err := impl.Transcribe(context.Background(), "/nonexistent/a.wav", nil); err == nil {
			t.Error("Expected error for missing file, got nil")
		}
	})
}

// TestLocalTranscriber tests the faster-whisper service client.
func TestLocalTranscriber(t *testing.T) {
	t.Run("transcribe and default model", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/openai/v1/audio/transcriptions" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if r.Header.Get("Authorization") != "" {
				t.Errorf("local backend must not send credentials")
			}
			r.ParseMultipartForm(1 << 20)
			if got := r.FormValue("model"); got != "distil-large-v3" {
				t.Errorf("model = %q", got)
			}
			if got := r.FormValue("task"); got != "translate" {
				t.Errorf("task = %q", got)
			}
			w.Write([]byte(`{"segments":[{"start":0,"end":1,"text":"hola"}],"language":"es"}`))
		}))
		defer server.Close()

		impl := NewLocalTranscriber(server.URL, "distil-large-v3", time.Minute, nil)
		result, err := impl.Transcribe(context.Background(), writeTestAudio(t, "a.wav"), &TranscribeOptions{Task: TaskTranslate})
		if err != nil {
			t.Fatalf("Transcribe() error = %v", err)
		}
		if result.Text != "hola" {
			t.Errorf("Text = %q, want joined segment text", result.Text)
		}
		if result.Model != "distil-large-v3" {
			t.Errorf("Model = %q", result.Model)
		}
	})

	t.Run("health check success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/healthz" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		healthy, err := NewLocalTranscriber(server.URL, "m", time.Minute, nil).HealthCheck(context.Background())
		if err != nil {
			t.Errorf("HealthCheck() error = %v", err)
		}
		if !healthy {
			t.Error("Expected healthy status")
		}
	})

	t.Run("health check failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		healthy, err := NewLocalTranscriber(server.URL, "m", time.Minute, nil).HealthCheck(context.Background())
		if healthy {
			t.Error("Expected unhealthy status")
		}
		if err == nil {
			t.Error("Expected error, got nil")
		}
	})
}

func TestDecodeVerboseJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "empty segments ok", body: `{"text":"","segments":[]}`},
		{name: "not json", body: `<html>`, wantErr: "invalid JSON"},
		{name: "missing segments", body: `{"text":"hi"}`, wantErr: "missing segments"},
		{name: "missing start", body: `{"segments":[{"end":1,"text":"a"}]}`, wantErr: "missing start"},
		{name: "missing text", body: `{"segments":[{"start":0,"end":1}]}`, wantErr: "missing text"},
		{name: "negative start", body: `{"segments":[{"start":-1,"end":1,"text":"a"}]}`, wantErr: "negative start"},
		{name: "end before start", body: `{"segments":[{"start":2,"end":1,"text":"a"}]}`, wantErr: "before start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeVerboseJSON("cloud", io.NopCloser(strings.NewReader(tt.body)))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestModelCatalogue(t *testing.T) {
	if !IsValidModel("whisper-large-v3-turbo") || !IsValidModel("ggml-small.en-q5_1.bin") {
		t.Error("expected known models to be valid")
	}
	if IsValidModel("gpt-4o") {
		t.Error("unexpected valid model")
	}
	for model, want := range map[string]bool{
		"large-v3":                   true,
		"base.en":                    false,
		"ggml-base.en.bin":           false,
		"ggml-small.en-q5_1.bin":     false,
		"distil-whisper-large-v3-en": false,
		"whisper-large-v3-turbo":     true,
	} {
		if got := SupportsTranslation(model); got != want {
			t.Errorf("SupportsTranslation(%q) = %v, want %v", model, got, want)
		}
	}
}

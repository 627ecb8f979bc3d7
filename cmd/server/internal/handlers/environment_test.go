package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
)

type countingBackend struct {
	healthy bool
	probes  atomic.Int32
}

func (b *countingBackend) Transcribe(ctx context.Context, audioPath string, options *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	return &whisper.TranscriptionResult{}, nil
}

func (b *countingBackend) HealthCheck(ctx context.Context) (bool, error) {
	b.probes.Add(1)
	return b.healthy, nil
}

func (b *countingBackend) Name() string { return whisper.NameLocal }

func TestEnvironmentHandler_CachesUntilForced(t *testing.T) {
	backend := &countingBackend{healthy: false}
	h := NewEnvironmentHandler(orchestrator.EnvironmentOptions{
		WorkDir:  t.TempDir(),
		Backends: []whisper.WhisperTranscriber{backend},
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/environment/status", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var status orchestrator.EnvironmentStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.False(t, status.Ready)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	}
	assert.Equal(t, int32(1), backend.probes.Load())

	w := httptest.NewRecorder()
	h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/environment/status?force=true", nil))
	assert.Equal(t, int32(2), backend.probes.Load())
}

package api

import (
	"github.com/gin-gonic/gin"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
)

// WhisperModelInfo describes one model name accepted by the API.
type WhisperModelInfo struct {
	ID               string `json:"id"`
	Backend          string `json:"backend"`
	CanTranslate     bool   `json:"can_translate"`
	IsBackendDefault bool   `json:"is_backend_default"`
}

// HandleGetWhisperModels returns the model catalogue per backend
// GET /api/v1/services/whisper/models
func HandleGetWhisperModels(cloudDefault, localDefault string) gin.HandlerFunc {
	catalogue := make([]WhisperModelInfo, 0, len(whisper.CloudModels)+len(whisper.LocalModels))
	add := func(backend, def string, models []string) {
		for _, m := range models {
			catalogue = append(catalogue, WhisperModelInfo{
				ID:               m,
				Backend:          backend,
				CanTranslate:     whisper.SupportsTranslation(m),
				IsBackendDefault: m == def,
			})
		}
	}
	add(whisper.NameCloud, cloudDefault, whisper.CloudModels)
	add(whisper.NameLocal, localDefault, whisper.LocalModels)

	return func(c *gin.Context) {
		successResponse(c, gin.H{
			"models": catalogue,
			"total":  len(catalogue),
		})
	}
}

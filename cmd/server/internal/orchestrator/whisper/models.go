package whisper

import "strings"

// CloudModels lists the models accepted by the Groq OpenAI-compatible API.
var CloudModels = []string{
	"whisper-large-v3-turbo",
	"whisper-large-v3",
	"distil-whisper-large-v3-en",
}

// LocalModels lists the model names the faster-whisper service resolves,
// including legacy ggml file names.
var LocalModels = []string{
	"base", "small", "medium", "large", "large-v2", "large-v3", "turbo",
	"distil-large-v2", "distil-large-v3", "distil-medium.en", "distil-small.en",
	"base.en", "small.en", "medium.en", "tiny.en",
	"ggml-base.bin", "ggml-small.bin", "ggml-medium.bin", "ggml-large.bin",
	"ggml-base.en.bin", "ggml-small.en.bin", "ggml-medium.en.bin", "ggml-tiny.en.bin",
	"ggml-small.en-q5_1.bin",
}

// IsValidModel reports whether model is known to either backend.
func IsValidModel(model string) bool {
	for _, list := range [][]string{CloudModels, LocalModels} {
		for _, m := range list {
			if m == model {
				return true
			}
		}
	}
	return false
}

// SupportsTranslation reports whether model can translate; English-only
// models (".en", "-en") cannot.
func SupportsTranslation(model string) bool {
	return !strings.HasSuffix(model, ".en") &&
		!strings.Contains(model, ".en.") &&
		!strings.Contains(model, ".en-") &&
		!strings.HasSuffix(model, "-en")
}

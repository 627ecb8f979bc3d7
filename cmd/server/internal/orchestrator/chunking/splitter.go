// Package chunking cuts a transcoded asset into bounded, optionally
// overlapping chunks that can be uploaded to a transcription backend.
package chunking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/vtscribe/pkg/logger"
)

// ErrInvalidChunking is returned for a non-positive chunk length or an
// overlap outside [0, chunkSeconds).
var ErrInvalidChunking = errors.New("invalid chunking parameters")

// MediaTool is the subset of dependency.DependencyClient the splitter needs.
type MediaTool interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractSegment(ctx context.Context, inputPath, outputPath string, startSec, durationSec float64) error
}

// Chunk is one contiguous slice of an asset, in asset seconds.
type Chunk struct {
	Index    int
	Path     string
	StartSec float64
	EndSec   float64
}

// Duration returns the nominal length of the chunk.
func (c Chunk) Duration() float64 {
	return c.EndSec - c.StartSec
}

// Splitter produces chunk files with ffmpeg through a MediaTool.
type Splitter struct {
	tool   MediaTool
	logger *slog.Logger
}

// NewSplitter creates a Splitter.
func NewSplitter(tool MediaTool, log *slog.Logger) *Splitter {
	return &Splitter{tool: tool, logger: logger.OrDiscard(log).With("component", "chunking")}
}

// Split cuts assetPath into chunks written to outDir.
//
// When the duration is unknown or does not exceed chunkSeconds, the asset
// itself is returned as the only chunk and nothing is transcoded.
// Otherwise chunk starts advance by chunkSeconds-overlapSeconds and the last
// chunk ends exactly at the asset duration.
func (s *Splitter) Split(ctx context.Context, assetPath, outDir string, chunkSeconds, overlapSeconds float64) ([]Chunk, error) {
	if chunkSeconds <= 0 || overlapSeconds < 0 || overlapSeconds >= chunkSeconds {
		return nil, fmt.Errorf("%w: chunk=%gs overlap=%gs", ErrInvalidChunking, chunkSeconds, overlapSeconds)
	}

	duration, err := s.tool.ProbeDuration(ctx, assetPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Unknown duration: send the whole asset.
		s.logger.Warn("duration probe failed, using single chunk", "path", assetPath, "error", err)
		duration = 0
	}

	plan := Plan(duration, chunkSeconds, overlapSeconds)
	if len(plan) <= 1 {
		return []Chunk{{Index: 0, Path: assetPath, StartSec: 0, EndSec: duration}}, nil
	}

	s.logger.Info("splitting asset", "path", assetPath, "duration_sec", duration, "chunks", len(plan),
		"chunk_sec", chunkSeconds, "overlap_sec", overlapSeconds)

	chunks := make([]Chunk, 0, len(plan))
	for _, c := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.Path = dependency.ChunkAudioPath(outDir, c.Index)
		if err := s.tool.ExtractSegment(ctx, assetPath, c.Path, c.StartSec, c.Duration()); err != nil {
			return nil, fmt.Errorf("extract chunk %d: %w", c.Index, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Plan computes chunk boundaries without touching any file. A duration of 0
// (unknown) or one not exceeding chunkSeconds yields a single chunk.
func Plan(duration, chunkSeconds, overlapSeconds float64) []Chunk {
	if duration <= chunkSeconds || chunkSeconds <= 0 {
		return []Chunk{{Index: 0, StartSec: 0, EndSec: duration}}
	}
	step := chunkSeconds - overlapSeconds
	if step <= 0 {
		step = chunkSeconds
	}

	var chunks []Chunk
	for start := 0.0; start < duration; start += step {
		end := math.Min(start+chunkSeconds, duration)
		chunks = append(chunks, Chunk{Index: len(chunks), StartSec: start, EndSec: end})
		if end >= duration {
			break
		}
	}
	return chunks
}

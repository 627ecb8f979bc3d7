// Package merge combines per-chunk backend results into one globally timed
// transcript.
//
// Chunk-local segment times are shifted by a running offset. After each chunk
// the offset is re-anchored on the end of the last segment that was kept, so
// that small differences between nominal chunk lengths and the audio actually
// transcribed do not accumulate into visible drift. The anchor is a heuristic:
// trailing silence in a chunk pulls later segments earlier by up to its length.
//
// Segments repeated across a chunk boundary (same normalized text, starting at
// or before the end of what was already kept) are dropped.
package merge

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/transcript"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/vtscribe/cmd/server/internal/simhash"
)

// maxToleranceMs caps the boundary tolerance used by duplicate detection.
const maxToleranceMs = 500

// ChunkTranscript is the backend result of one chunk, still in chunk-local time.
type ChunkTranscript struct {
	Index    int
	StartSec float64
	EndSec   float64
	Language string
	Model    string
	Segments []whisper.TranscriptionSegment
}

// Options tunes duplicate detection.
type Options struct {
	// OverlapSeconds is the audio shared by consecutive chunks.
	OverlapSeconds float64

	// SimilarityThreshold enables near-duplicate matching: two boundary
	// segments whose simhash fingerprints differ in at most this many bits are
	// treated as equal. 0 keeps exact matching only.
	SimilarityThreshold int
}

type keptSegment struct {
	seg  transcript.Segment
	norm string
}

// Merge builds the global transcript. Input order does not matter; chunks are
// processed by Index. Only Segments, Text, Language, Model and DurationMs are
// filled in; callers set ID and SourceRef.
func Merge(chunks []ChunkTranscript, opts Options) *transcript.Transcript {
	ordered := make([]ChunkTranscript, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	overlapMs := toMs(math.Max(opts.OverlapSeconds, 0))
	toleranceMs := min(int64(maxToleranceMs), overlapMs/2)

	out := &transcript.Transcript{}
	var (
		kept      []keptSegment
		offsetMs  int64
		lastStart int64
		lastEnd   int64
	)

	for ci, ch := range ordered {
		if out.Language == "" {
			out.Language = ch.Language
		}
		if out.Model == "" {
			out.Model = ch.Model
		}

		// Kept segments that reach into this chunk's start are the only
		// candidates for boundary duplicates.
		var boundary []keptSegment
		for i := len(kept) - 1; i >= 0 && kept[i].seg.EndMs >= offsetMs-toleranceMs; i-- {
			boundary = append(boundary, kept[i])
		}
		boundaryEnd := lastEnd

		appended := 0
		for _, raw := range ch.Segments {
			text := strings.TrimSpace(raw.Text)
			if text == "" {
				continue
			}
			start := toMs(raw.Start) + offsetMs
			end := toMs(raw.End) + offsetMs
			normalized := NormalizeText(text)

			if len(boundary) > 0 && start <= boundaryEnd+toleranceMs &&
				matchesAny(normalized, boundary, opts.SimilarityThreshold) {
				continue
			}

			if start < lastStart {
				start = lastStart
			}
			if end < start {
				end = start
			}
			seg := transcript.Segment{Idx: len(kept), StartMs: start, EndMs: end, Text: text}
			kept = append(kept, keptSegment{seg: seg, norm: normalized})
			lastStart = start
			if end > lastEnd {
				lastEnd = end
			}
			appended++
		}

		if ci+1 < len(ordered) {
			offsetMs = nextOffset(offsetMs, appended, kept, overlapMs, ordered[ci+1])
		}
	}

	out.Segments = make([]transcript.Segment, len(kept))
	for i, k := range kept {
		out.Segments[i] = k.seg
	}
	out.Recompute()
	return out
}

// nextOffset re-anchors the running offset on the last kept segment. The next
// chunk begins overlapMs before the audio the current chunk ended on. A chunk
// that contributed nothing falls back to the next chunk's nominal start.
func nextOffset(current int64, appended int, kept []keptSegment, overlapMs int64, next ChunkTranscript) int64 {
	var anchor int64
	if appended > 0 {
		anchor = kept[len(kept)-1].seg.EndMs - overlapMs
	} else {
		anchor = toMs(next.StartSec)
	}
	return max(anchor, current)
}

func matchesAny(normalized string, candidates []keptSegment, threshold int) bool {
	for _, c := range candidates {
		if c.norm == normalized {
			return true
		}
		if threshold > 0 && simhash.IsSimilar(c.norm, normalized, threshold) {
			return true
		}
	}
	return false
}

// Normalize converts a single backend result to a transcript with no offset
// and no duplicate removal.
func Normalize(result *whisper.TranscriptionResult) *transcript.Transcript {
	if result == nil {
		return Merge(nil, Options{})
	}
	return Merge([]ChunkTranscript{{
		Index:    0,
		Language: result.Language,
		Model:    result.Model,
		Segments: result.Segments,
	}}, Options{})
}

// NormalizeText prepares segment text for duplicate comparison: NFKC, case
// folded, punctuation and symbols removed, whitespace collapsed.
func NormalizeText(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toMs(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

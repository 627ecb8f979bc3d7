package merge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/transcript"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
)

func seg(start, end float64, text string) whisper.TranscriptionSegment {
	return whisper.TranscriptionSegment{Start: start, End: end, Text: text}
}

func texts(t *transcript.Transcript) []string {
	out := make([]string, len(t.Segments))
	for i, s := range t.Segments {
		out[i] = s.Text
	}
	return out
}

func assertInvariants(t *testing.T, tr *transcript.Transcript) {
	t.Helper()
	require.NoError(t, tr.Validate())
	joined := make([]string, 0, len(tr.Segments))
	for _, s := range tr.Segments {
		joined = append(joined, strings.TrimSpace(s.Text))
	}
	assert.Equal(t, strings.Join(joined, " "), tr.Text)
}

func TestMerge_BoundaryDuplicateDropped(t *testing.T) {
	chunks := []ChunkTranscript{
		{Index: 0, StartSec: 0, EndSec: 30, Segments: []whisper.TranscriptionSegment{
			seg(0, 5, "Welcome back."),
			seg(28, 30, "and then we"),
		}},
		{Index: 1, StartSec: 30, EndSec: 60, Segments: []whisper.TranscriptionSegment{
			seg(0, 2, "and then we"),
			seg(2, 6, "went home."),
		}},
	}
	tr := Merge(chunks, Options{})

	assert.Equal(t, []string{"Welcome back.", "and then we", "went home."}, texts(tr))
	assert.Equal(t, int64(28000), tr.Segments[1].StartMs)
	assert.Equal(t, int64(32000), tr.Segments[2].StartMs)
	assert.Equal(t, int64(36000), tr.DurationMs)
	assertInvariants(t, tr)
}

func TestMerge_NormalizedComparison(t *testing.T) {
	chunks := []ChunkTranscript{
		{Index: 0, Segments: []whisper.TranscriptionSegment{seg(10, 12, "And then, we...")}},
		{Index: 1, Segments: []whisper.TranscriptionSegment{seg(0, 2, "  and THEN   we ")}},
	}
	tr := Merge(chunks, Options{})
	assert.Equal(t, []string{"And then, we..."}, texts(tr))
}

func TestMerge_SameTextLaterIsKept(t *testing.T) {
	chunks := []ChunkTranscript{
		{Index: 0, Segments: []whisper.TranscriptionSegment{seg(8, 10, "yes")}},
		{Index: 1, Segments: []whisper.TranscriptionSegment{seg(4, 5, "yes")}},
	}
	tr := Merge(chunks, Options{})
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, int64(14000), tr.Segments[1].StartMs)
}

func TestMerge_RepeatsInsideOneChunkAreKept(t *testing.T) {
	chunks := []ChunkTranscript{{Index: 0, Segments: []whisper.TranscriptionSegment{
		seg(0, 1, "no"),
		seg(1, 2, "no"),
		seg(1, 2, "no"),
	}}}
	tr := Merge(chunks, Options{})
	assert.Len(t, tr.Segments, 3)
}

func TestMerge_DurationCoversLongestSegment(t *testing.T) {
	tr := Merge([]ChunkTranscript{{Index: 0, Segments: []whisper.TranscriptionSegment{
		seg(0, 10, "long intro"),
		seg(2, 3, "aside"),
	}}}, Options{})

	assert.Equal(t, []string{"long intro", "aside"}, texts(tr))
	assert.Equal(t, int64(10_000), tr.DurationMs)
	assertInvariants(t, tr)
}

func TestMerge_SortsByIndex(t *testing.T) {
	a := ChunkTranscript{Index: 0, Segments: []whisper.TranscriptionSegment{seg(0, 10, "first")}}
	b := ChunkTranscript{Index: 1, Segments: []whisper.TranscriptionSegment{seg(0, 10, "second")}}
	c := ChunkTranscript{Index: 2, Segments: []whisper.TranscriptionSegment{seg(0, 10, "third")}}

	inOrder := Merge([]ChunkTranscript{a, b, c}, Options{})
	shuffled := Merge([]ChunkTranscript{c, a, b}, Options{})
	assert.Equal(t, inOrder, shuffled)
	assert.Equal(t, "first second third", shuffled.Text)
	assert.Equal(t, []int64{0, 10000, 20000}, []int64{shuffled.Segments[0].StartMs, shuffled.Segments[1].StartMs, shuffled.Segments[2].StartMs})
}

func TestMerge_AnchorFollowsLastSegment(t *testing.T) {
	chunks := []ChunkTranscript{
		{Index: 0, StartSec: 0, EndSec: 600, Segments: []whisper.TranscriptionSegment{seg(590, 601.25, "tail")}},
		{Index: 1, StartSec: 600, EndSec: 1200, Segments: []whisper.TranscriptionSegment{seg(0.5, 3, "head")}},
	}
	tr := Merge(chunks, Options{})
	assert.Equal(t, int64(601250+500), tr.Segments[1].StartMs)
}

func TestMerge_EmptyChunkUsesNominalStart(t *testing.T) {
	chunks := []ChunkTranscript{
		{Index: 0, StartSec: 0, EndSec: 600, Segments: []whisper.TranscriptionSegment{seg(0, 100, "intro")}},
		{Index: 1, StartSec: 600, EndSec: 1200},
		{Index: 2, StartSec: 1200, EndSec: 1800, Segments: []whisper.TranscriptionSegment{seg(1, 2, "outro")}},
	}
	tr := Merge(chunks, Options{})
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, int64(1_201_000), tr.Segments[1].StartMs)
}

func TestMerge_DropsEmptyTextAndClampsTimes(t *testing.T) {
	chunks := []ChunkTranscript{{Index: 0, Segments: []whisper.TranscriptionSegment{
		seg(5, 6, "a"),
		seg(6, 7, "   "),
		seg(4, 3, "b"),
		seg(8, 9, "c"),
	}}}
	tr := Merge(chunks, Options{})
	assert.Equal(t, []string{"a", "b", "c"}, texts(tr))
	assert.Equal(t, int64(5000), tr.Segments[1].StartMs)
	assert.Equal(t, int64(5000), tr.Segments[1].EndMs)
	assertInvariants(t, tr)
}

func TestMerge_OverlapRegionDeduplicated(t *testing.T) {
	// 600s chunks with 30s overlap: chunk 1 re-transcribes 570..600.
	chunks := []ChunkTranscript{
		{Index: 0, StartSec: 0, EndSec: 600, Segments: []whisper.TranscriptionSegment{
			seg(560, 575, "we looked at the numbers"),
			seg(575, 590, "and they were fine"),
			seg(590, 600, "so we shipped"),
		}},
		{Index: 1, StartSec: 570, EndSec: 1170, Segments: []whisper.TranscriptionSegment{
			seg(5, 20, "and they were fine."),
			seg(20, 30, "So we shipped"),
			seg(30, 40, "the release."),
		}},
	}
	tr := Merge(chunks, Options{OverlapSeconds: 30})

	assert.Equal(t, []string{"we looked at the numbers", "and they were fine", "so we shipped", "the release."}, texts(tr))
	assert.Equal(t, int64(600000), tr.Segments[3].StartMs)
	assertInvariants(t, tr)
}

func TestMerge_SimilarityThreshold(t *testing.T) {
	chunks := []ChunkTranscript{
		{Index: 0, Segments: []whisper.TranscriptionSegment{seg(0, 10, "thanks everyone for joining the weekly sync")}},
		{Index: 1, Segments: []whisper.TranscriptionSegment{seg(0, 3, "thanks everyone for joining the weekly sync")}},
	}
	assert.Len(t, Merge(chunks, Options{SimilarityThreshold: 3}).Segments, 1)

	chunks[1].Segments = []whisper.TranscriptionSegment{seg(0, 3, "please send the invoice before friday")}
	assert.Len(t, Merge(chunks, Options{SimilarityThreshold: 3}).Segments, 2)
}

func TestMerge_LanguageAndModelFromFirstChunk(t *testing.T) {
	chunks := []ChunkTranscript{
		{Index: 1, Language: "de", Model: "m2", Segments: []whisper.TranscriptionSegment{seg(0, 1, "b")}},
		{Index: 0, Language: "", Model: "", Segments: []whisper.TranscriptionSegment{seg(0, 1, "a")}},
		{Index: 2, Language: "fr", Model: "m3"},
	}
	tr := Merge(chunks, Options{})
	assert.Equal(t, "de", tr.Language)
	assert.Equal(t, "m2", tr.Model)
}

func TestMerge_Empty(t *testing.T) {
	tr := Merge(nil, Options{})
	assert.Empty(t, tr.Segments)
	assert.NotNil(t, tr.Segments)
	assert.Equal(t, "", tr.Text)
}

func TestNormalize_MatchesSingleChunkMerge(t *testing.T) {
	res := &whisper.TranscriptionResult{
		Text:     "ignored provider text",
		Language: "en",
		Model:    "whisper-large-v3-turbo",
		Segments: []whisper.TranscriptionSegment{
			seg(0, 1.2344, " one "),
			seg(1.2, 2, "one"),
			seg(2, 3.0006, "two"),
		},
	}
	direct := Normalize(res)
	merged := Merge([]ChunkTranscript{{Index: 0, Language: res.Language, Model: res.Model, Segments: res.Segments}}, Options{OverlapSeconds: 5})

	assert.Equal(t, direct, merged)
	assert.Equal(t, "one one two", direct.Text)
	assert.Equal(t, int64(1234), direct.Segments[0].EndMs)
	assert.Equal(t, int64(3001), direct.Segments[2].EndMs)
	assertInvariants(t, direct)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello, World!", "hello world"},
		{"  spaced\t\nout  ", "spaced out"},
		{"\uff26\uff35\uff2c\uff2c\u3000\uff37\uff29\uff24\uff34\uff28", "full width"},
		{"it's \u2014 fine\u2026", "its fine"},
		{"Stra\u00dfe", "strasse"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in), tt.in)
	}
}

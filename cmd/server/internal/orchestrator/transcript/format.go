package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Format is an output rendering of a Transcript.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// ParseFormat accepts json, text (or txt), srt and vtt; empty means json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json", "verbose_json":
		return FormatJSON, nil
	case "text", "txt":
		return FormatText, nil
	case "srt":
		return FormatSRT, nil
	case "vtt", "webvtt":
		return FormatVTT, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want json|text|srt|vtt)", s)
	}
}

// ContentType returns the HTTP media type of the rendering.
func (f Format) ContentType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatSRT:
		return "application/x-subrip; charset=utf-8"
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// Extension returns the file extension used by the CLI.
func (f Format) Extension() string {
	if f == FormatText {
		return ".txt"
	}
	return "." + string(f)
}

// Write renders t to w in format f.
func Write(w io.Writer, t *Transcript, f Format) error {
	bw := bufio.NewWriter(w)
	var err error
	switch f {
	case FormatText:
		_, err = fmt.Fprintln(bw, t.Text)
	case FormatSRT:
		err = WriteSRT(bw, t.Segments)
	case FormatVTT:
		err = WriteVTT(bw, t.Segments)
	default:
		enc := json.NewEncoder(bw)
		enc.SetIndent("", "  ")
		err = enc.Encode(t)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

// WriteSRT writes segments as SubRip cues numbered from 1.
func WriteSRT(w io.Writer, segments []Segment) error {
	for i, s := range segments {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n", i+1, formatTimestampSrt(s.StartMs), formatTimestampSrt(s.EndMs), s.Text); err != nil {
			return err
		}
	}
	return nil
}

// WriteVTT writes segments as a WebVTT document.
func WriteVTT(w io.Writer, segments []Segment) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for i, s := range segments {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s --> %s\n%s\n", formatTimestampVtt(s.StartMs), formatTimestampVtt(s.EndMs), s.Text); err != nil {
			return err
		}
	}
	return nil
}

// formatTimestampSrt formats as HH:MM:SS,mmm (SRT uses comma)
func formatTimestampSrt(ms int64) string {
	h, m, s, frac := splitMs(ms)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, frac)
}

// formatTimestampVtt formats as HH:MM:SS.mmm (WebVTT uses dot)
func formatTimestampVtt(ms int64) string {
	h, m, s, frac := splitMs(ms)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, frac)
}

func splitMs(ms int64) (h, m, s, frac int64) {
	if ms < 0 {
		ms = 0
	}
	h = ms / 3_600_000
	m = (ms % 3_600_000) / 60_000
	s = (ms % 60_000) / 1000
	frac = ms % 1000
	return
}

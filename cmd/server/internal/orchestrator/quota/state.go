// Package quota enforces the cloud backend's multi-window usage limits:
// requests per minute, audio seconds per hour, and requests plus audio
// seconds per UTC day.
package quota

import "time"

const (
	minuteMs = int64(time.Minute / time.Millisecond)
	hourMs   = int64(time.Hour / time.Millisecond)
)

// Limits are the caps enforced by Guard.
type Limits struct {
	MinuteRequests   int     `json:"minute_requests"`
	HourAudioSeconds float64 `json:"hour_audio_seconds"`
	DayRequests      int     `json:"day_requests"`
	DayAudioSeconds  float64 `json:"day_audio_seconds"`
}

// DefaultLimits returns the Groq free-tier style caps.
func DefaultLimits() Limits {
	return Limits{
		MinuteRequests:   20,
		HourAudioSeconds: 7200,
		DayRequests:      2000,
		DayAudioSeconds:  28800,
	}
}

// MinuteWindow counts requests in the current wall-clock minute.
type MinuteWindow struct {
	WindowStartMs int64 `json:"windowStartMs"`
	RequestCount  int   `json:"requestCount"`
}

// HourWindow accumulates audio seconds in the current wall-clock hour.
type HourWindow struct {
	WindowStartMs int64   `json:"windowStartMs"`
	AudioSeconds  float64 `json:"audioSeconds"`
}

// DayWindow accumulates requests and audio seconds for one UTC date.
type DayWindow struct {
	DateISO      string  `json:"dateISO"`
	RequestCount int     `json:"requestCount"`
	AudioSeconds float64 `json:"audioSeconds"`
}

// State is the persisted quota record. Windows are rolled forward lazily,
// on the next read, when the clock has crossed a boundary.
type State struct {
	Minute MinuteWindow `json:"minute"`
	Hour   HourWindow   `json:"hour"`
	Day    DayWindow    `json:"day"`
}

func startOfMinute(now time.Time) int64 {
	ms := now.UnixMilli()
	return ms - ms%minuteMs
}

func startOfHour(now time.Time) int64 {
	ms := now.UnixMilli()
	return ms - ms%hourMs
}

func dateISO(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// rollDay resets the day window when the UTC date changed.
func (s *State) rollDay(now time.Time) bool {
	today := dateISO(now)
	if s.Day.DateISO == today {
		return false
	}
	s.Day = DayWindow{DateISO: today}
	return true
}

// roll resets every window whose boundary has passed.
func (s *State) roll(now time.Time) bool {
	changed := s.rollDay(now)
	if start := startOfMinute(now); s.Minute.WindowStartMs != start {
		s.Minute = MinuteWindow{WindowStartMs: start}
		changed = true
	}
	if start := startOfHour(now); s.Hour.WindowStartMs != start {
		s.Hour = HourWindow{WindowStartMs: start}
		changed = true
	}
	return changed
}

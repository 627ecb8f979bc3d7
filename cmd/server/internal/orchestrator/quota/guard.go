package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/houzhh15/vtscribe/pkg/logger"
	"github.com/houzhh15/vtscribe/pkg/metrics"
)

// ErrQuotaExceeded is matched (errors.Is) by every hard-ceiling rejection.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Window names reported on ExceededError.
const (
	WindowDayRequests      = "day_requests"
	WindowDayAudioSeconds  = "day_audio_seconds"
	WindowHourAudioSeconds = "hour_audio_seconds"
)

// minSleep is the floor of one wait iteration.
const minSleep = 100 * time.Millisecond

// ExceededError is returned when a request can not be admitted at all.
type ExceededError struct {
	Window string
	Limit  float64
	Used   float64
}

func (e *ExceededError) Error() string {
	switch e.Window {
	case WindowDayRequests:
		return fmt.Sprintf("daily request quota (%.0f) exhausted", e.Limit)
	case WindowDayAudioSeconds:
		return fmt.Sprintf("daily audio seconds quota (%.0fs) exhausted: %.0fs used", e.Limit, e.Used)
	default:
		return fmt.Sprintf("request of %.0fs exceeds hourly audio quota (%.0fs)", e.Used, e.Limit)
	}
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Exhaustion is the result of a non-blocking daily ceiling check.
type Exhaustion struct {
	RequestsExhausted     bool `json:"requests_exhausted"`
	AudioSecondsExhausted bool `json:"audio_seconds_exhausted"`
}

// Exhausted reports whether any daily ceiling is reached.
func (e Exhaustion) Exhausted() bool {
	return e.RequestsExhausted || e.AudioSecondsExhausted
}

// Snapshot is a read-only view of the quota for status endpoints.
type Snapshot struct {
	Limits Limits `json:"limits"`
	State  State  `json:"state"`
}

// Guard admits cloud requests against the configured limits.
//
// Daily ceilings fail immediately; the minute request window and the hour
// audio window make Reserve wait until the nearer boundary passes.
type Guard struct {
	store  Store
	limits Limits
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Option customizes a Guard.
type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithSleep replaces the context-aware sleep used between admission attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Guard) { g.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// NewGuard creates a Guard over store.
func NewGuard(store Store, limits Limits, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		limits: limits,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logger.OrDiscard(g.logger).With("component", "quota")
	return g
}

// Limits returns the configured caps.
func (g *Guard) Limits() Limits {
	return g.limits
}

// CheckExhaustion reports whether a daily ceiling is already reached for a
// request of anticipatedSeconds. It never blocks and only mutates state to
// roll the day window over.
func (g *Guard) CheckExhaustion(ctx context.Context, anticipatedSeconds float64) (Exhaustion, error) {
	anticipatedSeconds = clampSeconds(anticipatedSeconds)
	var ex Exhaustion
	err := g.store.Update(ctx, func(s *State) (bool, error) {
		changed := s.rollDay(g.now())
		ex = Exhaustion{
			RequestsExhausted:     s.Day.RequestCount >= g.limits.DayRequests,
			AudioSecondsExhausted: s.Day.AudioSeconds+anticipatedSeconds > g.limits.DayAudioSeconds,
		}
		return changed, nil
	})
	if err != nil {
		return Exhaustion{}, fmt.Errorf("check quota: %w", err)
	}
	return ex, nil
}

// Reserve blocks until the request can be admitted, then atomically records
// one request and anticipatedSeconds of audio in every window.
// It returns an *ExceededError when a daily ceiling would be crossed, or the
// context error when ctx ends while waiting.
func (g *Guard) Reserve(ctx context.Context, anticipatedSeconds float64) error {
	anticipatedSeconds = clampSeconds(anticipatedSeconds)
	if anticipatedSeconds > g.limits.HourAudioSeconds {
		metrics.RecordQuotaRejection(WindowHourAudioSeconds)
		return &ExceededError{Window: WindowHourAudioSeconds, Limit: g.limits.HourAudioSeconds, Used: anticipatedSeconds}
	}

	started := g.now()
	for {
		var (
			admitted bool
			wait     time.Duration
		)
		err := g.store.Update(ctx, func(s *State) (bool, error) {
			now := g.now()
			changed := s.roll(now)

			if s.Day.RequestCount >= g.limits.DayRequests {
				return false, &ExceededError{Window: WindowDayRequests, Limit: float64(g.limits.DayRequests), Used: float64(s.Day.RequestCount)}
			}
			if s.Day.AudioSeconds+anticipatedSeconds > g.limits.DayAudioSeconds {
				return false, &ExceededError{Window: WindowDayAudioSeconds, Limit: g.limits.DayAudioSeconds, Used: s.Day.AudioSeconds}
			}

			minuteOK := s.Minute.RequestCount < g.limits.MinuteRequests
			hourOK := s.Hour.AudioSeconds+anticipatedSeconds <= g.limits.HourAudioSeconds
			if minuteOK && hourOK {
				s.Minute.RequestCount++
				s.Hour.AudioSeconds += anticipatedSeconds
				s.Day.RequestCount++
				s.Day.AudioSeconds += anticipatedSeconds
				admitted = true
				return true, nil
			}

			wait = waitDuration(now, s, minuteOK, hourOK)
			return changed, nil
		})
		if err != nil {
			var exceeded *ExceededError
			if errors.As(err, &exceeded) {
				metrics.RecordQuotaRejection(exceeded.Window)
				g.logger.Warn("quota ceiling reached", "window", exceeded.Window, "limit", exceeded.Limit, "used", exceeded.Used)
			}
			return err
		}
		if admitted {
			waited := g.now().Sub(started)
			metrics.ObserveQuotaWait(waited.Seconds())
			g.logger.Debug("quota reserved", "audio_seconds", anticipatedSeconds, "waited", waited)
			return nil
		}

		if wait < minSleep {
			wait = minSleep
		}
		g.logger.Info("quota window full, waiting", "wait", wait, "audio_seconds", anticipatedSeconds)
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Snapshot returns the current limits and state with windows rolled to now.
func (g *Guard) Snapshot(ctx context.Context) (Snapshot, error) {
	s, err := g.store.Load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	s.roll(g.now())
	return Snapshot{Limits: g.limits, State: s}, nil
}

// waitDuration returns the time until the nearer boundary among the windows
// that currently block admission.
func waitDuration(now time.Time, s *State, minuteOK, hourOK bool) time.Duration {
	nowMs := now.UnixMilli()
	var waitMs int64 = -1
	if !minuteOK {
		waitMs = s.Minute.WindowStartMs + minuteMs - nowMs
	}
	if !hourOK {
		hourWait := s.Hour.WindowStartMs + hourMs - nowMs
		if waitMs < 0 || hourWait < waitMs {
			waitMs = hourWait
		}
	}
	if waitMs < 0 {
		waitMs = 0
	}
	return time.Duration(waitMs) * time.Millisecond
}

func clampSeconds(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package router chooses which transcription backend serves a request and
// falls back to the other one at most once.
//
// Route table (first entry is primary, second is the fallback):
//
//	cloud  -> cloud, local (if configured)
//	local  -> local, cloud (if configured)
//	auto   -> cloud, local when a cloud credential exists; otherwise local
//
// The local backend is probed before use. The cloud backend reserves quota
// once, for the cloud leg only; quota rejection and cancellation end the
// request without fallback.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/quota"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/transcript"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/vtscribe/pkg/logger"
	"github.com/houzhh15/vtscribe/pkg/metrics"
)

// Mode is the backend selection requested by the caller.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
	ModeAuto  Mode = "auto"
)

// ParseMode accepts local, cloud, auto (default) and the groq alias for cloud.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "cloud", "groq":
		return ModeCloud, nil
	case "local":
		return ModeLocal, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want local|cloud|auto)", s)
	}
}

// ErrBackendNotConfigured is returned when the requested backend does not exist.
var ErrBackendNotConfigured = errors.New("backend not configured")

// Route is one backend leg of a plan.
type Route struct {
	Backend whisper.WhisperTranscriber
	Cloud   bool
}

// Name returns the backend name.
func (r Route) Name() string {
	return r.Backend.Name()
}

// Attempt records a failed leg.
type Attempt struct {
	Backend string
	Err     error
}

// AllBackendsFailedError is returned once the plan is used up. An alternate
// backend that is not configured is recorded as an unavailable attempt.
type AllBackendsFailedError struct {
	Attempts []Attempt
}

func (e *AllBackendsFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Backend, a.Err)
	}
	return "all backends failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every attempt error to errors.Is / errors.As.
func (e *AllBackendsFailedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// QuotaReserver admits a cloud request (quota.Guard).
type QuotaReserver interface {
	Reserve(ctx context.Context, anticipatedSeconds float64) error
}

// LegFunc runs the whole chunk pipeline on one backend.
type LegFunc func(ctx context.Context, backend whisper.WhisperTranscriber) (*transcript.Transcript, error)

// Router owns the route table and the fallback loop.
type Router struct {
	local        whisper.WhisperTranscriber
	cloud        whisper.WhisperTranscriber
	quota        QuotaReserver
	checkers     map[string]*health.HealthChecker
	probeTimeout time.Duration
	logger       *slog.Logger
}

// Option customizes a Router.
type Option func(*Router)

// WithHealthChecker lets the router skip a backend its periodic checker
// already reports unhealthy.
func WithHealthChecker(hc *health.HealthChecker) Option {
	return func(r *Router) { r.checkers[hc.Name()] = hc }
}

// WithProbeTimeout bounds the pre-use liveness probe of the local backend.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Router) { r.probeTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router. local or cloud may be nil when not configured;
// reserver may be nil to disable quota enforcement.
func New(local, cloud whisper.WhisperTranscriber, reserver QuotaReserver, opts ...Option) *Router {
	r := &Router{
		local:        local,
		cloud:        cloud,
		quota:        reserver,
		checkers:     make(map[string]*health.HealthChecker),
		probeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.OrDiscard(r.logger).With("component", "router")
	return r
}

// Plan returns the ordered routes for mode.
func (r *Router) Plan(mode Mode) ([]Route, error) {
	localRoute := Route{Backend: r.local}
	cloudRoute := Route{Backend: r.cloud, Cloud: true}

	table := map[Mode]func() ([]Route, error){
		ModeCloud: func() ([]Route, error) {
			if r.cloud == nil {
				return nil, fmt.Errorf("%w: cloud (no API key)", ErrBackendNotConfigured)
			}
			if r.local == nil {
				return []Route{cloudRoute}, nil
			}
			return []Route{cloudRoute, localRoute}, nil
		},
		ModeLocal: func() ([]Route, error) {
			if r.local == nil {
				return nil, fmt.Errorf("%w: local", ErrBackendNotConfigured)
			}
			if r.cloud == nil {
				return []Route{localRoute}, nil
			}
			return []Route{localRoute, cloudRoute}, nil
		},
		ModeAuto: func() ([]Route, error) {
			switch {
			case r.cloud != nil && r.local != nil:
				return []Route{cloudRoute, localRoute}, nil
			case r.cloud != nil:
				return []Route{cloudRoute}, nil
			case r.local != nil:
				return []Route{localRoute}, nil
			}
			return nil, fmt.Errorf("%w: no backend available", ErrBackendNotConfigured)
		},
	}

	plan, ok := table[mode]
	if !ok {
		return nil, fmt.Errorf("unknown backend mode %q", mode)
	}
	return plan()
}

// Transcribe runs run on the primary route and, if it fails for a reason other
// than quota or cancellation, once more on the fallback route.
// anticipatedSeconds is the audio length reserved against the cloud quota.
func (r *Router) Transcribe(ctx context.Context, mode Mode, anticipatedSeconds float64, run LegFunc) (*transcript.Transcript, error) {
	routes, err := r.Plan(mode)
	if err != nil {
		return nil, err
	}

	var attempts []Attempt
	reserved := false
	for i, route := range routes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			metrics.RecordFallbackEvent(routes[i-1].Name(), route.Name())
			r.logger.Warn("falling back to secondary backend",
				"from", routes[i-1].Name(), "to", route.Name(), "error", attempts[len(attempts)-1].Err)
		}

		err := r.prepare(ctx, route, anticipatedSeconds, &reserved)
		if err == nil {
			var res *transcript.Transcript
			res, err = run(ctx, route.Backend)
			if err == nil {
				if i > 0 {
					r.logger.Info("fallback backend succeeded", "backend", route.Name())
				}
				return res, nil
			}
		}

		if errors.Is(err, quota.ErrQuotaExceeded) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("backend leg failed", "backend", route.Name(), "error", err)
		attempts = append(attempts, Attempt{Backend: route.Name(), Err: err})
	}

	// a single route means the other backend is not configured
	if len(routes) == 1 {
		missing := alternateOf(routes[0])
		attempts = append(attempts, Attempt{
			Backend: missing,
			Err:     fmt.Errorf("%w: %s not configured", whisper.ErrBackendUnavailable, missing),
		})
	}
	return nil, &AllBackendsFailedError{Attempts: attempts}
}

// alternateOf names the backend that would have been the fallback of route.
func alternateOf(route Route) string {
	if route.Cloud {
		return whisper.NameLocal
	}
	return whisper.NameCloud
}

// prepare makes a route ready: quota for cloud, liveness for local.
func (r *Router) prepare(ctx context.Context, route Route, anticipatedSeconds float64, reserved *bool) error {
	if hc, ok := r.checkers[route.Name()]; ok {
		if st := hc.GetStatus(); !st.IsHealthy {
			return fmt.Errorf("%w: %s: %s", whisper.ErrBackendUnavailable, route.Name(), st.ErrorMessage)
		}
	}

	if route.Cloud {
		if r.quota == nil || *reserved {
			return nil
		}
		if err := r.quota.Reserve(ctx, anticipatedSeconds); err != nil {
			return err
		}
		*reserved = true
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	ok, err := route.Backend.HealthCheck(probeCtx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", whisper.ErrBackendUnavailable, route.Name(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", whisper.ErrBackendUnavailable, route.Name())
	}
	return nil
}

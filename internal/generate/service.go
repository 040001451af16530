// Package generate drives one image-to-video request from submission to a
// resolved outcome: a structured race between the completion path, an
// advisory queue listener, and the progress renderer, bounded by a single
// deadline with guaranteed cancel and join.
package generate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"photomotion/internal/mediascan"
	"photomotion/internal/observability"
	"photomotion/internal/phase"
	"photomotion/internal/providers/comfy"
	"photomotion/internal/stats"
)

// ErrTimedOut reports that the request hit the overall deadline with no
// result.
var ErrTimedOut = errors.New("generate: timed out")

// ErrDownloadFailed reports that the produced file was located but could not
// be fetched. It is distinct from not-found, which only keeps the poller
// waiting.
var ErrDownloadFailed = errors.New("generate: download failed")

// errCompleted is the winner sentinel: the completion path returns it to
// cancel the sibling goroutines once the result is set.
var errCompleted = errors.New("generate: completed")

const (
	defaultTimeout        = 300 * time.Second
	defaultPollInterval   = 3 * time.Second
	defaultRenderInterval = 2 * time.Second
)

// Backend is the generation-service surface the race consumes.
// *comfy.Client satisfies it.
type Backend interface {
	Submit(ctx context.Context, req comfy.SubmitRequest) ([]byte, error)
	FindOutput(ctx context.Context, clientID string) (comfy.Output, error)
	Download(ctx context.Context, out comfy.Output) ([]byte, error)
	ListenQueue(ctx context.Context, clientID string, sink comfy.QueueSink) error
}

// ProgressFunc receives the renderer's periodic view of a request: the
// tracker snapshot, the progress ratio in [0, 0.98], and the estimated time
// remaining.
type ProgressFunc func(snap phase.Snapshot, ratio float64, remaining time.Duration)

// Request is one generation job.
type Request struct {
	ClientID    string
	Image       []byte
	Duration    *comfy.Param
	Quality     *comfy.Param
	SubmittedAt time.Time
}

// Result is a resolved request. Video is nil unless the outcome is success.
type Result struct {
	Video   []byte
	Format  string
	Elapsed time.Duration
}

// Options configures the service.
type Options struct {
	Backend  Backend
	Scanner  *mediascan.Scanner
	Registry *phase.Registry
	Stats    *stats.Store
	Metrics  *observability.Metrics
	Logger   zerolog.Logger

	// Timeout bounds the whole request; PollInterval and RenderInterval set
	// the history and progress cadences. Zero values take the defaults.
	Timeout        time.Duration
	PollInterval   time.Duration
	RenderInterval time.Duration
}

// Service runs generation requests.
type Service struct {
	backend  Backend
	scanner  *mediascan.Scanner
	registry *phase.Registry
	stats    *stats.Store
	metrics  *observability.Metrics
	logger   zerolog.Logger

	timeout        time.Duration
	pollInterval   time.Duration
	renderInterval time.Duration
}

// New constructs the service.
func New(opts Options) (*Service, error) {
	if opts.Backend == nil {
		return nil, errors.New("generate: backend is required")
	}
	if opts.Scanner == nil {
		return nil, errors.New("generate: scanner is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("generate: registry is required")
	}
	if opts.Stats == nil {
		return nil, errors.New("generate: stats store is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RenderInterval <= 0 {
		opts.RenderInterval = defaultRenderInterval
	}
	return &Service{
		backend:        opts.Backend,
		scanner:        opts.Scanner,
		registry:       opts.Registry,
		stats:          opts.Stats,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		timeout:        opts.Timeout,
		pollInterval:   opts.PollInterval,
		renderInterval: opts.RenderInterval,
	}, nil
}

// Run drives one request to a terminal outcome. Exactly three goroutines run
// under one errgroup: the renderer, the queue listener, and the completion
// path; the first terminal error cancels the others and Run returns only
// after all three have exited. The tracker is evicted after the join, so no
// watcher can observe a retired tracker.
func (s *Service) Run(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	start := req.SubmittedAt
	if start.IsZero() {
		start = time.Now()
	}

	tracker := phase.NewTracker(req.ClientID, s.stats, s.logger)
	s.registry.Add(req.ClientID, tracker)
	s.metrics.RequestStarted()
	defer s.metrics.RequestFinished()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		video  []byte
		format string
	)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		s.renderLoop(gctx, tracker, onProgress)
		return nil
	})
	g.Go(func() error {
		s.watchQueue(gctx, req.ClientID, tracker)
		return nil
	})
	g.Go(func() error {
		return s.complete(gctx, req, tracker, &video, &format)
	})

	err := g.Wait()
	s.registry.Remove(req.ClientID)

	elapsed := time.Since(start)
	result := Result{Elapsed: elapsed}

	switch {
	case errors.Is(err, errCompleted):
		tracker.Switch(phase.Done)
		s.stats.RecordTotal(elapsed)
		s.observeDurations(tracker)
		s.metrics.CountOutcome(observability.OutcomeDone)
		s.logger.Info().
			Str("client_id", req.ClientID).
			Dur("elapsed", elapsed).
			Int("video_bytes", len(video)).
			Str("format", format).
			Msg("generate: request completed")
		result.Video = video
		result.Format = format
		return result, nil

	case errors.Is(err, context.DeadlineExceeded):
		tracker.Switch(phase.TimedOut)
		s.observeDurations(tracker)
		s.metrics.CountOutcome(observability.OutcomeTimedOut)
		s.logger.Warn().
			Str("client_id", req.ClientID).
			Dur("elapsed", elapsed).
			Msg("generate: request timed out")
		return result, ErrTimedOut

	default:
		tracker.Switch(phase.Failed)
		s.observeDurations(tracker)
		s.metrics.CountOutcome(observability.OutcomeFailed)
		s.logger.Error().
			Err(err).
			Str("client_id", req.ClientID).
			Dur("elapsed", elapsed).
			Msg("generate: request failed")
		return result, err
	}
}

// renderLoop invokes the progress callback on a fixed cadence until the
// request resolves. It only reads.
func (s *Service) renderLoop(ctx context.Context, tracker *phase.Tracker, onProgress ProgressFunc) {
	if onProgress == nil {
		return
	}
	ticker := time.NewTicker(s.renderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := tracker.Snapshot()
			ratio := s.stats.ProgressRatio(snap.Phase, snap.PhaseElapsed, snap.QueuePosition)
			onProgress(snap, ratio, s.stats.Remaining(snap.TotalElapsed))
		}
	}
}

// watchQueue feeds queue events into the tracker. The stream is advisory: it
// never signals completion, and any failure only degrades the request to
// polling, so errors are logged and swallowed.
func (s *Service) watchQueue(ctx context.Context, clientID string, tracker *phase.Tracker) {
	err := s.backend.ListenQueue(ctx, clientID, tracker)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	s.logger.Warn().
		Err(err).
		Str("client_id", clientID).
		Msg("generate: queue stream unavailable, relying on history polling")
}

// complete is the only goroutine that can win the race. Submission and
// download failures are terminal; a missed inline payload falls back to
// history polling, where transport errors only skip a tick.
func (s *Service) complete(ctx context.Context, req Request, tracker *phase.Tracker, video *[]byte, format *string) error {
	tracker.Switch(phase.Submitting)

	body, err := s.backend.Submit(ctx, comfy.SubmitRequest{
		ClientID: req.ClientID,
		Image:    req.Image,
		Duration: req.Duration,
		Quality:  req.Quality,
	})
	if err != nil {
		return err
	}
	tracker.Switch(phase.Queued)

	candidate, err := s.scanner.Locate(body)
	if err == nil {
		tracker.Switch(phase.Downloading)
		*video = candidate.Data
		*format = candidate.Format
		s.logger.Info().
			Str("client_id", req.ClientID).
			Str("path", candidate.Path).
			Str("format", candidate.Format).
			Msg("generate: payload found in submission response")
		return errCompleted
	}
	if !errors.Is(err, mediascan.ErrNoMedia) {
		return err
	}

	s.logger.Debug().
		Str("client_id", req.ClientID).
		Msg("generate: no inline payload, polling history")
	return s.pollHistory(ctx, req.ClientID, tracker, video, format)
}

func (s *Service) pollHistory(ctx context.Context, clientID string, tracker *phase.Tracker, video *[]byte, format *string) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		out, err := s.backend.FindOutput(ctx, clientID)
		switch {
		case errors.Is(err, comfy.ErrJobNotFound):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient by policy: the next tick retries.
			s.logger.Warn().
				Err(err).
				Str("client_id", clientID).
				Msg("generate: history poll failed")
			continue
		}

		tracker.Switch(phase.Downloading)
		data, err := s.backend.Download(ctx, out)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		*video = data
		*format = formatFromFilename(out.Filename)
		s.logger.Info().
			Str("client_id", clientID).
			Str("filename", out.Filename).
			Msg("generate: payload downloaded from history")
		return errCompleted
	}
}

// observeDurations exports the tracker's per-phase durations once the
// request has resolved.
func (s *Service) observeDurations(tracker *phase.Tracker) {
	for p, d := range tracker.Durations() {
		s.metrics.ObservePhase(string(p), d)
	}
}

func formatFromFilename(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

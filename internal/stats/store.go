// Package stats keeps rolling processing-time history for generation
// requests and turns it into progress and ETA estimates.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photomotion/internal/phase"
)

// capacity bounds every rolling buffer; the oldest sample is evicted first.
const capacity = 50

// recentWindow is how many of the newest totals feed the ETA estimate.
const recentWindow = 10

// maxRatio is the progress ceiling shown before actual completion.
const maxRatio = 0.98

// defaultTotal bootstraps the ETA before any request has finished.
const defaultTotal = 120 * time.Second

// phaseDefaults bootstrap per-phase estimates before history accumulates.
// They model typical production latencies.
var phaseDefaults = map[phase.Phase]time.Duration{
	phase.Submitting:  3 * time.Second,
	phase.Queued:      10 * time.Second,
	phase.Generating:  100 * time.Second,
	phase.Downloading: 2 * time.Second,
}

// band is one phase's slice of the overall progress allocation.
type band struct {
	start float64
	width float64
}

var bands = map[phase.Phase]band{
	phase.Submitting:  {start: 0, width: 0.05},
	phase.Queued:      {start: 0.05, width: 0.10},
	phase.Generating:  {start: 0.15, width: 0.75},
	phase.Downloading: {start: 0.90, width: 0.08},
}

// Store is the process-wide rolling history of total and per-phase durations.
// Every mutation rewrites the backing file wholesale; concurrent processes
// writing the same file are last-write-wins, which is accepted for this
// workload. Within the process the store is mutex-guarded.
type Store struct {
	path   string
	logger zerolog.Logger

	mu     sync.Mutex
	totals []float64
	phases map[phase.Phase][]float64
}

// statsFile is the persisted shape. Durations are stored in seconds.
type statsFile struct {
	ProcessingTimes []float64            `json:"processing_times"`
	PhaseTimes      map[string][]float64 `json:"phase_times"`
}

// Summary aggregates the total-time history for the /stats command and the
// ops endpoint.
type Summary struct {
	Count   int
	Fastest time.Duration
	Mean    time.Duration
	Slowest time.Duration
	Recent  time.Duration
}

// PhaseStats describes one phase's buffer for the ops surface.
type PhaseStats struct {
	Samples  int
	Estimate time.Duration
}

// Load reads the stats file at path, returning an empty store when the file
// does not exist yet.
func Load(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger,
		phases: make(map[phase.Phase][]float64, len(phaseDefaults)),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("stats: read %s: %w", path, err)
	}

	var file statsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("stats: decode %s: %w", path, err)
	}
	s.totals = trim(file.ProcessingTimes)
	for name, samples := range file.PhaseTimes {
		s.phases[phase.Phase(name)] = trim(samples)
	}

	logger.Info().
		Str("path", path).
		Int("totals", len(s.totals)).
		Msg("stats: history loaded")
	return s, nil
}

// RecordPhase appends one phase duration and persists. It satisfies
// phase.Recorder, so trackers flush into the store directly.
func (s *Store) RecordPhase(p phase.Phase, d time.Duration) {
	if !p.Timed() {
		return
	}
	s.mu.Lock()
	s.phases[p] = push(s.phases[p], d.Seconds())
	snapshot := s.encodeLocked()
	s.mu.Unlock()
	s.persist(snapshot)
}

// RecordTotal appends one end-to-end completion time and persists. Called on
// the success path only.
func (s *Store) RecordTotal(d time.Duration) {
	s.mu.Lock()
	s.totals = push(s.totals, d.Seconds())
	snapshot := s.encodeLocked()
	s.mu.Unlock()
	s.persist(snapshot)
}

// PhaseEstimate returns the mean duration of the phase's buffer, or the
// bootstrap default when no samples exist.
func (s *Store) PhaseEstimate(p phase.Phase) time.Duration {
	s.mu.Lock()
	samples := s.phases[p]
	var avg float64
	if len(samples) > 0 {
		avg = mean(samples)
	}
	s.mu.Unlock()

	if avg > 0 {
		return secondsToDuration(avg)
	}
	if d, ok := phaseDefaults[p]; ok {
		return d
	}
	return 0
}

// TotalEstimate returns the mean of the most recent completion times, or the
// bootstrap default when no request has finished yet.
func (s *Store) TotalEstimate() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.totals) == 0 {
		return defaultTotal
	}
	recent := s.totals
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	return secondsToDuration(mean(recent))
}

// Remaining estimates how much longer the request will run, clamped to zero
// once the estimate is exhausted. The caller renders it into localized text.
func (s *Store) Remaining(totalElapsed time.Duration) time.Duration {
	remaining := s.TotalEstimate() - totalElapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProgressRatio maps elapsed time within the current phase onto the fixed
// four-band allocation. The result never reaches 1.0: completion is only
// shown when the request actually resolves. While queued, a reported queue
// position stretches the expected wait to bandAvg x (position+1). The ratio
// is non-decreasing in elapsed within a fixed phase.
func (s *Store) ProgressRatio(p phase.Phase, elapsedInPhase time.Duration, queuePosition int) float64 {
	if p.Terminal() {
		return maxRatio
	}
	b, ok := bands[p]
	if !ok {
		return 0
	}

	expected := s.PhaseEstimate(p)
	if p == phase.Queued && queuePosition > 0 {
		expected *= time.Duration(queuePosition + 1)
	}

	fill := 1.0
	if expected > 0 {
		fill = elapsedInPhase.Seconds() / expected.Seconds()
		if fill > 1 {
			fill = 1
		}
	}

	ratio := b.start + fill*b.width
	if ratio > maxRatio {
		ratio = maxRatio
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

// Summary aggregates the full total-time history.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.totals) == 0 {
		return Summary{}
	}

	fastest, slowest := s.totals[0], s.totals[0]
	for _, v := range s.totals[1:] {
		if v < fastest {
			fastest = v
		}
		if v > slowest {
			slowest = v
		}
	}
	recent := s.totals
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	return Summary{
		Count:   len(s.totals),
		Fastest: secondsToDuration(fastest),
		Mean:    secondsToDuration(mean(s.totals)),
		Slowest: secondsToDuration(slowest),
		Recent:  secondsToDuration(mean(recent)),
	}
}

// PhaseBreakdown reports per-phase sample counts and estimates for the ops
// surface. Phases without history still appear with their defaults.
func (s *Store) PhaseBreakdown() map[phase.Phase]PhaseStats {
	out := make(map[phase.Phase]PhaseStats, len(phaseDefaults))
	s.mu.Lock()
	counts := make(map[phase.Phase]int, len(s.phases))
	for p, samples := range s.phases {
		counts[p] = len(samples)
	}
	s.mu.Unlock()

	for p := range phaseDefaults {
		out[p] = PhaseStats{
			Samples:  counts[p],
			Estimate: s.PhaseEstimate(p),
		}
	}
	return out
}

// encodeLocked marshals the current buffers. Caller holds the mutex.
func (s *Store) encodeLocked() []byte {
	file := statsFile{
		ProcessingTimes: append([]float64(nil), s.totals...),
		PhaseTimes:      make(map[string][]float64, len(s.phases)),
	}
	for p, samples := range s.phases {
		file.PhaseTimes[string(p)] = append([]float64(nil), samples...)
	}
	data, err := json.Marshal(file)
	if err != nil {
		s.logger.Error().Err(err).Msg("stats: encode history")
		return nil
	}
	return data
}

// persist rewrites the whole stats file. A write failure loses at most the
// newest sample, so it is logged rather than propagated.
func (s *Store) persist(data []byte) {
	if data == nil || s.path == "" {
		return
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error().Err(err).Str("path", s.path).Msg("stats: ensure directory")
			return
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("stats: persist history")
	}
}

func push(samples []float64, v float64) []float64 {
	samples = append(samples, v)
	return trim(samples)
}

func trim(samples []float64) []float64 {
	if len(samples) > capacity {
		samples = samples[len(samples)-capacity:]
	}
	return samples
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

package phase

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Recorder receives the duration of each exited working phase.
type Recorder interface {
	RecordPhase(p Phase, d time.Duration)
}

// Tracker records which phase one in-flight request is in and how long each
// phase took. It is shared between the request's watcher goroutines, so all
// state sits behind a small mutex.
type Tracker struct {
	clientID string
	recorder Recorder
	logger   zerolog.Logger

	mu        sync.Mutex
	current   Phase
	enteredAt time.Time
	startedAt time.Time
	durations map[Phase]time.Duration
	queuePos  int
	executing bool
	completed bool
}

// Snapshot is a point-in-time view of the tracker for the progress renderer.
type Snapshot struct {
	Phase         Phase
	PhaseElapsed  time.Duration
	TotalElapsed  time.Duration
	QueuePosition int
	Executing     bool
	Completed     bool
}

// NewTracker returns a tracker in the Idle phase. The recorder may be nil.
func NewTracker(clientID string, rec Recorder, logger zerolog.Logger) *Tracker {
	now := time.Now()
	return &Tracker{
		clientID:  clientID,
		recorder:  rec,
		logger:    logger,
		current:   Idle,
		enteredAt: now,
		startedAt: now,
		durations: make(map[Phase]time.Duration),
	}
}

// ClientID returns the request's correlation id.
func (t *Tracker) ClientID() string {
	return t.clientID
}

// Switch moves the tracker to the given phase. Re-entering the current phase
// is a no-op, as is any switch after a terminal phase was reached. A real
// transition flushes the exited phase's elapsed time exactly once into the
// tracker's map and, for the four working phases, into the recorder.
func (t *Tracker) Switch(to Phase) {
	t.mu.Lock()
	from, elapsed, changed := t.switchLocked(to)
	t.mu.Unlock()
	if changed {
		t.flush(from, to, elapsed)
	}
}

// MarkExecuting applies the queue-drain or executing signal. A queued
// tracker moves to Generating; the transition flushes at most once because
// re-entering Generating is a no-op. Outside Queued only the executing flag
// is recorded, so an early advisory signal cannot skip a phase.
func (t *Tracker) MarkExecuting() {
	t.mu.Lock()
	if t.completed {
		t.mu.Unlock()
		return
	}
	t.executing = true
	var (
		from    Phase
		elapsed time.Duration
		changed bool
	)
	if t.current == Queued {
		from, elapsed, changed = t.switchLocked(Generating)
	}
	t.mu.Unlock()
	if changed {
		t.flush(from, Generating, elapsed)
	}
}

// SetQueuePosition records the queue depth reported by the event stream.
func (t *Tracker) SetQueuePosition(n int) {
	if n < 0 {
		n = 0
	}
	t.mu.Lock()
	t.queuePos = n
	t.mu.Unlock()
}

// Snapshot returns the tracker's current state without exposing internals.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	return Snapshot{
		Phase:         t.current,
		PhaseElapsed:  now.Sub(t.enteredAt),
		TotalElapsed:  now.Sub(t.startedAt),
		QueuePosition: t.queuePos,
		Executing:     t.executing,
		Completed:     t.completed,
	}
}

// Durations returns a copy of the per-phase durations flushed so far.
func (t *Tracker) Durations() map[Phase]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Phase]time.Duration, len(t.durations))
	for p, d := range t.durations {
		out[p] = d
	}
	return out
}

// switchLocked performs the transition under the caller-held lock and
// reports what needs flushing once the lock is released.
func (t *Tracker) switchLocked(to Phase) (Phase, time.Duration, bool) {
	if t.current == to || t.completed {
		return t.current, 0, false
	}
	from := t.current
	elapsed := time.Since(t.enteredAt)
	t.current = to
	t.enteredAt = time.Now()
	if from.Timed() {
		t.durations[from] += elapsed
	}
	if to == Generating {
		t.executing = true
	}
	if to.Terminal() {
		t.completed = true
	}
	return from, elapsed, true
}

// flush records the exited phase and logs the transition. Called without the
// lock held because recorders persist to disk.
func (t *Tracker) flush(from, to Phase, elapsed time.Duration) {
	if from.Timed() && t.recorder != nil {
		t.recorder.RecordPhase(from, elapsed)
	}
	t.logger.Debug().
		Str("client_id", t.clientID).
		Str("from", string(from)).
		Str("to", string(to)).
		Dur("spent", elapsed).
		Msg("phase: switch")
}

package phase

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type captureRecorder struct {
	mu      sync.Mutex
	samples []recordedSample
}

type recordedSample struct {
	phase Phase
	d     time.Duration
}

func (r *captureRecorder) RecordPhase(p Phase, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, recordedSample{phase: p, d: d})
}

func (r *captureRecorder) count(p Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.samples {
		if s.phase == p {
			n++
		}
	}
	return n
}

func (r *captureRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func newTracker(rec Recorder) *Tracker {
	return NewTracker("telegram_7_1000", rec, zerolog.Nop())
}

func TestSwitchFlushesExitedPhaseExactlyOnce(t *testing.T) {
	rec := &captureRecorder{}
	tr := newTracker(rec)

	tr.Switch(Submitting)
	time.Sleep(10 * time.Millisecond)
	tr.Switch(Queued)
	tr.Switch(Queued) // repeat target, must be a no-op

	if got := rec.count(Submitting); got != 1 {
		t.Fatalf("submitting samples = %d, want 1", got)
	}
	if got := rec.total(); got != 1 {
		t.Fatalf("total samples = %d, want 1", got)
	}
	durations := tr.Durations()
	if durations[Submitting] <= 0 {
		t.Fatalf("submitting duration = %v, want > 0", durations[Submitting])
	}
	if _, ok := durations[Queued]; ok {
		t.Fatalf("queued should not be flushed while current")
	}
}

func TestIdleExitIsNotRecorded(t *testing.T) {
	rec := &captureRecorder{}
	tr := newTracker(rec)

	tr.Switch(Submitting)

	if got := rec.total(); got != 0 {
		t.Fatalf("samples = %d, want 0 (idle is not a timed phase)", got)
	}
	if len(tr.Durations()) != 0 {
		t.Fatalf("durations = %v, want empty", tr.Durations())
	}
}

func TestTerminalPhasesAreNotTimed(t *testing.T) {
	rec := &captureRecorder{}
	tr := newTracker(rec)

	tr.Switch(Submitting)
	tr.Switch(Failed)

	if got := rec.count(Submitting); got != 1 {
		t.Fatalf("submitting samples = %d, want 1", got)
	}
	if got := rec.total(); got != 1 {
		t.Fatalf("total samples = %d, want 1", got)
	}

	// The tracker is completed: nothing else may change it.
	tr.Switch(Done)
	tr.Switch(Submitting)
	if snap := tr.Snapshot(); snap.Phase != Failed {
		t.Fatalf("phase = %q, want failed after terminal switch", snap.Phase)
	}
	if got := rec.total(); got != 1 {
		t.Fatalf("samples after terminal = %d, want 1", got)
	}
}

func TestMarkExecutingMovesQueuedToGenerating(t *testing.T) {
	rec := &captureRecorder{}
	tr := newTracker(rec)

	tr.Switch(Submitting)
	tr.Switch(Queued)
	tr.MarkExecuting()

	snap := tr.Snapshot()
	if snap.Phase != Generating {
		t.Fatalf("phase = %q, want generating", snap.Phase)
	}
	if !snap.Executing {
		t.Fatalf("executing flag not set")
	}
	if got := rec.count(Queued); got != 1 {
		t.Fatalf("queued samples = %d, want 1", got)
	}

	// Both triggers may fire; only the first one transitions.
	tr.MarkExecuting()
	tr.Switch(Generating)
	if got := rec.count(Queued); got != 1 {
		t.Fatalf("queued samples after repeat = %d, want 1", got)
	}
}

func TestMarkExecutingOutsideQueuedOnlySetsFlag(t *testing.T) {
	rec := &captureRecorder{}
	tr := newTracker(rec)

	tr.Switch(Submitting)
	tr.MarkExecuting()

	snap := tr.Snapshot()
	if snap.Phase != Submitting {
		t.Fatalf("phase = %q, want submitting", snap.Phase)
	}
	if !snap.Executing {
		t.Fatalf("executing flag not set")
	}
	if got := rec.total(); got != 0 {
		t.Fatalf("samples = %d, want 0", got)
	}

	// An early advisory signal must not wedge the tracker: a later signal
	// while queued still performs the transition.
	tr.Switch(Queued)
	tr.MarkExecuting()
	if snap := tr.Snapshot(); snap.Phase != Generating {
		t.Fatalf("phase = %q, want generating after queued signal", snap.Phase)
	}
}

func TestSetQueuePositionClampsNegative(t *testing.T) {
	tr := newTracker(nil)

	tr.SetQueuePosition(3)
	if got := tr.Snapshot().QueuePosition; got != 3 {
		t.Fatalf("queue position = %d, want 3", got)
	}
	tr.SetQueuePosition(-2)
	if got := tr.Snapshot().QueuePosition; got != 0 {
		t.Fatalf("queue position = %d, want 0", got)
	}
}

func TestSnapshotElapsedGrows(t *testing.T) {
	tr := newTracker(nil)
	tr.Switch(Submitting)
	time.Sleep(10 * time.Millisecond)

	snap := tr.Snapshot()
	if snap.PhaseElapsed <= 0 {
		t.Fatalf("phase elapsed = %v, want > 0", snap.PhaseElapsed)
	}
	if snap.TotalElapsed < snap.PhaseElapsed {
		t.Fatalf("total elapsed %v < phase elapsed %v", snap.TotalElapsed, snap.PhaseElapsed)
	}
}

func TestTimedAndTerminal(t *testing.T) {
	for _, p := range []Phase{Submitting, Queued, Generating, Downloading} {
		if !p.Timed() {
			t.Fatalf("%q should be timed", p)
		}
		if p.Terminal() {
			t.Fatalf("%q should not be terminal", p)
		}
	}
	for _, p := range []Phase{Done, Failed, TimedOut} {
		if p.Timed() {
			t.Fatalf("%q should not be timed", p)
		}
		if !p.Terminal() {
			t.Fatalf("%q should be terminal", p)
		}
	}
	if Idle.Timed() || Idle.Terminal() {
		t.Fatalf("idle is neither timed nor terminal")
	}
}

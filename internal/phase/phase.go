// Package phase tracks the lifecycle of one generation request and the
// wall-clock time spent in each of its stages.
package phase

// Phase identifies one stage of a single generation request.
type Phase string

const (
	Idle        Phase = "idle"
	Submitting  Phase = "submitting"
	Queued      Phase = "queued"
	Generating  Phase = "generating"
	Downloading Phase = "downloading"
	Done        Phase = "done"
	Failed      Phase = "failed"
	TimedOut    Phase = "timed_out"
)

// Timed reports whether time spent in the phase feeds the rolling statistics.
// Only the four working phases are timed; terminal states are not.
func (p Phase) Timed() bool {
	switch p {
	case Submitting, Queued, Generating, Downloading:
		return true
	}
	return false
}

// Terminal reports whether the phase ends the request.
func (p Phase) Terminal() bool {
	switch p {
	case Done, Failed, TimedOut:
		return true
	}
	return false
}

package telegram

import (
	"strings"
	"time"

	"photomotion/internal/i18n"
	"photomotion/internal/phase"
)

const barWidth = 20

// spinnerFrames animates the progress message; the frame advances at two
// steps per elapsed second.
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func spinnerFrame(elapsed time.Duration) string {
	idx := int(elapsed.Seconds()*2) % len(spinnerFrames)
	if idx < 0 {
		idx = 0
	}
	return spinnerFrames[idx]
}

func progressBar(ratio float64) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * barWidth)
	return strings.Repeat("▓", filled) + strings.Repeat("░", barWidth-filled)
}

func phaseLabel(loc *i18n.Locale, p phase.Phase) string {
	switch p {
	case phase.Submitting:
		return loc.T(i18n.MsgPhaseSubmitting)
	case phase.Queued:
		return loc.T(i18n.MsgPhaseQueued)
	case phase.Downloading:
		return loc.T(i18n.MsgPhaseDownloading)
	default:
		return loc.T(i18n.MsgPhaseGenerating)
	}
}

// renderProgress builds one progress-message frame: spinner, phase label,
// bar, percentage, elapsed time, remaining estimate, and the queue position
// while the job waits in line.
func renderProgress(loc *i18n.Locale, snap phase.Snapshot, ratio float64, remaining time.Duration) string {
	text := loc.T(i18n.MsgProgressFrame,
		spinnerFrame(snap.TotalElapsed),
		phaseLabel(loc, snap.Phase),
		progressBar(ratio),
		int(ratio*100),
		loc.FormatDuration(snap.TotalElapsed),
		loc.FormatETA(remaining),
	)
	if snap.Phase == phase.Queued && snap.QueuePosition > 0 {
		text += loc.T(i18n.MsgProgressQueueLine, snap.QueuePosition)
	}
	return text
}

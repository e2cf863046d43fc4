package peer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// ProgressRenderer redraws a single status line for a FETCH in progress.
type ProgressRenderer struct {
	tracker     *TransferTracker
	out         io.Writer
	stopChan    chan struct{}
	doneChan    chan struct{}
	stopOnce    sync.Once
	refreshRate time.Duration

	name  func(a ...interface{}) string
	good  func(a ...interface{}) string
	bad   func(a ...interface{}) string
	speed func(a ...interface{}) string
}

// NewProgressRenderer draws to out. Colours follow color.NoColor, which is
// already off when stdout is not a terminal.
func NewProgressRenderer(tracker *TransferTracker, out io.Writer) *ProgressRenderer {
	return &ProgressRenderer{
		tracker:     tracker,
		out:         out,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
		refreshRate: 200 * time.Millisecond,
		name:        color.New(color.FgCyan).SprintFunc(),
		good:        color.New(color.FgGreen).SprintFunc(),
		bad:         color.New(color.FgRed, color.Bold).SprintFunc(),
		speed:       color.New(color.FgBlue).SprintFunc(),
	}
}

// SetRefreshRate sets the refresh rate for the progress line
func (pr *ProgressRenderer) SetRefreshRate(rate time.Duration) {
	pr.refreshRate = rate
}

// Start runs the render loop until Stop. Run it in its own goroutine.
func (pr *ProgressRenderer) Start() {
	defer close(pr.doneChan)
	pr.Render()

	ticker := time.NewTicker(pr.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pr.tracker.UpdateSpeed()
			pr.Render()
		case <-pr.stopChan:
			return
		}
	}
}

// StopAndWait stops the loop and draws the final line.
func (pr *ProgressRenderer) StopAndWait() {
	pr.stopOnce.Do(func() { close(pr.stopChan) })
	<-pr.doneChan

	state, _, _ := pr.tracker.Progress()
	if state == TransferFailed {
		pr.RenderError()
	} else {
		pr.RenderFinal()
	}
}

// Render draws the in-progress line.
func (pr *ProgressRenderer) Render() {
	state, bytes, speed := pr.tracker.Progress()
	fmt.Fprintf(pr.out, "\r\033[K[%s] %s %s received | %s/s | %s",
		pr.name(pr.tracker.FileName), state.Icon(),
		humanize.IBytes(bytes), pr.speed(humanize.IBytes(uint64(speed))),
		formatDuration(pr.tracker.Elapsed()))
}

// RenderFinal draws the completed line.
func (pr *ProgressRenderer) RenderFinal() {
	_, bytes, _ := pr.tracker.Progress()
	fmt.Fprintf(pr.out, "\r\033[K[%s] %s %s in %s (%s/s)\n",
		pr.name(pr.tracker.FileName), pr.good(TransferCompleted.Icon()),
		humanize.IBytes(bytes), formatDuration(pr.tracker.Elapsed()),
		humanize.IBytes(uint64(pr.tracker.AverageSpeed())))
}

// RenderError draws the failed line.
func (pr *ProgressRenderer) RenderError() {
	_, bytes, _ := pr.tracker.Progress()
	fmt.Fprintf(pr.out, "\r\033[K[%s] %s failed after %s: %v\n",
		pr.name(pr.tracker.FileName), pr.bad(TransferFailed.Icon()),
		humanize.IBytes(bytes), pr.tracker.Err)
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	if d < time.Hour {
		mins := d / time.Minute
		secs := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := d / time.Hour
	mins := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", hours, mins)
}

package peer

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

func TestTransferTrackerCountsWrites(t *testing.T) {
	tr := NewTransferTracker("a.bin", "127.0.0.1:9000")
	if state, _, _ := tr.Progress(); state != TransferPending {
		t.Fatalf("initial state = %s", state)
	}

	var dst bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(&dst, tr), strings.NewReader(strings.Repeat("z", 3000))); err != nil {
		t.Fatal(err)
	}
	state, n, _ := tr.Progress()
	if state != TransferStreaming || n != 3000 {
		t.Fatalf("progress = %s %d, want streaming 3000", state, n)
	}

	tr.Finish(nil)
	if state, _, _ := tr.Progress(); state != TransferCompleted {
		t.Fatalf("state after finish = %s", state)
	}
	frozen := tr.Elapsed()
	time.Sleep(5 * time.Millisecond)
	if tr.Elapsed() != frozen {
		t.Error("elapsed kept growing after finish")
	}
}

func TestTransferTrackerFailure(t *testing.T) {
	tr := NewTransferTracker("a.bin", "")
	boom := errors.New("connection reset")
	tr.Finish(boom)
	if state, _, _ := tr.Progress(); state != TransferFailed || !errors.Is(tr.Err, boom) {
		t.Fatalf("state = %s err = %v", state, tr.Err)
	}
}

func TestProgressRendererFinalLine(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"completed", nil, "✓ 2.0 KiB in"},
		{"failed", errors.New("peer went away"), "✗ failed after 2.0 KiB: peer went away"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransferTracker("movie.mkv", "")
			tr.Write(make([]byte, 2048))

			var out bytes.Buffer
			r := NewProgressRenderer(tr, &out)
			r.SetRefreshRate(time.Millisecond)
			go r.Start()
			tr.Finish(tt.err)
			r.StopAndWait()

			if !strings.Contains(out.String(), "[movie.mkv]") || !strings.Contains(out.String(), tt.want) {
				t.Errorf("output %q does not contain %q", out.String(), tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{300 * time.Millisecond, "<1s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 7*time.Minute, "2h7m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

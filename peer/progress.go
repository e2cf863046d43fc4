package peer

import (
	"sync"
	"time"
)

// TransferState is where a FETCH stream currently stands.
type TransferState int

const (
	TransferPending TransferState = iota
	TransferStreaming
	TransferCompleted
	TransferFailed
)

// String returns a string representation of the transfer state
func (s TransferState) String() string {
	switch s {
	case TransferPending:
		return "pending"
	case TransferStreaming:
		return "streaming"
	case TransferCompleted:
		return "completed"
	case TransferFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Icon returns an icon representation of the transfer state
func (s TransferState) Icon() string {
	switch s {
	case TransferPending:
		return "⏳"
	case TransferStreaming:
		return "↓"
	case TransferCompleted:
		return "✓"
	case TransferFailed:
		return "✗"
	default:
		return "?"
	}
}

// TransferTracker follows one FETCH stream. The total size is unknown
// because the sender streams until it closes the connection, so progress is
// reported as bytes and speed only. It is an io.Writer so it can sit in an
// io.MultiWriter next to the destination file.
type TransferTracker struct {
	mu        sync.RWMutex
	FileName  string
	PeerAddr  string
	State     TransferState
	StartTime time.Time
	EndTime   time.Time
	Bytes     uint64
	Err       error

	// Speed calculation
	lastBytes    uint64
	lastTime     time.Time
	currentSpeed float64 // bytes/sec
}

func NewTransferTracker(fileName, peerAddr string) *TransferTracker {
	now := time.Now()
	return &TransferTracker{
		FileName:  fileName,
		PeerAddr:  peerAddr,
		State:     TransferPending,
		StartTime: now,
		lastTime:  now,
	}
}

// Write counts p as received.
func (t *TransferTracker) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State == TransferPending {
		t.State = TransferStreaming
	}
	t.Bytes += uint64(len(p))
	return len(p), nil
}

// UpdateSpeed recomputes the speed at most every half second and returns it.
func (t *TransferTracker) UpdateSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.lastTime).Seconds()
	if elapsed >= 0.5 {
		t.currentSpeed = float64(t.Bytes-t.lastBytes) / elapsed
		t.lastBytes = t.Bytes
		t.lastTime = now
	}
	return t.currentSpeed
}

// Finish marks the stream as done; a nil err means it completed.
func (t *TransferTracker) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.EndTime = time.Now()
	t.Err = err
	if err != nil {
		t.State = TransferFailed
	} else {
		t.State = TransferCompleted
	}
}

// Progress returns the counters the renderer needs.
func (t *TransferTracker) Progress() (state TransferState, bytes uint64, speed float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State, t.Bytes, t.currentSpeed
}

// Elapsed returns the time since the stream started, frozen once finished.
func (t *TransferTracker) Elapsed() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.EndTime.IsZero() {
		return t.EndTime.Sub(t.StartTime)
	}
	return time.Since(t.StartTime)
}

// AverageSpeed is bytes over the whole elapsed time.
func (t *TransferTracker) AverageSpeed() float64 {
	elapsed := t.Elapsed().Seconds()
	_, bytes, _ := t.Progress()
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed
}

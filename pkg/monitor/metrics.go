package monitor

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"tarun-kavipurapu/p2p-share/pkg/logger"
)

// Metrics counts registry traffic and file transfers for one process.
type Metrics struct {
	Joins         atomic.Int64
	Publishes     atomic.Int64
	FilesIndexed  atomic.Int64
	Searches      atomic.Int64
	SearchMisses  atomic.Int64
	ProtocolDrops atomic.Int64

	// Bytes and count of completed FETCH streams, served or received.
	TransferBytes atomic.Int64
	TransferCount atomic.Int64

	ServerStart time.Time
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Joins         int64
	Publishes     int64
	FilesIndexed  int64
	Searches      int64
	SearchMisses  int64
	ProtocolDrops int64
	TransferBytes int64
	TransferCount int64
	Uptime        time.Duration
}

// Global metrics instance
var Global = New()

func New() *Metrics {
	return &Metrics{ServerStart: time.Now()}
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Joins:         m.Joins.Load(),
		Publishes:     m.Publishes.Load(),
		FilesIndexed:  m.FilesIndexed.Load(),
		Searches:      m.Searches.Load(),
		SearchMisses:  m.SearchMisses.Load(),
		ProtocolDrops: m.ProtocolDrops.Load(),
		TransferBytes: m.TransferBytes.Load(),
		TransferCount: m.TransferCount.Load(),
		Uptime:        time.Since(m.ServerStart),
	}
}

// RecordTransfer records a completed FETCH stream and logs its speed.
func (m *Metrics) RecordTransfer(name string, bytes int64, started time.Time) {
	m.TransferBytes.Add(bytes)
	m.TransferCount.Add(1)

	duration := time.Since(started).Seconds()
	var speed float64
	if duration > 0 {
		speed = float64(bytes) / duration
	}

	logger.Sugar.Infof("[Transfer] name=%s size=%s duration=%.2fs speed=%s/s",
		name, humanize.IBytes(uint64(bytes)), duration, humanize.IBytes(uint64(speed)))
}

// LogPeriodic logs runtime and traffic metrics every interval until stop is closed.
func (m *Metrics) LogPeriodic(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			s := m.Snapshot()

			logger.Sugar.Infof("[Metrics] goroutines=%d heap=%s joins=%d publishes=%d files=%d searches=%d misses=%d drops=%d transfers=%d transferred=%s",
				runtime.NumGoroutine(),
				humanize.IBytes(ms.HeapAlloc),
				s.Joins, s.Publishes, s.FilesIndexed, s.Searches, s.SearchMisses, s.ProtocolDrops,
				s.TransferCount, humanize.IBytes(uint64(s.TransferBytes)),
			)
		}
	}
}

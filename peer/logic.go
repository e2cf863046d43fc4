package peer

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"tarun-kavipurapu/p2p-share/pkg/logger"
	"tarun-kavipurapu/p2p-share/pkg/protocol"
)

// fetchFrom downloads name from the peer in res. The file is written to a
// temporary file in DownloadDir and renamed into place only after the
// sender closes the stream, so a failed transfer never leaves a partial
// file under the real name.
func (p *PeerServer) fetchFrom(res protocol.SearchResult, name string) (n int64, err error) {
	addr := res.Addr.String()
	logger.Sugar.Infof("[PeerServer] fetching file: name=%q peer=%s addr=%s", name, res.PeerID, addr)

	conn, err := net.Dial("tcp4", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to dial peer %s at %s: %w", res.PeerID, addr, err)
	}
	defer conn.Close()

	req, err := protocol.Fetch{Filename: name}.Encode()
	if err != nil {
		return 0, err
	}
	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("send fetch: %w", err)
	}

	status, err := protocol.ReadStatus(conn)
	if err != nil {
		return 0, fmt.Errorf("read fetch status: %w", err)
	}
	if status != protocol.StatusOK {
		return 0, &StatusError{Status: status}
	}

	tmp, err := os.CreateTemp(p.cfg.DownloadDir, "."+name+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create download file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	tracker := NewTransferTracker(name, addr)
	if p.cfg.Progress != nil {
		renderer := NewProgressRenderer(tracker, p.cfg.Progress)
		go renderer.Start()
		defer renderer.StopAndWait()
	}

	started := time.Now()
	n, err = io.Copy(io.MultiWriter(tmp, tracker), conn)
	if err != nil {
		tracker.Finish(err)
		return n, fmt.Errorf("receive %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		tracker.Finish(err)
		return n, fmt.Errorf("write %s: %w", name, err)
	}
	dst := filepath.Join(p.cfg.DownloadDir, name)
	if err = os.Rename(tmp.Name(), dst); err != nil {
		tracker.Finish(err)
		return n, fmt.Errorf("save %s: %w", name, err)
	}
	tracker.Finish(nil)

	p.metrics.RecordTransfer(name, n, started)
	logger.Sugar.Infof("[PeerServer] file transfer complete: name=%q bytes=%d path=%s", name, n, dst)
	return n, nil
}

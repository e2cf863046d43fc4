package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"tarun-kavipurapu/p2p-share/pkg/logger"
	"tarun-kavipurapu/p2p-share/pkg/monitor"
	"tarun-kavipurapu/p2p-share/pkg/protocol"
)

// FileServer answers FETCH requests for files in one directory. Each
// accepted connection carries one request: status byte, then the file
// contents, then close.
type FileServer struct {
	dir      string
	listener net.Listener
	metrics  *monitor.Metrics

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	quitCh chan struct{}
	once   sync.Once
}

func NewFileServer(dir string, m *monitor.Metrics) *FileServer {
	if m == nil {
		m = monitor.Global
	}
	return &FileServer{
		dir:     dir,
		metrics: m,
		conns:   make(map[net.Conn]struct{}),
		quitCh:  make(chan struct{}),
	}
}

// Listen binds addr with address and port reuse enabled, so the session
// can later dial the registry from the same port.
func (s *FileServer) Listen(addr string) error {
	lc := net.ListenConfig{Control: reuseControl}
	ln, err := lc.Listen(context.Background(), "tcp4", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	logger.Sugar.Infof("[FileServer] listening: addr=%s dir=%s", ln.Addr(), s.dir)
	return nil
}

// Serve accepts connections until Close.
func (s *FileServer) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quitCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Errorf("[FileServer] accept error: %v", err)
			continue
		}

		// registering under mu orders this against the sweep in Close
		s.mu.Lock()
		select {
		case <-s.quitCh:
			s.mu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *FileServer) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	name, err := readFetch(conn)
	if err != nil {
		logger.Sugar.Warnf("[FileServer] bad request: remote=%s err=%v", remote, err)
		writeStatus(conn, protocol.StatusBadRequest)
		return
	}

	f, status := s.open(name)
	if status != protocol.StatusOK {
		logger.Sugar.Infof("[FileServer] fetch refused: remote=%s name=%q status=%d", remote, name, status)
		writeStatus(conn, status)
		return
	}
	defer f.Close()

	if err := writeStatus(conn, protocol.StatusOK); err != nil {
		return
	}
	started := time.Now()
	n, err := io.Copy(conn, f)
	if err != nil {
		logger.Sugar.Warnf("[FileServer] stream aborted: remote=%s name=%q sent=%d err=%v", remote, name, n, err)
		return
	}
	logger.Sugar.Infof("[FileServer] served file: remote=%s name=%q bytes=%d", remote, name, n)
	s.metrics.RecordTransfer(name, n, started)
}

// readFetch reads until one complete message is framed. Anything other
// than a FETCH is a bad request.
func readFetch(r io.Reader) (string, error) {
	var fr protocol.Framer
	buf := make([]byte, 512)
	for !fr.Ready() {
		n, err := r.Read(buf)
		fr.Write(buf[:n])
		if err != nil {
			if fr.Ready() {
				break
			}
			if errors.Is(err, io.EOF) && fr.Buffered() > 0 {
				return "", fmt.Errorf("read request: %w", protocol.ErrUnterminated)
			}
			return "", fmt.Errorf("read request: %w", err)
		}
	}
	msg, err := fr.Next()
	if err != nil {
		return "", err
	}
	fetch, ok := msg.(protocol.Fetch)
	if !ok {
		return "", fmt.Errorf("%w: got %s", protocol.ErrNotPeerMessage, msg.Action())
	}
	return fetch.Filename, nil
}

func (s *FileServer) open(name string) (*os.File, uint8) {
	if err := checkLocalName(name); err != nil {
		return nil, protocol.StatusBadRequest
	}
	path := filepath.Join(s.dir, name)
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, protocol.StatusNotFound
		}
		return nil, protocol.StatusReadError
	}
	if !info.Mode().IsRegular() {
		return nil, protocol.StatusNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, protocol.StatusReadError
	}
	return f, protocol.StatusOK
}

func writeStatus(w io.Writer, status uint8) error {
	_, err := w.Write([]byte{status})
	return err
}

// Addr returns the bound listen address.
func (s *FileServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 before Listen.
func (s *FileServer) Port() int {
	if s.listener == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// Close stops accepting, aborts in-flight streams and waits for them.
func (s *FileServer) Close() error {
	var err error
	s.once.Do(func() {
		close(s.quitCh)
		if s.listener != nil {
			err = multierr.Append(err, s.listener.Close())
		}
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return err
}

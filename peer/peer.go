package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"tarun-kavipurapu/p2p-share/pkg/logger"
	"tarun-kavipurapu/p2p-share/pkg/monitor"
	"tarun-kavipurapu/p2p-share/pkg/protocol"
)

var (
	// ErrNotJoined is returned by PUBLISH, SEARCH and FETCH before a
	// successful JOIN, and after the registry connection has failed.
	ErrNotJoined = errors.New("not joined to a registry")
	// ErrNotIndexed means the registry has no live owner for the file.
	ErrNotIndexed = errors.New("file not indexed by registry")
)

// StatusError is a nonzero status byte from a FETCH.
type StatusError struct {
	Status uint8
}

func (e *StatusError) Error() string {
	switch e.Status {
	case protocol.StatusNotFound:
		return "remote peer does not have the file"
	case protocol.StatusReadError:
		return "remote peer could not read the file"
	case protocol.StatusBadRequest:
		return "remote peer rejected the request"
	default:
		return fmt.Sprintf("remote peer returned status %d", e.Status)
	}
}

// State is the session's relationship with the registry.
type State int

const (
	StateDisconnected State = iota
	StateJoined
)

func (s State) String() string {
	if s == StateJoined {
		return "JOINED"
	}
	return "DISCONNECTED"
}

type Config struct {
	RegistryAddr string
	PeerID       protocol.PeerID
	// SharedDir is published to the registry and served to FETCH requests.
	SharedDir string
	// DownloadDir receives fetched files.
	DownloadDir string
	// ListenAddr is where the FETCH server binds, "0.0.0.0:0" when empty.
	ListenAddr string
	// Progress, when set, receives a live progress line during FETCH.
	Progress io.Writer
	Metrics  *monitor.Metrics
}

// PeerServer is one peer: a FETCH server for SharedDir plus a session with
// the registry. Methods are safe for concurrent use but registry exchanges
// are serialised.
type PeerServer struct {
	cfg     Config
	files   *FileServer
	metrics *monitor.Metrics

	mu       sync.Mutex
	state    State
	registry net.Conn
}

func NewPeerServer(cfg Config) *PeerServer {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:0"
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "."
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.Global
	}
	p := &PeerServer{
		cfg:     cfg,
		metrics: cfg.Metrics,
		files:   NewFileServer(cfg.SharedDir, cfg.Metrics),
	}
	logger.Sugar.Infof("[PeerServer] Initialized: peer=%s registry=%s shared=%s", cfg.PeerID, cfg.RegistryAddr, cfg.SharedDir)
	return p
}

// Start binds the FETCH server and serves it in the background.
func (p *PeerServer) Start() error {
	if err := p.files.Listen(p.cfg.ListenAddr); err != nil {
		return fmt.Errorf("failed to start file server: %w", err)
	}
	go p.files.Serve()
	return nil
}

// Join connects to the registry and announces this peer. Any previous
// registry connection is closed first.
func (p *PeerServer) Join() error {
	if !p.cfg.PeerID.Valid() {
		return protocol.ErrInvalidPeerID
	}
	msg, err := protocol.Join{PeerID: p.cfg.PeerID}.Encode()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
	conn, err := p.dialRegistry()
	if err != nil {
		return err
	}
	if _, err := conn.Write(msg); err != nil {
		conn.Close()
		return fmt.Errorf("send join: %w", err)
	}
	p.registry = conn
	p.state = StateJoined
	logger.Sugar.Infof("[PeerServer] joined registry: peer=%s local=%s registry=%s", p.cfg.PeerID, conn.LocalAddr(), conn.RemoteAddr())
	return nil
}

// dialRegistry binds the outgoing connection to the FETCH server's port
// so the address the registry records for us is the one serving files.
func (p *PeerServer) dialRegistry() (net.Conn, error) {
	if port := p.files.Port(); sharesPort && port != 0 {
		d := net.Dialer{
			LocalAddr: &net.TCPAddr{Port: port},
			Control:   reuseControl,
		}
		conn, err := d.Dial("tcp4", p.cfg.RegistryAddr)
		if err == nil {
			return conn, nil
		}
		logger.Sugar.Warnf("[PeerServer] could not dial registry from file server port, other peers may not reach us: port=%d err=%v", port, err)
	}
	conn, err := net.Dial("tcp4", p.cfg.RegistryAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial registry %s: %w", p.cfg.RegistryAddr, err)
	}
	return conn, nil
}

// Publish announces every eligible file in SharedDir. It returns how many
// names were sent and which files were left out.
func (p *PeerServer) Publish() (int, []Skipped, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateJoined {
		return 0, nil, ErrNotJoined
	}

	names, skipped, err := ListShared(p.cfg.SharedDir)
	if err != nil {
		return 0, nil, err
	}
	msg, err := protocol.Publish{Files: names}.Encode()
	if err != nil {
		return 0, skipped, err
	}
	if _, err := p.registry.Write(msg); err != nil {
		p.demoteLocked(err)
		return 0, skipped, fmt.Errorf("send publish: %w", err)
	}
	logger.Sugar.Infof("[PeerServer] published files: count=%d skipped=%d", len(names), len(skipped))
	return len(names), skipped, nil
}

// Search asks the registry who owns name. A miss is not an error; check
// SearchResult.Found.
func (p *PeerServer) Search(name string) (protocol.SearchResult, error) {
	msg, err := protocol.Search{Filename: name}.Encode()
	if err != nil {
		return protocol.SearchResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateJoined {
		return protocol.SearchResult{}, ErrNotJoined
	}
	if _, err := p.registry.Write(msg); err != nil {
		p.demoteLocked(err)
		return protocol.SearchResult{}, fmt.Errorf("send search: %w", err)
	}
	res, err := protocol.ReadSearchResult(p.registry)
	if err != nil {
		p.demoteLocked(err)
		return protocol.SearchResult{}, fmt.Errorf("read search result: %w", err)
	}
	logger.Sugar.Debugf("[PeerServer] search: name=%q result=%s", name, res)
	return res, nil
}

// Fetch resolves name through the registry and downloads it from its owner
// into DownloadDir. It returns the number of bytes written.
func (p *PeerServer) Fetch(name string) (int64, error) {
	if err := checkLocalName(name); err != nil {
		return 0, err
	}
	res, err := p.Search(name)
	if err != nil {
		return 0, err
	}
	if !res.Found() {
		return 0, fmt.Errorf("%w: %s", ErrNotIndexed, name)
	}
	return p.fetchFrom(res, name)
}

// State returns the current session state.
func (p *PeerServer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// FileServerAddr returns where this peer serves FETCH.
func (p *PeerServer) FileServerAddr() string {
	return p.files.Addr()
}

func (p *PeerServer) GetStatus() string {
	p.mu.Lock()
	state := p.state
	var local string
	if p.registry != nil {
		local = p.registry.LocalAddr().String()
	}
	p.mu.Unlock()

	snap := p.metrics.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Peer ID: %s\n", p.cfg.PeerID)
	fmt.Fprintf(&b, "State: %s\n", state)
	fmt.Fprintf(&b, "Registry: %s\n", p.cfg.RegistryAddr)
	if local != "" {
		fmt.Fprintf(&b, "Registry connection from: %s\n", local)
	}
	fmt.Fprintf(&b, "Serving %s on: %s\n", p.cfg.SharedDir, p.files.Addr())
	fmt.Fprintf(&b, "Transfers: %d\n", snap.TransferCount)
	return b.String()
}

// demoteLocked drops a failed registry connection.
func (p *PeerServer) demoteLocked(cause error) {
	logger.Sugar.Warnf("[PeerServer] registry connection lost: peer=%s err=%v", p.cfg.PeerID, cause)
	p.resetLocked()
}

func (p *PeerServer) resetLocked() error {
	var err error
	if p.registry != nil {
		// reset rather than linger in TIME_WAIT so a rejoin can bind the
		// same port again
		if tc, ok := p.registry.(*net.TCPConn); ok {
			tc.SetLinger(0)
		}
		err = p.registry.Close()
		p.registry = nil
	}
	p.state = StateDisconnected
	return err
}

// Close leaves the registry and stops the FETCH server.
func (p *PeerServer) Close() error {
	p.mu.Lock()
	err := p.resetLocked()
	p.mu.Unlock()
	return multierr.Append(err, p.files.Close())
}

package centralserver

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"tarun-kavipurapu/p2p-share/pkg/directory"
	"tarun-kavipurapu/p2p-share/pkg/discovery"
	"tarun-kavipurapu/p2p-share/pkg/logger"
	"tarun-kavipurapu/p2p-share/pkg/monitor"
	"tarun-kavipurapu/p2p-share/pkg/protocol"
	"tarun-kavipurapu/p2p-share/pkg/transport"
	"tarun-kavipurapu/p2p-share/pkg/transport/tcp"
)

// ErrProtocol marks messages that are valid on the wire but not allowed in
// the connection's current state. The connection is dropped.
var ErrProtocol = errors.New("protocol violation")

type Option func(*CentralServer)

// WithPruneOnDisconnect drops a peer's file records when it disconnects.
func WithPruneOnDisconnect() Option {
	return func(c *CentralServer) { c.dirOpts = append(c.dirOpts, directory.WithPruneOnDisconnect()) }
}

// WithAdvertise announces the registry over mDNS under instanceName.
func WithAdvertise(instanceName string) Option {
	return func(c *CentralServer) {
		c.advertise = true
		c.instanceName = instanceName
	}
}

// WithMetrics replaces monitor.Global.
func WithMetrics(m *monitor.Metrics) Option {
	return func(c *CentralServer) { c.metrics = m }
}

// CentralServer is the registry. A single goroutine runs loop and is the
// only code that touches dir and conns.
type CentralServer struct {
	Transport transport.Transport

	dir     *directory.Store
	dirOpts []directory.Option
	conns   map[transport.ConnID]*session
	metrics *monitor.Metrics

	queryCh  chan func()
	quitCh   chan struct{}
	stopOnce sync.Once

	advertise    bool
	instanceName string
	advertiser   *discovery.Advertiser
}

// session is the registry-side state of one accepted connection.
type session struct {
	node   transport.Node
	framer protocol.Framer
	joined bool
	peerID protocol.PeerID
}

func (s *session) state() string {
	if s.joined {
		return "JOINED"
	}
	return "ANONYMOUS"
}

func NewCentralServer(addr string, opts ...Option) *CentralServer {
	c := &CentralServer{
		Transport:  tcp.NewTCPTransport(addr),
		conns:      make(map[transport.ConnID]*session),
		metrics:    monitor.Global,
		queryCh:    make(chan func()),
		quitCh:     make(chan struct{}),
		advertiser: discovery.NewAdvertiser(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dir = directory.New(c.dirOpts...)
	return c
}

// Start listens and then runs the event loop until Stop is called.
func (c *CentralServer) Start() error {
	if err := c.Listen(); err != nil {
		return err
	}
	c.Serve()
	return nil
}

// Listen binds the transport and starts advertising if configured.
func (c *CentralServer) Listen() error {
	logger.Sugar.Infof("[CentralServer] [%s] starting registry...", c.Transport.Addr())

	if err := c.Transport.ListenAndAccept(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Sugar.Infof("[CentralServer] listening: addr=%s prune=%v", c.Transport.Addr(), c.dir.Pruning())

	if c.advertise {
		c.startAdvertising()
	}
	return nil
}

func (c *CentralServer) startAdvertising() {
	_, portStr, err := net.SplitHostPort(c.Transport.Addr())
	if err != nil {
		logger.Sugar.Errorf("[CentralServer] Failed to parse address: %v", err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return
	}
	meta := map[string]string{
		"version": "1",
		"role":    "registry",
	}
	if err := c.advertiser.Start(c.instanceName, port, meta); err != nil {
		logger.Sugar.Errorf("[CentralServer] Failed to start mDNS advertisement: %v", err)
		return
	}
	logger.Sugar.Infof("[CentralServer] mDNS advertisement started on port %d", port)
}

// Serve runs the event loop. Each iteration waits once for whichever
// comes first: a connection event, an operator query, or Stop.
func (c *CentralServer) Serve() {
	defer logger.Sugar.Info("[CentralServer] stopped")

	events := c.Transport.Consume()
	for {
		select {
		case ev := <-events:
			c.handleEvent(ev)
		case query := <-c.queryCh:
			query()
		case <-c.quitCh:
			return
		}
	}
}

func (c *CentralServer) handleEvent(ev transport.Event) {
	id := ev.Node.ID()
	switch ev.Kind {
	case transport.EventAccept:
		c.conns[id] = &session{node: ev.Node}
		logger.Sugar.Infof("[CentralServer] peer connected: conn=%d remote=%s active=%d", id, ev.Node.Addr(), len(c.conns))

	case transport.EventData:
		s, ok := c.conns[id]
		if !ok {
			// already dropped; the reader had this chunk in flight
			return
		}
		s.framer.Write(ev.Data)
		for s.framer.Ready() {
			msg, err := s.framer.Next()
			if err != nil {
				c.drop(s, fmt.Errorf("malformed message: %w", err))
				return
			}
			if err := c.dispatch(s, msg); err != nil {
				c.drop(s, err)
				return
			}
		}

	case transport.EventClose:
		s, ok := c.conns[id]
		if !ok {
			return
		}
		if ev.Err != nil {
			logger.Sugar.Warnf("[CentralServer] read failed: conn=%d remote=%s err=%v", id, ev.Node.Addr(), ev.Err)
		}
		c.disconnect(s)
	}
}

func (c *CentralServer) dispatch(s *session, msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Join:
		return c.handleJoin(s, m)
	case protocol.Publish:
		return c.handlePublish(s, m)
	case protocol.Search:
		return c.handleSearch(s, m)
	default:
		return fmt.Errorf("%w: %s sent to registry", ErrProtocol, msg.Action())
	}
}

func (c *CentralServer) handleJoin(s *session, m protocol.Join) error {
	id := s.node.ID()

	// a joined connection announcing a new identity gives up the old one
	if s.joined && s.peerID != m.PeerID {
		c.dir.Disconnect(s.peerID, uint64(id))
		logger.Sugar.Infof("[CentralServer] connection changed identity: conn=%d old=%s new=%s", id, s.peerID, m.PeerID)
		s.joined = false
	}

	res, err := c.dir.Join(m.PeerID, s.node.RemoteAddr(), uint64(id))
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	s.joined = true
	s.peerID = m.PeerID
	c.metrics.Joins.Add(1)

	if res.Unchanged {
		logger.Sugar.Debugf("[CentralServer] repeated join ignored: peer=%s conn=%d", m.PeerID, id)
		return nil
	}
	if res.Evicted != nil {
		if old, ok := c.conns[transport.ConnID(res.Evicted.ConnID)]; ok {
			old.joined = false
			old.peerID = 0
		}
		logger.Sugar.Warnf("[CentralServer] peer rejoined from new connection, evicting old: peer=%s old=%s new=%s",
			m.PeerID, res.Evicted.Addr, s.node.RemoteAddr())
	}
	logger.Sugar.Infof("[CentralServer] peer joined: peer=%s addr=%s conn=%d", m.PeerID, s.node.RemoteAddr(), id)
	return nil
}

func (c *CentralServer) handlePublish(s *session, m protocol.Publish) error {
	if !s.joined {
		return fmt.Errorf("%w: PUBLISH before JOIN", ErrProtocol)
	}
	if err := c.dir.Publish(s.peerID, m.Files); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	c.metrics.Publishes.Add(1)
	c.metrics.FilesIndexed.Add(int64(len(m.Files)))
	logger.Sugar.Infof("[CentralServer] files published: peer=%s count=%d indexed=%d", s.peerID, len(m.Files), c.dir.FileCount())
	return nil
}

func (c *CentralServer) handleSearch(s *session, m protocol.Search) error {
	if !s.joined {
		return fmt.Errorf("%w: SEARCH before JOIN", ErrProtocol)
	}
	c.metrics.Searches.Add(1)

	var result protocol.SearchResult
	if rec, ok := c.dir.Search(m.Filename); ok {
		result = protocol.SearchResult{PeerID: rec.ID, Addr: rec.Addr}
	} else {
		c.metrics.SearchMisses.Add(1)
	}

	reply, err := protocol.EncodeSearchResult(result)
	if err != nil {
		return fmt.Errorf("encode search result: %w", err)
	}
	if err := s.node.Send(reply); err != nil {
		return fmt.Errorf("send search result: %w", err)
	}
	logger.Sugar.Debugf("[CentralServer] search: peer=%s name=%q result=%s", s.peerID, m.Filename, result)
	return nil
}

// drop closes a connection after a protocol or transport error.
func (c *CentralServer) drop(s *session, err error) {
	c.metrics.ProtocolDrops.Add(1)
	logger.Sugar.Warnf("[CentralServer] dropping connection: conn=%d remote=%s state=%s err=%v",
		s.node.ID(), s.node.Addr(), s.state(), err)
	c.disconnect(s)
	_ = s.node.Close()
}

func (c *CentralServer) disconnect(s *session) {
	id := s.node.ID()
	delete(c.conns, id)
	if !s.joined {
		logger.Sugar.Infof("[CentralServer] anonymous connection closed: conn=%d remote=%s", id, s.node.Addr())
		return
	}
	removed, pruned := c.dir.Disconnect(s.peerID, uint64(id))
	s.joined = false
	logger.Sugar.Infof("[CentralServer] peer disconnected: peer=%s conn=%d removed=%v pruned=%d active=%d",
		s.peerID, id, removed, pruned, len(c.conns))
}

// query runs f on the loop goroutine and waits for it. It reports false
// if the server has stopped.
func (c *CentralServer) query(f func()) bool {
	done := make(chan struct{})
	select {
	case c.queryCh <- func() { f(); close(done) }:
		<-done
		return true
	case <-c.quitCh:
		return false
	}
}

// Peers returns the joined peers.
func (c *CentralServer) Peers() []directory.PeerRecord {
	var peers []directory.PeerRecord
	c.query(func() { peers = c.dir.Peers() })
	return peers
}

// Files returns the indexed files.
func (c *CentralServer) Files() []directory.FileRecord {
	var files []directory.FileRecord
	c.query(func() { files = c.dir.Files() })
	return files
}

// ConnectionCount returns the number of tracked connections, joined or not.
func (c *CentralServer) ConnectionCount() int {
	var n int
	c.query(func() { n = len(c.conns) })
	return n
}

func (c *CentralServer) GetStatus() string {
	var (
		conns        int
		peers, files int
	)
	c.query(func() {
		conns = len(c.conns)
		peers = c.dir.PeerCount()
		files = c.dir.FileCount()
	})
	snap := c.metrics.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "Registry running on: %s\n", c.Transport.Addr())
	fmt.Fprintf(&b, "Connections: %d\n", conns)
	fmt.Fprintf(&b, "Joined Peers: %d\n", peers)
	fmt.Fprintf(&b, "Indexed Files: %d\n", files)
	fmt.Fprintf(&b, "Searches: %d (%d misses)\n", snap.Searches, snap.SearchMisses)
	fmt.Fprintf(&b, "Dropped Connections: %d\n", snap.ProtocolDrops)
	return b.String()
}

func (c *CentralServer) GetPeersList() []string {
	peers := c.Peers()
	list := make([]string, 0, len(peers))
	for _, p := range peers {
		list = append(list, fmt.Sprintf("%s %s", p.ID, p.Addr))
	}
	return list
}

// Addr returns the bound listen address.
func (c *CentralServer) Addr() string {
	return c.Transport.Addr()
}

func (c *CentralServer) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.quitCh)
		c.advertiser.Stop()
		err = multierr.Append(err, c.Transport.Close())
	})
	return err
}

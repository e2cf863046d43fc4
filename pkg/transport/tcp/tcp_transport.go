package tcp

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"tarun-kavipurapu/p2p-share/pkg/logger"
	"tarun-kavipurapu/p2p-share/pkg/transport"
)

const (
	// readChunkSize is how much one readiness notification may carry.
	readChunkSize = 4096
	// sendQueueLen bounds the replies waiting on a slow connection.
	sendQueueLen  = 64
	eventQueueLen = 1024
)

// TCPNode implements transport.Node
type TCPNode struct {
	id     transport.ConnID
	conn   net.Conn
	remote netip.AddrPort

	sendCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func NewTCPNode(id transport.ConnID, conn net.Conn) *TCPNode {
	var remote netip.AddrPort
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		ap := ta.AddrPort()
		remote = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return &TCPNode{
		id:     id,
		conn:   conn,
		remote: remote,
		sendCh: make(chan []byte, sendQueueLen),
		closed: make(chan struct{}),
	}
}

func (n *TCPNode) ID() transport.ConnID { return n.id }

func (n *TCPNode) RemoteAddr() netip.AddrPort { return n.remote }

func (n *TCPNode) Addr() string { return n.conn.RemoteAddr().String() }

// Send hands b to the connection's writer goroutine. It fails instead of
// blocking when the queue is full.
func (n *TCPNode) Send(b []byte) error {
	select {
	case <-n.closed:
		return net.ErrClosed
	default:
	}
	select {
	case n.sendCh <- b:
		return nil
	default:
		return transport.ErrSendQueueFull
	}
}

func (n *TCPNode) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.closed)
		err = n.conn.Close()
	})
	return err
}

func (n *TCPNode) writeLoop() {
	for {
		select {
		case b := <-n.sendCh:
			if _, err := n.conn.Write(b); err != nil {
				logger.Sugar.Warnf("[TCPTransport] write failed: remote=%s err=%v", n.Addr(), err)
				n.Close()
				return
			}
		case <-n.closed:
			return
		}
	}
}

// TCPTransport implements transport.Transport. Every accepted connection
// gets a reader and a writer goroutine; readers fan their chunks into a
// single event channel so that one consumer sees all connections.
type TCPTransport struct {
	listenAddr string

	mu       sync.Mutex
	listener net.Listener
	nodes    map[transport.ConnID]*TCPNode

	events    chan transport.Event
	quitCh    chan struct{}
	closeOnce sync.Once
	nextID    atomic.Uint64
}

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{
		listenAddr: addr,
		nodes:      make(map[transport.ConnID]*TCPNode),
		events:     make(chan transport.Event, eventQueueLen),
		quitCh:     make(chan struct{}),
	}
}

// ListenAndAccept binds an IPv4 listener; SEARCH-RESULT can only carry IPv4.
func (t *TCPTransport) ListenAndAccept() error {
	ln, err := net.Listen("tcp4", t.listenAddr)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	go t.acceptLoop(ln)
	return nil
}

func (t *TCPTransport) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Errorf("[TCPTransport] accept error: listen=%s err=%v", t.listenAddr, err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		node := NewTCPNode(transport.ConnID(t.nextID.Add(1)), conn)
		t.mu.Lock()
		t.nodes[node.id] = node
		t.mu.Unlock()

		// the accept event must be queued before any data from this node
		if !t.post(transport.Event{Kind: transport.EventAccept, Node: node}) {
			node.Close()
			return
		}
		go node.writeLoop()
		go t.readLoop(node)
	}
}

func (t *TCPTransport) readLoop(node *TCPNode) {
	defer func() {
		node.Close()
		t.mu.Lock()
		delete(t.nodes, node.id)
		t.mu.Unlock()
	}()

	buf := make([]byte, readChunkSize)
	for {
		n, err := node.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !t.post(transport.Event{Kind: transport.EventData, Node: node, Data: chunk}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			t.post(transport.Event{Kind: transport.EventClose, Node: node, Err: err})
			return
		}
	}
}

func (t *TCPTransport) post(ev transport.Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.quitCh:
		return false
	}
}

func (t *TCPTransport) Consume() <-chan transport.Event {
	return t.events
}

// Close stops accepting and closes every open connection. The event
// channel is left open; consumers stop on their own quit signal.
func (t *TCPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.quitCh)
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.listener != nil {
			err = t.listener.Close()
		}
		for _, n := range t.nodes {
			n.Close()
		}
	})
	return err
}

func (t *TCPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.listenAddr
}

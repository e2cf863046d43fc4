package transport

import (
	"errors"
	"net/netip"
)

// ErrSendQueueFull is returned by Node.Send when the peer is not draining
// its connection fast enough.
var ErrSendQueueFull = errors.New("send queue full")

// ConnID identifies an accepted connection for its whole lifetime.
type ConnID uint64

// Node represents an accepted remote connection.
type Node interface {
	ID() ConnID
	// Send queues b for writing and never blocks.
	Send(b []byte) error
	Close() error
	RemoteAddr() netip.AddrPort
	Addr() string
}

type EventKind uint8

const (
	// EventAccept is posted once per accepted connection, before any data.
	EventAccept EventKind = iota
	// EventData carries one chunk read from the connection.
	EventData
	// EventClose is posted once when the connection is closed or fails.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventAccept:
		return "accept"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is a readiness notification for one connection.
type Event struct {
	Kind EventKind
	Node Node
	Data []byte
	// Err is the read error behind an EventClose, nil on a clean EOF.
	Err error
}

// Transport handles the network layer
type Transport interface {
	ListenAndAccept() error
	// Consume delivers events for every connection on one channel.
	Consume() <-chan Event
	Close() error
	Addr() string
}

package protocol

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
)

// Action is the leading byte of every peer-originated message.
type Action uint8

const (
	ActionJoin    Action = 0x00
	ActionPublish Action = 0x01
	ActionSearch  Action = 0x02
	ActionFetch   Action = 0x03
)

func (a Action) String() string {
	switch a {
	case ActionJoin:
		return "JOIN"
	case ActionPublish:
		return "PUBLISH"
	case ActionSearch:
		return "SEARCH"
	case ActionFetch:
		return "FETCH"
	default:
		return fmt.Sprintf("ACTION(%#02x)", uint8(a))
	}
}

const (
	// MaxNameLen is the longest filename on the wire, terminator excluded.
	MaxNameLen = 99
	// JoinSize is the fixed size of a JOIN message.
	JoinSize = 5
	// PublishHeaderSize is the action byte plus the file count.
	PublishHeaderSize = 5
	// SearchResultSize is the fixed size of a SEARCH-RESULT reply.
	SearchResultSize = 10
	// MaxPublishSize bounds a whole PUBLISH message.
	MaxPublishSize = 64 * 1024
	// MaxPublishCount is the largest count that can fit in MaxPublishSize.
	MaxPublishCount = (MaxPublishSize - PublishHeaderSize) / 2
)

// FETCH-RESULT status codes.
const (
	StatusOK         uint8 = 0
	StatusNotFound   uint8 = 1
	StatusReadError  uint8 = 2
	StatusBadRequest uint8 = 3
)

var (
	ErrInvalidPeerID  = errors.New("peer id must be in [1, 4294967294]")
	ErrNameTooLong    = fmt.Errorf("filename longer than %d bytes", MaxNameLen)
	ErrEmptyName      = errors.New("empty filename")
	ErrNameHasNUL     = errors.New("filename contains NUL byte")
	ErrUnknownAction  = errors.New("unknown action")
	ErrCountOverrun   = errors.New("publish count overruns message capacity")
	ErrPublishTooBig  = fmt.Errorf("publish message larger than %d bytes", MaxPublishSize)
	ErrShortResult    = errors.New("search result must be 10 bytes")
	ErrNotIPv4        = errors.New("address is not IPv4")
	ErrUnterminated   = errors.New("stream ended inside a message")
	ErrNotPeerMessage = errors.New("message is not valid from a peer")
)

// PeerID identifies a peer. It is chosen by the peer, not the registry.
type PeerID uint32

const (
	MinPeerID PeerID = 1
	MaxPeerID PeerID = math.MaxUint32 - 1
)

// Valid reports whether id lies in the usable range.
func (id PeerID) Valid() bool {
	return id >= MinPeerID && id <= MaxPeerID
}

func (id PeerID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParsePeerID parses a decimal peer identity and checks its range.
func ParsePeerID(s string) (PeerID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: missing value", ErrInvalidPeerID)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal integer", ErrInvalidPeerID, s)
	}
	if v > uint64(MaxPeerID) || !PeerID(v).Valid() {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidPeerID, v)
	}
	return PeerID(v), nil
}

// CheckName validates a filename for use on the wire.
func CheckName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	if strings.IndexByte(name, 0) >= 0 {
		return ErrNameHasNUL
	}
	return nil
}

// Message is any decoded peer-originated message.
type Message interface {
	Action() Action
	// Encode returns the wire form of the message.
	Encode() ([]byte, error)
}

// Join announces the sender's identity to the registry.
type Join struct {
	PeerID PeerID
}

// Publish lists the files the sender owns.
type Publish struct {
	Files []string
}

// Search asks the registry who owns a filename.
type Search struct {
	Filename string
}

// Fetch asks a peer to stream one of its shared files.
type Fetch struct {
	Filename string
}

func (Join) Action() Action    { return ActionJoin }
func (Publish) Action() Action { return ActionPublish }
func (Search) Action() Action  { return ActionSearch }
func (Fetch) Action() Action   { return ActionFetch }

// SearchResult is the registry's reply to a SEARCH. The zero value means
// the name is not indexed.
type SearchResult struct {
	PeerID PeerID
	Addr   netip.AddrPort
}

// Found reports whether the result carries an owner.
func (r SearchResult) Found() bool {
	return r.PeerID != 0 || (r.Addr.IsValid() && (!r.Addr.Addr().IsUnspecified() || r.Addr.Port() != 0))
}

func (r SearchResult) String() string {
	if !r.Found() {
		return "not found"
	}
	return fmt.Sprintf("peer %s at %s", r.PeerID, r.Addr)
}

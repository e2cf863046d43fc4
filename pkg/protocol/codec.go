package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
)

// ErrIncomplete is returned by Decode when buf holds only part of a message.
var ErrIncomplete = errors.New("incomplete message")

// MessageLen reports the size of the first complete message in buf.
// It returns 0 with a nil error when more bytes are needed, and an error
// when buf can never become a valid message.
func MessageLen(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	switch Action(buf[0]) {
	case ActionJoin:
		if len(buf) < JoinSize {
			return 0, nil
		}
		return JoinSize, nil

	case ActionSearch, ActionFetch:
		end, err := nameEnd(buf, 1)
		if err != nil || end == 0 {
			return 0, err
		}
		return end, nil

	case ActionPublish:
		if len(buf) < PublishHeaderSize {
			return 0, nil
		}
		count := binary.BigEndian.Uint32(buf[1:PublishHeaderSize])
		if count > MaxPublishCount {
			return 0, fmt.Errorf("%w: count=%d", ErrCountOverrun, count)
		}
		off := PublishHeaderSize
		for i := uint32(0); i < count; i++ {
			if off < len(buf) && buf[off] == 0 {
				return 0, fmt.Errorf("%w: entry %d", ErrEmptyName, i)
			}
			end, err := nameEnd(buf, off)
			if err != nil {
				return 0, fmt.Errorf("entry %d: %w", i, err)
			}
			if end == 0 {
				if len(buf) > MaxPublishSize {
					return 0, ErrPublishTooBig
				}
				return 0, nil
			}
			off = end
			if off > MaxPublishSize {
				return 0, ErrPublishTooBig
			}
		}
		return off, nil

	default:
		return 0, fmt.Errorf("%w: %#02x", ErrUnknownAction, buf[0])
	}
}

// nameEnd returns the offset just past the NUL ending the name at buf[off:],
// or 0 if the terminator has not arrived yet.
func nameEnd(buf []byte, off int) (int, error) {
	limit := off + MaxNameLen + 1
	window := buf[off:]
	if len(buf) > limit {
		window = buf[off:limit]
	}
	if i := bytes.IndexByte(window, 0); i >= 0 {
		return off + i + 1, nil
	}
	if len(buf) >= limit {
		return 0, ErrNameTooLong
	}
	return 0, nil
}

// Decode parses the first message in buf and reports how many bytes it used.
func Decode(buf []byte) (Message, int, error) {
	n, err := MessageLen(buf)
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, ErrIncomplete
	}
	msg := buf[:n]

	switch Action(msg[0]) {
	case ActionJoin:
		return Join{PeerID: PeerID(binary.BigEndian.Uint32(msg[1:]))}, n, nil
	case ActionSearch:
		return Search{Filename: string(msg[1 : n-1])}, n, nil
	case ActionFetch:
		return Fetch{Filename: string(msg[1 : n-1])}, n, nil
	case ActionPublish:
		count := binary.BigEndian.Uint32(msg[1:PublishHeaderSize])
		files := make([]string, 0, count)
		rest := msg[PublishHeaderSize:]
		for len(rest) > 0 {
			i := bytes.IndexByte(rest, 0)
			files = append(files, string(rest[:i]))
			rest = rest[i+1:]
		}
		return Publish{Files: files}, n, nil
	}
	// MessageLen already rejected every other action.
	return nil, 0, ErrUnknownAction
}

func (m Join) Encode() ([]byte, error) {
	if !m.PeerID.Valid() {
		return nil, ErrInvalidPeerID
	}
	buf := make([]byte, JoinSize)
	buf[0] = byte(ActionJoin)
	binary.BigEndian.PutUint32(buf[1:], uint32(m.PeerID))
	return buf, nil
}

func (m Publish) Encode() ([]byte, error) {
	size := PublishHeaderSize
	for _, name := range m.Files {
		if err := CheckName(name); err != nil {
			return nil, fmt.Errorf("%q: %w", name, err)
		}
		size += len(name) + 1
	}
	if size > MaxPublishSize {
		return nil, ErrPublishTooBig
	}

	buf := make([]byte, PublishHeaderSize, size)
	buf[0] = byte(ActionPublish)
	binary.BigEndian.PutUint32(buf[1:], uint32(len(m.Files)))
	for _, name := range m.Files {
		buf = append(buf, name...)
		buf = append(buf, 0)
	}
	return buf, nil
}

func (m Search) Encode() ([]byte, error) {
	return encodeNamed(ActionSearch, m.Filename)
}

func (m Fetch) Encode() ([]byte, error) {
	return encodeNamed(ActionFetch, m.Filename)
}

func encodeNamed(action Action, name string) ([]byte, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(name)+2)
	buf = append(buf, byte(action))
	buf = append(buf, name...)
	return append(buf, 0), nil
}

// PublishSize is the encoded size of a PUBLISH carrying names.
func PublishSize(names []string) int {
	size := PublishHeaderSize
	for _, name := range names {
		size += len(name) + 1
	}
	return size
}

// EncodeSearchResult returns the 10-byte reply. A result that is not
// found encodes as all zeros.
func EncodeSearchResult(r SearchResult) ([]byte, error) {
	buf := make([]byte, SearchResultSize)
	if !r.Found() {
		return buf, nil
	}
	ip := r.Addr.Addr().Unmap()
	if !ip.Is4() {
		return nil, fmt.Errorf("%w: %s", ErrNotIPv4, r.Addr)
	}
	a4 := ip.As4()
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.PeerID))
	copy(buf[4:8], a4[:])
	binary.BigEndian.PutUint16(buf[8:10], r.Addr.Port())
	return buf, nil
}

// DecodeSearchResult parses a 10-byte reply.
func DecodeSearchResult(buf []byte) (SearchResult, error) {
	if len(buf) != SearchResultSize {
		return SearchResult{}, fmt.Errorf("%w: got %d", ErrShortResult, len(buf))
	}
	id := PeerID(binary.BigEndian.Uint32(buf[0:4]))
	var a4 [4]byte
	copy(a4[:], buf[4:8])
	port := binary.BigEndian.Uint16(buf[8:10])
	if id == 0 && a4 == [4]byte{} && port == 0 {
		return SearchResult{}, nil
	}
	return SearchResult{
		PeerID: id,
		Addr:   netip.AddrPortFrom(netip.AddrFrom4(a4), port),
	}, nil
}

// ReadSearchResult blocks until exactly SearchResultSize bytes are read.
func ReadSearchResult(r io.Reader) (SearchResult, error) {
	buf := make([]byte, SearchResultSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return SearchResult{}, err
	}
	return DecodeSearchResult(buf)
}

// ReadStatus reads the single FETCH-RESULT status byte.
func ReadStatus(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

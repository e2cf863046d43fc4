// Package directory holds the registry's peer and file tables.
//
// A Store is not safe for concurrent use. The registry owns exactly one
// Store and only touches it from its event loop goroutine, which serialises
// every mutation and lookup.
package directory

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"tarun-kavipurapu/p2p-share/pkg/protocol"
)

var (
	ErrNotJoined   = errors.New("peer has not joined")
	ErrInvalidAddr = errors.New("peer address must be a valid IPv4 endpoint")
)

// PeerRecord is where a joined peer can be reached.
type PeerRecord struct {
	ID protocol.PeerID
	// Addr is the remote endpoint of the peer's registry connection.
	Addr     netip.AddrPort
	ConnID   uint64
	JoinedAt time.Time
}

// FileRecord maps a filename to its most recent publisher.
type FileRecord struct {
	Name        string
	Owner       protocol.PeerID
	PublishedAt time.Time
}

// JoinResult describes what a Join changed.
type JoinResult struct {
	// Unchanged is set for a repeated JOIN from the same connection and address.
	Unchanged bool
	// Evicted is the record replaced by this JOIN, if it belonged to another connection.
	Evicted *PeerRecord
}

type Option func(*Store)

// WithPruneOnDisconnect removes a peer's file records when it disconnects.
func WithPruneOnDisconnect() Option {
	return func(s *Store) { s.prune = true }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	peers map[protocol.PeerID]*PeerRecord
	files map[string]*FileRecord
	prune bool
	now   func() time.Time
}

func New(opts ...Option) *Store {
	s := &Store{
		peers: make(map[protocol.PeerID]*PeerRecord),
		files: make(map[string]*FileRecord),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pruning reports whether file records are dropped with their owner.
func (s *Store) Pruning() bool {
	return s.prune
}

// Join registers id at addr for connection connID. An identity already
// bound to a different connection is evicted and replaced: the newest
// JOIN always wins.
func (s *Store) Join(id protocol.PeerID, addr netip.AddrPort, connID uint64) (JoinResult, error) {
	if !id.Valid() {
		return JoinResult{}, fmt.Errorf("%w: %d", protocol.ErrInvalidPeerID, uint32(id))
	}
	if !addr.IsValid() || !addr.Addr().Unmap().Is4() {
		return JoinResult{}, fmt.Errorf("%w: %s", ErrInvalidAddr, addr)
	}
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())

	var res JoinResult
	if cur, ok := s.peers[id]; ok {
		if cur.ConnID == connID && cur.Addr == addr {
			res.Unchanged = true
			return res, nil
		}
		if cur.ConnID != connID {
			evicted := *cur
			res.Evicted = &evicted
		}
	}
	s.peers[id] = &PeerRecord{
		ID:       id,
		Addr:     addr,
		ConnID:   connID,
		JoinedAt: s.now(),
	}
	return res, nil
}

// Publish records id as the owner of every name. The last publisher of a
// name wins.
func (s *Store) Publish(id protocol.PeerID, names []string) error {
	if _, ok := s.peers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotJoined, id)
	}
	for _, name := range names {
		if err := protocol.CheckName(name); err != nil {
			return fmt.Errorf("%q: %w", name, err)
		}
	}
	now := s.now()
	for _, name := range names {
		s.files[name] = &FileRecord{Name: name, Owner: id, PublishedAt: now}
	}
	return nil
}

// Search resolves name to the current record of its owner. It reports
// false when the name was never published or its owner is not joined.
func (s *Store) Search(name string) (PeerRecord, bool) {
	f, ok := s.files[name]
	if !ok {
		return PeerRecord{}, false
	}
	p, ok := s.peers[f.Owner]
	if !ok {
		return PeerRecord{}, false
	}
	return *p, true
}

// Lookup returns the record for id.
func (s *Store) Lookup(id protocol.PeerID) (PeerRecord, bool) {
	p, ok := s.peers[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *p, true
}

// Disconnect removes id if it is still bound to connID. A connection whose
// identity was taken over by a newer JOIN cannot remove its successor.
// It returns the number of file records pruned alongside the peer.
func (s *Store) Disconnect(id protocol.PeerID, connID uint64) (removed bool, pruned int) {
	p, ok := s.peers[id]
	if !ok || p.ConnID != connID {
		return false, 0
	}
	delete(s.peers, id)
	if s.prune {
		for name, f := range s.files {
			if f.Owner == id {
				delete(s.files, name)
				pruned++
			}
		}
	}
	return true, pruned
}

// Peers returns a copy of all peer records ordered by identity.
func (s *Store) Peers() []PeerRecord {
	out := make([]PeerRecord, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Files returns a copy of all file records ordered by name.
func (s *Store) Files() []FileRecord {
	out := make([]FileRecord, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) PeerCount() int { return len(s.peers) }
func (s *Store) FileCount() int { return len(s.files) }

package centralserver

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tarun-kavipurapu/p2p-share/pkg/monitor"
	"tarun-kavipurapu/p2p-share/pkg/protocol"
)

func startServer(t *testing.T, opts ...Option) *CentralServer {
	t.Helper()
	opts = append([]Option{WithMetrics(monitor.New())}, opts...)
	srv := NewCentralServer("127.0.0.1:0", opts...)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Stop() })
	return srv
}

type testPeer struct {
	t    *testing.T
	conn net.Conn
}

func dialPeer(t *testing.T, srv *CentralServer) *testPeer {
	t.Helper()
	conn, err := net.Dial("tcp4", srv.Addr())
	if err != nil {
		t.Fatalf("dial registry: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testPeer{t: t, conn: conn}
}

func (p *testPeer) addr() netip.AddrPort {
	ap := p.conn.LocalAddr().(*net.TCPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (p *testPeer) send(msgs ...protocol.Message) {
	p.t.Helper()
	for _, m := range msgs {
		b, err := m.Encode()
		if err != nil {
			p.t.Fatalf("encode %s: %v", m.Action(), err)
		}
		if _, err := p.conn.Write(b); err != nil {
			p.t.Fatalf("write %s: %v", m.Action(), err)
		}
	}
}

func (p *testPeer) search(name string) protocol.SearchResult {
	p.t.Helper()
	p.send(protocol.Search{Filename: name})
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	res, err := protocol.ReadSearchResult(p.conn)
	if err != nil {
		p.t.Fatalf("read search result: %v", err)
	}
	return res
}

// expectClosed waits for the registry to drop the connection.
func (p *testPeer) expectClosed() {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := p.conn.Read(make([]byte, 16))
	if !errors.Is(err, io.EOF) {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			p.t.Fatal("connection was not closed by registry")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSearchWithNoPeers(t *testing.T) {
	srv := startServer(t)
	p := dialPeer(t, srv)
	p.send(protocol.Join{PeerID: 1})

	if res := p.search("anything.txt"); res.Found() {
		t.Fatalf("expected not found, got %v", res)
	}
	// an empty name is valid on the wire and never matches
	if _, err := p.conn.Write([]byte{byte(protocol.ActionSearch), 0}); err != nil {
		t.Fatal(err)
	}
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	res, err := protocol.ReadSearchResult(p.conn)
	if err != nil {
		t.Fatal(err)
	}
	if res.Found() {
		t.Fatalf("empty name: expected not found, got %v", res)
	}
}

func TestPublishThenSearch(t *testing.T) {
	srv := startServer(t)
	a := dialPeer(t, srv)
	a.send(protocol.Join{PeerID: 7}, protocol.Publish{Files: []string{"report.pdf"}})

	b := dialPeer(t, srv)
	b.send(protocol.Join{PeerID: 9})

	// a's own search orders its publish before b's lookup
	a.search("report.pdf")

	got := b.search("report.pdf")
	want := protocol.SearchResult{PeerID: 7, Addr: a.addr()}
	if got != want {
		t.Fatalf("search = %v, want %v", got, want)
	}
}

func TestLastWriteWins(t *testing.T) {
	srv := startServer(t)
	a := dialPeer(t, srv)
	a.send(protocol.Join{PeerID: 1}, protocol.Publish{Files: []string{"x.txt"}})
	a.search("x.txt")

	b := dialPeer(t, srv)
	b.send(protocol.Join{PeerID: 2}, protocol.Publish{Files: []string{"x.txt"}})

	got := b.search("x.txt")
	if got.PeerID != 2 || got.Addr != b.addr() {
		t.Fatalf("search = %v, want peer 2 at %s", got, b.addr())
	}
}

func TestFragmentedAndCoalesced(t *testing.T) {
	srv := startServer(t)
	p := dialPeer(t, srv)

	var wire []byte
	for _, m := range []protocol.Message{
		protocol.Join{PeerID: 3},
		protocol.Publish{Files: []string{"one", "two", "three"}},
		protocol.Search{Filename: "two"},
	} {
		b, err := m.Encode()
		if err != nil {
			t.Fatal(err)
		}
		wire = append(wire, b...)
	}
	for i := range wire {
		if _, err := p.conn.Write(wire[i : i+1]); err != nil {
			t.Fatal(err)
		}
	}

	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	res, err := protocol.ReadSearchResult(p.conn)
	if err != nil {
		t.Fatal(err)
	}
	if res.PeerID != 3 {
		t.Fatalf("search = %v, want peer 3", res)
	}

	want := []string{"one", "three", "two"}
	var got []string
	for _, f := range srv.Files() {
		got = append(got, f.Name)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("indexed files (-want +got):\n%s", diff)
	}
}

func TestCommandsBeforeJoinDropConnection(t *testing.T) {
	srv := startServer(t)

	p := dialPeer(t, srv)
	p.send(protocol.Search{Filename: "x"})
	p.expectClosed()

	q := dialPeer(t, srv)
	q.send(protocol.Publish{Files: []string{"x"}})
	q.expectClosed()

	waitFor(t, "dropped connections to be untracked", func() bool { return srv.ConnectionCount() == 0 })
	if n := len(srv.Files()); n != 0 {
		t.Fatalf("publish before join indexed %d files", n)
	}
}

func TestMalformedInputDropsConnection(t *testing.T) {
	srv := startServer(t)

	p := dialPeer(t, srv)
	p.send(protocol.Join{PeerID: 4})
	if _, err := p.conn.Write([]byte{0x42, 0x00}); err != nil {
		t.Fatal(err)
	}
	p.expectClosed()

	zero := dialPeer(t, srv)
	if _, err := zero.conn.Write([]byte{0x00, 0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	zero.expectClosed()

	fetch := dialPeer(t, srv)
	fetch.send(protocol.Join{PeerID: 5}, protocol.Fetch{Filename: "x"})
	fetch.expectClosed()

	waitFor(t, "peers to be removed", func() bool { return len(srv.Peers()) == 0 })
}

func TestDisconnectDoesNotAffectOthers(t *testing.T) {
	srv := startServer(t)

	a := dialPeer(t, srv)
	a.send(protocol.Join{PeerID: 1}, protocol.Publish{Files: []string{"a.txt"}})
	a.search("a.txt")
	a.conn.Close()

	waitFor(t, "peer 1 to leave", func() bool { return len(srv.Peers()) == 0 })

	b := dialPeer(t, srv)
	b.send(protocol.Join{PeerID: 2}, protocol.Publish{Files: []string{"b.txt"}})
	if res := b.search("b.txt"); res.PeerID != 2 {
		t.Fatalf("b.txt = %v, want peer 2", res)
	}
	// the record for a.txt is kept but its owner is gone
	if res := b.search("a.txt"); res.Found() {
		t.Fatalf("a.txt = %v, want not found", res)
	}
	if n := len(srv.Files()); n != 2 {
		t.Fatalf("files = %d, want 2 (no pruning)", n)
	}
}

func TestRejoinEvictsOldConnection(t *testing.T) {
	srv := startServer(t)

	old := dialPeer(t, srv)
	old.send(protocol.Join{PeerID: 7}, protocol.Publish{Files: []string{"report.pdf"}})
	old.search("report.pdf")

	fresh := dialPeer(t, srv)
	fresh.send(protocol.Join{PeerID: 7})

	other := dialPeer(t, srv)
	other.send(protocol.Join{PeerID: 9})
	fresh.search("report.pdf")

	if res := other.search("report.pdf"); res.Addr != fresh.addr() {
		t.Fatalf("report.pdf resolves to %s, want new location %s", res.Addr, fresh.addr())
	}

	// the evicted connection is anonymous again
	old.send(protocol.Publish{Files: []string{"stale"}})
	old.expectClosed()

	waitFor(t, "evicted connection to be untracked", func() bool { return srv.ConnectionCount() == 2 })
	if res := other.search("report.pdf"); res.PeerID != 7 || res.Addr != fresh.addr() {
		t.Fatalf("after old close: %v, want peer 7 at %s", res, fresh.addr())
	}
}

func TestRepeatedJoinIsIdempotent(t *testing.T) {
	srv := startServer(t)
	p := dialPeer(t, srv)
	p.send(protocol.Join{PeerID: 11}, protocol.Join{PeerID: 11}, protocol.Publish{Files: []string{"f"}})
	if res := p.search("f"); res.PeerID != 11 {
		t.Fatalf("search = %v, want peer 11", res)
	}
	if n := len(srv.Peers()); n != 1 {
		t.Fatalf("peers = %d, want 1", n)
	}
}

func TestPruneOnDisconnect(t *testing.T) {
	srv := startServer(t, WithPruneOnDisconnect())

	a := dialPeer(t, srv)
	a.send(protocol.Join{PeerID: 1}, protocol.Publish{Files: []string{"gone.txt"}})
	a.search("gone.txt")
	a.conn.Close()
	waitFor(t, "files to be pruned", func() bool { return len(srv.Files()) == 0 })

	back := dialPeer(t, srv)
	back.send(protocol.Join{PeerID: 1})
	if res := back.search("gone.txt"); res.Found() {
		t.Fatalf("pruned file resolved to %v", res)
	}
}

func TestStatus(t *testing.T) {
	srv := startServer(t)
	p := dialPeer(t, srv)
	p.send(protocol.Join{PeerID: 21}, protocol.Publish{Files: []string{"a", "b"}})
	p.search("missing")

	status := srv.GetStatus()
	for _, want := range []string{"Joined Peers: 1", "Indexed Files: 2", "Searches: 1 (1 misses)"} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}
	if peers := srv.GetPeersList(); len(peers) != 1 {
		t.Errorf("peers list = %v", peers)
	}
}

func TestQueriesAfterStop(t *testing.T) {
	srv := startServer(t)
	srv.Stop()
	if peers := srv.Peers(); peers != nil {
		t.Fatalf("expected nil after stop, got %v", peers)
	}
}

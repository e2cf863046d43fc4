package protocol

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func encodeAll(t *testing.T, msgs ...Message) []byte {
	t.Helper()
	var out []byte
	for _, m := range msgs {
		b, err := m.Encode()
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, b...)
	}
	return out
}

func drain(t *testing.T, f *Framer) []Message {
	t.Helper()
	var got []Message
	for f.Ready() {
		m, err := f.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, m)
	}
	return got
}

func TestFramerByteAtATime(t *testing.T) {
	want := []Message{
		Join{PeerID: 9},
		Publish{Files: []string{"a.txt", "b.txt"}},
		Search{Filename: "a.txt"},
	}
	wire := encodeAll(t, want...)

	var f Framer
	var got []Message
	for i := range wire {
		f.Write(wire[i : i+1])
		got = append(got, drain(t, &f)...)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if f.Buffered() != 0 {
		t.Fatalf("%d bytes left over", f.Buffered())
	}
}

func TestFramerCoalesced(t *testing.T) {
	want := []Message{
		Join{PeerID: 1},
		Publish{},
		Search{Filename: "x"},
		Search{Filename: "y"},
	}
	wire := encodeAll(t, want...)
	// trailing partial JOIN must stay buffered
	wire = append(wire, 0x00, 0x00)

	var f Framer
	f.Write(wire)
	got := drain(t, &f)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if f.Buffered() != 2 {
		t.Fatalf("buffered = %d, want 2", f.Buffered())
	}
	if _, err := f.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestFramerMalformed(t *testing.T) {
	var f Framer
	f.Write([]byte{0x7f, 0x00})
	if !f.Ready() {
		t.Fatal("malformed input should be reported as ready")
	}
	if _, err := f.Next(); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	f.Reset()
	if f.Buffered() != 0 || f.Ready() {
		t.Fatal("reset framer should be empty")
	}
}

package peer

import (
	"bytes"
	"strings"
	"testing"
)

func newTestShell(t *testing.T, readName func(string) string) (*Shell, *bytes.Buffer) {
	t.Helper()
	srv := startRegistry(t)
	shared := t.TempDir()
	writeFile(t, shared, "song.mp3", "la la")
	p := startPeer(t, srv.Addr(), 12, shared)
	var out bytes.Buffer
	return NewShell(p, &out, readName), &out
}

func TestShellFlow(t *testing.T) {
	var asked []string
	sh, out := newTestShell(t, func(label string) string {
		asked = append(asked, label)
		return "song.mp3"
	})

	steps := []struct {
		line string
		want string
	}{
		{"publish", "Please JOIN the network before issuing a PUBLISH"},
		{"SEARCH song.mp3", "Must JOIN the network before SEARCH"},
		{"JOIN", "Joined registry as peer 12"},
		{"PUBLISH", "Published 1 files"},
		{"SEARCH", "File found at\nPeer 12\n127.0.0.1:"},
		{"search nothing.here", "File not indexed by registry"},
		{"FETCH nothing.here", "File not indexed by registry"},
		{"FETCH ../x", "Error:"},
		{"STATUS", "State: JOINED"},
		{"bogus", usage},
	}
	for _, step := range steps {
		out.Reset()
		if !sh.Execute(step.line) {
			t.Fatalf("%q ended the shell", step.line)
		}
		if !strings.Contains(out.String(), step.want) {
			t.Errorf("%q: output %q does not contain %q", step.line, out.String(), step.want)
		}
	}
	if len(asked) != 1 {
		t.Errorf("filename prompted %d times, want 1", len(asked))
	}

	if sh.Execute("exit") {
		t.Error("exit did not end the shell")
	}
	if !sh.Execute("   ") {
		t.Error("blank line ended the shell")
	}
}

func TestShellEmptyFilename(t *testing.T) {
	sh, out := newTestShell(t, func(string) string { return "  " })
	sh.Execute("JOIN")
	out.Reset()
	sh.Execute("FETCH")
	if !strings.Contains(out.String(), "No filename provided.") {
		t.Errorf("output = %q", out.String())
	}
}

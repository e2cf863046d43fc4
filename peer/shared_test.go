package peer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tarun-kavipurapu/p2p-share/pkg/protocol"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListSharedRegularFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "b")
	writeFile(t, dir, "a.txt", "a")
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, "a.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	names, skipped, err := ListShared(dir)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.txt", "b.txt"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if len(skipped) != 0 {
		t.Errorf("skipped = %v, want none", skipped)
	}
}

func TestListSharedSkipsLongNames(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("x", protocol.MaxNameLen+1)
	writeFile(t, dir, long, "")
	writeFile(t, dir, "ok.txt", "")

	names, skipped, err := ListShared(dir)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"ok.txt"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if len(skipped) != 1 || skipped[0].Name != long || !errors.Is(skipped[0].Reason, protocol.ErrNameTooLong) {
		t.Errorf("skipped = %v, want %s with ErrNameTooLong", skipped, long[:10])
	}
}

func TestListSharedEmptyAndMissing(t *testing.T) {
	names, _, err := ListShared(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("names = %v, want empty", names)
	}

	if _, _, err := ListShared(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing dir: err = %v, want ErrNotExist", err)
	}
}

func TestCheckLocalName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"report.pdf", true},
		{"with space.txt", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../etc/passwd", false},
		{"dir/file", false},
		{`dir\file`, false},
		{strings.Repeat("y", protocol.MaxNameLen+1), false},
	}
	for _, tt := range tests {
		err := checkLocalName(tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("checkLocalName(%q) = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

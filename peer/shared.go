package peer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tarun-kavipurapu/p2p-share/pkg/logger"
	"tarun-kavipurapu/p2p-share/pkg/protocol"
)

// ErrBadName is returned for names that cannot be used as a plain file in
// the shared or download directory.
var ErrBadName = errors.New("filename must be a plain name without path separators")

// Skipped is a shared file left out of a PUBLISH.
type Skipped struct {
	Name   string
	Reason error
}

// ListShared returns the regular files in dir, sorted by name, that fit in
// one PUBLISH message. Symlinks, directories and devices are ignored.
// Names over the wire limit are reported in skipped.
func ListShared(dir string) (names []string, skipped []Skipped, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read shared directory %s: %w", dir, err)
	}

	names = make([]string, 0, len(entries))
	size := protocol.PublishHeaderSize
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if err := protocol.CheckName(name); err != nil {
			logger.Sugar.Warnf("[Shared] skipping file: name=%q err=%v", name, err)
			skipped = append(skipped, Skipped{Name: name, Reason: err})
			continue
		}
		if size+len(name)+1 > protocol.MaxPublishSize {
			logger.Sugar.Warnf("[Shared] skipping file: name=%q err=%v", name, protocol.ErrPublishTooBig)
			skipped = append(skipped, Skipped{Name: name, Reason: protocol.ErrPublishTooBig})
			continue
		}
		size += len(name) + 1
		names = append(names, name)
	}
	return names, skipped, nil
}

// checkLocalName rejects names that would escape a directory when joined to it.
func checkLocalName(name string) error {
	if err := protocol.CheckName(name); err != nil {
		return err
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

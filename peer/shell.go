package peer

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/c-bata/go-prompt"

	"tarun-kavipurapu/p2p-share/pkg/logger"
	"tarun-kavipurapu/p2p-share/pkg/protocol"
)

// Commands are the suggestions offered by the interactive peer shell.
var Commands = []prompt.Suggest{
	{Text: "JOIN", Description: "Join the registry"},
	{Text: "PUBLISH", Description: "Publish the shared directory"},
	{Text: "SEARCH", Description: "Find which peer owns a file"},
	{Text: "FETCH", Description: "Download a file from its owner"},
	{Text: "STATUS", Description: "Show peer status"},
	{Text: "HELP", Description: "Show help"},
	{Text: "EXIT", Description: "Leave and exit"},
}

const usage = "Invalid command. Please enter JOIN, PUBLISH, SEARCH, FETCH, or EXIT."

// Shell runs one operator command at a time against a PeerServer.
type Shell struct {
	p   *PeerServer
	out io.Writer
	// readName asks the operator for a filename when the command line has
	// none.
	readName func(label string) string
}

func NewShell(p *PeerServer, out io.Writer, readName func(string) string) *Shell {
	return &Shell{p: p, out: out, readName: readName}
}

// Execute runs one line of input. It returns false once the operator asked
// to exit.
func (s *Shell) Execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	// the rest of the line is the filename, which may contain spaces
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch strings.ToUpper(fields[0]) {
	case "JOIN":
		s.join()
	case "PUBLISH":
		s.publish()
	case "SEARCH":
		s.search(arg)
	case "FETCH":
		s.fetch(arg)
	case "STATUS":
		fmt.Fprint(s.out, s.p.GetStatus())
	case "HELP":
		s.help()
	case "EXIT", "QUIT":
		return false
	default:
		fmt.Fprintln(s.out, usage)
	}
	return true
}

func (s *Shell) join() {
	if err := s.p.Join(); err != nil {
		fmt.Fprintf(s.out, "Error: failed to join registry: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Joined registry as peer %s\n", s.p.cfg.PeerID)
}

func (s *Shell) publish() {
	if s.p.State() != StateJoined {
		fmt.Fprintln(s.out, "Error: Please JOIN the network before issuing a PUBLISH")
		return
	}
	n, skipped, err := s.p.Publish()
	for _, sk := range skipped {
		fmt.Fprintf(s.out, "Skipping file %q: %v\n", sk.Name, sk.Reason)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: publish failed: %v\n", err)
		return
	}
	if n == 0 {
		fmt.Fprintf(s.out, "No files to publish in %s\n", s.p.cfg.SharedDir)
		return
	}
	fmt.Fprintf(s.out, "Published %d files\n", n)
}

func (s *Shell) search(name string) {
	if s.p.State() != StateJoined {
		fmt.Fprintln(s.out, "Error: Must JOIN the network before SEARCH")
		return
	}
	if name = s.filename(name); name == "" {
		return
	}
	res, err := s.p.Search(name)
	if err != nil {
		s.reportErr(err)
		return
	}
	if !res.Found() {
		fmt.Fprintln(s.out, "File not indexed by registry")
		return
	}
	fmt.Fprintln(s.out, "File found at")
	fmt.Fprintf(s.out, "Peer %s\n", res.PeerID)
	fmt.Fprintf(s.out, "%s\n", res.Addr)
}

func (s *Shell) fetch(name string) {
	if s.p.State() != StateJoined {
		fmt.Fprintln(s.out, "Error: Must JOIN the network before FETCH")
		return
	}
	if name = s.filename(name); name == "" {
		return
	}
	n, err := s.p.Fetch(name)
	if err != nil {
		s.reportErr(err)
		return
	}
	fmt.Fprintf(s.out, "File transfer complete: %d bytes received\n", n)
}

func (s *Shell) filename(name string) string {
	if name == "" && s.readName != nil {
		name = strings.TrimSpace(s.readName("Enter filename: "))
	}
	if name == "" {
		fmt.Fprintln(s.out, "No filename provided.")
	}
	return name
}

func (s *Shell) reportErr(err error) {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrNotIndexed):
		fmt.Fprintln(s.out, "File not indexed by registry")
	case errors.As(err, &statusErr):
		fmt.Fprintf(s.out, "Peer returned error code: %d (%v)\n", statusErr.Status, statusErr)
	case errors.Is(err, protocol.ErrNameTooLong):
		fmt.Fprintf(s.out, "Error: Filename too long (max %d bytes)\n", protocol.MaxNameLen)
	case errors.Is(err, ErrNotJoined):
		fmt.Fprintln(s.out, "Error: connection to registry lost, JOIN again")
	default:
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	logger.Sugar.Warnf("[Shell] command failed: err=%v", err)
}

func (s *Shell) help() {
	fmt.Fprintln(s.out, "Available commands:")
	fmt.Fprintln(s.out, "  JOIN              - Join the registry")
	fmt.Fprintln(s.out, "  PUBLISH           - Publish files in the shared directory")
	fmt.Fprintln(s.out, "  SEARCH [name]     - Find which peer owns a file")
	fmt.Fprintln(s.out, "  FETCH [name]      - Download a file from its owner")
	fmt.Fprintln(s.out, "  STATUS            - Show peer status")
	fmt.Fprintln(s.out, "  EXIT              - Leave and exit")
}

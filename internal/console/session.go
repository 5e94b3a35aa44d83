package console

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pckrishnadas88/k-shell-go/internal/registry"
)

// ErrExit is returned when the operator asks the server to shut down.
var ErrExit = errors.New("operator requested exit")

// Directory is the part of the peer registry the console needs.
type Directory interface {
	Find(id int64) (*registry.Peer, bool)
	List() []registry.PeerInfo
}

// Session is the operator's attach state: either unattached, or attached to
// one peer id. It belongs to the console goroutine and is not shared.
type Session struct {
	dir      Directory
	out      *printer
	attached bool
	peerID   int64
}

// NewSession starts unattached and reports to out.
func NewSession(dir Directory, out io.Writer, colored bool) *Session {
	return &Session{dir: dir, out: newPrinter(out, colored)}
}

// Attached returns the current peer id, if any.
func (s *Session) Attached() (int64, bool) {
	return s.peerID, s.attached
}

// Prompt is the prompt for the current state.
func (s *Session) Prompt() string {
	if s.attached {
		return fmt.Sprintf("client-%d> ", s.peerID)
	}
	return "admin> "
}

// Handle applies one operator line. It returns ErrExit on `exit`; every other
// outcome is reported through the printer.
func (s *Session) Handle(line string) error {
	line = strings.TrimRight(line, "\r\n")
	cmd := strings.TrimSpace(line)

	switch {
	case cmd == "":
		return nil
	case cmd == "list":
		s.list()
		return nil
	case cmd == "exit":
		return ErrExit
	case cmd == "switch" || strings.HasPrefix(cmd, "switch "):
		s.switchTo(strings.TrimSpace(strings.TrimPrefix(cmd, "switch")))
		return nil
	}

	if !s.attached {
		s.out.errorf("Invalid command. Available: list, switch <id>, exit")
		return nil
	}
	if cmd == "back" {
		s.detach()
		return nil
	}
	s.send(line)
	return nil
}

func (s *Session) list() {
	peers := s.dir.List()
	s.out.headerf("Connected clients:")
	for _, p := range peers {
		s.out.plainf("ID: %d - IP: %s - Conn: %s", p.ID, p.Addr, p.Tag)
	}
}

func (s *Session) switchTo(arg string) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		s.out.errorf("Usage: switch <id>")
		return
	}

	if s.attached && id == s.peerID {
		s.out.infof("Already connected to client %d", id)
		return
	}

	if _, ok := s.dir.Find(id); !ok {
		s.out.errorf("Client ID %d not found", id)
		return
	}

	wasAttached := s.attached
	s.attached, s.peerID = true, id
	if wasAttached {
		s.out.successf("[+] Switched to client %d", id)
		return
	}
	s.out.successf("[+] Switched to client %d. Commands:", id)
	s.out.plainf("  'back' - Return to admin mode")
	s.out.plainf("  'switch <id>' - Switch to another client")
}

func (s *Session) detach() {
	s.attached, s.peerID = false, 0
}

// send routes free text to the attached peer. If the peer is gone or the write
// fails, the session falls back to unattached.
func (s *Session) send(text string) {
	peer, ok := s.dir.Find(s.peerID)
	if !ok {
		s.out.errorf("Client ID %d disconnected", s.peerID)
		s.detach()
		return
	}
	if err := peer.SendLine(text); err != nil {
		s.out.errorf("send failed: %v", err)
		s.detach()
	}
}

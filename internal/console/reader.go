package console

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"golang.org/x/term"

	"github.com/pckrishnadas88/k-shell-go/internal/protocol"
)

// StreamReader reads lines from a plain stream and prints the prompt itself.
// Used when stdin is not a terminal.
type StreamReader struct {
	br     *bufio.Reader
	out    io.Writer
	prompt string
}

// NewStreamReader reads lines of at most maxLine bytes from r, writing
// prompts to out. Longer lines are skipped with protocol.ErrLineTooLong.
func NewStreamReader(r io.Reader, out io.Writer, maxLine int) *StreamReader {
	if maxLine <= 0 {
		maxLine = 4096
	}
	return &StreamReader{br: bufio.NewReaderSize(r, maxLine), out: out}
}

func (r *StreamReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

func (r *StreamReader) ReadLine() (string, error) {
	if r.prompt != "" {
		fmt.Fprint(r.out, r.prompt)
	}
	return protocol.ReadLine(r.br)
}

// TerminalReader edits lines on a raw-mode terminal. The terminal doubles as
// the display: writes from other goroutines are drawn above the line being
// edited instead of corrupting it.
type TerminalReader struct {
	t *term.Terminal
}

// NewTerminalReader wraps rw, which must already be in raw mode.
func NewTerminalReader(rw io.ReadWriter) *TerminalReader {
	return &TerminalReader{t: term.NewTerminal(rw, "")}
}

func (r *TerminalReader) SetPrompt(prompt string) {
	r.t.SetPrompt(prompt)
}

func (r *TerminalReader) ReadLine() (string, error) {
	return r.t.ReadLine()
}

// Write prints above the prompt; safe for concurrent use.
func (r *TerminalReader) Write(p []byte) (int, error) {
	return r.t.Write(p)
}

// LockedWriter serializes writes to an underlying writer so that lines from
// several workers and the console never interleave mid-line.
type LockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLockedWriter wraps w.
func NewLockedWriter(w io.Writer) *LockedWriter {
	return &LockedWriter{w: w}
}

func (l *LockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Package console is the operator's interactive loop. The operator lists the
// connected peers, attaches to one with `switch <id>` and types lines that are
// written straight into that peer's connection.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pckrishnadas88/k-shell-go/internal/protocol"
)

// LineReader supplies operator input one line at a time.
type LineReader interface {
	ReadLine() (string, error)
	SetPrompt(prompt string)
}

// Console drives a Session from a LineReader.
type Console struct {
	session *Session
	in      LineReader
	logger  *slog.Logger
}

// New builds a console over dir. Replies go to out, which may be shared with
// the workers printing peer output and must tolerate concurrent writes.
func New(dir Directory, in LineReader, out io.Writer, colored bool, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		session: NewSession(dir, out, colored),
		in:      in,
		logger:  logger,
	}
}

// Session exposes the attach state, mainly for tests.
func (c *Console) Session() *Session {
	return c.session
}

// Run reads and handles lines until the operator exits, input ends or ctx is
// cancelled between lines. Exit and end of input both return ErrExit.
func (c *Console) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.in.SetPrompt(c.session.Prompt())
		line, err := c.in.ReadLine()
		if errors.Is(err, protocol.ErrLineTooLong) {
			c.session.out.errorf("Input ignored: %v", err)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Info("console input closed")
				return ErrExit
			}
			return fmt.Errorf("read operator input: %w", err)
		}

		if err := c.session.Handle(line); err != nil {
			if errors.Is(err, ErrExit) {
				c.logger.Info("operator requested shutdown")
			}
			return err
		}
	}
}

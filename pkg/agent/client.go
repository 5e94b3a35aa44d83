// Package agent is the peer side of k-shell: it connects to the server, runs
// each command line it receives and answers with the output followed by the
// response sentinel.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pckrishnadas88/k-shell-go/internal/protocol"
	"github.com/pckrishnadas88/k-shell-go/internal/transport"
)

// Replies for commands that produce no shell output of their own.
const (
	ReplyInvalid   = "Invalid command\n"
	ReplyFailed    = "Command failed\n"
	ReplyChdirOK   = "Directory changed\n"
	ReplyChdirFail = "cd: No such file or directory\n"
	ReplyTooLong   = "Command too long\n"
)

// DefaultMaxCommand is the longest command line, newline included, the agent
// accepts.
const DefaultMaxCommand = 64 * 1024

// ExitCommand ends the session when received from the server.
const ExitCommand = "exit"

// Client holds the persistent connection to the server.
type Client struct {
	conn     net.Conn
	sentinel string
	shell    string
	dir      string // working directory for commands; changed by `cd`
	maxLine  int
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSentinel overrides the response terminator.
func WithSentinel(s string) Option {
	return func(c *Client) { c.sentinel = s }
}

// WithShell sets the shell used to run commands (default "sh").
func WithShell(shell string) Option {
	return func(c *Client) { c.shell = shell }
}

// WithDir sets the initial working directory.
func WithDir(dir string) Option {
	return func(c *Client) { c.dir = dir }
}

// WithMaxCommand limits the length of a command line. Longer lines are
// answered with ReplyTooLong and not executed.
func WithMaxCommand(n int) Option {
	return func(c *Client) { c.maxLine = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a new Client instance.
func NewClient(opts ...Option) *Client {
	c := &Client{
		sentinel: protocol.DefaultSentinel,
		shell:    "sh",
		maxLine:  DefaultMaxCommand,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.dir = wd
		}
	}
	return c
}

// Connect dials the server and keeps the connection on the Client.
func (c *Client) Connect(ctx context.Context, opts transport.Options) error {
	conn, err := transport.Dial(ctx, opts)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Attach uses an already established connection, e.g. one end of a pipe.
func (c *Client) Attach(conn net.Conn) {
	c.conn = conn
}

// Close gracefully closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Dir returns the directory the next command will run in.
func (c *Client) Dir() string {
	return c.dir
}

// Run executes commands until the server sends `exit`, closes the connection
// or ctx is cancelled. A server-side close is not an error.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("agent: not connected")
	}
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	br := bufio.NewReaderSize(c.conn, c.maxLine)
	for {
		command, err := protocol.ReadLine(br)
		if errors.Is(err, protocol.ErrLineTooLong) {
			c.logger.Warn("command rejected", "error", err)
			if err := protocol.WriteResponse(c.conn, []byte(ReplyTooLong), c.sentinel); err != nil {
				return fmt.Errorf("send output: %w", err)
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				c.logger.Info("server disconnected")
				return nil
			}
			return fmt.Errorf("receive command: %w", err)
		}

		if command == ExitCommand {
			c.logger.Info("received exit command")
			return nil
		}

		c.logger.Info("executing", "command", command)
		if err := protocol.WriteResponse(c.conn, c.Execute(ctx, command), c.sentinel); err != nil {
			return fmt.Errorf("send output: %w", err)
		}
	}
}

// Execute runs one command and returns what should be sent back, without the
// sentinel. `cd` is handled in-process so it persists across commands.
func (c *Client) Execute(ctx context.Context, command string) []byte {
	if strings.TrimSpace(command) == "" {
		return []byte(ReplyInvalid)
	}
	if path, ok := strings.CutPrefix(command, "cd "); ok {
		return []byte(c.chdir(strings.TrimSpace(path)))
	}

	cmd := exec.CommandContext(ctx, c.shell, "-c", command)
	cmd.Dir = c.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			c.logger.Warn("command failed to start", "command", command, "error", err)
			return []byte(ReplyFailed)
		}
	}
	return out
}

func (c *Client) chdir(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		c.logger.Warn("chdir failed", "path", path, "error", err)
		return ReplyChdirFail
	}
	c.dir = filepath.Clean(path)
	return ReplyChdirOK
}

// Package transport opens the listeners peers connect to and the dialers
// agents use. Both kinds hand out plain net.Conn byte streams.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
)

// Kind selects the wire transport.
type Kind string

const (
	TCP       Kind = "tcp"
	WebSocket Kind = "websocket"
)

// DefaultWSPath is the HTTP path the WebSocket listener upgrades on.
const DefaultWSPath = "/agent"

// Options describe a listener or a dial target.
type Options struct {
	Kind   Kind
	Addr   string
	WSPath string
}

// ParseKind validates a transport name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case TCP, WebSocket:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown transport %q (want %q or %q)", s, TCP, WebSocket)
	}
}

// Listen opens a listener for opts.
func Listen(ctx context.Context, opts Options, logger *slog.Logger) (net.Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch opts.Kind {
	case TCP, "":
		return listenTCP(ctx, opts.Addr)
	case WebSocket:
		return listenWebSocket(ctx, opts.Addr, wsPath(opts.WSPath), logger)
	default:
		return nil, fmt.Errorf("listen: unknown transport %q", opts.Kind)
	}
}

// Dial connects to a server listening with opts.
func Dial(ctx context.Context, opts Options) (net.Conn, error) {
	switch opts.Kind {
	case TCP, "":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		tuneConn(conn)
		return conn, nil
	case WebSocket:
		return dialWebSocket(ctx, opts.Addr, wsPath(opts.WSPath))
	default:
		return nil, fmt.Errorf("dial: unknown transport %q", opts.Kind)
	}
}

func wsPath(p string) string {
	if p == "" {
		return DefaultWSPath
	}
	return p
}

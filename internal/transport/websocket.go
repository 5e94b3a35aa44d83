package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsListener serves HTTP on addr and turns every upgraded request on path
// into a net.Conn returned from Accept.
type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	conns    chan net.Conn
	closed   chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

func listenWebSocket(ctx context.Context, addr, path string, logger *slog.Logger) (net.Listener, error) {
	ln, err := listenTCP(ctx, addr)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are not browsers; there is no origin to check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.serveWS)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("websocket listener stopped", "error", err)
		}
	}()
	return l, nil
}

func (l *wsListener) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	conn := NewWebSocketConn(ws)
	select {
	case l.conns <- conn:
	case <-l.closed:
		conn.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.srv.Close()
	})
	return err
}

func (l *wsListener) Addr() net.Addr {
	return l.ln.Addr()
}

func dialWebSocket(ctx context.Context, addr, path string) (net.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (status %s)", u.String(), err, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", u.String(), err)
	}
	return NewWebSocketConn(ws), nil
}

// wsConn presents a WebSocket as a byte stream. Message boundaries are not
// preserved: a read may return part of a message, and consecutive messages
// run together exactly like TCP segments.
type wsConn struct {
	ws *websocket.Conn

	rmu sync.Mutex
	r   io.Reader // current message, nil between messages

	wmu sync.Mutex
}

// NewWebSocketConn adapts ws to net.Conn. Writes are sent as binary messages.
func NewWebSocketConn(ws *websocket.Conn) net.Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for {
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, mapCloseError(err)
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// mapCloseError turns an orderly WebSocket close into io.EOF so readers treat
// it like a closed TCP stream.
func mapCloseError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("websocket closed: %w", io.EOF)
	}
	return err
}

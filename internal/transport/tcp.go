package transport

import (
	"context"
	"fmt"
	"net"
)

// tcpListener sets socket options on every accepted connection.
type tcpListener struct {
	net.Listener
}

func (l tcpListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	tuneConn(conn)
	return conn, nil
}

func listenTCP(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlListener}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return tcpListener{Listener: ln}, nil
}

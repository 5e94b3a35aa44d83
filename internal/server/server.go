// Package server runs the accept loop and the fixed worker pool.
//
// Accepted connections are queued; each of the PoolSize workers takes one,
// registers it as a peer and stays bound to that peer until it disconnects.
// At most PoolSize peers are served at once; the rest wait in the queue.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pckrishnadas88/k-shell-go/internal/protocol"
	"github.com/pckrishnadas88/k-shell-go/internal/registry"
	"github.com/pckrishnadas88/k-shell-go/internal/taskqueue"
)

const (
	DefaultPoolSize   = 4
	DefaultBufferSize = 4096
)

// Options tunes the worker pool.
type Options struct {
	PoolSize   int
	BufferSize int
	Sentinel   string
}

// Server owns the task queue and the workers, and shares the registry with
// the operator console.
type Server struct {
	opts     Options
	queue    *taskqueue.Queue
	registry *registry.Registry
	ids      registry.Sequence
	display  io.Writer // operator output; must be safe for concurrent writes
	logger   *slog.Logger

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
	busy      atomic.Int32
	closing   atomic.Bool
}

// New creates a server that registers peers in reg and prints their output
// to display.
func New(opts Options, reg *registry.Registry, display io.Writer, logger *slog.Logger) *Server {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.BufferSize <= 1 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Sentinel == "" {
		opts.Sentinel = protocol.DefaultSentinel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:     opts,
		queue:    taskqueue.New(),
		registry: reg,
		display:  display,
		logger:   logger,
	}
}

// Start launches the worker pool. Calling it again has no effect.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.opts.PoolSize; i++ {
			s.wg.Add(1)
			go s.worker(i)
		}
		s.logger.Info("worker pool started", "workers", s.opts.PoolSize)
	})
}

// Submit queues an accepted connection for the next free worker.
func (s *Server) Submit(conn net.Conn) error {
	if err := s.queue.Enqueue(taskqueue.NewTask(conn)); err != nil {
		conn.Close()
		return fmt.Errorf("submit %s: %w", conn.RemoteAddr(), err)
	}
	return nil
}

// Serve starts the workers and accepts connections from ln until ctx is
// cancelled or ln is closed. It always closes ln before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Start()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	s.logger.Info("accepting connections", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("accept loop stopped", "addr", ln.Addr().String())
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.logger.Debug("connection accepted", "addr", conn.RemoteAddr().String())
		if err := s.Submit(conn); err != nil {
			s.logger.Warn("dropping connection", "error", err)
		}
	}
}

// Close stops the pool: queued connections are closed, live peers are
// disconnected and Close waits for every worker to return.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		pending := s.queue.Close()
		for _, t := range pending {
			t.Conn.Close()
		}
		live := s.registry.CloseAll()
		s.wg.Wait()
		s.logger.Info("server stopped", "dropped_pending", len(pending), "disconnected", live)
	})
}

// Registry returns the peer registry shared with the console.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Pending returns the number of connections waiting for a worker.
func (s *Server) Pending() int {
	return s.queue.Len()
}

// Busy returns the number of workers currently bound to a peer.
func (s *Server) Busy() int {
	return int(s.busy.Load())
}

func (s *Server) worker(n int) {
	defer s.wg.Done()
	for {
		task, ok := s.queue.Dequeue()
		if !ok {
			s.logger.Debug("worker exiting", "worker", n)
			return
		}
		s.busy.Add(1)
		s.servePeer(n, task)
		s.busy.Add(-1)
	}
}

// servePeer registers the task's connection and reads from it until the
// agent goes away.
func (s *Server) servePeer(worker int, task taskqueue.Task) {
	peer := registry.NewPeer(s.ids.Next(), task.Conn, task.Addr)
	if err := s.registry.Add(peer); err != nil {
		// A full registry has already been reported by Add.
		peer.Close()
		s.logger.Debug("client rejected", "client_id", peer.ID, "addr", peer.Addr, "error", err)
		return
	}
	// A peer registered after CloseAll took its snapshot would never be
	// closed; closing is set before that snapshot.
	if s.closing.Load() {
		s.registry.Remove(peer.ID)
		return
	}

	s.logger.Info("client connected",
		"client_id", peer.ID,
		"addr", peer.Addr,
		"worker", worker,
		"queued_for", peer.ConnectedAt.Sub(task.AcceptedAt).String())
	fmt.Fprintf(s.display, "New client connected with ID %d\n", peer.ID)

	buf := make([]byte, s.opts.BufferSize-1)
	for {
		n, err := peer.Read(buf)
		if n > 0 {
			fmt.Fprintf(s.display, "[Client ID %d]: %s\n", peer.ID, protocol.Display(buf[:n], s.opts.Sentinel))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !peer.Closed() {
				s.logger.Debug("read failed", "client_id", peer.ID, "error", err)
			}
			break
		}
	}

	fmt.Fprintf(s.display, "Client ID %d disconnected\n", peer.ID)
	s.registry.Remove(peer.ID)
	s.logger.Info("client disconnected", "client_id", peer.ID, "addr", peer.Addr)
}

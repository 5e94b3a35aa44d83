package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pckrishnadas88/k-shell-go/internal/registry"
)

// syncBuffer is a display that tolerates concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, pool, capacity int) (*Server, *syncBuffer) {
	t.Helper()
	display := &syncBuffer{}
	reg := registry.New(capacity, testLogger())
	s := New(Options{PoolSize: pool}, reg, display, testLogger())
	s.Start()
	t.Cleanup(s.Close)
	return s, display
}

func TestServer_PeerOutputIsDisplayedWithoutSentinel(t *testing.T) {
	s, display := newTestServer(t, 1, 10)

	srvConn, agent := net.Pipe()
	require.NoError(t, s.Submit(srvConn))

	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)

	_, err := agent.Write([]byte("Directory changed\n##END##"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(display.String(), "[Client ID 1]: Directory changed\n\n")
	}, time.Second, 5*time.Millisecond)
	assert.NotContains(t, display.String(), "##END##")

	agent.Close()
	require.Eventually(t, func() bool { return s.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, display.String(), "Client ID 1 disconnected")
}

func TestServer_EveryConnectionServedExactlyOnce(t *testing.T) {
	const conns = 40
	s, display := newTestServer(t, 4, conns)

	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		srvConn, agent := net.Pipe()
		require.NoError(t, s.Submit(srvConn))

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer agent.Close()
			// net.Pipe writes block until the owning worker reads them.
			_, err := fmt.Fprintf(agent, "hello-%03d##END##", i)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return s.Registry().Len() == 0 && s.Pending() == 0 &&
			strings.Count(display.String(), "disconnected") == conns
	}, 5*time.Second, 10*time.Millisecond)

	out := display.String()
	assert.Equal(t, conns, strings.Count(out, "New client connected with ID"))
	for i := 0; i < conns; i++ {
		assert.Equalf(t, 1, strings.Count(out, fmt.Sprintf("hello-%03d", i)), "payload %d", i)
	}
	for id := 1; id <= conns; id++ {
		assert.Equalf(t, 1, strings.Count(out, fmt.Sprintf("New client connected with ID %d\n", id)), "id %d", id)
	}
}

func TestServer_PoolSizeCapsActivePeers(t *testing.T) {
	s, _ := newTestServer(t, 2, 10)

	agents := make([]net.Conn, 3)
	for i := range agents {
		srvConn, agent := net.Pipe()
		agents[i] = agent
		t.Cleanup(func() { agent.Close() })
		require.NoError(t, s.Submit(srvConn))
	}

	require.Eventually(t, func() bool {
		return s.Registry().Len() == 2 && s.Pending() == 1 && s.Busy() == 2
	}, time.Second, 5*time.Millisecond)

	// Give the third connection a chance to be picked up; it must not be.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, s.Pending())
	_, served := s.Registry().Find(3)
	assert.False(t, served)

	// The first two arrivals hold the workers; free one of them.
	agents[0].Close()

	require.Eventually(t, func() bool {
		_, ok := s.Registry().Find(3)
		return ok && s.Pending() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.Registry().Len())
}

func TestServer_IDsNeverReused(t *testing.T) {
	s, _ := newTestServer(t, 1, 10)

	var last int64
	for round := 0; round < 5; round++ {
		srvConn, agent := net.Pipe()
		require.NoError(t, s.Submit(srvConn))

		var info registry.PeerInfo
		require.Eventually(t, func() bool {
			list := s.Registry().List()
			if len(list) != 1 {
				return false
			}
			info = list[0]
			return true
		}, time.Second, 5*time.Millisecond)

		assert.Greater(t, info.ID, last)
		last = info.ID

		agent.Close()
		require.Eventually(t, func() bool { return s.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, int64(5), last)
}

func TestServer_RegistryFullDropsConnection(t *testing.T) {
	s, _ := newTestServer(t, 3, 1)

	srv1, agent1 := net.Pipe()
	defer agent1.Close()
	require.NoError(t, s.Submit(srv1))
	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)

	srv2, agent2 := net.Pipe()
	require.NoError(t, s.Submit(srv2))

	agent2.SetReadDeadline(time.Now().Add(time.Second))
	_, err := agent2.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "rejected connection must be closed")

	assert.Equal(t, 1, s.Registry().Len())
	_, ok := s.Registry().Find(1)
	assert.True(t, ok, "existing peer untouched")
}

func TestServer_RegistryFullIsLoggedOnce(t *testing.T) {
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := New(Options{PoolSize: 2}, registry.New(1, logger), &syncBuffer{}, logger)
	s.Start()
	t.Cleanup(s.Close)

	srv1, agent1 := net.Pipe()
	defer agent1.Close()
	require.NoError(t, s.Submit(srv1))
	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)

	srv2, agent2 := net.Pipe()
	require.NoError(t, s.Submit(srv2))
	agent2.SetReadDeadline(time.Now().Add(time.Second))
	_, err := agent2.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool { return s.Busy() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, strings.Count(logs.String(), "level=WARN"), logs.String())
	assert.Contains(t, logs.String(), "registry full")
}

func TestServer_ServeOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	display := &syncBuffer{}
	s := New(Options{PoolSize: 2}, registry.New(10, testLogger()), display, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)

	peer, ok := s.Registry().Find(1)
	require.True(t, ok)
	require.NoError(t, peer.SendLine("whoami"))

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "whoami\n", string(buf[:n]))

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	s.Close()
	assert.Equal(t, 0, s.Registry().Len())
	assert.Equal(t, 0, s.Busy())
}

func TestServer_CloseReleasesIdleAndQueued(t *testing.T) {
	display := &syncBuffer{}
	s := New(Options{PoolSize: 1}, registry.New(10, testLogger()), display, testLogger())
	s.Start()

	srv1, agent1 := net.Pipe()
	srv2, agent2 := net.Pipe()
	defer agent1.Close()
	defer agent2.Close()
	require.NoError(t, s.Submit(srv1))
	require.NoError(t, s.Submit(srv2))
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	agent2.SetReadDeadline(time.Now().Add(time.Second))
	_, err := agent2.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "queued connection closed on shutdown")

	srv3, _ := net.Pipe()
	assert.Error(t, s.Submit(srv3))
}

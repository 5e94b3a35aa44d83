package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/pckrishnadas88/k-shell-go/internal/config"
	"github.com/pckrishnadas88/k-shell-go/internal/console"
	"github.com/pckrishnadas88/k-shell-go/internal/logging"
	"github.com/pckrishnadas88/k-shell-go/internal/registry"
	"github.com/pckrishnadas88/k-shell-go/internal/server"
	"github.com/pckrishnadas88/k-shell-go/internal/transport"
)

type flags struct {
	config    string
	addr      string
	transport string
	pool      int
	capacity  int
	logLevel  string
	logFormat string
}

func main() {
	if err := newRootCmd(run).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd resolves the configuration and hands it to serve.
func newRootCmd(serve func(context.Context, *config.Config) error) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:          "kshell-server",
		Short:        "Accept agent connections and drive them from an operator console",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&f.addr, "addr", fmt.Sprintf(":%d", config.DefaultPort), "listen address")
	fs.StringVar(&f.transport, "transport", string(transport.TCP), "tcp or websocket")
	fs.IntVar(&f.pool, "pool", config.DefaultPoolSize, "number of worker goroutines")
	fs.IntVar(&f.capacity, "capacity", config.DefaultCapacity, "maximum registered clients")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "text", "text or json")
	return cmd
}

// loadConfig layers explicitly set flags over the config file.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	if fs.Changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if fs.Changed("transport") {
		cfg.Server.Transport = f.transport
	}
	if fs.Changed("pool") {
		cfg.Pool.Size = f.pool
	}
	if fs.Changed("capacity") {
		cfg.Registry.Capacity = f.capacity
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// An interactive terminal gets line editing and color; anything else
	// (pipes, scripts) is read line by line.
	var (
		display io.Writer
		input   console.LineReader
		colored bool
	)
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		defer term.Restore(fd, state)

		tr := console.NewTerminalReader(struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout})
		display, input, colored = tr, tr, true
	} else {
		lw := console.NewLockedWriter(os.Stdout)
		display, input = lw, console.NewStreamReader(os.Stdin, lw, cfg.Pool.BufferSize)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, display)

	kind, err := transport.ParseKind(cfg.Server.Transport)
	if err != nil {
		return err
	}
	ln, err := transport.Listen(ctx, transport.Options{
		Kind:   kind,
		Addr:   cfg.Server.Addr,
		WSPath: cfg.Server.WSPath,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("server listening", "addr", ln.Addr().String(), "transport", kind)

	reg := registry.New(cfg.Registry.Capacity, logger)
	srv := server.New(server.Options{
		PoolSize:   cfg.Pool.Size,
		BufferSize: cfg.Pool.BufferSize,
		Sentinel:   cfg.Protocol.Sentinel,
	}, reg, display, logger)
	con := console.New(reg, input, display, colored, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		// ReadLine cannot be interrupted, so the console runs detached and
		// a signal ends the group without waiting for the operator.
		done := make(chan error, 1)
		go func() { done <- con.Run(gctx) }()
		select {
		case err := <-done:
			return err
		case <-gctx.Done():
			return console.ErrExit
		}
	})

	err = g.Wait()
	srv.Close()

	if errors.Is(err, console.ErrExit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

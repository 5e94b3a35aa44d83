package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pckrishnadas88/k-shell-go/internal/logging"
	"github.com/pckrishnadas88/k-shell-go/internal/protocol"
	"github.com/pckrishnadas88/k-shell-go/internal/transport"
	"github.com/pckrishnadas88/k-shell-go/pkg/agent"
)

func main() {
	var (
		addr     string
		kind     string
		wsPath   string
		sentinel string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:          "kshell-agent",
		Short:        "Connect to a kshell-server and run the commands it sends",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := transport.ParseKind(kind)
			if err != nil {
				return err
			}
			if sentinel == "" {
				return fmt.Errorf("sentinel must not be empty")
			}

			logger := logging.New(logLevel, "text", os.Stderr)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := agent.NewClient(agent.WithSentinel(sentinel), agent.WithLogger(logger))
			if err := client.Connect(ctx, transport.Options{Kind: k, Addr: addr, WSPath: wsPath}); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer client.Close()
			logger.Info("connected to server", "addr", addr, "transport", k)

			return client.Run(ctx)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&addr, "addr", "127.0.0.1:8080", "server address")
	fs.StringVar(&kind, "transport", string(transport.TCP), "tcp or websocket")
	fs.StringVar(&wsPath, "ws-path", transport.DefaultWSPath, "WebSocket upgrade path")
	fs.StringVar(&sentinel, "sentinel", protocol.DefaultSentinel, "response terminator")
	fs.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// Command actionsyncd runs a WebSocket-listening sync daemon: every
// inbound connection is upgraded, wrapped in a server-role Node, and
// driven against one shared Log until it disconnects. It exists to
// exercise the node/transport/log stack end to end,
// wiring a Node against a concrete transport.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/juanpablocruz/actionsync/internal/config"
	"github.com/juanpablocruz/actionsync/internal/logging"
	logpkg "github.com/juanpablocruz/actionsync/pkg/log"
	"github.com/juanpablocruz/actionsync/pkg/node"
	"github.com/juanpablocruz/actionsync/pkg/store/memstore"
	"github.com/juanpablocruz/actionsync/pkg/transport/wsconn"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	root := &cobra.Command{
		Use:   "actionsyncd",
		Short: "actionsyncd accepts sync-node connections and relays actions between them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			if cfg.NodeID == "" {
				cfg.NodeID = uuid.NewString()
			}
			return serve(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML/JSON/TOML config file")
	if err := config.BindFlags(root, v); err != nil {
		panic(err)
	}
	return root
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.Configure(cfg.LogLevel)
	logger.Info().Str("node_id", cfg.NodeID).Str("addr", cfg.ListenAddr).Msg("actionsyncd: starting")

	l, err := logpkg.New(cfg.NodeID, memstore.New(), logpkg.WithLogger(logger))
	if err != nil {
		return err
	}

	var mu sync.Mutex
	nodes := map[*node.Node]struct{}{}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsconn.Accept(w, r, wsconn.WithLogger(logger))
		if err != nil {
			logger.Warn().Err(err).Msg("actionsyncd: upgrade failed")
			return
		}
		opts := nodeOptions(cfg, logger)
		n, err := node.NewServer(l, conn, opts...)
		if err != nil {
			logger.Error().Err(err).Msg("actionsyncd: failed to build server node")
			conn.Destroy()
			return
		}
		mu.Lock()
		nodes[n] = struct{}{}
		mu.Unlock()
		n.On(func(e node.Event) {
			if e.Type == node.EventDisconnect {
				mu.Lock()
				delete(nodes, n)
				mu.Unlock()
			}
			logger.Debug().Str("type", string(e.Type)).Interface("fields", e.Fields).Msg("actionsyncd: node event")
		})
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCtx.Done():
		logger.Info().Msg("actionsyncd: shutting down")
		_ = srv.Shutdown(context.Background())
		mu.Lock()
		for n := range nodes {
			n.Destroy()
		}
		mu.Unlock()
	}
	return nil
}

func nodeOptions(cfg config.Config, logger zerolog.Logger) []node.Option {
	opts := []node.Option{node.WithNodeLogger(logger)}
	if cfg.Ping > 0 {
		opts = append(opts, node.WithPing(cfg.Ping), node.WithTimeout(cfg.Timeout))
	}
	if cfg.FixTime {
		opts = append(opts, node.WithFixTime(true))
	}
	if cfg.Subprotocol != "" {
		opts = append(opts, node.WithSubprotocol(cfg.Subprotocol))
	}
	return opts
}

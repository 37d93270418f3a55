// Command actionsyncctl dials an actionsyncd listener as a client node,
// wrapped in a reconnect.Supervisor, and prints its event stream as
// structured log lines until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/juanpablocruz/actionsync/internal/config"
	"github.com/juanpablocruz/actionsync/internal/logging"
	"github.com/juanpablocruz/actionsync/pkg/action"
	logpkg "github.com/juanpablocruz/actionsync/pkg/log"
	"github.com/juanpablocruz/actionsync/pkg/node"
	"github.com/juanpablocruz/actionsync/pkg/reconnect"
	"github.com/juanpablocruz/actionsync/pkg/store/memstore"
	"github.com/juanpablocruz/actionsync/pkg/transport"
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
	var configFile, sendText string

	root := &cobra.Command{
		Use:   "actionsyncctl <url>",
		Short: "dial an actionsyncd listener and stream its event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			if cfg.NodeID == "" {
				cfg.NodeID = uuid.NewString()
			}
			return run(cmd.Context(), cfg, args[0], sendText)
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML/JSON/TOML config file")
	root.Flags().StringVar(&sendText, "send", "", "if set, add one reasoned test action with this text after connecting")
	if err := config.BindFlags(root, v); err != nil {
		panic(err)
	}
	return root
}

func run(ctx context.Context, cfg config.Config, url, sendText string) error {
	logger := logging.Configure(cfg.LogLevel)

	l, err := logpkg.New(cfg.NodeID, memstore.New(), logpkg.WithLogger(logger))
	if err != nil {
		return err
	}

	raw := wsconn.Dial(url, wsconn.WithLogger(logger))
	var conn transport.Connection = raw
	if cfg.Reconnect {
		conn = reconnect.New(raw, reconnect.Options{
			Attempts: cfg.ReconnectCap,
			MinDelay: cfg.ReconnectMin,
			MaxDelay: cfg.ReconnectMax,
			Logger:   logger,
		})
	}

	nodeOpts := []node.Option{node.WithNodeLogger(logger)}
	if cfg.Ping > 0 {
		nodeOpts = append(nodeOpts, node.WithPing(cfg.Ping), node.WithTimeout(cfg.Timeout))
	}
	if cfg.FixTime {
		nodeOpts = append(nodeOpts, node.WithFixTime(true))
	}
	if cfg.Subprotocol != "" {
		nodeOpts = append(nodeOpts, node.WithSubprotocol(cfg.Subprotocol))
	}

	n, err := node.NewClient(l, conn, nodeOpts...)
	if err != nil {
		return err
	}
	n.On(func(e node.Event) {
		logger.Info().Str("type", string(e.Type)).Interface("fields", e.Fields).Msg("actionsyncctl: event")
	})

	if err := n.Connect(ctx); err != nil {
		return err
	}
	defer n.Destroy()

	if sendText != "" {
		go func() {
			time.Sleep(200 * time.Millisecond)
			_, _, _ = l.Add(ctx, action.Action{"type": "message", "text": sendText}, action.Meta{Reasons: []string{"cli"}})
		}()
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	return nil
}

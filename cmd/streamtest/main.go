// streamtest connects to one or more channels and prints every delivered
// message to the console.
// Usage: go run ./cmd/streamtest -config configs/sessionmux.yaml -channel <id> [-channel <id>]
//
// Without -channel the channels listed in the config are used. The token can
// also come from SESSIONMUX_TOKEN.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/sessionmux/internal/auth"
	"github.com/rickgao/sessionmux/internal/broadcast"
	"github.com/rickgao/sessionmux/internal/config"
	"github.com/rickgao/sessionmux/internal/connection"
	"github.com/rickgao/sessionmux/internal/logging"
	"github.com/rickgao/sessionmux/internal/model"
	"github.com/rickgao/sessionmux/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/sessionmux.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	var channels []session.Channel
	flag.Func("channel", "channel id to connect (repeatable, highest priority first)", func(s string) error {
		channels = append(channels, session.Channel{ID: s})
		return nil
	})
	flag.Parse()

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Log.File = ""
	cfg.Log.Level = "debug"
	logger, _ := logging.New(cfg.Log, os.Stderr)

	if len(channels) == 0 {
		channels = cfg.Channels
	}
	if len(channels) == 0 {
		logger.Error("no channels: pass -channel or list channels in the config")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cred, err := auth.FromConfig(cfg.Server.Token, cfg.Server.TokenFile, cfg.Server.TokenParam, cfg.Server.TokenHeader)
	if err != nil {
		logger.Error("failed to load credential", "error", err)
		os.Exit(1)
	}
	if cred.Token() == "" {
		logger.Warn("no token configured, connecting anonymously")
	}

	factory := connection.NewClientFactory(connection.Endpoint{
		BaseURL:    cfg.Server.WSURL,
		PathPrefix: cfg.Server.PathPrefix,
		Auth:       cred,
	}, cfg.ClientConfig(), logger)
	mgr := session.New(cfg.SessionConfig(), factory, session.WithLogger(logger))

	mgr.OnStateChange(func(c connection.StateChange) {
		fmt.Printf("[STATE] channel=%s %s -> %s priority=%d\n", c.ChannelID, c.From, c.To, c.Priority)
	})

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start session manager", "error", err)
		os.Exit(1)
	}

	sub := mgr.Subscribe(1000)
	go printMessages(ctx, sub, *verbose)

	for _, r := range mgr.ConnectToChannels(ctx, channels) {
		if r.Err != nil {
			fmt.Printf("[CONNECT] channel=%s priority=%d error=%v\n", r.ChannelID, r.Priority, r.Err)
		} else {
			fmt.Printf("[CONNECT] channel=%s priority=%d ok\n", r.ChannelID, r.Priority)
		}
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				summary := mgr.Summary()
				stats := mgr.HubStats()
				logger.Info("stats",
					"connected", strings.Join(summary.ConnectedChannels, ","),
					"tracked", len(summary.States),
					"received", stats.Received,
					"delivered", stats.Delivered,
					"handler_failures", stats.HandlerFailures,
					"unacked", mgr.Outstanding(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("session manager stop", "error", err)
	}
	sub.Close()

	logger.Info("shutdown complete")
}

func printMessages(ctx context.Context, sub *broadcast.Subscription, verbose bool) {
	for {
		msg, ok := sub.Receive(ctx)
		if !ok {
			return
		}

		if verbose {
			var pretty any
			if err := json.Unmarshal(msg.Payload, &pretty); err == nil {
				data, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Printf("[%s] channel=%s\n%s\n", strings.ToUpper(label(msg)), msg.ChannelID, data)
				continue
			}
		}

		seq := "-"
		if msg.HasSequence {
			seq = fmt.Sprint(msg.Sequence)
		}
		fmt.Printf("[%s] channel=%s seq=%s ack_required=%t source=%s bytes=%d\n",
			strings.ToUpper(label(msg)), msg.ChannelID, seq, msg.AckRequired, msg.Source, len(msg.Payload))
	}
}

func label(msg model.Message) string {
	if msg.Type == "" {
		return msg.Kind.String()
	}
	return msg.Type
}

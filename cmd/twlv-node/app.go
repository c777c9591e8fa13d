package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"twlv/pkg/config"
	"twlv/pkg/identity"
	"twlv/pkg/node"
	"twlv/pkg/observability"
)

// runDaemon is the main entry point after CLI parsing.
func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("twlv-node started", zap.String("app", cfg.AppName), zap.String("network_id", cfg.NetworkID))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	id, err := identity.LoadOrGen(cfg.Identity)
	if err != nil {
		return fmt.Errorf("init identity: %w", err)
	}
	zap.L().Info("node identity", zap.String("address", id.Address()))

	n, err := node.New(cfg, id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		_ = n.Close()
		return err
	}

	go statsLoop(ctx, n)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	zap.L().Info("shutting down", zap.String("signal", s.String()))
	return n.Close()
}

// statsLoop logs traffic counters once a minute so long-running relays leave
// a trace in the logs even when nothing is addressed to them.
func statsLoop(ctx context.Context, n *node.Node) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := n.Stats()
			zap.L().Info("traffic counters",
				zap.Int("links", st.Links),
				zap.Uint64("frames_in", st.FramesIn),
				zap.Uint64("delivered", st.Delivered),
				zap.Uint64("relayed", st.Relayed),
				zap.Uint64("dropped", st.Dropped))
		}
	}
}

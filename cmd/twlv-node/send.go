package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"twlv/pkg/config"
	"twlv/pkg/identity"
	"twlv/pkg/node"
	"twlv/pkg/observability"
	"twlv/pkg/protocol"
	"twlv/pkg/transport"
)

const defaultSendTimeout = 5 * time.Second

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a one-shot message into the mesh",
	Long: `send starts a short-lived node, dials the mesh, waits for the
announce exchange, sends a single message, and exits. With --to it
delivers to that address, dialing on demand if the peer is known from
the directory; without --to it broadcasts to every connected link.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var o sendOptions
		o.ConfigPath, _ = cmd.Flags().GetString("config")
		o.URL, _ = cmd.Flags().GetString("url")
		o.To, _ = cmd.Flags().GetString("to")
		o.Command, _ = cmd.Flags().GetString("command")
		o.Text, _ = cmd.Flags().GetString("text")
		o.Sign, _ = cmd.Flags().GetBool("sign")
		o.Encrypt, _ = cmd.Flags().GetBool("encrypt")
		o.Timeout, _ = cmd.Flags().GetDuration("timeout")
		return runSend(o)
	},
}

type sendOptions struct {
	ConfigPath string
	URL        string
	To         string
	Command    string
	Text       string
	Sign       bool
	Encrypt    bool
	Timeout    time.Duration
}

func runSend(o sendOptions) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if o.URL != "" {
		proto, address, err := transport.SplitURL(o.URL)
		if err != nil {
			return err
		}
		cfg.Transports = withDial(cfg.Transports, proto, address)
	}

	id, err := identity.LoadOrGen(cfg.Identity)
	if err != nil {
		return fmt.Errorf("init identity: %w", err)
	}

	n, err := node.New(cfg, id)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), o.Timeout)
	defer cancel()
	if err := n.Start(ctx); err != nil {
		return err
	}

	msg := &protocol.Message{To: o.To, Command: o.Command, Payload: []byte(o.Text)}
	if o.Sign {
		msg.Mode.Set(protocol.ModeSigned)
	}
	if o.Encrypt {
		msg.Mode.Set(protocol.ModeEncrypted)
	}

	if o.To == "" {
		if err := waitForLink(ctx, n); err != nil {
			return fmt.Errorf("no link came up: %w", err)
		}
		if err := n.Broadcast(msg); err != nil {
			return err
		}
		fmt.Printf("broadcast %s from %s (%d bytes)\n", o.Command, id.Address(), len(o.Text))
	} else {
		if err := sendWithRetry(ctx, n, msg); err != nil {
			return err
		}
		fmt.Printf("sent %s to %s (%d bytes)\n", o.Command, o.To, len(o.Text))
	}

	// Let trailing inbound frames and log lines drain before teardown.
	time.Sleep(100 * time.Millisecond)
	return nil
}

// withDial records address as a dial target for proto, reusing the matching
// transport entry when the config already declares one.
func withDial(ts []config.TransportConfig, proto, address string) []config.TransportConfig {
	for i := range ts {
		if ts[i].Proto == proto {
			ts[i].Dial = append(ts[i].Dial, address)
			return ts
		}
	}
	return append(ts, config.TransportConfig{Proto: proto, Dial: []string{address}})
}

// sendWithRetry keeps trying while the destination is still unknown, which
// covers the window between dialing the mesh and the first announce landing.
func sendWithRetry(ctx context.Context, n *node.Node, msg *protocol.Message) error {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		err := n.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, node.ErrUnknownPeer) && !errors.Is(err, node.ErrNoEligibleURL) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last: %v)", ctx.Err(), err)
		case <-t.C:
		}
	}
}

func waitForLink(ctx context.Context, n *node.Node) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if n.Stats().Links > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rudransh-shrivastava/sharesync/internal/signal"
	"github.com/spf13/cobra"
)

var (
	sendPeer           string
	sendConnectTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send file...",
	Short: "send files to a receiving peer",
	Long: `connects to a peer running "sharesync receive" through its signaling endpoint and
sends each file over a WebRTC data channel, one after another`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runSend(ctx, args)
	},
}

func runSend(ctx context.Context, paths []string) error {
	history, closeDB, err := openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	signaler := signal.New(log)
	peerID, err := signaler.Dial(ctx, sendPeer)
	if err != nil {
		_ = signaler.Close()
		return fmt.Errorf("reaching %s: %w", sendPeer, err)
	}

	tr := newTransport(signaler)
	defer tr.Close()

	connectCtx, cancel := context.WithTimeout(ctx, sendConnectTimeout)
	conn, err := tr.Connect(connectCtx, peerID)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", sendPeer, err)
	}
	defer conn.Close()

	bars := newProgressObserver(os.Stderr)
	m, err := newManager(nil, history, bars)
	if err != nil {
		return err
	}
	defer m.Close()
	m.Start(ctx)
	go func() { _ = m.Serve(ctx, conn) }()

	m.SelectPeer(conn)
	for _, path := range paths {
		if _, err := m.SendFile(ctx, path); err != nil {
			return fmt.Errorf("sending %s: %w", path, err)
		}
	}
	return nil
}

func init() {
	sendCmd.Flags().StringVar(&sendPeer, "peer", "", "signaling endpoint of the receiver, e.g. ws://host:9000/signal")
	sendCmd.Flags().DurationVar(&sendConnectTimeout, "connect-timeout", 30*time.Second, "how long to wait for the data channel to open")
	_ = sendCmd.MarkFlagRequired("peer")
}

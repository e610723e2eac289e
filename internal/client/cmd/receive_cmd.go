package cmd

import (
	"context"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"

	"github.com/rudransh-shrivastava/sharesync/internal/signal"
	"github.com/rudransh-shrivastava/sharesync/internal/sink"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	receiveListen string
	receiveDir    string
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "wait for peers and save the files they send",
	Long: `serves a websocket signaling endpoint, accepts WebRTC data channels from senders
and writes every received file into the download directory`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("listen") {
			cfg.Signal.Listen = receiveListen
		}
		if cmd.Flags().Changed("dir") {
			cfg.Transfer.DownloadDir = receiveDir
		}

		ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runReceive(ctx)
	},
}

func runReceive(ctx context.Context) error {
	history, closeDB, err := openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	m, err := newManager(sink.NewDirSink(cfg.Transfer.DownloadDir, log), history, newProgressObserver(os.Stderr))
	if err != nil {
		return err
	}
	defer m.Close()
	m.Start(ctx)

	signaler := signal.New(log)
	tr := newTransport(signaler)
	defer tr.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case conn, ok := <-tr.Accept():
				if !ok {
					return
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer conn.Close()
					entry := log.WithField("peer", conn.PeerID())
					entry.Info("Peer connected")
					if err := m.Serve(ctx, conn); err != nil && ctx.Err() == nil {
						entry.WithError(err).Warn("Peer session ended")
						return
					}
					entry.Info("Peer disconnected")
				}()
			}
		}
	}()

	log.WithFields(logrus.Fields{
		"listen": cfg.Signal.Listen,
		"path":   cfg.Signal.Path,
		"dir":    cfg.Transfer.DownloadDir,
	}).Info("Waiting for senders")

	return signaler.ListenAndServe(ctx, cfg.Signal.Listen, cfg.Signal.Path)
}

func init() {
	receiveCmd.Flags().StringVar(&receiveListen, "listen", ":9000", "address for the signaling endpoint")
	receiveCmd.Flags().StringVar(&receiveDir, "dir", "./downloads", "directory received files are written to")
}

package cmd

import (
	"os"

	"github.com/rudransh-shrivastava/sharesync/internal/config"
	"github.com/rudransh-shrivastava/sharesync/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:           `sharesync`,
	Short:         `send files directly to another machine`,
	Long:          `sharesync is a peer to peer file transfer application, files travel over a WebRTC data channel set up through a websocket signaling endpoint`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format = logFormat
		}

		log, err = logger.New(cfg.Log.Level, cfg.Log.Format)
		return err
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		l := log
		if l == nil {
			l = logger.NewLogger()
		}
		l.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./sharesync.yaml or ~/.sharesync/sharesync.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "pretty", "pretty, text or json")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(historyCmd)
}

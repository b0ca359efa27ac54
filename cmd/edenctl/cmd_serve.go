package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/edenite/eden-host/internal/config"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath string
	serveBridgeAddr string
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath, "path to config file")
	serveCmd.Flags().StringVar(&serveBridgeAddr, "bridge-addr", "127.0.0.1:47411", "listen address for the message channel websocket")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Eden host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = &config.Config{}
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))
		return RunDesktop(*cfg, serveConfigPath, serveBridgeAddr, logger)
	},
}

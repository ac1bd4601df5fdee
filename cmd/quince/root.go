package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quicweave/quic"
)

var configPath string

// RootCmd is the main command for the quince binary.
var RootCmd = &cobra.Command{
	Use:   "quince",
	Short: "quince drives a QUIC endpoint",
	Long:  "quince is a reference client/server for the quicweave/quic transport core.",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(clientCmd)
}

func loadConfigOrDefault() (quic.Config, error) {
	if configPath == "" {
		return quic.DefaultConfig(), nil
	}
	cfg, err := quic.LoadConfig(configPath)
	if err != nil {
		return quic.Config{}, fmt.Errorf("quince: %w", err)
	}
	return cfg, nil
}

package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/quicweave/quic"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a QUIC server endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigOrDefault()
		if err != nil {
			return err
		}
		srv := quic.NewServer(cfg, quic.NewNullCodec(), &logHandler{name: "server"})
		if err := srv.ListenAndServe(listenAddr); err != nil {
			return err
		}
		defer srv.Close()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":4433", "address to listen on")
}

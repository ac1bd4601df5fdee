package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/quicweave/quic"
)

var dialAddr string

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "dial a QUIC server endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigOrDefault()
		if err != nil {
			return err
		}
		cl := quic.NewClient(cfg, quic.NewNullCodec(), &logHandler{name: "client"})
		if err := cl.Listen(":0"); err != nil {
			return err
		}
		defer cl.Close()

		conn, err := cl.Connect(dialAddr)
		if err != nil {
			return err
		}
		fmt.Printf("dialed %s, state=%s\n", dialAddr, conn.State())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		return nil
	},
}

func init() {
	clientCmd.Flags().StringVar(&dialAddr, "addr", "127.0.0.1:4433", "address to dial")
}

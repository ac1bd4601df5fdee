// Command quince is a minimal QUIC endpoint CLI, structured the way
// distribution-distribution's registry/root.go builds its RootCmd out
// of cobra subcommands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

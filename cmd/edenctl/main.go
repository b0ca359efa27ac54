package main

import (
	"fmt"
	"os"

	"github.com/edenite/eden-host/internal/ui"
	"github.com/edenite/eden-host/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "edenctl",
	Short:   "Eden — a desktop application runtime host",
	Version: version.Version,
}

func init() {
	rootCmd.Long = ui.Green.Render("Eden") + " " + ui.Cyan.Render(version.Version) + "\n" +
		ui.Dim.Render("Runs and packages apps for the Eden desktop runtime host.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

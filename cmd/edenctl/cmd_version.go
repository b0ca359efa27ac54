package main

import (
	"fmt"

	"github.com/edenite/eden-host/internal/ui"
	"github.com/edenite/eden-host/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the edenctl version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(ui.Cyan.Render("edenctl") + " " + ui.White.Render(version.Version))
		return nil
	},
}

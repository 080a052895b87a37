package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of pergola",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pergola version %s\n", strings.TrimSpace(pergola.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "pergola",
	Short: "Pergola runs stateful graph workflows",
	Long: `Pergola executes directed-graph workflows over a typed shared state,
with checkpoints, human-in-the-loop interrupts and resumable threads.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().String("graph", "", "Built-in workflow to run (report, logs)")
	rootCmd.PersistentFlags().String("dir", "", "Topology directory of node documents")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging and lifecycle hooks")
}

// openApp builds the engine from the persistent flags.
func openApp(cmd *cobra.Command) (*cli.App, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	graphName, _ := flags.GetString("graph")
	dir, _ := flags.GetString("dir")
	debug, _ := flags.GetBool("debug")

	return cli.NewApp(cmd.Context(), cli.Options{
		ConfigPath: configPath,
		Graph:      graphName,
		Topology:   dir,
		Debug:      debug,
	})
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the workflow for consistency",
	Long: `Compiles the workflow and reports unknown targets, undeclared fields and
loops without a guard. Topology directories also list their nodes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		defer app.Close()

		if app.Loader != nil {
			nodes, err := app.Loader.ListNodes(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range nodes {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Graph %q is valid! ✅\n", app.Engine.Graph().Name())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
)

var stateCmd = &cobra.Command{
	Use:   "state <key>",
	Short: "Print the checkpoint of a thread or of a sub-workflow frame",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		cp, err := app.Engine.GetState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return cli.PrintJSON(cmd.OutOrStdout(), cp)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <key>",
	Short: "Merge a patch into a thread or frame through the field reducers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		rawPatch, _ := cmd.Flags().GetString("patch")
		patch, err := cli.ParseObject(rawPatch)
		if err != nil {
			return err
		}
		if patch == nil {
			return fmt.Errorf("--patch is required")
		}
		cp, err := app.Engine.UpdateState(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		return cli.PrintJSON(cmd.OutOrStdout(), cp)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <thread-id>",
	Short: "Print the superseded checkpoints of a thread, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		history, err := app.Engine.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return cli.PrintJSON(cmd.OutOrStdout(), history)
	},
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List the known threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		ids, err := app.Engine.Threads(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort <thread-id>",
	Short: "Cancel the pending work of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return app.Engine.Abort(cmd.Context(), args[0])
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a thread and its sub-workflow frames",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return app.Engine.Delete(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(stateCmd, updateCmd, historyCmd, threadsCmd, abortCmd, deleteCmd)

	updateCmd.Flags().StringP("patch", "p", "", "JSON object of field updates")
}

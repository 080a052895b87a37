package main

import (
	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a run on a new or existing thread",
	Long: `Runs the workflow until it finishes or pauses at an interrupt and prints
the outcome as JSON. Without --input an existing paused thread resumes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		threadID, _ := cmd.Flags().GetString("thread")
		rawInput, _ := cmd.Flags().GetString("input")
		stream, _ := cmd.Flags().GetBool("stream")

		input, err := cli.ParseObject(rawInput)
		if err != nil {
			return err
		}
		if input == nil && threadID == "" {
			input = map[string]any{}
		}

		ctx := lifecycle.NewSignalContext(cmd.Context())
		_, err = cli.RunThread(ctx, app, cmd.OutOrStdout(), cli.RunOptions{
			ThreadID: threadID,
			Input:    input,
			Stream:   stream,
		})
		return err
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <thread-id>",
	Short: "Resume a paused thread, optionally patching its state first",
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

		ctx := lifecycle.NewSignalContext(cmd.Context())
		out, err := app.Engine.Resume(ctx, args[0], patch)
		if err != nil {
			return err
		}
		return cli.PrintJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)

	runCmd.Flags().StringP("thread", "t", "", "Thread to run (a new thread is created when empty)")
	runCmd.Flags().StringP("input", "i", "", "JSON object starting a new run")
	runCmd.Flags().Bool("stream", false, "Print every step as an NDJSON line")

	resumeCmd.Flags().StringP("patch", "p", "", "JSON object merged into the state before resuming")
}

package main

import (
	"fmt"

	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/pkg/graph"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the workflow graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the compiled workflow. With --thread
the visited and pending nodes of that thread are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return cli.WatchGraph(lifecycle.NewSignalContext(cmd.Context()), app, cmd.OutOrStdout())
		}

		var overlay *graph.Overlay
		if threadID, _ := cmd.Flags().GetString("thread"); threadID != "" {
			cp, err := app.Engine.GetState(cmd.Context(), threadID)
			if err != nil {
				return err
			}
			overlay = &graph.Overlay{VisitedNodes: cp.Trajectory, PendingNodes: cp.PendingNodes}
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.Mermaid(app.Engine.Graph(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().String("thread", "", "Highlight the progress of a thread")
	graphCmd.Flags().BoolP("watch", "w", false, "Print the diagram again whenever the topology changes")
}

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect the Todoist account",
}

var tasksListsCmd = &cobra.Command{
	Use:   "lists",
	Short: "List Todoist projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		projects, err := newTodoist().GetProjects(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Name)
		}
		return w.Flush()
	},
}

func init() {
	tasksCmd.AddCommand(tasksListsCmd)
	rootCmd.AddCommand(tasksCmd)
}

package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyUser  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync runs of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := lookupUser(cmd.Context(), store, historyUser)
		if err != nil {
			return err
		}
		runs, err := store.ListSyncRuns(cmd.Context(), u.ID, historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tDURATION\tSTATUS\tERROR")
		for _, r := range runs {
			d := r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.StartedAt.In(cfg.Location).Format(time.DateTime), d, r.Status, r.Error)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyUser, "user", "", "user name")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

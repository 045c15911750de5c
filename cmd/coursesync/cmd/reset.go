package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tazhate/coursesync/internal/engine"
)

var (
	resetUser            string
	resetYes             bool
	resetKeepCollections bool
	resetReport          string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete everything coursesync wrote for a user",
	Long: `Deletes every event and task created by coursesync from the calendar and
Todoist, forgets them locally and deletes the Todoist projects coursesync
created. The registered calendar itself is kept. Items that fail to delete
are reported and stay recorded, so reset can simply be run again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return fmt.Errorf("reset deletes synced items downstream; pass --yes to confirm")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := lookupUser(cmd.Context(), store, resetUser)
		if err != nil {
			return err
		}

		report, err := newSyncService(store).Reset(cmd.Context(), u.ID, resetKeepCollections)
		if err != nil {
			return err
		}
		writeResetSummary(cmd.OutOrStdout(), report)

		if resetReport != "" {
			if err := writeReport(resetReport, report); err != nil {
				return err
			}
		}
		if report.Failed() {
			return fmt.Errorf("reset for %s left items behind, see errors above", u.Name)
		}
		return nil
	},
}

func writeResetSummary(out io.Writer, r *engine.ResetReport) {
	for _, o := range []engine.ResetOutcome{r.Calendar, r.Tasks} {
		fmt.Fprintf(out, "%-9s %d deleted, %d collections deleted, %d errors\n",
			o.Destination+":", len(o.Deleted), len(o.CollectionsDeleted), len(o.Errors))
		for _, e := range o.Errors {
			if e.UID == "" {
				fmt.Fprintf(out, "  %s error: %s\n", o.Destination, e.Message)
				continue
			}
			fmt.Fprintf(out, "  %s error %s: %s\n", o.Destination, e.UID, e.Message)
		}
	}
}

func init() {
	resetCmd.Flags().StringVar(&resetUser, "user", "", "user name")
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm the deletion")
	resetCmd.Flags().BoolVar(&resetKeepCollections, "keep-collections", false, "keep the Todoist projects")
	resetCmd.Flags().StringVar(&resetReport, "report", "", "write the JSON reset report to this file")
	rootCmd.AddCommand(resetCmd)
}

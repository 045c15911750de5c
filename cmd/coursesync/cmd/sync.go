package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	syncUser   string
	syncFeed   string
	syncReport string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync for a user",
	Long: `Fetches the user's feed, applies the current policy and reconciles the
calendar and task destinations. The feed URL stored for the user is used
unless --feed is given. With --report the combined report is written as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := lookupUser(cmd.Context(), store, syncUser)
		if err != nil {
			return err
		}
		if syncFeed != "" {
			if err := newFetcher().Validate(syncFeed); err != nil {
				return err
			}
		}

		report, err := newSyncService(store).Sync(cmd.Context(), u.ID, syncFeed)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Parsed %d items (%d to calendar, %d to tasks, %d filtered out)\n",
			report.Metadata.TotalParsed, report.Metadata.ToCalendar, report.Metadata.ToTasks, report.Metadata.FilteredOut)
		fmt.Fprintf(out, "Calendar: %s\n", summaryLine(report.CalendarSummary))
		fmt.Fprintf(out, "Tasks:    %s\n", summaryLine(report.TasksSummary))
		for _, e := range report.Calendar.Errors {
			fmt.Fprintf(out, "  calendar error %s: %s\n", e.UID, e.Message)
		}
		for _, e := range report.Tasks.Errors {
			fmt.Fprintf(out, "  tasks error %s: %s\n", e.UID, e.Message)
		}

		if syncReport != "" {
			if err := writeReport(syncReport, report); err != nil {
				return err
			}
		}
		if report.Failed() {
			return fmt.Errorf("sync for %s failed, see errors above", u.Name)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncUser, "user", "", "user name")
	syncCmd.Flags().StringVar(&syncFeed, "feed", "", "feed URL for this run only")
	syncCmd.Flags().StringVar(&syncReport, "report", "", "write the JSON report to this file")
	rootCmd.AddCommand(syncCmd)
}

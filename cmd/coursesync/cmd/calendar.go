package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tazhate/coursesync/internal/domain"
)

var (
	calendarUser string
	calendarPath string
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Choose the CalDAV calendar events are written to",
}

var calendarDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List calendars on the CalDAV server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cals, err := newCalDAV().DiscoverCalendars(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tNAME")
		for _, c := range cals {
			fmt.Fprintf(w, "%s\t%s\n", c.Path, c.DisplayName)
		}
		return w.Flush()
	},
}

var calendarSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Use the calendar at --path for a user's events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if calendarPath == "" {
			return fmt.Errorf("--path is required")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := lookupUser(cmd.Context(), store, calendarUser)
		if err != nil {
			return err
		}
		err = store.SetCollection(cmd.Context(), &domain.Collection{
			OwnerID:     u.ID,
			Destination: domain.DestinationCalendar,
			Name:        domain.CalendarCollection,
			ExternalID:  calendarPath,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Events for %s go to %s\n", u.Name, calendarPath)
		return nil
	},
}

func init() {
	calendarSetCmd.Flags().StringVar(&calendarUser, "user", "", "user name")
	calendarSetCmd.Flags().StringVar(&calendarPath, "path", "", "calendar path from 'calendar discover'")
	calendarCmd.AddCommand(calendarDiscoverCmd, calendarSetCmd)
	rootCmd.AddCommand(calendarCmd)
}

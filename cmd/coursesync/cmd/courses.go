package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tazhate/coursesync/internal/domain"
	"github.com/tazhate/coursesync/internal/feed"
)

var (
	coursesUser string
	coursesFeed string
)

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "List the courses found in a user's feed",
	Long: `Fetches and parses the user's feed and lists every course code with its
item counts and date span. The codes are printed in the form policies expect,
so they can be copied into included_courses or excluded_courses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := lookupUser(cmd.Context(), store, coursesUser)
		if err != nil {
			return err
		}
		url := coursesFeed
		if url == "" {
			url = u.FeedURL
		}
		if url == "" {
			return fmt.Errorf("user %s has no feed url", u.Name)
		}

		raw, err := newFetcher().Fetch(cmd.Context(), url)
		if err != nil {
			return err
		}
		parsed, err := feed.Parse(raw, feed.WithLocation(cfg.Location), feed.WithMaxEntries(cfg.Feed.MaxEntries))
		if err != nil {
			return err
		}
		p, err := store.GetCurrentPolicy(cmd.Context(), u.ID)
		if err != nil {
			return err
		}
		return writeCourses(cmd.OutOrStdout(), feed.Summarize(parsed.Items), p, cfg.Location)
	},
}

// writeCourses prints the overview with the policy's include state per destination
func writeCourses(out io.Writer, ov feed.Overview, p domain.Policy, loc *time.Location) error {
	p.Normalize()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tITEMS\tASSIGNMENTS\tEVENTS\tFIRST\tLAST\tCALENDAR\tTASKS")
	for _, c := range ov.Courses {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			c.Code, c.Items, c.Assignments, c.Events,
			dateOrDash(c.First, loc), dateOrDash(c.Last, loc),
			courseState(p.Calendar, c.Code), courseState(p.Tasks, c.Code))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%d items (%d assignments, %d events), %d without a course code, %s to %s\n",
		ov.Total, ov.Assignments, ov.Events, ov.Uncoded, dateOrDash(ov.First, loc), dateOrDash(ov.Last, loc))
	return err
}

func courseState(dp domain.DestinationPolicy, code string) string {
	switch {
	case dp.Excludes(code):
		return "excluded"
	case dp.Includes(code):
		return "included"
	}
	return "-"
}

func dateOrDash(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format(time.DateOnly)
}

func init() {
	coursesCmd.Flags().StringVar(&coursesUser, "user", "", "user name")
	coursesCmd.Flags().StringVar(&coursesFeed, "feed", "", "feed URL to inspect instead of the stored one")
	rootCmd.AddCommand(coursesCmd)
}

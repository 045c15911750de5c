package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tazhate/coursesync/internal/domain"
	"github.com/tazhate/coursesync/internal/feed"
)

var (
	userFeed string
	userChat int64
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a user and their Canvas feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if userFeed != "" {
			if err := newFetcher().Validate(userFeed); err != nil {
				return err
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u := &domain.User{Name: args[0], FeedURL: userFeed, TelegramChatID: userChat}
		if err := store.CreateUser(cmd.Context(), u); err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added user %s (id %d)\n", u.Name, u.ID)
		return nil
	},
}

var userUpdateCmd = &cobra.Command{
	Use:   "update NAME",
	Short: "Change a user's feed or Telegram chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := lookupUser(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("feed") {
			if err := newFetcher().Validate(userFeed); err != nil {
				return err
			}
			u.FeedURL = userFeed
		}
		if cmd.Flags().Changed("chat") {
			u.TelegramChatID = userChat
		}
		return store.UpdateUser(cmd.Context(), u)
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		users, err := store.ListUsers(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tFEED\tTELEGRAM")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", u.ID, u.Name, feed.RedactURL(u.FeedURL), u.TelegramChatID)
		}
		return w.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{userAddCmd, userUpdateCmd} {
		c.Flags().StringVar(&userFeed, "feed", "", "Canvas calendar feed URL")
		c.Flags().Int64Var(&userChat, "chat", 0, "Telegram chat id for run summaries")
	}
	userCmd.AddCommand(userAddCmd, userUpdateCmd, userListCmd)
	rootCmd.AddCommand(userCmd)
}

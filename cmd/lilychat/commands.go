package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/lilychat/internal/version"
)

var usersCmd = &cobra.Command{
	Use:   "users <query>",
	Short: "Search users by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		if _, err := a.login(ctx); err != nil {
			return err
		}
		defer a.client.Logout(ctx)

		users, err := a.client.SearchUsers(ctx, args[0])
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no users found")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\n", u.ID, u.Username)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Print the stored conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || peer <= 0 {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		a, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		self, err := a.login(ctx)
		if err != nil {
			return err
		}
		defer a.client.Logout(ctx)

		msgs, err := a.client.GetMessages(ctx, peer)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, m := range msgs {
			who := strconv.FormatInt(m.SenderID, 10)
			if m.SenderID == self {
				who = "you"
			}
			ts := "--:--"
			if !m.CreatedAt.IsZero() {
				ts = m.CreatedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(out, "[%s] %s: %s\n", ts, who, m.Text)
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account with the configured credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		resp, err := a.client.Register(ctx, a.cfg.User.Username, a.cfg.User.Password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %s (id %d)\n", a.cfg.User.Username, resp.UserID)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

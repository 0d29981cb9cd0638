package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"fableforge/internal/api"
)

func newNotificationsCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notifications",
		Short: "Manage in-app notifications",
	}

	notifyCmd.AddCommand(newNotificationsListCommand(ctx))
	notifyCmd.AddCommand(newNotificationsSeenCommand(ctx))

	return notifyCmd
}

func newNotificationsListCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list <account-id>",
		Short: "List notifications for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/accounts/" + url.PathEscape(args[0]) + "/notifications"
			if !all {
				path += "?unseen=true"
			}
			var notifications []api.NotificationResponse
			if err := ctx.client().get(cmd.Context(), path, &notifications); err != nil {
				return err
			}
			if len(notifications) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No notifications")
				return nil
			}
			rows := make([][]string, 0, len(notifications))
			for _, n := range notifications {
				seen := ""
				if n.Seen {
					seen = "seen"
				}
				rows = append(rows, []string{
					n.ID,
					n.Kind,
					truncate(n.Body, 48),
					seen,
					formatTimestamp(n.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Kind", "Message", "", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include notifications already marked seen")
	return cmd
}

func newNotificationsSeenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seen <account-id> <notification-id>",
		Short: "Mark a notification as seen",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/accounts/" + url.PathEscape(args[0]) + "/notifications/" + url.PathEscape(args[1]) + "/seen"
			if err := ctx.client().post(cmd.Context(), path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Marked seen")
			return nil
		},
	}
}

// Package notifications implements the notifications command.
package notifications

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/farmdash/internal/app"
	"github.com/tphakala/farmdash/internal/entities"
)

// Command lists notifications or marks them read.
func Command(opts *app.Options) *cobra.Command {
	var (
		markRead   string
		markAll    bool
		unreadOnly bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications or mark them read",
		Long: `List the cached notifications, refreshing them when stale.

Examples:
  farmdash notifications --unread
  farmdash notifications --mark-read 6650f3c2
  farmdash notifications --mark-all-read`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			switch {
			case markRead != "":
				if err := a.Fetcher.MarkNotificationRead(cmd.Context(), markRead); err != nil {
					return err
				}
				fmt.Fprintf(out, "Marked %s as read\n", markRead)
				return nil
			case markAll:
				n, err := a.Fetcher.MarkAllNotificationsRead(cmd.Context())
				fmt.Fprintf(out, "Marked %d notifications as read\n", n)
				return err
			}

			list, err := a.Fetcher.Notifications(cmd.Context(), force)
			if err != nil && len(list) == 0 {
				return err
			}
			printNotifications(out, list, unreadOnly)
			return nil
		},
	}

	cmd.Flags().StringVar(&markRead, "mark-read", "", "Mark the notification with this ID as read")
	cmd.Flags().BoolVar(&markAll, "mark-all-read", false, "Mark every unread notification as read")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only list unread notifications")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Fetch regardless of the cache window")
	cmd.MarkFlagsMutuallyExclusive("mark-read", "mark-all-read")

	return cmd
}

func printNotifications(w io.Writer, list []entities.Notification, unreadOnly bool) {
	shown := 0
	for _, n := range list {
		if unreadOnly && n.IsRead() {
			continue
		}
		marker := " "
		if !n.IsRead() {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %-12s %s\n", marker, n.CreatedAt.Local().Format(time.DateTime), n.NotificationType, n.Title)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(w, "No notifications")
	}
}

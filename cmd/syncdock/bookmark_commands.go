package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"syncdock/internal/ipc"
)

func newBookmarksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "List configured bookmarks and their slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Bookmarks()
				if err != nil {
					return err
				}
				renderBookmarks(cmd, resp)
				return nil
			})
		},
	}
	return cmd
}

func renderBookmarks(cmd *cobra.Command, resp *ipc.BookmarksResponse) {
	stdout := cmd.OutOrStdout()
	if len(resp.Bookmarks) == 0 {
		fmt.Fprintln(stdout, "No bookmarks configured")
		return
	}

	rows := make([][]string, 0, len(resp.Bookmarks))
	for _, b := range resp.Bookmarks {
		rows = append(rows, []string{
			b.Name,
			b.Type,
			fmt.Sprintf("%d", len(b.MountSlots)),
			fmt.Sprintf("%d", len(b.SyncSlots)),
		})
	}
	fmt.Fprintln(stdout, renderTable(
		[]string{"Bookmark", "Type", "Mount Slots", "Sync Slots"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	))

	for _, b := range resp.Bookmarks {
		if len(b.MountSlots) == 0 && len(b.SyncSlots) == 0 {
			continue
		}
		fmt.Fprintln(stdout)
		fmt.Fprintf(stdout, "%s:\n", b.Name)
		for _, slot := range b.MountSlots {
			fmt.Fprintf(stdout, "  mount %-12s enabled=%s remote=%q path=%q\n",
				slot.Name, yesNo(slot.Enabled), slot.RemotePath, slot.Path)
		}
		for _, slot := range b.SyncSlots {
			detail := slot.Mode
			if slot.Direction != "" {
				detail += " " + slot.Direction
			}
			fmt.Fprintf(stdout, "  sync  %-12s %s initialized=%s local=%q remote=%q\n",
				slot.Name, detail, yesNo(slot.Initialized), slot.LocalPath, slot.RemotePath)
		}
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"syncdock/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently completed operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(stdout, "History is empty")
					return nil
				}
				rows := make([][]string, 0, len(resp.Entries))
				for _, e := range resp.Entries {
					rows = append(rows, []string{
						e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
						e.Bookmark,
						e.Slot,
						e.Kind,
						e.Outcome,
						e.Detail,
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Finished", "Bookmark", "Slot", "Kind", "Outcome", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")
	return cmd
}

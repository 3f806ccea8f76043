package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"syncdock/internal/bookmarks"
	"syncdock/internal/ipc"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Control sync jobs",
	}

	var startSlot string
	startCmd := &cobra.Command{
		Use:   "start <bookmark>",
		Short: "Start a sync run for a bookmark slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.SyncStart(args[0], startSlot); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sync started for %s\n", args[0])
				return nil
			})
		},
	}
	startCmd.Flags().StringVar(&startSlot, "slot", bookmarks.DefaultSlot, "Sync slot name")

	var stopSlot string
	stopCmd := &cobra.Command{
		Use:   "stop <bookmark>",
		Short: "Stop the tracked sync job for a bookmark slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SyncStop(args[0], stopSlot)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if resp.Stopped {
					fmt.Fprintf(stdout, "Sync stopped for %s\n", args[0])
				} else {
					fmt.Fprintf(stdout, "No tracked sync job for %s\n", args[0])
				}
				return nil
			})
		},
	}
	stopCmd.Flags().StringVar(&stopSlot, "slot", bookmarks.DefaultSlot, "Sync slot name")

	syncCmd.AddCommand(startCmd)
	syncCmd.AddCommand(stopCmd)
	return syncCmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"syncdock/internal/bookmarks"
	"syncdock/internal/ipc"
)

func newMountCommand(ctx *commandContext) *cobra.Command {
	var slot string
	cmd := &cobra.Command{
		Use:   "mount <bookmark>",
		Short: "Mount a bookmark slot through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Mount(args[0], slot)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mounted %s at %s\n", args[0], resp.Path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", bookmarks.DefaultSlot, "Mount slot name")
	return cmd
}

func newUnmountCommand(ctx *commandContext) *cobra.Command {
	var slot string
	cmd := &cobra.Command{
		Use:   "unmount <bookmark>",
		Short: "Unmount a bookmark slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.Unmount(args[0], slot); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unmounted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", bookmarks.DefaultSlot, "Mount slot name")
	return cmd
}

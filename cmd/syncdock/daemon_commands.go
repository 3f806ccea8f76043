package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"syncdock/internal/daemonctl"
	"syncdock/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the syncdock daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureRunning(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateLaunched:
				if result.PID > 0 {
					fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
				} else {
					fmt.Fprintln(stdout, "Daemon started")
				}
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the syncdock daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the syncdock daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateLaunched, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			}
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, mount, and sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				renderStatus(cmd, status)
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func renderStatus(cmd *cobra.Command, status *ipc.StatusResponse) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	runningKind := statusOK
	if !status.Running {
		runningKind = statusError
	}
	fmt.Fprintln(stdout, renderStatusLine("Running", runningKind, fmt.Sprintf("pid %d", status.PID), colorize))

	rcKind := statusOK
	rcDetail := status.RCState
	switch {
	case status.CLIOnly:
		rcKind = statusWarn
		rcDetail = "cli-only (remote control unavailable)"
	case status.RCEndpoint != "":
		rcDetail = fmt.Sprintf("%s at %s (pid %d)", status.RCState, status.RCEndpoint, status.RCPID)
	}
	fmt.Fprintln(stdout, renderStatusLine("Remote control", rcKind, rcDetail, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Lock file", statusInfo, status.LockPath, colorize))
	fmt.Fprintln(stdout, renderStatusLine("History", statusInfo, status.HistoryPath, colorize))
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Mounts", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if len(status.Mounts) == 0 {
		fmt.Fprintln(stdout, "No active mounts")
	} else {
		rows := make([][]string, 0, len(status.Mounts))
		for _, m := range status.Mounts {
			rows = append(rows, []string{
				m.Bookmark,
				m.Slot,
				m.Path,
				m.MountedAt.Local().Format("2006-01-02 15:04:05"),
			})
		}
		fmt.Fprintln(stdout, renderTable(
			[]string{"Bookmark", "Slot", "Path", "Mounted"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
		))
	}
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Sync Jobs", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if len(status.Jobs) == 0 {
		fmt.Fprintln(stdout, "No tracked sync jobs")
		return
	}
	rows := make([][]string, 0, len(status.Jobs))
	for _, j := range status.Jobs {
		state := "running"
		if j.Recovering {
			state = "recovering"
		}
		rows = append(rows, []string{
			j.Bookmark,
			j.Slot,
			j.Mode,
			fmt.Sprintf("%d", j.JobID),
			state,
			j.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	fmt.Fprintln(stdout, renderTable(
		[]string{"Bookmark", "Slot", "Mode", "Job", "State", "Started"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	// The daemon ships as a sibling binary next to the CLI.
	candidate := filepath.Join(filepath.Dir(exe), "syncdockd")
	if _, statErr := os.Stat(candidate); statErr == nil {
		return candidate, nil
	}
	if found, lookErr := exec.LookPath("syncdockd"); lookErr == nil {
		return found, nil
	}
	return "", fmt.Errorf("locate syncdockd binary: not found next to %s or on PATH", exe)
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}

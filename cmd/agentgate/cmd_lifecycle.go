package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

// daemonProcess locates the running daemon through the PID file and probes
// it with signal 0. A stale PID file (process gone) reads as not running.
func daemonProcess() (*os.Process, int, error) {
	cfg := loadConfig()
	pidPath := filepath.Join(cfg.DataDir, "agentgate.pid")

	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("no running daemon (PID file not found)")
		}
		return nil, 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("invalid PID file content: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, 0, fmt.Errorf("no running daemon (process %d not found)", pid)
	}
	return proc, pid, nil
}

func signalDaemon(sig syscall.Signal, action string) error {
	proc, pid, err := daemonProcess()
	if err != nil {
		return err
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("send %s: %w", sig, err)
	}
	fmt.Fprintf(os.Stdout, "Sent %s to daemon (PID %d) to %s.\n", sig, pid, action)
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGTERM, "shut down")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGHUP, "restart")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running and what it is tracking",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, pid, err := daemonProcess()
		if err != nil {
			fmt.Fprintln(os.Stdout, "Daemon: not running")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Daemon: running (PID %d)\n", pid)

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.List(context.Background())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		var totalCost float64
		for _, s := range sessions {
			totalCost += s.TotalCost
		}
		fmt.Fprintf(os.Stdout, "Sessions: %d\n", len(sessions))
		fmt.Fprintf(os.Stdout, "Tracked cost: $%.4f\n", totalCost)
		return nil
	},
}

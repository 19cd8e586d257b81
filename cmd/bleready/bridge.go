package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bleready/bridge"
	"github.com/srg/bleready/internal/session"
)

// bridgeCmd exposes the session on a pseudo-terminal
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Expose the session on a PTY",
	Long: `Connects to the first matching peripheral and creates a pseudo-terminal
(e.g. /dev/pts/3). Every notification line is written to the PTY; every line
typed into the PTY sends the ready command once.

Example:
  bleready bridge --symlink /tmp/powermeter
  screen /tmp/powermeter`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

var bridgeSymlink string

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/powermeter)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	ctrl := a.controller(session.LogSink{Logger: a.logger}, nil)
	defer ctrl.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(out, "Starting bridge", "Connecting", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = bridge.Run(ctx, ctrl, &bridge.Options{
		Logger:         a.logger,
		ConnectTimeout: a.cfg.ConnectTimeout,
		TTYSymlinkPath: bridgeSymlink,
	}, progress.Callback(), func(b bridge.Bridge) (struct{}, error) {
		fmt.Fprintf(out, "Bridge to %s running on %s", ctrl.DeviceName(), b.TTYName())
		if link := b.TTYSymlink(); link != "" {
			fmt.Fprintf(out, " (%s)", link)
		}
		fmt.Fprintln(out, ", Ctrl+C to stop")

		select {
		case <-ctx.Done():
			return struct{}{}, nil
		case <-ctrl.LinkLost():
			return struct{}{}, ErrConnectionLost
		}
	})
	return err
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bleready/internal/session"
)

// monitorCmd prints decoded notification lines until interrupted
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print notification lines as they arrive",
	Long: `Connects to the first matching peripheral and prints every decoded
notification line until Ctrl+C or until the link is lost.

With --send-ready the ready command is written once after connecting.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorSendReady  bool
	monitorTimestamps bool
)

func init() {
	monitorCmd.Flags().BoolVar(&monitorSendReady, "send-ready", false, "Send the ready command after connecting")
	monitorCmd.Flags().BoolVar(&monitorTimestamps, "timestamps", false, "Prefix lines with the receive time")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	ctrl := a.controller(session.LogSink{Logger: a.logger}, func(message string) {
		fmt.Fprintf(out, "--- message ---\n%s\n--- end ---\n", message)
	})
	defer ctrl.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(out, "Connecting to BLE", "Connecting", "Connected")
	progress.Start()
	cctx, ccancel := a.connectContext(ctx)
	err = ctrl.Connect(cctx)
	ccancel()
	progress.Stop()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Monitoring %s (Ctrl+C to stop)\n", ctrl.DeviceName())

	if monitorSendReady {
		if err := ctrl.SendReady(ctx); err != nil {
			return err
		}
	}

	lines := ctrl.Lines()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ctrl.LinkLost():
			return ErrConnectionLost
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if monitorTimestamps {
				fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.RFC3339), line)
				continue
			}
			fmt.Fprintln(out, line)
		}
	}
}

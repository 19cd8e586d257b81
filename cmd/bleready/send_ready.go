package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleready/internal/collector"
	"github.com/srg/bleready/internal/session"
)

// sendReadyCmd connects, writes the ready command once and disconnects
var sendReadyCmd = &cobra.Command{
	Use:   "send-ready",
	Short: "Connect, send the ready command once, then disconnect",
	Long: `Connects to the first matching peripheral, writes the ready command to the
characteristic and disconnects.

With --listen, notifications are collected for that long after the command is
sent and printed before disconnecting.

Example:
  bleready send-ready
  bleready send-ready --listen 5s --end-marker end`,
	Args: cobra.NoArgs,
	RunE: runSendReady,
}

var (
	sendReadyListen    time.Duration
	sendReadyMaxLines  uint32
	sendReadyUntilDone bool
)

func init() {
	sendReadyCmd.Flags().DurationVar(&sendReadyListen, "listen", 0, "Collect notifications for this long after sending")
	sendReadyCmd.Flags().Uint32Var(&sendReadyMaxLines, "max-lines", 1024, "Most recent lines kept while listening")
	sendReadyCmd.Flags().BoolVar(&sendReadyUntilDone, "until-complete", false, "Stop listening at the first complete message (needs --end-marker)")
}

func runSendReady(cmd *cobra.Command, args []string) error {
	if sendReadyUntilDone && sendReadyListen == 0 {
		return fmt.Errorf("--until-complete requires --listen")
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if sendReadyUntilDone && a.cfg.EndMarker == "" {
		return fmt.Errorf("--until-complete requires --end-marker")
	}

	out := cmd.OutOrStdout()
	completed := make(chan string, 1)
	onComplete := func(message string) {
		select {
		case completed <- message:
		default:
		}
	}

	ctrl := a.controller(session.LogSink{Logger: a.logger}, onComplete)
	defer ctrl.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var lines *collector.Collector
	if sendReadyListen > 0 {
		lines, err = collector.New(ctrl.Lines(), sendReadyMaxLines, func(err error) {
			a.logger.WithError(err).Error("Line collection failed")
		})
		if err != nil {
			return err
		}
	}

	progress := NewProgressPrinter(out, "Connecting to BLE", "Connecting", "Connected")
	progress.Start()
	cctx, ccancel := a.connectContext(ctx)
	err = ctrl.Connect(cctx)
	ccancel()
	progress.Stop()
	if err != nil {
		return err
	}

	if lines != nil {
		if err := lines.Start(); err != nil {
			return err
		}
	}

	if err := ctrl.SendReady(ctx); err != nil {
		return fmt.Errorf("failed to send %q: %w", a.cfg.Command, err)
	}
	fmt.Fprintf(out, "Sent %q to %s\n", a.cfg.Command, ctrl.DeviceName())

	if lines == nil {
		return ctrl.Disconnect()
	}

	var message string
	var until <-chan string
	if sendReadyUntilDone {
		until = completed
	}

	timer := time.NewTimer(sendReadyListen)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case message = <-until:
	}

	_ = lines.Stop()
	collected, err := lines.Lines()
	if err != nil {
		return err
	}

	m := lines.Metrics()
	a.logger.WithFields(logrus.Fields{
		"collected":   m.RecordsCollected,
		"overwritten": m.RecordsOverwritten,
	}).Debug("Listen window closed")

	fmt.Fprintf(out, "Received %d line(s):\n", len(collected))
	for _, line := range collected {
		fmt.Fprintln(out, line)
	}
	if message != "" {
		fmt.Fprintf(out, "Complete message:\n%s\n", message)
	}

	return ctrl.Disconnect()
}

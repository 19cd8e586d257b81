package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/bleready/internal/groutine"
	"github.com/srg/bleready/internal/session"
	"github.com/srg/bleready/internal/ui"
	"golang.org/x/term"
)

// connectCmd represents the interactive session
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Interactive session with the power meter",
	Long: `Opens an interactive session. Keys:

  c   connect / disconnect
  r   send the ready command (enabled while connected)
  h   replay the console history
  q   quit (also Ctrl+C)

Every notification is printed as it arrives. With --end-marker, lines are
collected until the marker line and printed again as one message.`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

var (
	connectAuto    bool
	connectNoColor bool
)

func init() {
	connectCmd.Flags().BoolVar(&connectAuto, "auto", false, "Connect immediately instead of waiting for 'c'")
	connectCmd.Flags().BoolVar(&connectNoColor, "no-color", false, "Disable colored status output")
}

func runConnect(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	noColor := connectNoColor
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		noColor = true
	}
	t := ui.NewTerminal(out, ui.Options{Scrollback: a.cfg.Scrollback, NoColor: noColor})

	ctrl := a.controller(t, nil)
	defer ctrl.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	// user operations run off the key loop so 'q' stays responsive
	busy := make(chan struct{}, 1)
	run := func(name string, op func(ctx context.Context)) {
		select {
		case busy <- struct{}{}:
		default:
			a.logger.WithField("op", name).Debug("Operation in progress, key ignored")
			return
		}
		groutine.GoSafe(ctx, name, a.logger, func(ctx context.Context) {
			defer func() {
				<-busy
				t.PrintControls()
			}()
			op(ctx)
		})
	}

	toggle := func(ctx context.Context) {
		if ctrl.Connected() {
			_ = ctrl.Disconnect()
			return
		}
		cctx, ccancel := a.connectContext(ctx)
		defer ccancel()
		_ = ctrl.Connect(cctx)
	}

	t.SetStatus(session.StatusDisconnected)
	t.PrintControls()
	if connectAuto {
		run("session-connect", toggle)
	}

	keys := ui.NewKeyReader(cmd.InOrStdin(), t, a.logger)
	err = keys.Run(ctx, func(action ui.Action) {
		switch action {
		case ui.ActionToggle:
			run("session-toggle", toggle)
		case ui.ActionSendReady:
			run("session-send-ready", func(ctx context.Context) { _ = ctrl.SendReady(ctx) })
		case ui.ActionHistory:
			t.Replay()
		}
	})
	cancel()
	return err
}

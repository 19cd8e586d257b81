package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bleready",
	Short: "Talk to a BLE power meter over one notify/write characteristic",
	Long: `bleready connects to a BLE peripheral that advertises a known service,
subscribes to one characteristic's notifications and writes a "ready" command
to it on request.

- Interactive session with connect/disconnect toggle and send-ready key
- One-shot send-ready with an optional listen window
- Line monitor and PTY bridge for other programs
- Scan for matching peripherals`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(sendReadyCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(configCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.Bool("verbose", false, "Shorthand for --log-level=debug")
	flags.String("config", "", "YAML configuration file")
	flags.String("backend", "", "BLE backend (goble, tinygo)")
	flags.String("address", "", "Connect to this address only, ignoring name and service")
	flags.String("name-prefix", "", "Advertised name prefix to match")
	flags.String("service", "", "Service UUID")
	flags.String("characteristic", "", "Characteristic UUID")
	flags.String("command", "", "Command written by send-ready")
	flags.String("end-marker", "", "Line that completes a message (empty disables framing)")
	flags.Duration("timeout", 0, "Connect timeout (0 waits until a device is chosen)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

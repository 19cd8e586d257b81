package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bleready/internal/device"
	"github.com/srg/bleready/internal/discovery"
)

// scanCmd lists peripherals the session would choose from
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List matching BLE peripherals",
	Long: `Scans for peripherals that match the session filter (name prefix and
service, or --address) and lists them in discovery order.

Use --all to drop the name and service filter.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanJSON      bool
	scanAll       bool
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print JSON instead of a table")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every advertiser, not only matching ones")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	opts := discovery.DefaultScanOptions()
	opts.Duration = a.cfg.ScanTimeout
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}
	opts.Filter = a.cfg.Filter()
	if scanAll {
		opts.Filter = device.Filter{Address: a.cfg.Address}
	}
	opts.BlockList = scanBlockList

	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	progress := NewCountdownProgressPrinter(out, "Scanning for BLE devices", "Scanning", opts.Duration, "Processing results")
	progress.Start()

	scanner := discovery.NewScanner(a.platform, a.logger)
	devices, err := scanner.Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if scanJSON {
		return displayDevicesJSON(out, devices)
	}
	return displayDevicesTable(out, devices, a.cfg.FallbackName)
}

func displayDevicesTable(out io.Writer, devices []discovery.DeviceInfo, fallbackName string) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tSEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, d := range devices {
		name := d.DisplayName(fallbackName)
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(d.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%d\n", name, d.Address, d.RSSI, services, d.Seen)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []discovery.DeviceInfo) error {
	if devices == nil {
		devices = []discovery.DeviceInfo{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blink/internal/central"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Each device is listed once, keyed by its first advertisement; later
advertisements from the same device are ignored. The scan ends when the
duration elapses or on Ctrl+C, and the devices found so far are printed.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanServices  []string
	scanAllowList []string
	scanBlockList []string
	scanWatch     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 uses the configured default)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these IDs")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these IDs")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Rescan continuously and update results")
}

func runScan(cmd *cobra.Command, args []string) error {
	// Validate format parameter
	validFormats := []string{"table", "json"}
	isValidFormat := false
	for _, format := range validFormats {
		if scanFormat == format {
			isValidFormat = true
			break
		}
	}
	if !isValidFormat {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
	}

	// Configure logger based on --log-level and --verbose flags
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyConfigLogLevel(cmd, logger, cfg)
	if !cmd.Flags().Changed("format") {
		scanFormat = cfg.OutputFormat
	}

	// Validate and normalize service UUIDs if provided
	var serviceUUIDs []string
	if len(scanServices) > 0 {
		serviceUUIDs, err = central.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration := cfg.ScanTimeout
	if scanDuration > 0 {
		duration = scanDuration
	}

	opts := central.Options{
		ScanTimeout: duration,
		Filter: central.Filter{
			Allow:    scanAllowList,
			Block:    scanBlockList,
			Services: serviceUUIDs,
		},
	}

	co := newLifecycle(logger, opts)
	defer co.Dispose()

	if scanWatch {
		return runWatchScan(cmd, co, logger)
	}
	return runSingleScan(cmd, co, duration, logger)
}

// runSingleScan runs one scan to its deadline and prints the device list.
// Ctrl+C ends the scan early and still prints what was found.
func runSingleScan(cmd *cobra.Command, co *central.Coordinator, duration time.Duration, logger *logrus.Logger) error {
	ctx, cancel := signalContext(cmd.Context(), func() {
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
	})
	defer cancel()

	progress := NewCountdownProgressPrinter("Scanning for BLE devices", "Scanning", duration)
	progress.Start()
	defer progress.Stop()

	if err := co.StartScan(ctx); err != nil {
		return err
	}

	// The session settles every scan exactly once: a timeout notification,
	// an error notification, or silence when StopScan ends it first.
	for {
		select {
		case <-ctx.Done():
			co.StopScan()
			progress.Stop()
			return displayDevices(cmd.OutOrStdout(), co.Snapshot().Devices)

		case n, ok := <-co.Notifications():
			if !ok {
				return central.ErrDisposed
			}
			switch n.Type {
			case central.NotifyScanTimeout:
				progress.Stop()
				return displayDevices(cmd.OutOrStdout(), co.Snapshot().Devices)
			case central.NotifyScanError:
				logger.WithError(n.Err).Error("scan failed")
				return n.Err
			}
		}
	}
}

// runWatchScan rescans until interrupted, accumulating devices across scan
// rounds and redrawing the table once per second.
func runWatchScan(cmd *cobra.Command, co *central.Coordinator, logger *logrus.Logger) error {
	ctx, cancel := signalContext(cmd.Context(), func() {
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
	})
	defer cancel()

	if err := co.StartScan(ctx); err != nil {
		return err
	}

	// Each scan round starts from an empty device list, so keep our own
	// merged view across rounds for a stable display.
	seen := make(map[string]central.Device)
	merge := func(devices []central.Device) {
		for _, d := range devices {
			seen[d.ID] = d
		}
	}

	render := func() error {
		merge(co.Snapshot().Devices)
		devices := make([]central.Device, 0, len(seen))
		for _, d := range seen {
			devices = append(devices, d)
		}
		clearScreen(cmd.OutOrStdout())
		return displayDevices(cmd.OutOrStdout(), devices)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			co.StopScan()
			return render()

		case <-ticker.C:
			if err := render(); err != nil {
				return err
			}

		case snap, ok := <-co.Snapshots():
			if !ok {
				return central.ErrDisposed
			}
			merge(snap.Devices)

		case n, ok := <-co.Notifications():
			if !ok {
				return central.ErrDisposed
			}
			switch n.Type {
			case central.NotifyScanTimeout:
				// Round over; start the next one.
				if err := co.StartScan(ctx); err != nil {
					return err
				}
			case central.NotifyScanError:
				logger.WithError(n.Err).Error("scan failed")
				_ = render()
				return n.Err
			}
		}
	}
}

func displayDevices(w io.Writer, devices []central.Device) error {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].DisplayName() != devices[j].DisplayName() {
			return devices[i].DisplayName() < devices[j].DisplayName()
		}
		return devices[i].ID < devices[j].ID
	})

	switch scanFormat {
	case "json":
		return displayDevicesJSON(w, devices)
	default:
		return displayDevicesTable(w, devices)
	}
}

func displayDevicesTable(w io.Writer, devices []central.Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tRSSI")
	fmt.Fprintln(tw, strings.Repeat("-", 50))

	for _, d := range devices {
		name := d.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\n", name, d.ID, d.RSSI)
	}

	return tw.Flush()
}

func displayDevicesJSON(w io.Writer, devices []central.Device) error {
	encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")
}

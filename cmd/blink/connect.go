package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blink/internal/central"
	"github.com/srg/blink/internal/collector"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <device-id>",
	Short: "Connect to a BLE device",
	Long: fmt.Sprintf(`Scan for a device, connect to it and hold the link open.

The scan stops as soon as the device is found, any previous connection is
torn down, and the new link is established. While the link is open the
command reports every lifecycle change; Ctrl+C disconnects and exits.
With --read or --write the command performs that one operation over the
fresh link and exits instead of holding it.

Examples:
  # Connect and hold the link until Ctrl+C
  blink connect %s

  # Connect and read the Battery Level characteristic once
  blink connect %s --service 180f --char 2a19 --read

  # Connect and write one hex byte
  blink connect %s --service 180f --char 2a19 --write 01 --hex

%s`, exampleDeviceID, exampleDeviceID, exampleDeviceID, deviceIDNote),
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectScanTimeout time.Duration
	connectTimeout     time.Duration
	connectServiceUUID string
	connectCharUUID    string
	connectRead        bool
	connectWriteData   string
	connectHex         bool
)

// connectEventBuffer bounds how many lifecycle events the session summary
// keeps; older events are dropped first.
const connectEventBuffer = 64

func init() {
	connectCmd.Flags().DurationVar(&connectScanTimeout, "scan-timeout", 0, "How long to scan for the device (0 uses the configured default)")
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 0, "Connection establishment timeout (0 uses the configured default)")
	connectCmd.Flags().StringVar(&connectServiceUUID, "service", "", "Service UUID for --read/--write")
	connectCmd.Flags().StringVar(&connectCharUUID, "char", "", "Characteristic UUID for --read/--write")
	connectCmd.Flags().BoolVar(&connectRead, "read", false, "Read the characteristic once and exit")
	connectCmd.Flags().StringVar(&connectWriteData, "write", "", "Write this data to the characteristic and exit")
	connectCmd.Flags().BoolVar(&connectHex, "hex", false, "Treat characteristic data as hex instead of raw bytes")
}

func runConnect(cmd *cobra.Command, args []string) error {
	// Adapter backends report IDs lowercased; match them from the start.
	deviceID := strings.ToLower(args[0])

	if connectRead && connectWriteData != "" {
		return fmt.Errorf("--read and --write are mutually exclusive")
	}

	// One-shot I/O needs a fully qualified characteristic.
	var target central.Target
	if connectRead || connectWriteData != "" {
		if connectServiceUUID == "" || connectCharUUID == "" {
			return fmt.Errorf("--service and --char are required with --read/--write")
		}
		if _, err := central.ValidateUUID(connectServiceUUID, connectCharUUID); err != nil {
			return fmt.Errorf("invalid UUID: %w", err)
		}
		target = central.NewTarget(connectServiceUUID, connectCharUUID)
	}

	var writeData []byte
	if connectWriteData != "" {
		var err error
		writeData, err = parseWriteData(connectWriteData, connectHex)
		if err != nil {
			return fmt.Errorf("failed to parse data: %w", err)
		}
	}

	// Configure logger
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyConfigLogLevel(cmd, logger, cfg)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	scanTimeout := cfg.ScanTimeout
	if connectScanTimeout > 0 {
		scanTimeout = connectScanTimeout
	}
	connTimeout := cfg.ConnectTimeout
	if connectTimeout > 0 {
		connTimeout = connectTimeout
	}

	opts := central.Options{
		ScanTimeout:    scanTimeout,
		ConnectTimeout: connTimeout,
		Filter:         central.Filter{Allow: []string{deviceID}},
		Target:         target,
	}

	co := newLifecycle(logger, opts)
	defer co.Dispose()

	ctx, cancel := signalContext(cmd.Context(), func() {
		fmt.Println("\nCtrl+C pressed, disconnecting...")
	})
	defer cancel()

	progress := NewProgressPrinter(fmt.Sprintf("Connecting to %s", deviceID), "Scanning", "Connected", "Failed")
	progress.Start()
	defer progress.Stop()
	setPhase := progress.Callback()

	dev, err := discoverDevice(ctx, co, deviceID)
	if err != nil {
		setPhase("Failed")
		return err
	}

	setPhase("Connecting")
	if err := awaitConnected(ctx, co, deviceID); err != nil {
		setPhase("Failed")
		return err
	}
	setPhase("Connected")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s (%s, %d dBm)\n", dev.DisplayName(), dev.ID, dev.RSSI)

	if connectRead {
		value, err := co.ReadCharacteristic(ctx)
		if err != nil {
			return err
		}
		return outputValue(out, value, connectHex)
	}
	if connectWriteData != "" {
		if err := co.WriteCharacteristic(ctx, writeData); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "Write successful")
		return err
	}

	return holdConnection(ctx, cmd, co)
}

// holdConnection keeps the link open until Ctrl+C or a remote drop,
// buffering lifecycle events for the end-of-session summary.
func holdConnection(ctx context.Context, cmd *cobra.Command, co *central.Coordinator) error {
	out := cmd.OutOrStdout()

	events, err := collector.New(co.Notifications(), connectEventBuffer, nil)
	if err != nil {
		return err
	}
	if err := events.Start(); err != nil {
		return err
	}

	summary := func() {
		_ = events.Stop()
		buffered, err := events.DrainAll()
		if err != nil || len(buffered) == 0 {
			return
		}
		fmt.Fprintf(out, "Events during session (%d):\n", len(buffered))
		for _, n := range buffered {
			fmt.Fprintf(out, "  %s: %v\n", n.Type, n.Err)
		}
	}

	fmt.Fprintln(out, "Holding connection. Press Ctrl+C to disconnect...")

	last := central.ConnConnected
	for {
		select {
		case <-ctx.Done():
			co.Disconnect()
			fmt.Fprintln(out, "Disconnected")
			summary()
			return nil

		case snap, ok := <-co.Snapshots():
			if !ok {
				summary()
				return central.ErrDisposed
			}
			if snap.Conn == last {
				continue
			}
			last = snap.Conn
			fmt.Fprintf(out, "Link: %s\n", snap.Conn)
			if snap.Conn == central.ConnDisconnected {
				summary()
				return ErrConnectionLost
			}
		}
	}
}

// outputValue writes a characteristic value as hex or raw bytes.
func outputValue(w io.Writer, data []byte, asHex bool) error {
	if asHex {
		_, err := fmt.Fprintln(w, hex.EncodeToString(data))
		return err
	}
	_, err := w.Write(data)
	return err
}

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blink/internal/central"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-id> [characteristic-uuid] <data>",
	Short: "Write to a characteristic",
	Long: fmt.Sprintf(`Connect to a device and write data to a characteristic with response.

Examples:
  # Write string data
  blink write %s 2a06 "high" --service 1802

  # Write hex data
  blink write %s 2a06 01 --service 1802 --hex

  # Write with explicit flags
  blink write %s "high" --service 1802 --char 2a06

%s`, exampleDeviceID, exampleDeviceID, exampleDeviceID, deviceIDNote),
	Args: cobra.RangeArgs(2, 3),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeCharUUID    string
	writeHex         bool
	writeTimeout     time.Duration
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID the characteristic belongs to")
	writeCmd.Flags().StringVar(&writeCharUUID, "char", "", "Characteristic UUID")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Parse input as hex string (e.g., 'ff01'); raw bytes by default")
	writeCmd.Flags().DurationVar(&writeTimeout, "timeout", 5*time.Second, "Write timeout")
}

func runWrite(cmd *cobra.Command, args []string) error {
	// Adapter backends report IDs lowercased; match them from the start.
	deviceID := strings.ToLower(args[0])

	var charUUID, dataStr string
	switch len(args) {
	case 3:
		charUUID = args[1]
		dataStr = args[2]
	default:
		charUUID = writeCharUUID
		dataStr = args[1]
	}
	if charUUID == "" {
		return fmt.Errorf("characteristic UUID required: provide as second argument or via --char flag")
	}
	if writeServiceUUID == "" {
		return fmt.Errorf("service UUID required: provide via --service flag")
	}
	if _, err := central.ValidateUUID(writeServiceUUID, charUUID); err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}

	// Parse data according to format
	data, err := parseWriteData(dataStr, writeHex)
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
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

	progress := NewProgressPrinter(fmt.Sprintf("Writing %d bytes to %s on %s", len(data), charUUID, deviceID), "Connecting", "Processing")
	progress.Start()
	defer progress.Stop()

	opts := central.Options{
		ScanTimeout:    cfg.ScanTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		Target:         central.NewTarget(writeServiceUUID, charUUID),
	}

	co := newLifecycle(logger, opts)
	defer co.Dispose()

	ctx, cancel := signalContext(cmd.Context(), func() {
		fmt.Println("\nCtrl+C pressed, disconnecting...")
	})
	defer cancel()

	if err := awaitConnected(ctx, co, deviceID); err != nil {
		return err
	}
	progress.Callback()("Processing")

	wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
	defer wcancel()

	if err := co.WriteCharacteristic(wctx, data); err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), "Write successful")
	return err
}

// parseWriteData converts the input string to bytes. In hex mode common
// separators (spaces, colons, dashes, 0x prefixes) are stripped first.
func parseWriteData(dataStr string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(dataStr), nil
	}

	cleaned := strings.ReplaceAll(dataStr, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, "0x", "")

	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blink/internal/central"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-id> [characteristic-uuid]",
	Short: "Read a characteristic value",
	Long: fmt.Sprintf(`Connect to a device, read one characteristic and print its value.

Examples:
  # Read Battery Level characteristic
  blink read %s 2a19 --service 180f

  # Read with explicit flags
  blink read %s --service 180f --char 2a19

  # Output as hex
  blink read %s 2a19 --service 180f --hex

  # Continuously poll the characteristic (every second)
  blink read %s 2a19 --service 180f --watch

  # Poll with a custom interval
  blink read %s 2a19 --service 180f --watch 500ms

%s`, exampleDeviceID, exampleDeviceID, exampleDeviceID, exampleDeviceID, exampleDeviceID, deviceIDNote),
	Args: cobra.RangeArgs(1, 2),
	RunE: runRead,
}

var (
	readServiceUUID string
	readCharUUID    string
	readHex         bool
	readTimeout     time.Duration
	readWatch       string
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID the characteristic belongs to")
	readCmd.Flags().StringVar(&readCharUUID, "char", "", "Characteristic UUID")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Output as hex string (e.g., 'ff01'); raw bytes by default")
	readCmd.Flags().DurationVar(&readTimeout, "timeout", 5*time.Second, "Read timeout")
	readCmd.Flags().StringVar(&readWatch, "watch", "", "Continuously read at interval (e.g., 1s, 500ms); default 1s if no value given")
	readCmd.Flags().Lookup("watch").NoOptDefVal = "1s"
}

func runRead(cmd *cobra.Command, args []string) error {
	// Adapter backends report IDs lowercased; match them from the start.
	deviceID := strings.ToLower(args[0])

	charUUID := readCharUUID
	if len(args) == 2 {
		charUUID = args[1]
	}
	if charUUID == "" {
		return fmt.Errorf("characteristic UUID required: provide as second argument or via --char flag")
	}
	if readServiceUUID == "" {
		return fmt.Errorf("service UUID required: provide via --service flag")
	}
	if _, err := central.ValidateUUID(readServiceUUID, charUUID); err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}

	// Parse watch interval if watch flag is set
	var watchInterval time.Duration
	if readWatch != "" {
		var err error
		watchInterval, err = time.ParseDuration(readWatch)
		if err != nil {
			return fmt.Errorf("invalid watch interval: %w", err)
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

	operation := "Reading"
	if readWatch != "" {
		operation = "Watching"
	}
	progress := NewProgressPrinter(fmt.Sprintf("%s %s from %s", operation, charUUID, deviceID), "Connecting", "Processing")
	progress.Start()
	defer progress.Stop()

	opts := central.Options{
		ScanTimeout:    cfg.ScanTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		Target:         central.NewTarget(readServiceUUID, charUUID),
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

	if readWatch != "" {
		return watchCharacteristic(ctx, cmd, co, watchInterval, logger)
	}

	return pollOnce(ctx, cmd, co)
}

// watchCharacteristic polls the characteristic until Ctrl+C or a lost
// connection. A failed poll is logged and the loop continues, except when
// the connection itself is gone.
func watchCharacteristic(ctx context.Context, cmd *cobra.Command, co *central.Coordinator, interval time.Duration, logger *logrus.Logger) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching (reading every %v). Press Ctrl+C to stop...\n", interval)

	// Perform immediate first read
	if err := pollOnce(ctx, cmd, co); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := pollOnce(ctx, cmd, co); err != nil {
				if errors.Is(err, central.ErrNotConnected) {
					return ErrConnectionLost
				}
				logger.WithError(err).Warn("Failed to read characteristic, continuing...")
			}
		}
	}
}

// pollOnce reads the characteristic once, bounded by the read timeout, and
// prints the value.
func pollOnce(ctx context.Context, cmd *cobra.Command, co *central.Coordinator) error {
	rctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	value, err := co.ReadCharacteristic(rctx)
	if err != nil {
		return err
	}
	return outputValue(cmd.OutOrStdout(), value, readHex)
}

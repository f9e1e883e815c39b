package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blink/internal/central"
	"github.com/srg/blink/internal/central/goble"
	"github.com/srg/blink/pkg/config"
)

// newAdapter creates the BLE backend the commands drive.
// Package variable so tests can inject a scripted adapter.
var newAdapter = func(logger *logrus.Logger) central.Adapter {
	return goble.New(logger)
}

// newLifecycle builds the coordinator a command drives, backed by the
// production adapter unless a test swapped the factory.
func newLifecycle(logger *logrus.Logger, opts central.Options) *central.Coordinator {
	return central.NewCoordinator(newAdapter(logger), opts, logger)
}

// loadConfig resolves the effective configuration: defaults, overlaid with
// the file named by the global --config flag when one is given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// signalContext derives a context cancelled on SIGINT/SIGTERM. onSignal runs
// once when a signal actually arrives, before the cancellation, so commands
// can announce the shutdown.
func signalContext(parent context.Context, onSignal func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			if onSignal != nil {
				onSignal()
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// discoverDevice scans until deviceID is advertised and returns its recorded
// entry. The coordinator's scan deadline bounds the wait; expiry means the
// device is not in range.
func discoverDevice(ctx context.Context, co *central.Coordinator, deviceID string) (central.Device, error) {
	if err := co.StartScan(ctx); err != nil {
		return central.Device{}, err
	}

	for {
		select {
		case <-ctx.Done():
			co.StopScan()
			return central.Device{}, ctx.Err()

		case snap, ok := <-co.Snapshots():
			if !ok {
				return central.Device{}, central.ErrDisposed
			}
			for _, d := range snap.Devices {
				if d.ID == deviceID {
					return d, nil
				}
			}

		case n, ok := <-co.Notifications():
			if !ok {
				return central.Device{}, central.ErrDisposed
			}
			switch n.Type {
			case central.NotifyScanTimeout:
				return central.Device{}, fmt.Errorf("device %s not found: %w", deviceID, n.Err)
			case central.NotifyScanError:
				return central.Device{}, n.Err
			}
		}
	}
}

// awaitConnected selects deviceID and waits for the link to come up. The
// establishment deadline inside the coordinator guarantees the wait ends:
// either a connected snapshot or a failure notification arrives.
func awaitConnected(ctx context.Context, co *central.Coordinator, deviceID string) error {
	if err := co.SelectDevice(ctx, deviceID); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			co.Disconnect()
			return ctx.Err()

		case snap, ok := <-co.Snapshots():
			if !ok {
				return central.ErrDisposed
			}
			if snap.Conn == central.ConnConnected {
				return nil
			}

		case n, ok := <-co.Notifications():
			if !ok {
				return central.ErrDisposed
			}
			switch n.Type {
			case central.NotifyConnectionError, central.NotifyConnectionTimeout:
				return n.Err
			}
		}
	}
}

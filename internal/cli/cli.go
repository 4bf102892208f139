// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package cli is the ninedof command line: one-shot identity checks, sample
// dumps, an interactive magnetometer calibration and register dumps.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/ninedof_driver/internal/app"
	"github.com/relabs-tech/ninedof_driver/internal/config"
	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

const defaultConfigPath = "ninedof_config.txt"

// openDevices is replaced in tests.
var openDevices = app.OpenDevices

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ninedof",
		Short:         "MPU9250 / AK8963 driver tool",
		Long:          "ninedof talks to an MPU9250 accelerometer and its AK8963 magnetometer over I2C.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "KEY=VALUE or YAML configuration file")
	root.PersistentFlags().Bool("debug", false, "toggle debug logging")

	root.AddCommand(newWhoAmICmd(), newReadCmd(), newCalibrateCmd(), newRegistersCmd())
	return root
}

// Execute runs the CLI with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// loadConfig reads --config. The default path may be absent, in which case
// built-in defaults are used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	var cfg *config.Config
	if _, err := os.Stat(path); err != nil && !cmd.Flags().Changed("config") && errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else {
		c, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}

	cfg.ApplyLogLevel()
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	return cfg, nil
}

func withDevices(cmd *cobra.Command, fn func(*config.Config, *app.Devices) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d, err := openDevices(cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(cfg, d)
}

func newWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "print the identity registers of both chips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDevices(cmd, func(_ *config.Config, d *app.Devices) error {
				out := cmd.OutOrStdout()
				id, err := d.Accel.Identity()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "MPU9250 @0x%02X WHO_AM_I=0x%02X\n", d.Accel.Addr(), id)
				wia, err := d.Mag.ReadWhoAmI()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "AK8963  @0x%02X WIA=0x%02X\n", d.Mag.Addr(), wia)
				return nil
			})
		},
	}
}

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "print converted accelerometer and magnetometer samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, _ := cmd.Flags().GetInt("count")
			interval, _ := cmd.Flags().GetDuration("interval")
			return withDevices(cmd, func(_ *config.Config, d *app.Devices) error {
				return readLoop(cmd.Context(), cmd.OutOrStdout(), d, count, interval)
			})
		},
	}
	cmd.Flags().IntP("count", "n", 10, "number of samples, 0 reads until interrupted")
	cmd.Flags().Duration("interval", 100*time.Millisecond, "time between samples")
	return cmd
}

func readLoop(ctx context.Context, out io.Writer, d *app.Devices, count int, interval time.Duration) error {
	unit := "m/s2"
	if d.Accel.ScaleFactor() == sensors.ScaleG {
		unit = "g"
	}
	for i := 0; count == 0 || i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
		a, err := d.Accel.ReadAcceleration()
		if err != nil {
			return err
		}
		m, err := d.Mag.ReadMagnetic()
		if sensors.IsOverflow(err) {
			fmt.Fprintf(out, "acc %s %s  mag overflow\n", a, unit)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "acc %s %s  mag %s uT\n", a, unit, m)
	}
	return nil
}

func newCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "run a hard-iron/soft-iron magnetometer calibration",
		Long: `calibrate samples the magnetometer while you rotate the board slowly
through every orientation, then derives per-axis offset and scale.
Ctrl-C aborts the run and keeps the previous calibration.`,
		Example: `  ninedof calibrate --samples 1000 --delay 10ms --save`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDevices(cmd, func(cfg *config.Config, d *app.Devices) error {
				samples := cfg.MagCalSamples
				if cmd.Flags().Changed("samples") {
					samples, _ = cmd.Flags().GetInt("samples")
				}
				delay := cfg.MagCalDelay()
				if cmd.Flags().Changed("delay") {
					delay, _ = cmd.Flags().GetDuration("delay")
				}
				save, _ := cmd.Flags().GetBool("save")
				return calibrate(cmd.Context(), cmd.OutOrStdout(), cfg, d, samples, delay, save)
			})
		},
	}
	cmd.Flags().Int("samples", 0, "readings after the first (default MAG_CAL_SAMPLES)")
	cmd.Flags().Duration("delay", 0, "wait before each reading (default MAG_CAL_DELAY_MS)")
	cmd.Flags().Bool("save", false, "write the result to MAG_CAL_FILE")
	return cmd
}

func calibrate(ctx context.Context, out io.Writer, cfg *config.Config, d *app.Devices, samples int, delay time.Duration, save bool) error {
	fmt.Fprintf(out, "rotate the sensor through all orientations (%d samples, %s apart)\n", samples, delay)

	lastDecile := -1
	cal, err := d.Mag.CalibrateRun(ctx, sensors.CalibrationRun{
		Samples: samples,
		Delay:   delay,
		Progress: func(done, total int, _ sensors.Vec3) {
			if decile := done * 10 / total; decile != lastDecile {
				lastDecile = decile
				fmt.Fprintf(out, "  %3d%%\n", decile*10)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	fmt.Fprintf(out, "offset %s uT\nscale  %s\n", cal.Offset, cal.Scale)
	if save {
		if err := app.SaveCalibration(cfg.MagCalFile, cal, samples); err != nil {
			return err
		}
		fmt.Fprintf(out, "saved to %s\n", cfg.MagCalFile)
	}
	return nil
}

func newRegistersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registers",
		Short: "dump the documented registers of one chip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			device, _ := cmd.Flags().GetString("device")
			return withDevices(cmd, func(_ *config.Config, d *app.Devices) error {
				return dumpRegisters(cmd.OutOrStdout(), d, device)
			})
		},
	}
	cmd.Flags().String("device", sensors.DeviceMPU9250, "mpu9250 or ak8963")
	return cmd
}

func dumpRegisters(out io.Writer, d *app.Devices, device string) error {
	addr, err := d.DeviceAddr(device)
	if err != nil {
		return err
	}
	regs, err := sensors.RegisterMap(device)
	if err != nil {
		return err
	}
	for _, r := range regs {
		data, err := d.Bus.ReadRegister(addr, r.Address, r.Width)
		if err != nil {
			return err
		}
		vals := make([]string, len(data))
		for i, b := range data {
			vals[i] = fmt.Sprintf("%02X", b)
		}
		fmt.Fprintf(out, "0x%02X %-28s %-2s %s\n", r.Address, r.Name, r.Access, strings.Join(vals, " "))
	}
	return nil
}

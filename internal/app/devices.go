// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/ninedof_driver/internal/bus"
	"github.com/relabs-tech/ninedof_driver/internal/config"
	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

// Devices is the sensor pair sharing one bus.
type Devices struct {
	Bus   bus.Transport
	Accel *sensors.AccelGyro
	Mag   *sensors.Magnetometer

	cfg    *config.Config
	closer func() error
}

// AccelOpts maps the configuration onto AccelGyro options.
func AccelOpts(cfg *config.Config) (*sensors.AccelGyroOpts, error) {
	rng, err := sensors.AccelRangeFromIndex(cfg.AccelRange)
	if err != nil {
		return nil, err
	}
	sf := sensors.ScaleSI
	if cfg.AccelUnits == "g" {
		sf = sensors.ScaleG
	}
	return &sensors.AccelGyroOpts{Addr: cfg.MPUI2CAddr, Range: rng, ScaleFactor: sf}, nil
}

// MagOpts maps the configuration onto Magnetometer options.
func MagOpts(cfg *config.Config) *sensors.MagnetometerOpts {
	out := sensors.MagOutput16Bit
	if cfg.MagOutputBits == 14 {
		out = sensors.MagOutput14Bit
	}
	return &sensors.MagnetometerOpts{
		Addr:      cfg.MagI2CAddr,
		Mode:      sensors.MagMode(cfg.MagMode),
		Output:    out,
		ModeDelay: cfg.MagModeDelay(),
	}
}

// OpenDevices opens the configured I2C bus and brings both sensors up.
func OpenDevices(cfg *config.Config) (*Devices, error) {
	b, err := bus.Open(cfg.I2CBus)
	if err != nil {
		return nil, err
	}
	d, err := NewDevices(b, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	d.closer = b.Close
	return d, nil
}

// NewDevices brings both sensors up on t. The AccelGyro goes first because
// the magnetometer only answers once bypass is enabled. A stored
// calibration in MAG_CAL_FILE is applied when present.
func NewDevices(t bus.Transport, cfg *config.Config) (*Devices, error) {
	aopts, err := AccelOpts(cfg)
	if err != nil {
		return nil, err
	}
	accel, err := sensors.NewAccelGyro(t, aopts)
	if err != nil {
		return nil, fmt.Errorf("accelerometer: %w", err)
	}
	mag, err := sensors.NewMagnetometer(t, MagOpts(cfg))
	if err != nil {
		return nil, fmt.Errorf("magnetometer: %w", err)
	}
	d := &Devices{Bus: t, Accel: accel, Mag: mag, cfg: cfg}

	if err := d.loadCalibration(); err != nil {
		log.WithError(err).Warn("stored magnetometer calibration ignored")
	}
	recordCalibration(mag.Calibration())

	log.WithFields(log.Fields{
		"accel_addr":  fmt.Sprintf("0x%02X", accel.Addr()),
		"accel_range": accel.Range().String(),
		"mag_addr":    fmt.Sprintf("0x%02X", mag.Addr()),
	}).Info("sensors ready")
	return d, nil
}

func (d *Devices) loadCalibration() error {
	if d.cfg.MagCalFile == "" {
		return nil
	}
	f, err := LoadCalibration(d.cfg.MagCalFile)
	if errors.Is(err, os.ErrNotExist) {
		log.WithField("file", d.cfg.MagCalFile).Info("no stored magnetometer calibration")
		return nil
	}
	if err != nil {
		return err
	}
	if err := d.Mag.SetCalibration(f.Calibration); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"file":      d.cfg.MagCalFile,
		"timestamp": f.Timestamp,
	}).Info("magnetometer calibration loaded")
	return nil
}

// DeviceAddr returns the bus address of a device named as in
// sensors.RegisterMap.
func (d *Devices) DeviceAddr(device string) (uint16, error) {
	switch device {
	case sensors.DeviceMPU9250:
		return d.Accel.Addr(), nil
	case sensors.DeviceAK8963:
		return d.Mag.Addr(), nil
	}
	return 0, fmt.Errorf("unknown device %q", device)
}

// WriteRegister writes one register through the owning driver, so range and
// mode changes keep the drivers' cached scale factors in step.
func (d *Devices) WriteRegister(device string, reg, val byte) error {
	switch device {
	case sensors.DeviceMPU9250:
		return d.Accel.WriteRegister(reg, val)
	case sensors.DeviceAK8963:
		return d.Mag.WriteRegister(reg, val)
	}
	return fmt.Errorf("unknown device %q", device)
}

// Close releases the bus when OpenDevices opened it.
func (d *Devices) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

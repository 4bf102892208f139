// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/ninedof_driver/internal/bus"
	"github.com/relabs-tech/ninedof_driver/internal/codec"
)

// AccelRange is an ACCEL_CONFIG full-scale selection (bits 4:3).
type AccelRange byte

const (
	Accel2G  AccelRange = 0b00000000
	Accel4G  AccelRange = 0b00001000
	Accel8G  AccelRange = 0b00010000
	Accel16G AccelRange = 0b00011000
)

// Sensitivity returns the LSB per g divisor of the range.
func (r AccelRange) Sensitivity() (float64, bool) {
	switch r {
	case Accel2G:
		return 16384, true
	case Accel4G:
		return 8192, true
	case Accel8G:
		return 4096, true
	case Accel16G:
		return 2048, true
	}
	return 0, false
}

func (r AccelRange) String() string {
	switch r {
	case Accel2G:
		return "±2g"
	case Accel4G:
		return "±4g"
	case Accel8G:
		return "±8g"
	case Accel16G:
		return "±16g"
	}
	return fmt.Sprintf("AccelRange(0x%02X)", byte(r))
}

// AccelRangeFromIndex maps the 0..3 FS_SEL index used in config files.
func AccelRangeFromIndex(i byte) (AccelRange, error) {
	if i > 3 {
		return 0, fmt.Errorf("%w: index %d", ErrInvalidRange, i)
	}
	return AccelRange(i << 3), nil
}

// Output scale factors for acceleration.
const (
	ScaleG  = 1.0
	ScaleSI = 9.80665 // 1 g in m/s²
)

// AccelGyroOpts configures NewAccelGyro. Zero fields take the default.
type AccelGyroOpts struct {
	Addr        uint16
	Range       AccelRange
	ScaleFactor float64
}

// DefaultAccelGyroOpts reads acceleration in m/s² at ±2g.
var DefaultAccelGyroOpts = AccelGyroOpts{
	Addr:        DefaultAccelGyroAddr,
	Range:       Accel2G,
	ScaleFactor: ScaleSI,
}

// AccelGyro is the MPU9250 accelerometer/gyroscope die.
//
// Construction leaves the I2C bypass enabled so the AK8963 behind it becomes
// addressable on the same bus; build the AccelGyro before the Magnetometer.
type AccelGyro struct {
	dev device
	sf  float64

	// mu is held across a range change and across each acceleration read,
	// so a sample is always decoded with the divisor it was taken at.
	mu          sync.RWMutex
	rng         AccelRange
	sensitivity float64 // written only by ConfigureFullScale
}

// NewAccelGyro verifies WHO_AM_I, applies the full-scale range and enables
// the I2C bypass. Nothing is written if the identity check fails.
func NewAccelGyro(t bus.Transport, opts *AccelGyroOpts) (*AccelGyro, error) {
	o := DefaultAccelGyroOpts
	if opts != nil {
		o.Range = opts.Range
		if opts.Addr != 0 {
			o.Addr = opts.Addr
		}
		if opts.ScaleFactor != 0 {
			o.ScaleFactor = opts.ScaleFactor
		}
	}

	dev, err := newDevice(t, o.Addr)
	if err != nil {
		return nil, fmt.Errorf("MPU9250: %w", err)
	}
	d := &AccelGyro{dev: dev, sf: o.ScaleFactor}

	id, err := d.Identity()
	if err != nil {
		return nil, fmt.Errorf("MPU9250: read WHO_AM_I: %w", err)
	}
	if id != MPU9250WhoAmI {
		return nil, fmt.Errorf("%w: MPU9250 at 0x%02X reports WHO_AM_I=0x%02X, want 0x%02X",
			ErrDeviceNotFound, o.Addr, id, MPU9250WhoAmI)
	}

	if err := d.ConfigureFullScale(o.Range); err != nil {
		return nil, err
	}
	if err := d.SetBypass(true); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"addr":  fmt.Sprintf("0x%02X", o.Addr),
		"range": o.Range.String(),
		"scale": o.ScaleFactor,
	}).Debug("MPU9250 initialized, I2C bypass enabled")
	return d, nil
}

// ConfigureFullScale writes ACCEL_CONFIG. The cached sensitivity only changes
// once the write has succeeded.
func (d *AccelGyro) ConfigureFullScale(r AccelRange) error {
	s, ok := r.Sensitivity()
	if !ok {
		return fmt.Errorf("MPU9250: %w: 0x%02X", ErrInvalidRange, byte(r))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.writeReg(regAccelConfig, byte(r)); err != nil {
		return fmt.Errorf("MPU9250: write ACCEL_CONFIG: %w", err)
	}
	d.rng = r
	d.sensitivity = s
	return nil
}

// Range returns the full-scale range last written successfully.
func (d *AccelGyro) Range() AccelRange {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rng
}

func (d *AccelGyro) ScaleFactor() float64 { return d.sf }

func (d *AccelGyro) Addr() uint16 { return d.dev.addr }

// ReadAccelerationRaw reads ACCEL_XOUT_H..ACCEL_ZOUT_L in a single burst.
func (d *AccelGyro) ReadAccelerationRaw() (RawSample, error) {
	b, err := d.dev.readRegBlock(regAccelXOutH, 6)
	if err != nil {
		return RawSample{}, fmt.Errorf("MPU9250: read ACCEL_OUT: %w", err)
	}
	x, y, z := codec.Triple16BE(b)
	return RawSample{X: x, Y: y, Z: z}, nil
}

// ReadAcceleration returns acceleration in units of the configured scale
// factor (g for ScaleG, m/s² for ScaleSI).
func (d *AccelGyro) ReadAcceleration() (Vec3, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	raw, err := d.ReadAccelerationRaw()
	if err != nil {
		return Vec3{}, err
	}
	return Vec3{
		X: float64(raw.X) / d.sensitivity * d.sf,
		Y: float64(raw.Y) / d.sensitivity * d.sf,
		Z: float64(raw.Z) / d.sensitivity * d.sf,
	}, nil
}

// ReadGyro is a stub: it performs no register access and always returns zero.
// No gyroscope decode is implemented yet.
func (d *AccelGyro) ReadGyro() Vec3 {
	return Vec3{}
}

// WriteRegister writes one register. ACCEL_CONFIG goes through
// ConfigureFullScale so the cached divisor follows the chip, and
// INT_PIN_CFG values that clear BYPASS_EN are refused.
func (d *AccelGyro) WriteRegister(reg, val byte) error {
	switch reg {
	case regAccelConfig:
		return d.ConfigureFullScale(AccelRange(val))
	case regIntPinCfg:
		if val&intPinBypassMask != intPinBypassEn {
			return fmt.Errorf("MPU9250: INT_PIN_CFG=0x%02X: %w", val, ErrBypassRequired)
		}
	}
	if err := d.dev.writeReg(reg, val); err != nil {
		return fmt.Errorf("MPU9250: write 0x%02X: %w", reg, err)
	}
	return nil
}

// Identity reads WHO_AM_I.
func (d *AccelGyro) Identity() (byte, error) {
	return d.dev.readReg(regWhoAmI)
}

// SetBypass sets or clears INT_PIN_CFG.BYPASS_EN, keeping the other bits.
func (d *AccelGyro) SetBypass(enable bool) error {
	v, err := d.dev.readReg(regIntPinCfg)
	if err != nil {
		return fmt.Errorf("MPU9250: read INT_PIN_CFG: %w", err)
	}
	v &^= intPinBypassMask
	if enable {
		v |= intPinBypassEn
	}
	if err := d.dev.writeReg(regIntPinCfg, v); err != nil {
		return fmt.Errorf("MPU9250: write INT_PIN_CFG: %w", err)
	}
	return nil
}

// Bypass reports whether INT_PIN_CFG.BYPASS_EN is set.
func (d *AccelGyro) Bypass() (bool, error) {
	v, err := d.dev.readReg(regIntPinCfg)
	if err != nil {
		return false, fmt.Errorf("MPU9250: read INT_PIN_CFG: %w", err)
	}
	return v&intPinBypassMask == intPinBypassEn, nil
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/ninedof_driver/internal/bus"
	"github.com/relabs-tech/ninedof_driver/internal/codec"
)

// MagMode is the CNTL1 operation mode (bits 3:0).
type MagMode byte

const (
	MagPowerDown       MagMode = 0b0000
	MagSingle          MagMode = 0b0001
	MagContinuous8Hz   MagMode = 0b0010
	MagExternalTrigger MagMode = 0b0100
	MagContinuous100Hz MagMode = 0b0110
	MagSelfTest        MagMode = 0b1000
	MagFuseROM         MagMode = 0b1111
)

// measuring reports whether mode produces samples.
func (mode MagMode) measuring() bool {
	switch mode {
	case MagSingle, MagContinuous8Hz, MagExternalTrigger, MagContinuous100Hz:
		return true
	}
	return false
}

// MagOutput is the output bit width. The zero value is 16-bit.
type MagOutput byte

const (
	MagOutput16Bit MagOutput = iota
	MagOutput14Bit
)

// cntl1 returns the CNTL1 BIT field (bit 4) for the width.
func (o MagOutput) cntl1() byte {
	if o == MagOutput16Bit {
		return cntl1BIT
	}
	return 0
}

func magOutputFromCNTL1(v byte) MagOutput {
	if v&cntl1BIT != 0 {
		return MagOutput16Bit
	}
	return MagOutput14Bit
}

// MicroTeslaPerLSB returns the output scale of the bit width.
func (o MagOutput) MicroTeslaPerLSB() float64 {
	if o == MagOutput16Bit {
		return 0.15
	}
	return 0.6
}

// MagnetometerOpts configures NewMagnetometer.
//
// Addr 0 and Mode MagPowerDown take the default; the zero Output is 16-bit,
// the same as the default. Mode must be a measurement mode. ModeDelay is
// waited after each CNTL1/CNTL2 write; the datasheet asks for at least 100µs.
type MagnetometerOpts struct {
	Addr      uint16
	Mode      MagMode
	Output    MagOutput
	ModeDelay time.Duration
}

// DefaultMagnetometerOpts measures continuously at 100 Hz with 16-bit output.
var DefaultMagnetometerOpts = MagnetometerOpts{
	Addr:      DefaultMagnetometerAddr,
	Mode:      MagContinuous100Hz,
	Output:    MagOutput16Bit,
	ModeDelay: time.Millisecond,
}

// Magnetometer is the AK8963 die. On an MPU9250 it is only reachable after
// the AccelGyro has enabled the I2C bypass.
type Magnetometer struct {
	dev device
	adj Vec3

	// mu guards opts, so and cal. Mode writes through WriteRegister
	// change opts and so while readers are active.
	mu   sync.RWMutex
	opts MagnetometerOpts
	so   float64
	cal  Calibration
}

// sleep is time.Sleep, replaced in tests.
var sleep = time.Sleep

// NewMagnetometer verifies WIA, resets the chip, reads the factory
// adjustment from fuse ROM and starts the configured measurement mode.
// Nothing is written if the identity check fails.
func NewMagnetometer(t bus.Transport, opts *MagnetometerOpts) (*Magnetometer, error) {
	o := DefaultMagnetometerOpts
	if opts != nil {
		o = *opts
		if o.Addr == 0 {
			o.Addr = DefaultMagnetometerAddr
		}
		if o.Mode == MagPowerDown {
			o.Mode = DefaultMagnetometerOpts.Mode
		}
	}
	if !o.Mode.measuring() {
		return nil, fmt.Errorf("AK8963: %w: 0x%02X", ErrInvalidMagMode, byte(o.Mode))
	}

	dev, err := newDevice(t, o.Addr)
	if err != nil {
		return nil, fmt.Errorf("AK8963: %w", err)
	}
	m := &Magnetometer{
		dev:  dev,
		opts: o,
		so:   o.Output.MicroTeslaPerLSB(),
		cal:  IdentityCalibration(),
	}

	id, err := m.ReadWhoAmI()
	if err != nil {
		return nil, fmt.Errorf("AK8963: read WIA: %w", err)
	}
	if id != AK8963WhoAmI {
		return nil, fmt.Errorf("%w: AK8963 at 0x%02X reports WIA=0x%02X, want 0x%02X",
			ErrDeviceNotFound, o.Addr, id, AK8963WhoAmI)
	}

	if err := m.Reset(); err != nil {
		return nil, err
	}
	if err := m.readAdjustment(); err != nil {
		return nil, err
	}
	if err := m.setMode(o.Output.cntl1() | byte(o.Mode)); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"addr":       fmt.Sprintf("0x%02X", o.Addr),
		"mode":       fmt.Sprintf("0x%02X", byte(o.Mode)),
		"uT_per_lsb": m.so,
		"adjustment": m.adj.String(),
	}).Debug("AK8963 initialized")
	return m, nil
}

// Reset issues a CNTL2 soft reset.
func (m *Magnetometer) Reset() error {
	if err := m.dev.writeReg(regCNTL2, cntl2SRST); err != nil {
		return fmt.Errorf("AK8963: soft reset: %w", err)
	}
	m.wait()
	return nil
}

func (m *Magnetometer) readAdjustment() error {
	if err := m.setMode(byte(MagFuseROM)); err != nil {
		return err
	}
	asa, err := m.dev.readRegBlock(regASAX, 3)
	if err != nil {
		return fmt.Errorf("AK8963: read ASA: %w", err)
	}
	m.adj = Vec3{
		X: factoryAdjustment(codec.Uint8(asa[0:1])),
		Y: factoryAdjustment(codec.Uint8(asa[1:2])),
		Z: factoryAdjustment(codec.Uint8(asa[2:3])),
	}
	// Fuse ROM mode must be left through power-down.
	return m.setMode(byte(MagPowerDown))
}

func (m *Magnetometer) setMode(cntl1 byte) error {
	if err := m.dev.writeReg(regCNTL1, cntl1); err != nil {
		return fmt.Errorf("AK8963: write CNTL1=0x%02X: %w", cntl1, err)
	}
	m.wait()
	return nil
}

func (m *Magnetometer) wait() {
	m.mu.RLock()
	d := m.opts.ModeDelay
	m.mu.RUnlock()
	if d > 0 {
		sleep(d)
	}
}

// SetMode switches CNTL1 to mode with the given output width, passing
// through power-down as the datasheet requires. Self-test and fuse ROM
// access are refused. The output scale used by ReadMagnetic follows.
func (m *Magnetometer) SetMode(mode MagMode, out MagOutput) error {
	if mode != MagPowerDown && !mode.measuring() {
		return fmt.Errorf("AK8963: %w: 0x%02X", ErrInvalidMagMode, byte(mode))
	}
	if err := m.setMode(byte(MagPowerDown)); err != nil {
		return err
	}
	if mode != MagPowerDown {
		if err := m.setMode(out.cntl1() | byte(mode)); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.opts.Mode = mode
	m.opts.Output = out
	m.so = out.MicroTeslaPerLSB()
	m.mu.Unlock()
	return nil
}

// WriteRegister writes one register. CNTL1 goes through SetMode so the
// output scale stays in step with the chip, and a CNTL2 soft reset is
// followed by re-entering the active mode.
func (m *Magnetometer) WriteRegister(reg, val byte) error {
	switch reg {
	case regCNTL1:
		if val&^(cntl1BIT|cntl1Mode) != 0 {
			return fmt.Errorf("AK8963: %w: CNTL1=0x%02X", ErrInvalidMagMode, val)
		}
		return m.SetMode(MagMode(val&cntl1Mode), magOutputFromCNTL1(val))
	case regCNTL2:
		if val&cntl2SRST != 0 {
			if err := m.Reset(); err != nil {
				return err
			}
			m.mu.RLock()
			mode, out := m.opts.Mode, m.opts.Output
			m.mu.RUnlock()
			return m.SetMode(mode, out)
		}
	}
	if err := m.dev.writeReg(reg, val); err != nil {
		return fmt.Errorf("AK8963: write 0x%02X: %w", reg, err)
	}
	return nil
}

// ReadWhoAmI reads WIA.
func (m *Magnetometer) ReadWhoAmI() (byte, error) {
	return m.dev.readReg(regWIA)
}

// Addr returns the I2C address of the chip.
func (m *Magnetometer) Addr() uint16 { return m.dev.addr }

// Adjustment returns the factory sensitivity adjustment read at construction.
func (m *Magnetometer) Adjustment() Vec3 { return m.adj }

// MicroTeslaPerLSB returns the output scale in use.
func (m *Magnetometer) MicroTeslaPerLSB() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.so
}

// ReadRaw reads HXL..HZH and then ST2 exactly once; the data registers stay
// latched until ST2 has been read.
func (m *Magnetometer) ReadRaw() (RawSample, error) {
	b, err := m.dev.readRegBlock(regHXL, 6)
	if err != nil {
		return RawSample{}, fmt.Errorf("AK8963: read HXL..HZH: %w", err)
	}
	st2, err := m.dev.readReg(regST2)
	if err != nil {
		return RawSample{}, fmt.Errorf("AK8963: read ST2: %w", err)
	}
	if st2&st2HOFL != 0 {
		return RawSample{}, ErrMagneticOverflow
	}
	x, y, z := codec.Triple16LE(b)
	return RawSample{X: x, Y: y, Z: z}, nil
}

// ReadMagnetic returns the field in µT with factory adjustment and the
// active calibration applied.
func (m *Magnetometer) ReadMagnetic() (Vec3, error) {
	raw, err := m.ReadRaw()
	if err != nil {
		return Vec3{}, err
	}
	m.mu.RLock()
	so, cal := m.so, m.cal
	m.mu.RUnlock()
	return cal.Apply(toMicroTesla(adjust(raw, m.adj), so)), nil
}

// Calibration returns the active hard-iron/soft-iron correction.
func (m *Magnetometer) Calibration() Calibration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cal
}

// SetCalibration installs coefficients persisted from an earlier run.
func (m *Magnetometer) SetCalibration(c Calibration) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.setCalibration(c)
	return nil
}

func (m *Magnetometer) setCalibration(c Calibration) {
	m.mu.Lock()
	m.cal = c
	m.mu.Unlock()
}

// IsOverflow reports whether err came from a saturated sample.
func IsOverflow(err error) bool {
	return errors.Is(err, ErrMagneticOverflow)
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

// Calibration holds the hard-iron offset (µT) and soft-iron scale per axis.
type Calibration struct {
	Offset Vec3 `json:"offset"`
	Scale  Vec3 `json:"scale"`
}

// IdentityCalibration applies no correction.
func IdentityCalibration() Calibration {
	return Calibration{Scale: Vec3{X: 1, Y: 1, Z: 1}}
}

// Apply corrects a reading that already has factory adjustment and output
// scale applied.
func (c Calibration) Apply(v Vec3) Vec3 {
	return deskew(debias(v, c.Offset), c.Scale)
}

// Validate rejects non-finite values and zero scales.
func (c Calibration) Validate() error {
	off, sc := c.Offset.Axes(), c.Scale.Axes()
	for i := 0; i < 3; i++ {
		if math.IsNaN(off[i]) || math.IsInf(off[i], 0) {
			return fmt.Errorf("%w: offset %s is %v", ErrInvalidCalibration, axisNames[i], off[i])
		}
		if math.IsNaN(sc[i]) || math.IsInf(sc[i], 0) || sc[i] == 0 {
			return fmt.Errorf("%w: scale %s is %v", ErrInvalidCalibration, axisNames[i], sc[i])
		}
	}
	return nil
}

// CalibrationRun parameterizes CalibrateRun.
type CalibrationRun struct {
	Samples int           // readings after the seed reading, > 0
	Delay   time.Duration // wait before each reading, >= 0
	// Progress, if set, is called after every reading with the number of
	// readings taken so far (the seed counts as 0).
	Progress func(done, total int, reading Vec3)
}

// Validate rejects runs without samples or with a negative delay.
func (run CalibrationRun) Validate() error {
	if run.Samples <= 0 {
		return fmt.Errorf("%w: samples=%d", ErrInvalidCalibrationRun, run.Samples)
	}
	if run.Delay < 0 {
		return fmt.Errorf("%w: delay=%s", ErrInvalidCalibrationRun, run.Delay)
	}
	return nil
}

// Calibrate is CalibrateRun without progress reporting.
func (m *Magnetometer) Calibrate(ctx context.Context, samples int, delay time.Duration) (Calibration, error) {
	return m.CalibrateRun(ctx, CalibrationRun{Samples: samples, Delay: delay})
}

// CalibrateRun derives hard-iron and soft-iron coefficients from a min/max
// sweep while the sensor is rotated through all orientations.
//
// The active calibration is reset to identity for the duration of the run.
// On success the new coefficients become active and are returned. On any
// failure, including ctx cancellation between samples, the previous
// coefficients are restored.
//
// An axis whose reading never changed gets a scale of 1.0 and a logged
// warning; the mean half-amplitude is then taken over the remaining axes.
// ErrDegenerateCalibration is returned when no axis changed at all.
func (m *Magnetometer) CalibrateRun(ctx context.Context, run CalibrationRun) (Calibration, error) {
	if err := run.Validate(); err != nil {
		return Calibration{}, err
	}

	prev := m.Calibration()
	m.setCalibration(IdentityCalibration())

	c, err := m.sweep(ctx, run)
	if err != nil {
		m.setCalibration(prev)
		return Calibration{}, err
	}
	m.setCalibration(c)
	return c, nil
}

func (m *Magnetometer) sweep(ctx context.Context, run CalibrationRun) (Calibration, error) {
	if err := ctx.Err(); err != nil {
		return Calibration{}, err
	}
	v, err := m.ReadMagnetic()
	if err != nil {
		return Calibration{}, fmt.Errorf("AK8963: calibration seed reading: %w", err)
	}
	b := newBounds(v)
	if run.Progress != nil {
		run.Progress(0, run.Samples, v)
	}

	for i := 1; i <= run.Samples; i++ {
		if err := sleepCtx(ctx, run.Delay); err != nil {
			return Calibration{}, err
		}
		v, err := m.ReadMagnetic()
		if err != nil {
			return Calibration{}, fmt.Errorf("AK8963: calibration reading %d/%d: %w", i, run.Samples, err)
		}
		b.add(v)
		if run.Progress != nil {
			run.Progress(i, run.Samples, v)
		}
	}

	c, degenerate, err := b.solve()
	if err != nil {
		return Calibration{}, err
	}
	for i, d := range degenerate {
		if d {
			log.WithFields(log.Fields{
				"axis":  axisNames[i],
				"value": b.min.Axes()[i],
			}).Warn("AK8963: axis did not vary during calibration, soft-iron scale left at 1.0")
		}
	}
	return c, nil
}

// sleepCtx waits d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return ctx.Err()
}

// bounds tracks running per-axis extremes.
type bounds struct {
	min, max Vec3
}

func newBounds(v Vec3) bounds {
	return bounds{min: v, max: v}
}

func (b *bounds) add(v Vec3) {
	b.min = Vec3{X: math.Min(b.min.X, v.X), Y: math.Min(b.min.Y, v.Y), Z: math.Min(b.min.Z, v.Z)}
	b.max = Vec3{X: math.Max(b.max.X, v.X), Y: math.Max(b.max.Y, v.Y), Z: math.Max(b.max.Z, v.Z)}
}

// solve turns the extremes into coefficients and reports which axes had no
// swing at all.
func (b bounds) solve() (Calibration, [3]bool, error) {
	lo, hi := b.min.Axes(), b.max.Axes()

	var offset, delta, scale [3]float64
	var degenerate [3]bool
	sum, n := 0.0, 0
	for i := 0; i < 3; i++ {
		offset[i] = (hi[i] + lo[i]) / 2
		delta[i] = (hi[i] - lo[i]) / 2
		if !(delta[i] > 0) {
			degenerate[i] = true
			continue
		}
		sum += delta[i]
		n++
	}
	if n == 0 {
		return Calibration{}, degenerate, ErrDegenerateCalibration
	}

	avg := sum / float64(n)
	for i := 0; i < 3; i++ {
		if degenerate[i] {
			scale[i] = 1
			continue
		}
		scale[i] = avg / delta[i]
	}
	return Calibration{Offset: vecFromAxes(offset), Scale: vecFromAxes(scale)}, degenerate, nil
}

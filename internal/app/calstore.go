// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

// calibrationFileVersion is bumped when the file layout changes.
const calibrationFileVersion = 1

// CalibrationFile is the on-disk form of a magnetometer calibration.
type CalibrationFile struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Samples   int       `json:"samples"`
	sensors.Calibration
}

// LoadCalibration reads a calibration written by SaveCalibration. A missing
// file is reported with an error satisfying errors.Is(err, os.ErrNotExist).
func LoadCalibration(path string) (*CalibrationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	var f CalibrationFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	if f.Version != calibrationFileVersion {
		return nil, fmt.Errorf("calibration %s: unsupported version %d", path, f.Version)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("calibration %s: %w", path, err)
	}
	return &f, nil
}

// SaveCalibration writes c to path, replacing any previous file only once
// the new content is fully on disk.
func SaveCalibration(path string, c sensors.Calibration, samples int) error {
	if err := c.Validate(); err != nil {
		return err
	}
	f := CalibrationFile{
		Version:     calibrationFileVersion,
		Timestamp:   time.Now().UTC(),
		Samples:     samples,
		Calibration: c,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".calibration-*.json")
	if err != nil {
		return fmt.Errorf("create calibration file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install calibration: %w", err)
	}
	return nil
}

package app

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/ninedof_driver/internal/bus/bustest"
	"github.com/relabs-tech/ninedof_driver/internal/config"
	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

func TestNewDevicesAppliesStoredCalibration(t *testing.T) {
	cfg := config.Default()
	cfg.MagModeDelayMS = 0
	cfg.MagCalFile = filepath.Join(t.TempDir(), "cal.json")
	stored := sensors.Calibration{Offset: sensors.Vec3{X: 1, Y: 2, Z: 3}, Scale: sensors.Vec3{X: 2, Y: 2, Z: 2}}
	if err := SaveCalibration(cfg.MagCalFile, stored, 10); err != nil {
		t.Fatal(err)
	}

	d, err := NewDevices(bustest.NewMPU9250(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if d.Mag.Calibration() != stored {
		t.Errorf("Calibration = %+v, want stored %+v", d.Mag.Calibration(), stored)
	}
}

func TestNewDevicesWithoutStoredCalibration(t *testing.T) {
	_, _, d := newTestDevices(t)
	if d.Mag.Calibration() != sensors.IdentityCalibration() {
		t.Errorf("Calibration = %+v, want identity", d.Mag.Calibration())
	}
}

func TestNewDevicesUsesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MagModeDelayMS = 0
	cfg.MagCalFile = ""
	cfg.AccelRange = 3
	cfg.AccelUnits = "g"
	cfg.MagOutputBits = 14
	cfg.MagMode = 0x02

	b := bustest.NewMPU9250()
	d, err := NewDevices(b, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if d.Accel.Range() != sensors.Accel16G || d.Accel.ScaleFactor() != sensors.ScaleG {
		t.Errorf("accel = %s x%v", d.Accel.Range(), d.Accel.ScaleFactor())
	}
	if d.Mag.MicroTeslaPerLSB() != 0.6 {
		t.Errorf("mag scale = %v, want 0.6", d.Mag.MicroTeslaPerLSB())
	}
	if got := b.Reg(bustest.MagAddr, 0x0A); got != 0x02 {
		t.Errorf("CNTL1 = 0x%02X, want 0x02", got)
	}
}

func TestNewDevicesMissingMagnetometer(t *testing.T) {
	cfg := config.Default()
	cfg.MagModeDelayMS = 0
	cfg.MagI2CAddr = 0x0D

	_, err := NewDevices(bustest.NewMPU9250(), cfg)
	if !errors.Is(err, bustest.ErrNACK) {
		t.Errorf("err = %v, want NACK", err)
	}
}

func TestDeviceAddr(t *testing.T) {
	_, _, d := newTestDevices(t)
	if a, err := d.DeviceAddr(sensors.DeviceAK8963); err != nil || a != bustest.MagAddr {
		t.Errorf("ak8963 = 0x%02X, %v", a, err)
	}
	if _, err := d.DeviceAddr("bmp280"); err == nil {
		t.Errorf("unknown device accepted")
	}
}

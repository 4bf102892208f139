package app

import (
	"path/filepath"
	"testing"

	"github.com/relabs-tech/ninedof_driver/internal/bus/bustest"
	"github.com/relabs-tech/ninedof_driver/internal/config"
)

// newTestDevices brings both sensors up on a simulated board with a
// calibration file path inside a temp dir.
func newTestDevices(t *testing.T) (*bustest.Board, *config.Config, *Devices) {
	t.Helper()
	cfg := config.Default()
	cfg.MagModeDelayMS = 0
	cfg.MagCalFile = filepath.Join(t.TempDir(), "mag_calibration.json")

	b := bustest.NewMPU9250()
	d, err := NewDevices(b, cfg)
	if err != nil {
		t.Fatalf("NewDevices: %v", err)
	}
	return b, cfg, d
}

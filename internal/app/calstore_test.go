package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

func TestSaveAndLoadCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cal.json")
	c := sensors.Calibration{
		Offset: sensors.Vec3{X: 12.5, Y: -3, Z: 40},
		Scale:  sensors.Vec3{X: 0.9, Y: 1.1, Z: 1},
	}
	if err := SaveCalibration(path, c, 250); err != nil {
		t.Fatal(err)
	}

	f, err := LoadCalibration(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Calibration != c || f.Samples != 250 || f.Version != calibrationFileVersion {
		t.Errorf("loaded %+v", f)
	}
	if f.Timestamp.IsZero() {
		t.Errorf("timestamp not set")
	}

	data, _ := os.ReadFile(path)
	for _, key := range []string{`"offset"`, `"scale"`, `"version"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("file lacks %s:\n%s", key, data)
		}
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestLoadCalibrationMissing(t *testing.T) {
	_, err := LoadCalibration(filepath.Join(t.TempDir(), "none.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestLoadCalibrationRejectsBadFiles(t *testing.T) {
	tests := map[string]string{
		"version": `{"version":7,"offset":{"x":0,"y":0,"z":0},"scale":{"x":1,"y":1,"z":1}}`,
		"scale":   `{"version":1,"offset":{"x":0,"y":0,"z":0},"scale":{"x":1,"y":0,"z":1}}`,
		"json":    `{"version":`,
	}
	for name, body := range tests {
		path := filepath.Join(t.TempDir(), name+".json")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadCalibration(path); err == nil {
			t.Errorf("%s: bad file accepted", name)
		}
	}
}

func TestSaveCalibrationRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	err := SaveCalibration(path, sensors.Calibration{}, 1)
	if !errors.Is(err, sensors.ErrInvalidCalibration) {
		t.Errorf("err = %v, want ErrInvalidCalibration", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("invalid calibration was written")
	}
}

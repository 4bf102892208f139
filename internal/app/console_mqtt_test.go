package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/ninedof_driver/internal/imu"
)

func TestFormatSample(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 11, 12, 345e6, time.UTC)
	tests := []struct {
		s    imu.Sample
		want string
	}{
		{imu.Sample{Sensor: imu.SensorAccel, Time: ts, Unit: "g", X: 1}, "[ACC ] 10:11:12.345  x=    1.000"},
		{imu.Sample{Sensor: imu.SensorMag, Time: ts, Unit: "uT", Z: -42.5}, "[MAG ]"},
		{imu.Sample{Sensor: imu.SensorMag, Time: ts, Unit: "uT", Calibrated: true}, "[MAG*]"},
	}
	for _, tt := range tests {
		got := formatSample(tt.s)
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("formatSample(%+v) = %q, want prefix %q", tt.s, got, tt.want)
		}
		if !strings.HasSuffix(got, tt.s.Unit) {
			t.Errorf("formatSample(%+v) = %q lacks unit", tt.s, got)
		}
	}
}

func TestPrintCalibration(t *testing.T) {
	var buf bytes.Buffer
	printCalibration(&buf, []byte(`{"version":1,"samples":500,"offset":{"x":1,"y":2,"z":3},"scale":{"x":1,"y":1,"z":1}}`))
	out := buf.String()
	if !strings.HasPrefix(out, "[CAL ]") || !strings.Contains(out, "samples=500") {
		t.Errorf("output = %q", out)
	}

	buf.Reset()
	printSample(&buf, []byte("not json"))
	if buf.Len() != 0 {
		t.Errorf("bad payload printed %q", buf.String())
	}
}

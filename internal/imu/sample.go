package imu

import (
	"time"

	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

// Sensor names used in Sample.Sensor.
const (
	SensorAccel = "accel"
	SensorMag   = "mag"
)

// Sample is one converted reading as published on MQTT.
type Sample struct {
	Sensor string    `json:"sensor"` // "accel" or "mag"
	Time   time.Time `json:"time"`
	Unit   string    `json:"unit"` // "g", "m/s2" or "uT"

	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`

	Calibrated bool `json:"calibrated,omitempty"` // mag only
}

func NewSample(sensor, unit string, v sensors.Vec3, t time.Time) Sample {
	return Sample{Sensor: sensor, Time: t, Unit: unit, X: v.X, Y: v.Y, Z: v.Z}
}

// Vec3 returns the reading as a vector.
func (s Sample) Vec3() sensors.Vec3 {
	return sensors.Vec3{X: s.X, Y: s.Y, Z: s.Z}
}

// AccelUnit returns the unit label for an accelerometer scale factor.
func AccelUnit(scale float64) string {
	if scale == sensors.ScaleG {
		return "g"
	}
	return "m/s2"
}

package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

var (
	samplesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ninedof_samples_published_total",
			Help: "Samples published on MQTT, by sensor.",
		},
		[]string{"sensor"},
	)
	sampleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ninedof_sample_errors_total",
			Help: "Failed sensor reads, by sensor and reason.",
		},
		[]string{"sensor", "reason"},
	)
	calibrationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ninedof_mag_calibration_runs_total",
			Help: "Magnetometer calibration runs, by result.",
		},
		[]string{"result"},
	)
	calibrationCoeff = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ninedof_mag_calibration",
			Help: "Active magnetometer calibration coefficients.",
		},
		[]string{"kind", "axis"},
	)
)

func init() {
	prometheus.MustRegister(samplesPublished)
	prometheus.MustRegister(sampleErrors)
	prometheus.MustRegister(calibrationRuns)
	prometheus.MustRegister(calibrationCoeff)
}

func recordCalibration(c sensors.Calibration) {
	off, sc := c.Offset.Axes(), c.Scale.Axes()
	for i, axis := range []string{"x", "y", "z"} {
		calibrationCoeff.WithLabelValues("offset", axis).Set(off[i])
		calibrationCoeff.WithLabelValues("scale", axis).Set(sc[i])
	}
}

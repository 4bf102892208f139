// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/ninedof_driver/internal/config"
	"github.com/relabs-tech/ninedof_driver/internal/imu"
	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

// Server serves the calibration and register debugging websockets, the
// JSON API and Prometheus metrics for one sensor pair.
type Server struct {
	cfg *config.Config
	dev *Devices
	pub publisher // nil when no broker is reachable

	// held for the whole of a calibration run, whichever client started it
	calibrating sync.Mutex

	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, dev *Devices, pub publisher) *Server {
	return &Server{
		cfg: cfg,
		dev: dev,
		pub: pub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local development
			},
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/calibration", s.HandleCalibrationWS)
	mux.HandleFunc("/ws/registers", s.HandleRegisterDebugWS)
	mux.HandleFunc("/api/calibration", s.HandleCalibration)
	mux.HandleFunc("/api/sensors", s.HandleSensorData)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// RunWeb opens the sensors and serves on WEB_SERVER_PORT until ctx is done.
// Finished calibrations are also published on TOPIC_CALIBRATION when the
// broker is reachable.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	d, err := OpenDevices(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	var pub publisher
	if client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer+"-web"); err != nil {
		log.WithError(err).Warn("web: calibrations will not be published")
	} else {
		defer client.Disconnect(250)
		pub = mqttPublisher{client: client}
	}

	return serve(ctx, cfg.WebServerPort, NewServer(cfg, d, pub).Handler())
}

// RunRegisterDebug serves only the register debugger and live sensor data.
func RunRegisterDebug(ctx context.Context, cfg *config.Config, port int) error {
	d, err := OpenDevices(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	s := NewServer(cfg, d, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleRegisterDebugWS)
	mux.HandleFunc("/api/sensors", s.HandleSensorData)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "web/register_debug.html")
	})
	return serve(ctx, port, mux)
}

func serve(ctx context.Context, port int, h http.Handler) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", srv.Addr).Info("web server listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type calibrationStatus struct {
	Active sensors.Calibration `json:"active"`
	Stored *CalibrationFile    `json:"stored"`
}

// HandleCalibration returns the active calibration and the stored one, if any.
func (s *Server) HandleCalibration(w http.ResponseWriter, r *http.Request) {
	st := calibrationStatus{Active: s.dev.Mag.Calibration()}
	if s.cfg.MagCalFile != "" {
		f, err := LoadCalibration(s.cfg.MagCalFile)
		switch {
		case err == nil:
			st.Stored = f
		case !errors.Is(err, os.ErrNotExist):
			writeJSONError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, st)
}

// HandleSensorData reads both sensors once and returns the samples.
func (s *Server) HandleSensorData(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	a, err := s.dev.Accel.ReadAcceleration()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	m, err := s.dev.Mag.ReadMagnetic()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]imu.Sample{
		imu.SensorAccel: imu.NewSample(imu.SensorAccel, imu.AccelUnit(s.dev.Accel.ScaleFactor()), a, now),
		imu.SensorMag:   imu.NewSample(imu.SensorMag, "uT", m, now),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("web: json encode error")
	}
}

func writeJSONError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

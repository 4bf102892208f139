// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

// CalibrationCmd is a client message on /ws/calibration.
type CalibrationCmd struct {
	Action  string `json:"action"`             // start, cancel
	Samples int    `json:"samples,omitempty"`  // 0 takes MAG_CAL_SAMPLES
	DelayMS *int   `json:"delay_ms,omitempty"` // nil takes MAG_CAL_DELAY_MS
	Save    *bool  `json:"save,omitempty"`     // nil saves to MAG_CAL_FILE
}

// CalibrationEvent is a server message on /ws/calibration.
type CalibrationEvent struct {
	Type        string               `json:"type"` // started, progress, complete, cancelled, error
	Done        int                  `json:"done,omitempty"`
	Total       int                  `json:"total,omitempty"`
	Progress    float64              `json:"progress,omitempty"` // percent
	Reading     *sensors.Vec3        `json:"reading,omitempty"`
	Calibration *sensors.Calibration `json:"calibration,omitempty"`
	Saved       bool                 `json:"saved,omitempty"`
	Message     string               `json:"message,omitempty"`
}

// calibrationSession is one websocket client. Only the read loop touches
// cancel and done.
type calibrationSession struct {
	srv  *Server
	conn *websocket.Conn

	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// HandleCalibrationWS runs magnetometer calibrations on request. The client
// rotates the sensor while progress events stream back; a cancel message
// or a closed connection stops the run and restores the previous
// coefficients.
func (s *Server) HandleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("calibration: websocket upgrade error")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &calibrationSession{srv: s, conn: conn}
	for {
		var msg CalibrationCmd
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("calibration: websocket read error")
			}
			break
		}

		switch msg.Action {
		case "start":
			sess.start(ctx, msg)
		case "cancel":
			if !sess.stop() {
				sess.sendError("no calibration running")
			}
		default:
			sess.sendError("unknown action: " + msg.Action)
		}
	}

	sess.stop()
	sess.wait()
}

func (c *calibrationSession) running() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *calibrationSession) start(ctx context.Context, msg CalibrationCmd) {
	if c.running() {
		c.sendError("calibration already running")
		return
	}

	cfg := c.srv.cfg
	run := sensors.CalibrationRun{Samples: msg.Samples, Delay: cfg.MagCalDelay()}
	if run.Samples == 0 {
		run.Samples = cfg.MagCalSamples
	}
	if msg.DelayMS != nil {
		run.Delay = time.Duration(*msg.DelayMS) * time.Millisecond
	}
	save := msg.Save == nil || *msg.Save
	if err := run.Validate(); err != nil {
		c.sendError(err.Error())
		return
	}

	if !c.srv.calibrating.TryLock() {
		c.sendError("another client is calibrating")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done

	go func() {
		defer close(done)
		defer c.srv.calibrating.Unlock()
		defer cancel()
		c.run(runCtx, run, save)
	}()
}

// stop cancels the active run, reporting whether there was one.
func (c *calibrationSession) stop() bool {
	if !c.running() {
		return false
	}
	c.cancel()
	return true
}

func (c *calibrationSession) wait() {
	if c.done != nil {
		<-c.done
	}
}

func (c *calibrationSession) run(ctx context.Context, run sensors.CalibrationRun, save bool) {
	log.WithFields(log.Fields{
		"samples": run.Samples,
		"delay":   run.Delay,
	}).Info("calibration: started")
	c.send(CalibrationEvent{Type: "started", Total: run.Samples})

	run.Progress = func(done, total int, reading sensors.Vec3) {
		c.send(CalibrationEvent{
			Type:     "progress",
			Done:     done,
			Total:    total,
			Progress: 100 * float64(done) / float64(total),
			Reading:  &reading,
		})
	}

	cal, err := c.srv.dev.Mag.CalibrateRun(ctx, run)
	switch {
	case errors.Is(err, context.Canceled):
		calibrationRuns.WithLabelValues("cancelled").Inc()
		log.Info("calibration: cancelled by user")
		c.send(CalibrationEvent{Type: "cancelled", Message: "previous calibration restored"})
		return
	case err != nil:
		calibrationRuns.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("calibration: failed")
		c.sendError(err.Error())
		return
	}

	calibrationRuns.WithLabelValues("ok").Inc()
	recordCalibration(cal)
	log.WithFields(log.Fields{
		"offset": cal.Offset.String(),
		"scale":  cal.Scale.String(),
	}).Info("calibration: complete")

	ev := CalibrationEvent{Type: "complete", Total: run.Samples, Calibration: &cal}
	if path := c.srv.cfg.MagCalFile; save && path != "" {
		if err := SaveCalibration(path, cal, run.Samples); err != nil {
			log.WithError(err).Error("calibration: save failed")
			ev.Message = "calibration active but not saved: " + err.Error()
		} else {
			ev.Saved = true
			log.WithField("file", path).Info("calibration: saved")
		}
	}
	c.srv.publishCalibration(cal, run.Samples)
	c.send(ev)
}

func (s *Server) publishCalibration(cal sensors.Calibration, samples int) {
	if s.pub == nil {
		return
	}
	payload, err := json.Marshal(CalibrationFile{
		Version:     calibrationFileVersion,
		Timestamp:   time.Now().UTC(),
		Samples:     samples,
		Calibration: cal,
	})
	if err != nil {
		log.WithError(err).Error("calibration: marshal")
		return
	}
	if err := s.pub.Publish(s.cfg.TopicCalibration, payload); err != nil {
		log.WithError(err).Warn("calibration: MQTT publish failed")
	}
}

func (c *calibrationSession) send(ev CalibrationEvent) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(ev); err != nil {
		log.WithError(err).Debug("calibration: websocket write error")
	}
}

func (c *calibrationSession) sendError(message string) {
	c.send(CalibrationEvent{Type: "error", Message: message})
}

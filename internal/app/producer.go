// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/ninedof_driver/internal/config"
	"github.com/relabs-tech/ninedof_driver/internal/imu"
	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

// publisher is the part of an MQTT client the producer needs.
type publisher interface {
	Publish(topic string, payload []byte) error
}

type mqttPublisher struct {
	client mqtt.Client
}

// Publish sends a retained QoS 0 message and waits for it to leave.
func (p mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, true, payload)
	token.Wait()
	return token.Error()
}

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, token.Error())
	}
	log.WithFields(log.Fields{"broker": broker, "client_id": clientID}).Info("connected to MQTT broker")
	return client, nil
}

// RunProducer reads both sensors every SAMPLE_INTERVAL_MS and publishes
// them as imu.Sample JSON until ctx is done.
func RunProducer(ctx context.Context, cfg *config.Config) error {
	d, err := OpenDevices(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	pub := mqttPublisher{client: client}
	ticker := time.NewTicker(cfg.SampleInterval())
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"interval": cfg.SampleInterval(),
		"accel":    cfg.TopicAccel,
		"mag":      cfg.TopicMag,
	}).Info("producer: starting publish loop")

	for {
		select {
		case <-ctx.Done():
			log.Info("producer: shutting down")
			return nil
		case t := <-ticker.C:
			d.publishSamples(pub, t)
		}
	}
}

// publishSamples reads and publishes one accel and one mag sample. A failed
// read or publish is logged and counted; the other sensor still goes out.
// It returns how many samples were published.
func (d *Devices) publishSamples(pub publisher, now time.Time) int {
	n := 0

	if a, err := d.Accel.ReadAcceleration(); err != nil {
		sampleErrors.WithLabelValues(imu.SensorAccel, "read").Inc()
		log.WithError(err).Warn("producer: accelerometer read failed")
	} else {
		s := imu.NewSample(imu.SensorAccel, imu.AccelUnit(d.Accel.ScaleFactor()), a, now)
		if d.publish(pub, d.cfg.TopicAccel, s) {
			n++
		}
	}

	if m, err := d.Mag.ReadMagnetic(); err != nil {
		reason := "read"
		if sensors.IsOverflow(err) {
			reason = "overflow"
		}
		sampleErrors.WithLabelValues(imu.SensorMag, reason).Inc()
		log.WithError(err).Warn("producer: magnetometer read failed")
	} else {
		s := imu.NewSample(imu.SensorMag, "uT", m, now)
		s.Calibrated = d.Mag.Calibration() != sensors.IdentityCalibration()
		if d.publish(pub, d.cfg.TopicMag, s) {
			n++
		}
	}

	log.WithField("published", n).Debug("producer: tick")
	return n
}

func (d *Devices) publish(pub publisher, topic string, s imu.Sample) bool {
	payload, err := json.Marshal(s)
	if err != nil {
		log.WithError(err).Error("producer: marshal sample")
		return false
	}
	if err := pub.Publish(topic, payload); err != nil {
		sampleErrors.WithLabelValues(s.Sensor, "publish").Inc()
		log.WithError(err).WithField("topic", topic).Warn("producer: MQTT publish failed")
		return false
	}
	samplesPublished.WithLabelValues(s.Sensor).Inc()
	return true
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/ninedof_driver/internal/config"
	"github.com/relabs-tech/ninedof_driver/internal/imu"
)

// RunConsoleMQTT prints every sample and calibration published by the
// producer and the web server until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	out := os.Stdout
	for _, topic := range []string{cfg.TopicAccel, cfg.TopicMag} {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			printSample(out, msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		log.WithField("topic", topic).Info("console: subscribed")
	}

	token := client.Subscribe(cfg.TopicCalibration, 0, func(_ mqtt.Client, msg mqtt.Message) {
		printCalibration(out, msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.TopicCalibration, token.Error())
	}
	log.WithField("topic", cfg.TopicCalibration).Info("console: subscribed")

	<-ctx.Done()
	log.Info("console: shutting down")
	return nil
}

func printSample(w io.Writer, payload []byte) {
	var s imu.Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		log.WithError(err).Warn("console: sample unmarshal error")
		return
	}
	fmt.Fprintln(w, formatSample(s))
}

func formatSample(s imu.Sample) string {
	tag := "ACC"
	if s.Sensor == imu.SensorMag {
		tag = "MAG"
		if s.Calibrated {
			tag = "MAG*"
		}
	}
	return fmt.Sprintf("[%-4s] %s  x=%9.3f y=%9.3f z=%9.3f %s",
		tag, s.Time.Format("15:04:05.000"), s.X, s.Y, s.Z, s.Unit)
}

func printCalibration(w io.Writer, payload []byte) {
	var f CalibrationFile
	if err := json.Unmarshal(payload, &f); err != nil {
		log.WithError(err).Warn("console: calibration unmarshal error")
		return
	}
	fmt.Fprintf(w, "[CAL ] offset=%s scale=%s samples=%d\n", f.Offset, f.Scale, f.Samples)
}

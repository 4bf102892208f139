package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/ninedof_driver/internal/bus"
	"github.com/relabs-tech/ninedof_driver/internal/config"
	"github.com/relabs-tech/ninedof_driver/internal/imu"
)

// displayDev is the part of *ssd1306.Dev the display loop draws with.
type displayDev interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// ssd1306.NewI2C always talks to 0x3C.
const ssd1306Addr = 0x3C

// readdressBus sends traffic for the SSD1306 default address to addr, so a
// panel strapped to 0x3D works too.
type readdressBus struct {
	i2c.Bus
	addr uint16
}

func (b readdressBus) Tx(addr uint16, w, r []byte) error {
	if addr == ssd1306Addr {
		addr = b.addr
	}
	return b.Bus.Tx(addr, w, r)
}

// DisplayData holds the latest samples received for the display.
type DisplayData struct {
	mu sync.RWMutex

	accel     imu.Sample
	haveAccel bool
	mag       imu.Sample
	haveMag   bool
}

func (d *DisplayData) update(s imu.Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch s.Sensor {
	case imu.SensorAccel:
		d.accel, d.haveAccel = s, true
	case imu.SensorMag:
		d.mag, d.haveMag = s, true
	}
}

type displaySnapshot struct {
	accel, mag         imu.Sample
	haveAccel, haveMag bool
}

func (d *DisplayData) snapshot() displaySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return displaySnapshot{accel: d.accel, mag: d.mag, haveAccel: d.haveAccel, haveMag: d.haveMag}
}

// RunDisplay shows the latest accel and mag samples from MQTT on an SSD1306
// OLED at DISPLAY_I2C_ADDR until ctx is done.
func RunDisplay(ctx context.Context, cfg *config.Config) error {
	b, err := bus.Open(cfg.I2CBus)
	if err != nil {
		return err
	}
	defer b.Close()

	dev, err := ssd1306.NewI2C(readdressBus{Bus: b, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.WithField("addr", fmt.Sprintf("0x%02X", cfg.DisplayI2CAddr)).Info("display: initialized")

	if err := showSplash(dev); err != nil {
		log.WithError(err).Warn("display: error showing splash")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	data := &DisplayData{}
	for _, topic := range []string{cfg.TopicAccel, cfg.TopicMag} {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var s imu.Sample
			if err := json.Unmarshal(msg.Payload(), &s); err != nil {
				log.WithError(err).Warn("display: sample unmarshal error")
				return
			}
			data.update(s)
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.WithField("topic", topic).Info("display: subscribed")
	}

	return runDisplayLoop(ctx, dev, data, cfg)
}

func runDisplayLoop(ctx context.Context, dev displayDev, data *DisplayData, cfg *config.Config) error {
	ticker := time.NewTicker(cfg.DisplayUpdateInterval())
	defer ticker.Stop()

	log.Info("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), renderSamples(data.snapshot()), image.Point{}); err != nil {
				log.WithError(err).Warn("display: error updating display")
			}
		}
	}
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, y int, s string) {
	d.Dot = fixed.P(0, y)
	d.DrawString(s)
}

// renderSamples lays out accel on the top half and mag on the bottom half.
func renderSamples(s displaySnapshot) *image1bit.VerticalLSB {
	img, d := newFrame()

	if s.haveAccel {
		drawLine(d, 13, fmt.Sprintf("A:%5.1f %5.1f", s.accel.X, s.accel.Y))
		drawLine(d, 26, fmt.Sprintf("  %5.1f %s", s.accel.Z, s.accel.Unit))
	} else {
		drawLine(d, 13, "Accel")
		drawLine(d, 26, "Waiting...")
	}

	if s.haveMag {
		unit := s.mag.Unit
		if s.mag.Calibrated {
			unit += "*"
		}
		drawLine(d, 45, fmt.Sprintf("M:%5.0f %5.0f", s.mag.X, s.mag.Y))
		drawLine(d, 58, fmt.Sprintf("  %5.0f %s", s.mag.Z, unit))
	} else {
		drawLine(d, 45, "Mag")
		drawLine(d, 58, "Waiting...")
	}
	return img
}

func showSplash(dev displayDev) error {
	img, d := newFrame()
	d.Dot = fixed.P(20, 26)
	d.DrawString("9-DoF IMU")
	d.Dot = fixed.P(10, 43)
	d.DrawString("MPU9250+AK8963")
	return dev.Draw(dev.Bounds(), img, image.Point{})
}

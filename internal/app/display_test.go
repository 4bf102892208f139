package app

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/ninedof_driver/internal/config"
	"github.com/relabs-tech/ninedof_driver/internal/imu"
)

type fakeDisplay struct {
	mu     sync.Mutex
	frames []image.Image
}

func (f *fakeDisplay) Bounds() image.Rectangle { return image.Rect(0, 0, 128, 64) }

func (f *fakeDisplay) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, src)
	return nil
}

func (f *fakeDisplay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func litPixels(img *image1bit.VerticalLSB, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.BitAt(x, y) == image1bit.On {
				n++
			}
		}
	}
	return n
}

func TestRenderSamples(t *testing.T) {
	empty := renderSamples(displaySnapshot{})

	var data DisplayData
	data.update(imu.Sample{Sensor: imu.SensorAccel, Unit: "g", X: 0.01, Y: -0.02, Z: 1})
	full := renderSamples(data.snapshot())

	top := image.Rect(0, 0, 128, 32)
	if litPixels(full, top) == 0 {
		t.Fatal("accel half is blank")
	}
	if litPixels(full, top) == litPixels(empty, top) {
		t.Errorf("accel half did not change once a sample arrived")
	}
	bottom := image.Rect(0, 32, 128, 64)
	if litPixels(full, bottom) != litPixels(empty, bottom) {
		t.Errorf("mag half changed without a mag sample")
	}
}

func TestDisplayDataIgnoresUnknownSensor(t *testing.T) {
	var data DisplayData
	data.update(imu.Sample{Sensor: "gyro"})
	if s := data.snapshot(); s.haveAccel || s.haveMag {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestRunDisplayLoop(t *testing.T) {
	cfg := config.Default()
	cfg.DisplayUpdateIntervalMS = 1
	dev := &fakeDisplay{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runDisplayLoop(ctx, dev, &DisplayData{}, cfg) }()

	deadline := time.Now().Add(5 * time.Second)
	for dev.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if dev.count() < 2 {
		t.Errorf("frames drawn = %d", dev.count())
	}
}

func TestReaddressBus(t *testing.T) {
	rec := &i2ctest.Record{}
	b := readdressBus{Bus: rec, addr: 0x3D}

	if err := b.Tx(ssd1306Addr, []byte{0x00, 0xAF}, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Tx(0x68, []byte{0x75}, nil); err != nil {
		t.Fatal(err)
	}
	if len(rec.Ops) != 2 || rec.Ops[0].Addr != 0x3D || rec.Ops[1].Addr != 0x68 {
		t.Errorf("ops = %+v", rec.Ops)
	}
}

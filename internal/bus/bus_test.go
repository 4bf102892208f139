package bus

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

func TestI2CPlayback(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x68, W: []byte{0x75}, R: []byte{0x71}},
			{Addr: 0x68, W: []byte{0x1C, 0x08}},
			{Addr: 0x0C, W: []byte{0x03}, R: []byte{1, 2, 3, 4, 5, 6}},
		},
		DontPanic: true,
	}
	b := New(pb)

	got, err := b.ReadRegister(0x68, 0x75, 1)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if !bytes.Equal(got, []byte{0x71}) {
		t.Errorf("WHO_AM_I = %v", got)
	}
	if err := b.WriteRegister(0x68, 0x1C, []byte{0x08}); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	got, err = b.ReadRegister(0x0C, 0x03, 6)
	if err != nil {
		t.Fatalf("ReadRegister burst: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("burst = %v", got)
	}
	if err := pb.Close(); err != nil {
		t.Errorf("playback not drained: %v", err)
	}
	// Closing a wrapped bus must not close the underlying one.
	if err := b.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestReadRegisterInvalidLength(t *testing.T) {
	b := New(&fakeBus{})
	if _, err := b.ReadRegister(0x68, 0x3B, 0); !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}

func TestTransportErrorWrapping(t *testing.T) {
	nack := errors.New("nack")
	b := New(&fakeBus{err: nack})

	_, err := b.ReadRegister(0x0C, 0x00, 1)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("read err %v does not wrap ErrTransport", err)
	}
	if !errors.Is(err, nack) {
		t.Errorf("read err %v does not wrap cause", err)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("read err %T is not *TransportError", err)
	}
	if te.Op != "read" || te.Addr != 0x0C || te.Reg != 0x00 {
		t.Errorf("TransportError = %+v", te)
	}

	err = b.WriteRegister(0x68, 0x37, []byte{0x02})
	if !errors.As(err, &te) || te.Op != "write" || te.Reg != 0x37 {
		t.Errorf("write err = %v", err)
	}
}

func TestTransactionsAreSerialized(t *testing.T) {
	fb := &fakeBus{delay: 50 * time.Microsecond}
	b := New(fb)

	var wg sync.WaitGroup
	for _, addr := range []uint16{0x68, 0x0C} {
		wg.Add(1)
		go func(addr uint16) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := b.ReadRegister(addr, 0x00, 1); err != nil {
					t.Errorf("read: %v", err)
					return
				}
				if err := b.WriteRegister(addr, 0x0A, []byte{0x16}); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}(addr)
	}
	wg.Wait()

	if peak := fb.maxInFlight.Load(); peak != 1 {
		t.Errorf("max concurrent transactions = %d, want 1", peak)
	}
	if n := fb.calls.Load(); n != 400 {
		t.Errorf("calls = %d, want 400", n)
	}
}

func TestSetSpeed(t *testing.T) {
	fb := &fakeBus{}
	if err := New(fb).SetSpeed(400 * physic.KiloHertz); err != nil {
		t.Fatal(err)
	}
	if fb.speed != 400*physic.KiloHertz {
		t.Errorf("speed = %s", fb.speed)
	}
}

// fakeBus is an i2c.Bus that tracks overlapping Tx calls.
type fakeBus struct {
	err   error
	delay time.Duration
	speed physic.Frequency

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (f *fakeBus) String() string { return "fake" }

func (f *fakeBus) SetSpeed(s physic.Frequency) error {
	f.speed = s
	return nil
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

func TestI2CAsPeriphBus(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x3C, W: []byte{0x00, 0xAE, 0xD5}},
			{Addr: 0x68, W: []byte{0x75}, R: []byte{0x71}},
		},
		DontPanic: true,
	}
	b := New(pb)

	if err := b.Tx(0x3C, []byte{0x00, 0xAE, 0xD5}, nil); err != nil {
		t.Fatalf("Tx write: %v", err)
	}
	r := make([]byte, 1)
	if err := b.Tx(0x68, []byte{0x75}, r); err != nil || r[0] != 0x71 {
		t.Fatalf("Tx read = %v, %v", r, err)
	}

	var te *TransportError
	if err := b.Tx(0x68, []byte{0x3B}, make([]byte, 6)); !errors.As(err, &te) || te.Op != "read" || te.Reg != 0x3B {
		t.Errorf("unexpected Tx err = %v", err)
	}
}

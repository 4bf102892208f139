package bustest

import (
	"errors"
	"sync/atomic"

	"periph.io/x/conn/v3/physic"
)

// PeriphBus exposes a Board as a periph i2c.Bus so the real bus.I2C
// transport can be tested on top of it. It records the highest number of
// overlapping Tx calls it observed.
type PeriphBus struct {
	Board *Board

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (p *PeriphBus) String() string { return "bustest" }

func (p *PeriphBus) SetSpeed(physic.Frequency) error { return nil }

// Tx treats w[0] as the register, w[1:] as write data and r as a read buffer.
func (p *PeriphBus) Tx(addr uint16, w, r []byte) error {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.peak.Load()
		if n <= m || p.peak.CompareAndSwap(m, n) {
			break
		}
	}

	if len(w) == 0 {
		return errors.New("bustest: Tx without register byte")
	}
	if len(r) > 0 {
		b, err := p.Board.ReadRegister(addr, w[0], len(r))
		if err != nil {
			return err
		}
		copy(r, b)
		return nil
	}
	return p.Board.WriteRegister(addr, w[0], w[1:])
}

// Peak returns the highest number of concurrent Tx calls seen.
func (p *PeriphBus) Peak() int32 { return p.peak.Load() }

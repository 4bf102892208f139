// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"github.com/relabs-tech/ninedof_driver/internal/bus"
	"github.com/relabs-tech/ninedof_driver/internal/codec"
)

// device is the transport plus address a driver talks to. It never changes
// after construction.
type device struct {
	t    bus.Transport
	addr uint16
}

func newDevice(t bus.Transport, addr uint16) (device, error) {
	if addr > 0x7F {
		return device{}, fmt.Errorf("%w: 0x%X", ErrInvalidAddress, addr)
	}
	return device{t: t, addr: addr}, nil
}

func (d device) readRegBlock(reg byte, n int) ([]byte, error) {
	return d.t.ReadRegister(d.addr, reg, n)
}

func (d device) readReg(reg byte) (byte, error) {
	b, err := d.t.ReadRegister(d.addr, reg, 1)
	if err != nil {
		return 0, err
	}
	return codec.Uint8(b), nil
}

func (d device) writeReg(reg, val byte) error {
	return d.t.WriteRegister(d.addr, reg, codec.EncodeUint8(val))
}

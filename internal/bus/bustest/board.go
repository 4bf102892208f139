// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bustest provides an in-memory register board implementing
// bus.Transport, for driver tests that need fault injection and call counts
// beyond what periph's i2ctest playback offers.
package bustest

import (
	"errors"
	"sync"

	"github.com/relabs-tech/ninedof_driver/internal/bus"
)

// ErrNACK is returned for addresses that do not acknowledge.
var ErrNACK = errors.New("bustest: no acknowledge")

// Op is one recorded transaction.
type Op struct {
	Write bool
	Addr  uint16
	Reg   byte
	Data  []byte // bytes written, or bytes returned by a read
}

type regKey struct {
	addr uint16
	reg  byte
}

type gate struct {
	via  uint16
	reg  byte
	mask byte
}

// Board is a set of register files keyed by device address.
// Reads return queued responses first, then the register file contents.
type Board struct {
	mu      sync.Mutex
	regs    map[uint16]map[byte]byte
	queued  map[regKey][][]byte
	failR   map[regKey]error
	failW   map[regKey]error
	gates   map[uint16]gate
	present map[uint16]bool
	ops     []Op
}

func NewBoard() *Board {
	return &Board{
		regs:    map[uint16]map[byte]byte{},
		queued:  map[regKey][][]byte{},
		failR:   map[regKey]error{},
		failW:   map[regKey]error{},
		gates:   map[uint16]gate{},
		present: map[uint16]bool{},
	}
}

// Set stores vals into consecutive registers starting at reg and marks addr
// as present on the bus.
func (b *Board) Set(addr uint16, reg byte, vals ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store(addr, reg, vals)
}

// Reg returns the current value of a register.
func (b *Board) Reg(addr uint16, reg byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[addr][reg]
}

// Queue appends a one-shot response for the next read of len(data) bytes at reg.
func (b *Board) Queue(addr uint16, reg byte, data ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := regKey{addr, reg}
	b.queued[k] = append(b.queued[k], append([]byte(nil), data...))
	b.present[addr] = true
}

// FailRead makes reads at reg fail with err until cleared with a nil err.
func (b *Board) FailRead(addr uint16, reg byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	setOrDelete(b.failR, regKey{addr, reg}, err)
}

// FailWrite makes writes at reg fail with err until cleared with a nil err.
func (b *Board) FailWrite(addr uint16, reg byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	setOrDelete(b.failW, regKey{addr, reg}, err)
}

// Gate makes addr answer only while register reg of device via has any of
// the bits in mask set. This models a device hidden behind a bypass switch.
func (b *Board) Gate(addr, via uint16, reg, mask byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gates[addr] = gate{via: via, reg: reg, mask: mask}
}

// Ops returns a copy of the transaction log.
func (b *Board) Ops() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Op(nil), b.ops...)
}

// Writes returns the logged writes to addr.
func (b *Board) Writes(addr uint16) []Op {
	var out []Op
	for _, op := range b.Ops() {
		if op.Write && op.Addr == addr {
			out = append(out, op)
		}
	}
	return out
}

// Count returns how many transactions of the given kind hit addr/reg.
func (b *Board) Count(addr uint16, reg byte, write bool) int {
	n := 0
	for _, op := range b.Ops() {
		if op.Addr == addr && op.Reg == reg && op.Write == write {
			n++
		}
	}
	return n
}

// ClearOps empties the transaction log.
func (b *Board) ClearOps() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = nil
}

func (b *Board) ReadRegister(addr uint16, reg byte, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.reachable(addr); err != nil {
		return nil, &bus.TransportError{Op: "read", Addr: addr, Reg: reg, Err: err}
	}
	k := regKey{addr, reg}
	if err := b.failR[k]; err != nil {
		return nil, &bus.TransportError{Op: "read", Addr: addr, Reg: reg, Err: err}
	}

	var out []byte
	if q := b.queued[k]; len(q) > 0 && len(q[0]) == n {
		out = q[0]
		b.queued[k] = q[1:]
	} else {
		out = make([]byte, n)
		for i := range out {
			out[i] = b.regs[addr][reg+byte(i)]
		}
	}
	b.ops = append(b.ops, Op{Addr: addr, Reg: reg, Data: append([]byte(nil), out...)})
	return out, nil
}

func (b *Board) WriteRegister(addr uint16, reg byte, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.reachable(addr); err != nil {
		return &bus.TransportError{Op: "write", Addr: addr, Reg: reg, Err: err}
	}
	if err := b.failW[regKey{addr, reg}]; err != nil {
		return &bus.TransportError{Op: "write", Addr: addr, Reg: reg, Err: err}
	}
	b.store(addr, reg, data)
	b.ops = append(b.ops, Op{Write: true, Addr: addr, Reg: reg, Data: append([]byte(nil), data...)})
	return nil
}

func (b *Board) reachable(addr uint16) error {
	if !b.present[addr] {
		return ErrNACK
	}
	if g, ok := b.gates[addr]; ok && b.regs[g.via][g.reg]&g.mask == 0 {
		return ErrNACK
	}
	return nil
}

func (b *Board) store(addr uint16, reg byte, vals []byte) {
	m := b.regs[addr]
	if m == nil {
		m = map[byte]byte{}
		b.regs[addr] = m
	}
	for i, v := range vals {
		m[reg+byte(i)] = v
	}
	b.present[addr] = true
}

func setOrDelete(m map[regKey]error, k regKey, err error) {
	if err == nil {
		delete(m, k)
		return
	}
	m[k] = err
}

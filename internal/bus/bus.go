// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bus provides the register-level transport the sensor drivers talk
// through, and a periph.io backed implementation of it.
package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Transport performs fixed-length register reads and writes on a device.
//
// Implementations shared between several devices must serialize their
// transactions; the drivers in internal/sensors hold no bus locks.
type Transport interface {
	ReadRegister(addr uint16, reg byte, n int) ([]byte, error)
	WriteRegister(addr uint16, reg byte, data []byte) error
}

// ErrTransport is wrapped by every *TransportError.
var ErrTransport = errors.New("bus: transport error")

// TransportError describes a failed register transaction.
type TransportError struct {
	Op   string // "read" or "write"
	Addr uint16
	Reg  byte
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bus: %s addr=0x%02X reg=0x%02X: %v", e.Op, e.Addr, e.Reg, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

var (
	txTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ninedof_i2c_transactions_total",
			Help: "Register transactions issued on the I2C bus.",
		},
		[]string{"op", "addr"},
	)
	txErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ninedof_i2c_errors_total",
			Help: "Register transactions that failed on the I2C bus.",
		},
		[]string{"op", "addr"},
	)
)

func init() {
	prometheus.MustRegister(txTotal, txErrors)
}

// I2C is a Transport over a periph.io I2C bus. One mutex guards every
// transaction so an MPU9250 and its bypassed AK8963 can share the bus.
type I2C struct {
	mu     sync.Mutex
	bus    i2c.Bus
	closer func() error
}

var (
	_ Transport = (*I2C)(nil)
	_ i2c.Bus   = (*I2C)(nil)
)

// New wraps an already opened bus. Closing the returned I2C does not close b.
func New(b i2c.Bus) *I2C {
	return &I2C{bus: b}
}

// Open initializes the periph host drivers and opens the named bus.
// An empty name selects the first bus available.
func Open(name string) (*I2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bc, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2c open %q: %w", name, err)
	}
	log.WithField("bus", bc.String()).Debug("i2c bus opened")
	return &I2C{bus: bc, closer: bc.Close}, nil
}

// SetSpeed changes the bus clock.
func (b *I2C) SetSpeed(f physic.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.SetSpeed(f)
}

// ReadRegister reads n consecutive bytes starting at reg.
func (b *I2C) ReadRegister(addr uint16, reg byte, n int) ([]byte, error) {
	if n <= 0 {
		return nil, &TransportError{Op: "read", Addr: addr, Reg: reg, Err: fmt.Errorf("invalid length %d", n)}
	}
	buf := make([]byte, n)
	if err := b.tx("read", addr, reg, []byte{reg}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteRegister writes data starting at reg.
func (b *I2C) WriteRegister(addr uint16, reg byte, data []byte) error {
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg)
	w = append(w, data...)
	return b.tx("write", addr, reg, w, nil)
}

func (b *I2C) tx(op string, addr uint16, reg byte, w, r []byte) error {
	label := fmt.Sprintf("0x%02X", addr)
	txTotal.WithLabelValues(op, label).Inc()

	b.mu.Lock()
	err := b.bus.Tx(addr, w, r)
	b.mu.Unlock()

	if err != nil {
		txErrors.WithLabelValues(op, label).Inc()
		return &TransportError{Op: op, Addr: addr, Reg: reg, Err: err}
	}
	return nil
}

// Tx makes I2C an i2c.Bus itself, so other periph device drivers (the
// SSD1306 display) share the same lock as the sensors.
func (b *I2C) Tx(addr uint16, w, r []byte) error {
	op := "write"
	if len(r) > 0 {
		op = "read"
	}
	var reg byte
	if len(w) > 0 {
		reg = w[0]
	}
	return b.tx(op, addr, reg, w, r)
}

func (b *I2C) String() string {
	return b.bus.String()
}

// Close releases the bus if it was opened by Open.
func (b *I2C) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

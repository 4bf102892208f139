// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bustest

import "github.com/relabs-tech/ninedof_driver/internal/codec"

// Addresses and identity bytes of a stock MPU9250 breakout.
const (
	MPUAddr = 0x68
	MagAddr = 0x0C

	mpuWhoAmI    = 0x75
	mpuIntPinCfg = 0x37
	mpuBypassEn  = 0x02
	magWIA       = 0x00
	magASA       = 0x10
	magHXL       = 0x03
	magST2       = 0x09
)

// NewMPU9250 returns a board holding an MPU9250 at MPUAddr and its AK8963 at
// MagAddr. The AK8963 only answers once the MPU9250 bypass bit is set, and its
// factory adjustment registers read as 128 (unity adjustment).
func NewMPU9250() *Board {
	b := NewBoard()
	b.Set(MPUAddr, mpuWhoAmI, 0x71)
	b.Set(MPUAddr, mpuIntPinCfg, 0x00)
	b.Set(MagAddr, magWIA, 0x48)
	b.Set(MagAddr, magASA, 128, 128, 128)
	b.Set(MagAddr, magST2, 0x10)
	b.Gate(MagAddr, MPUAddr, mpuIntPinCfg, mpuBypassEn)
	return b
}

// QueueMag queues one raw AK8963 sample, encoded little-endian per axis.
func (b *Board) QueueMag(x, y, z int16) {
	data := make([]byte, 0, 6)
	data = append(data, codec.EncodeInt16LE(x)...)
	data = append(data, codec.EncodeInt16LE(y)...)
	data = append(data, codec.EncodeInt16LE(z)...)
	b.Queue(MagAddr, magHXL, data...)
}

// SetAccel loads raw accelerometer words, encoded big-endian per axis.
func (b *Board) SetAccel(x, y, z int16) {
	data := make([]byte, 0, 6)
	data = append(data, codec.EncodeInt16BE(x)...)
	data = append(data, codec.EncodeInt16BE(y)...)
	data = append(data, codec.EncodeInt16BE(z)...)
	b.Set(MPUAddr, 0x3B, data...)
}

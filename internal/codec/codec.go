// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package codec converts between register byte buffers and the numeric values
// the MPU9250 and AK8963 expose.
//
// Decoders panic with a *LengthError when handed a buffer of the wrong size,
// the same way encoding/binary does: a short register read is a transport bug,
// not something a caller can recover from.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidBufferLength is wrapped by every *LengthError.
var ErrInvalidBufferLength = errors.New("codec: invalid buffer length")

// LengthError reports a decode attempted on a buffer of the wrong size.
type LengthError struct {
	Op   string
	Want int
	Got  int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("codec: %s needs %d byte(s), got %d", e.Op, e.Want, e.Got)
}

func (e *LengthError) Unwrap() error { return ErrInvalidBufferLength }

func mustLen(op string, b []byte, n int) {
	if len(b) != n {
		panic(&LengthError{Op: op, Want: n, Got: len(b)})
	}
}

// Int16BE decodes a big-endian two's-complement word (MPU9250 data registers).
func Int16BE(b []byte) int16 {
	mustLen("Int16BE", b, 2)
	return int16(binary.BigEndian.Uint16(b))
}

// Int16LE decodes a little-endian two's-complement word (AK8963 data registers).
func Int16LE(b []byte) int16 {
	mustLen("Int16LE", b, 2)
	return int16(binary.LittleEndian.Uint16(b))
}

// Uint8 decodes a single unsigned byte.
func Uint8(b []byte) uint8 {
	mustLen("Uint8", b, 1)
	return b[0]
}

// Int8 decodes a single two's-complement byte.
func Int8(b []byte) int8 {
	mustLen("Int8", b, 1)
	return int8(b[0])
}

// EncodeInt16BE is the inverse of Int16BE.
func EncodeInt16BE(v int16) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(v))
}

// EncodeInt16LE is the inverse of Int16LE.
func EncodeInt16LE(v int16) []byte {
	return binary.LittleEndian.AppendUint16(nil, uint16(v))
}

// EncodeUint8 is the inverse of Uint8.
func EncodeUint8(v uint8) []byte { return []byte{v} }

// EncodeInt8 is the inverse of Int8.
func EncodeInt8(v int8) []byte { return []byte{byte(v)} }

// Triple16BE splits a 6-byte burst into three big-endian words.
func Triple16BE(b []byte) (x, y, z int16) {
	mustLen("Triple16BE", b, 6)
	return Int16BE(b[0:2]), Int16BE(b[2:4]), Int16BE(b[4:6])
}

// Triple16LE splits a 6-byte burst into three little-endian words.
func Triple16LE(b []byte) (x, y, z int16) {
	mustLen("Triple16LE", b, 6)
	return Int16LE(b[0:2]), Int16LE(b[2:4]), Int16LE(b[4:6])
}

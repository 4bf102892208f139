// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "fmt"

// MPU9250 accelerometer/gyroscope registers.
const (
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regIntPinCfg   = 0x37
	regAccelXOutH  = 0x3B
	regWhoAmI      = 0x75

	intPinBypassMask = 0b00000010
	intPinBypassEn   = 0b00000010

	// MPU9250WhoAmI is the fixed WHO_AM_I value of an MPU9250.
	MPU9250WhoAmI = 0x71
	// DefaultAccelGyroAddr is the MPU9250 address with AD0 low.
	DefaultAccelGyroAddr = 0x68
)

// AK8963 magnetometer registers.
const (
	regWIA   = 0x00
	regST1   = 0x02
	regHXL   = 0x03
	regST2   = 0x09
	regCNTL1 = 0x0A
	regCNTL2 = 0x0B
	regASAX  = 0x10

	st2HOFL   = 0b00001000
	cntl1BIT  = 0b00010000
	cntl1Mode = 0b00001111
	cntl2SRST = 0x01

	// AK8963WhoAmI is the fixed WIA value of an AK8963.
	AK8963WhoAmI = 0x48
	// DefaultMagnetometerAddr is the AK8963 address once bypass is enabled.
	DefaultMagnetometerAddr = 0x0C
)

// BitField documents a field inside a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo documents one register for the register debugger.
type RegisterInfo struct {
	Address     byte       `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	Width       int        `json:"width"`
	Default     string     `json:"default,omitempty"`
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// Device names accepted by RegisterMap.
const (
	DeviceMPU9250 = "mpu9250"
	DeviceAK8963  = "ak8963"
)

// RegisterMap returns the register metadata of the named device.
func RegisterMap(device string) ([]RegisterInfo, error) {
	switch device {
	case DeviceMPU9250:
		return mpu9250RegisterMap(), nil
	case DeviceAK8963:
		return ak8963RegisterMap(), nil
	}
	return nil, fmt.Errorf("unknown device %q", device)
}

// mpu9250RegisterMap covers the registers this driver touches.
func mpu9250RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		{Address: regGyroConfig, Name: "GYRO_CONFIG", Description: "Gyroscope Configuration", Access: "RW", Width: 1, Default: "0x00",
			BitFields: []BitField{
				{Bits: "4:3", Name: "GYRO_FS_SEL", Description: "Gyro Full Scale Range", Values: "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s"},
			}},
		{Address: regAccelConfig, Name: "ACCEL_CONFIG", Description: "Accelerometer Configuration", Access: "RW", Width: 1, Default: "0x00",
			BitFields: []BitField{
				{Bits: "7:5", Name: "ax/ay/az_st_en", Description: "Accel self-test", Values: "0=Disabled, 1=Enabled"},
				{Bits: "4:3", Name: "ACCEL_FS_SEL", Description: "Accel Full Scale Range", Values: "0=±2g, 1=±4g, 2=±8g, 3=±16g"},
			}},
		{Address: regIntPinCfg, Name: "INT_PIN_CFG", Description: "INT Pin / Bypass Enable Configuration", Access: "RW", Width: 1, Default: "0x00",
			BitFields: []BitField{
				{Bits: "7", Name: "ACTL", Description: "INT pin active low", Values: "0=Active high, 1=Active low"},
				{Bits: "5", Name: "LATCH_INT_EN", Description: "Latch INT pin", Values: "0=50us pulse, 1=Latch until cleared"},
				{Bits: "1", Name: "BYPASS_EN", Description: "I2C bypass enable", Values: "0=Disabled, 1=Enabled"},
			}},
		{Address: regAccelXOutH, Name: "ACCEL_XOUT_H..ACCEL_ZOUT_L", Description: "Accelerometer X, Y, Z, big-endian words", Access: "R", Width: 6},
		{Address: 0x43, Name: "GYRO_XOUT_H..GYRO_ZOUT_L", Description: "Gyroscope X, Y, Z, big-endian words", Access: "R", Width: 6},
		{Address: regWhoAmI, Name: "WHO_AM_I", Description: "Device ID (should be 0x71)", Access: "R", Width: 1, Default: "0x71"},
	}
}

func ak8963RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		{Address: regWIA, Name: "WIA", Description: "Device identification (should be 0x48)", Access: "R", Width: 1, Default: "0x48"},
		{Address: regST1, Name: "ST1", Description: "Data ready and overrun status", Access: "R", Width: 1, Default: "0x00",
			BitFields: []BitField{
				{Bits: "0", Name: "DRDY", Description: "Data Ready", Values: "0=Not ready, 1=Data ready"},
				{Bits: "1", Name: "DOR", Description: "Data Overrun", Values: "0=No overrun, 1=Data overrun"},
			}},
		{Address: regHXL, Name: "HXL..HZH", Description: "Magnetometer X, Y, Z, little-endian words", Access: "R", Width: 6},
		{Address: regST2, Name: "ST2", Description: "Overflow status; reading it releases the data registers", Access: "R", Width: 1, Default: "0x00",
			BitFields: []BitField{
				{Bits: "3", Name: "HOFL", Description: "Magnetic Sensor Overflow", Values: "0=No overflow, 1=Data overflow occurred"},
				{Bits: "4", Name: "BITM", Description: "Output Data Bit Width", Values: "0=14-bit, 1=16-bit"},
			}},
		{Address: regCNTL1, Name: "CNTL1", Description: "Operation mode and resolution", Access: "RW", Width: 1, Default: "0x00",
			BitFields: []BitField{
				{Bits: "3:0", Name: "MODE", Description: "Operation Mode", Values: "0=PowerDown, 1=Single, 2=Continuous1(8Hz), 4=ExternalTrigger, 6=Continuous2(100Hz), 8=SelfTest, 15=FuseROM"},
				{Bits: "4", Name: "BIT", Description: "Output Data Bit Width", Values: "0=14-bit, 1=16-bit"},
			}},
		{Address: regCNTL2, Name: "CNTL2", Description: "Soft reset", Access: "RW", Width: 1, Default: "0x00",
			BitFields: []BitField{
				{Bits: "0", Name: "SRST", Description: "Soft Reset", Values: "0=Normal, 1=Reset"},
			}},
		{Address: regASAX, Name: "ASAX..ASAZ", Description: "Factory sensitivity adjustment, applied as (ASA-128)/256 + 1", Access: "R", Width: 3},
	}
}

package sensors

import "errors"

var (
	// ErrDeviceNotFound means the identity register did not hold the expected value.
	ErrDeviceNotFound = errors.New("sensors: device not found")

	// ErrInvalidRange means an accelerometer full-scale selection is not one of
	// the four the MPU9250 supports.
	ErrInvalidRange = errors.New("sensors: invalid accelerometer full-scale range")

	// ErrDegenerateCalibration means no axis varied during a calibration run,
	// so neither hard-iron nor soft-iron terms can be derived.
	ErrDegenerateCalibration = errors.New("sensors: degenerate calibration, no axis varied")

	// ErrInvalidCalibration means an offset is not finite or a scale is zero
	// or not finite.
	ErrInvalidCalibration = errors.New("sensors: invalid calibration coefficients")

	// ErrInvalidCalibrationRun means a calibration run asked for no samples
	// or a negative delay.
	ErrInvalidCalibrationRun = errors.New("sensors: invalid calibration run parameters")

	// ErrMagneticOverflow is returned when ST2.HOFL flags the sample as saturated.
	ErrMagneticOverflow = errors.New("sensors: magnetic sensor overflow")

	// ErrInvalidAddress means a device address does not fit in 7 bits.
	ErrInvalidAddress = errors.New("sensors: I2C address is not 7-bit")

	// ErrInvalidMagMode means a CNTL1 mode other than power-down or a
	// measurement mode was requested.
	ErrInvalidMagMode = errors.New("sensors: invalid magnetometer mode")

	// ErrBypassRequired means a write would clear INT_PIN_CFG.BYPASS_EN and
	// cut the AK8963 off the bus.
	ErrBypassRequired = errors.New("sensors: I2C bypass must stay enabled")
)

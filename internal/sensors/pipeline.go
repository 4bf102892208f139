package sensors

// The magnetometer correction pipeline. Each stage takes a value and returns
// a new one: adjust -> scale -> de-bias -> de-skew.

// factoryAdjustment converts an ASA register value into a sensitivity factor.
func factoryAdjustment(asa byte) float64 {
	return (float64(asa)-128)/256 + 1
}

// adjust applies the per-axis factory sensitivity adjustment to raw counts.
func adjust(raw RawSample, adj Vec3) Vec3 {
	return raw.Vec3().Mul(adj)
}

// toMicroTesla applies the output scale (µT per LSB).
func toMicroTesla(v Vec3, uTPerLSB float64) Vec3 {
	return v.Scale(uTPerLSB)
}

// debias removes the hard-iron offset.
func debias(v Vec3, offset Vec3) Vec3 {
	return v.Sub(offset)
}

// deskew applies the soft-iron scale.
func deskew(v Vec3, scale Vec3) Vec3 {
	return v.Mul(scale)
}

package sensors

import "fmt"

// Vec3 is a per-axis triple of physical values.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// RawSample is a triple of signed register words as decoded from a 6-byte burst.
type RawSample struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

func (r RawSample) Vec3() Vec3 {
	return Vec3{X: float64(r.X), Y: float64(r.Y), Z: float64(r.Z)}
}

// Mul multiplies axis by axis.
func (v Vec3) Mul(o Vec3) Vec3 {
	return Vec3{X: v.X * o.X, Y: v.Y * o.Y, Z: v.Z * o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale multiplies every axis by k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Axes returns the components in X, Y, Z order.
func (v Vec3) Axes() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func vecFromAxes(a [3]float64) Vec3 {
	return Vec3{X: a[0], Y: a[1], Z: a[2]}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}

var axisNames = [3]string{"x", "y", "z"}

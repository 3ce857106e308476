package spatialmath

import (
	"gonum.org/v1/gonum/num/quat"
)

// Orientation is an interface used to express the different parameterizations of the orientation
// of a rigid object or a frame of reference in 3D Euclidean space.
type Orientation interface {
	RotationMatrix() *RotationMatrix
	RotationVector() RotationVector
	AxisAngles() *R4AA
	EulerAngles() *EulerAngles
	Quaternion() quat.Number
}

// NewZeroOrientation returns an orientation which signifies no rotation.
func NewZeroOrientation() Orientation {
	return RotationVector{}
}

// OrientationAlmostEqual will return a bool describing whether 2 orientations are approximately the same.
func OrientationAlmostEqual(o1, o2 Orientation) bool {
	return QuaternionAlmostEqual(o1.Quaternion(), o2.Quaternion(), 1e-5)
}

// OrientationBetween returns the orientation representing the difference between the two given Orientations,
// such that applying o1 then the result is o2.
func OrientationBetween(o1, o2 Orientation) Orientation {
	return o2.RotationMatrix().MulMatrix(o1.RotationMatrix().Transpose())
}

package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/posepnp/utils"
)

// gimbalLockThreshold is the value of sqrt(R00² + R10²) below which the pitch is treated as ±90°.
const gimbalLockThreshold = 1e-6

// EulerAngles are rotations about the x (roll), y (pitch) and z (yaw) axes in radians, applied in
// that order, so that R = Rz(yaw)·Ry(pitch)·Rx(roll).
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// NewEulerAngles creates an empty EulerAngles struct.
func NewEulerAngles() *EulerAngles {
	return &EulerAngles{Roll: 0, Pitch: 0, Yaw: 0}
}

// MatrixToEuler extracts Euler angles from a rotation matrix. A matrix failing CheckRotation
// returns an error wrapping ErrInvalidRotation; the angles of such a matrix are meaningless.
//
// The decomposition follows "determine yaw, pitch and roll directly from rotation matrix"
// (http://planning.cs.uiuc.edu/node103.html). The result matches MATLAB except that the
// order of the x and z angles is swapped.
func MatrixToEuler(m mat.Matrix) (*EulerAngles, error) {
	if err := CheckRotation(m); err != nil {
		return nil, err
	}
	return eulerFromMatrix(m), nil
}

// MustMatrixToEuler is MatrixToEuler for callers that treat an invalid rotation as fatal.
func MustMatrixToEuler(m mat.Matrix) *EulerAngles {
	ea, err := MatrixToEuler(m)
	if err != nil {
		panic(err)
	}
	return ea
}

// eulerFromMatrix assumes m is a rotation.
func eulerFromMatrix(m mat.Matrix) *EulerAngles {
	sy := math.Sqrt(utils.Square(m.At(0, 0)) + utils.Square(m.At(1, 0)))

	if sy >= gimbalLockThreshold {
		return &EulerAngles{
			Roll:  math.Atan2(m.At(2, 1), m.At(2, 2)),
			Pitch: math.Atan2(-m.At(2, 0), sy),
			Yaw:   math.Atan2(m.At(1, 0), m.At(0, 0)),
		}
	}
	// roll and yaw are coupled at ±90° pitch; yaw is pinned to zero.
	return &EulerAngles{
		Roll:  math.Atan2(-m.At(1, 2), m.At(1, 1)),
		Pitch: math.Atan2(-m.At(2, 0), sy),
		Yaw:   0,
	}
}

// IsGimbalLocked reports whether m is close enough to ±90° pitch that MatrixToEuler pins yaw to zero.
func IsGimbalLocked(m mat.Matrix) bool {
	return math.Sqrt(utils.Square(m.At(0, 0))+utils.Square(m.At(1, 0))) < gimbalLockThreshold
}

// EulerToMatrix builds Rz(yaw)·Ry(pitch)·Rx(roll). The product of three rotations is
// orthonormal up to rounding, so the result is not re-validated.
func EulerToMatrix(ea *EulerAngles) *RotationMatrix {
	cr, sr := math.Cos(ea.Roll), math.Sin(ea.Roll)
	cp, sp := math.Cos(ea.Pitch), math.Sin(ea.Pitch)
	cy, sy := math.Cos(ea.Yaw), math.Sin(ea.Yaw)

	rx := &RotationMatrix{[9]float64{
		1, 0, 0,
		0, cr, -sr,
		0, sr, cr,
	}}
	ry := &RotationMatrix{[9]float64{
		cp, 0, sp,
		0, 1, 0,
		-sp, 0, cp,
	}}
	rz := &RotationMatrix{[9]float64{
		cy, -sy, 0,
		sy, cy, 0,
		0, 0, 1,
	}}
	return rz.MulMatrix(ry).MulMatrix(rx)
}

// EulerAngles returns the receiver.
func (ea *EulerAngles) EulerAngles() *EulerAngles {
	return ea
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (ea *EulerAngles) RotationMatrix() *RotationMatrix {
	return EulerToMatrix(ea)
}

// RotationVector returns the orientation as an axis-angle rotation vector.
func (ea *EulerAngles) RotationVector() RotationVector {
	return ea.RotationMatrix().RotationVector()
}

// AxisAngles returns the orientation in axis angle representation.
func (ea *EulerAngles) AxisAngles() *R4AA {
	return ea.RotationVector().AxisAngles()
}

// Quaternion returns orientation in quaternion representation.
func (ea *EulerAngles) Quaternion() quat.Number {
	return ea.RotationMatrix().Quaternion()
}

// Degrees returns (roll, pitch, yaw) in degrees.
func (ea *EulerAngles) Degrees() r3.Vector {
	return r3.Vector{X: utils.RadToDeg(ea.Roll), Y: utils.RadToDeg(ea.Pitch), Z: utils.RadToDeg(ea.Yaw)}
}

// Vector returns (roll, pitch, yaw) in radians.
func (ea *EulerAngles) Vector() r3.Vector {
	return r3.Vector{X: ea.Roll, Y: ea.Pitch, Z: ea.Yaw}
}

package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/posepnp/utils"
)

// See here for a thorough explanation: https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
// An orientation can be expressed by first specifying an axis, i.e. a line from the origin to a point on
// the unit sphere, represented by (rx, ry, rz), and a rotation around that axis, theta.
// These four numbers can be used as-is (R4AA), or they can be converted to R3 (RotationVector), where
// theta is multiplied by each of the unit sphere components to give a vector whose length is theta and
// whose direction is the original axis. R3 is what the PnP solver produces.

// smallAngle is the sin(theta) below which the log map switches to its near-0 / near-pi forms.
const smallAngle = 1e-5

// RotationVector is an R3 axis angle: direction is the rotation axis, length is the angle in radians.
type RotationVector r3.Vector

// R4AA represents an R4 axis angle.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA creates an R4AA with no rotation about the z axis.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// AxisAngles returns the receiver.
func (r4 *R4AA) AxisAngles() *R4AA {
	return r4
}

// RotationVector converts an R4 axis angle to R3.
func (r4 *R4AA) RotationVector() RotationVector {
	n := r4.axisNorm()
	if n == 0 {
		return RotationVector{}
	}
	return RotationVector{r4.RX * r4.Theta / n, r4.RY * r4.Theta / n, r4.RZ * r4.Theta / n}
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (r4 *R4AA) RotationMatrix() *RotationMatrix {
	return r4.RotationVector().RotationMatrix()
}

// EulerAngles returns orientation in Euler angle representation.
func (r4 *R4AA) EulerAngles() *EulerAngles {
	return r4.RotationMatrix().EulerAngles()
}

// Quaternion returns orientation in quaternion representation.
func (r4 *R4AA) Quaternion() quat.Number {
	return r4.ToQuat()
}

// ToQuat converts an R4 axis angle to a unit quaternion.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/angleToQuaternion/index.htm
func (r4 *R4AA) ToQuat() quat.Number {
	n := r4.axisNorm()
	if n == 0 {
		return quat.Number{Real: 1}
	}
	sinA := math.Sin(r4.Theta / 2)
	return quat.Number{
		Real: math.Cos(r4.Theta / 2),
		Imag: r4.RX / n * sinA,
		Jmag: r4.RY / n * sinA,
		Kmag: r4.RZ / n * sinA,
	}
}

// Normalize scales the x, y, and z components of a R4 axis angle to be on the unit sphere.
// A zero axis becomes the z axis.
func (r4 *R4AA) Normalize() {
	n := r4.axisNorm()
	if n == 0 {
		r4.RX, r4.RY, r4.RZ = 0, 0, 1
		return
	}
	r4.RX /= n
	r4.RY /= n
	r4.RZ /= n
}

func (r4 *R4AA) axisNorm() float64 {
	return math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
}

// Angle returns the rotation angle in radians.
func (rv RotationVector) Angle() float64 {
	return r3.Vector(rv).Norm()
}

// AxisAngles converts the rotation vector to R4.
func (rv RotationVector) AxisAngles() *R4AA {
	theta := rv.Angle()
	if theta == 0 {
		return NewR4AA()
	}
	return &R4AA{theta, rv.X / theta, rv.Y / theta, rv.Z / theta}
}

// RotationVector returns the receiver.
func (rv RotationVector) RotationVector() RotationVector {
	return rv
}

// RotationMatrix expands the rotation vector with the exponential map (Rodrigues' formula)
// R = I + sin(θ)[k]× + (1−cos(θ))[k]×², written here in the equivalent form
// R = cos(θ)I + sin(θ)[k]× + (1−cos(θ))kkᵗ. A zero vector is the identity.
func (rv RotationVector) RotationMatrix() *RotationMatrix {
	theta := rv.Angle()
	if theta == 0 {
		return IdentityRotationMatrix()
	}
	kx, ky, kz := rv.X/theta, rv.Y/theta, rv.Z/theta
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return &RotationMatrix{[9]float64{
		c + v*kx*kx, v*kx*ky - s*kz, v*kx*kz + s*ky,
		v*kx*ky + s*kz, c + v*ky*ky, v*ky*kz - s*kx,
		v*kx*kz - s*ky, v*ky*kz + s*kx, c + v*kz*kz,
	}}
}

// EulerAngles returns orientation in Euler angle representation.
func (rv RotationVector) EulerAngles() *EulerAngles {
	return rv.RotationMatrix().EulerAngles()
}

// Quaternion returns orientation in quaternion representation.
func (rv RotationVector) Quaternion() quat.Number {
	return rv.AxisAngles().ToQuat()
}

// RotationVectorFromMatrix is the inverse of RotationVector.RotationMatrix (the log map).
// The returned angle lies in [0, pi].
func RotationVectorFromMatrix(rm *RotationMatrix) RotationVector {
	// w = 2 sin(θ) k
	w := r3.Vector{
		X: rm.At(2, 1) - rm.At(1, 2),
		Y: rm.At(0, 2) - rm.At(2, 0),
		Z: rm.At(1, 0) - rm.At(0, 1),
	}
	s := w.Norm() / 2
	c := utils.Clamp((rm.At(0, 0)+rm.At(1, 1)+rm.At(2, 2)-1)/2, -1, 1)
	theta := math.Atan2(s, c)

	switch {
	case s > smallAngle:
		return RotationVector(w.Mul(theta / (2 * s)))
	case c > 0:
		// near identity, θ ≈ sin(θ)
		return RotationVector(w.Mul(0.5))
	default:
		// near pi: R + I ≈ 2kkᵗ, take the best conditioned column
		best := 0
		for i := 1; i < 3; i++ {
			if rm.At(i, i) > rm.At(best, best) {
				best = i
			}
		}
		col := rm.Col(best)
		switch best {
		case 0:
			col.X++
		case 1:
			col.Y++
		default:
			col.Z++
		}
		k := col.Normalize()
		if k.Dot(w) < 0 {
			k = k.Mul(-1)
		}
		return RotationVector(k.Mul(theta))
	}
}

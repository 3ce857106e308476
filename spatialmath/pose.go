package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Pose represents a rigid transform: an orientation followed by a translation.
// For a pose recovered by PnP it maps object coordinates into camera coordinates.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

type basicPose struct {
	point       r3.Vector
	orientation *RotationMatrix
}

// NewPose returns a pose from a translation and any orientation representation.
func NewPose(point r3.Vector, orientation Orientation) Pose {
	if orientation == nil {
		orientation = NewZeroOrientation()
	}
	return &basicPose{point: point, orientation: orientation.RotationMatrix()}
}

// NewZeroPose returns a pose with no rotation and no translation.
func NewZeroPose() Pose {
	return NewPose(r3.Vector{}, NewZeroOrientation())
}

func (p *basicPose) Point() r3.Vector {
	return p.point
}

func (p *basicPose) Orientation() Orientation {
	return p.orientation
}

func (p *basicPose) String() string {
	ea := p.orientation.EulerAngles()
	return fmt.Sprintf("{X:%.3f Y:%.3f Z:%.3f Roll:%.5f Pitch:%.5f Yaw:%.5f}",
		p.point.X, p.point.Y, p.point.Z, ea.Roll, ea.Pitch, ea.Yaw)
}

// TransformPoint applies the pose to a point: R·v + t.
func TransformPoint(p Pose, v r3.Vector) r3.Vector {
	return p.Orientation().RotationMatrix().Mul(v).Add(p.Point())
}

// Compose returns the pose that applies b first, then a.
func Compose(a, b Pose) Pose {
	ra := a.Orientation().RotationMatrix()
	return NewPose(ra.Mul(b.Point()).Add(a.Point()), ra.MulMatrix(b.Orientation().RotationMatrix()))
}

// PoseInverse returns the inverse transform.
func PoseInverse(p Pose) Pose {
	rt := p.Orientation().RotationMatrix().Transpose()
	return NewPose(rt.Mul(p.Point()).Mul(-1), rt)
}

// PoseAlmostEqualEps reports whether two poses match within epsilon in translation and 1e-5 in orientation.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return a.Point().Sub(b.Point()).Norm() <= epsilon && OrientationAlmostEqual(a.Orientation(), b.Orientation())
}

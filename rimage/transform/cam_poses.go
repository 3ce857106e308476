package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/posepnp/spatialmath"
)

// CamPose stores the 3x4 pose matrix [R|t] as well as the 3D Rotation and Translation matrices.
// It maps object coordinates into camera coordinates.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPoseFromMat creates a pointer to a Camera pose from a 3x4 pose dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) (*CamPose, error) {
	if r, c := pose.Dims(); r != 3 || c != 4 {
		return nil, errors.Wrapf(ErrInputShapeMismatch, "pose matrix must be 3x4, got %dx%d", r, c)
	}
	col := pose.ColView(3)
	t := mat.NewDense(3, 1, []float64{col.AtVec(0), col.AtVec(1), col.AtVec(2)})
	rot := mat.DenseCopyOf(pose.Slice(0, 3, 0, 3))
	return &CamPose{
		PoseMat:     pose,
		Rotation:    rot,
		Translation: t,
	}, nil
}

// NewCamPose builds the [R|t] matrix from a rotation and a translation.
func NewCamPose(rot *spatialmath.RotationMatrix, t r3.Vector) *CamPose {
	var pose mat.Dense
	pose.Augment(rot.Dense(), mat.NewDense(3, 1, []float64{t.X, t.Y, t.Z}))
	return &CamPose{
		PoseMat:     &pose,
		Rotation:    rot.Dense(),
		Translation: mat.NewDense(3, 1, []float64{t.X, t.Y, t.Z}),
	}
}

// Pose creates a spatialmath.Pose from a CamPose.
func (cp *CamPose) Pose() (spatialmath.Pose, error) {
	translation := r3.Vector{X: cp.Translation.At(0, 0), Y: cp.Translation.At(1, 0), Z: cp.Translation.At(2, 0)}
	rotation, err := spatialmath.NewRotationMatrixFromMatrix(cp.Rotation)
	if err != nil {
		return nil, err
	}
	return spatialmath.NewPose(translation, rotation), nil
}

// ProjectionMatrix returns the 3x4 camera projection K·[R|t].
func (cp *CamPose) ProjectionMatrix(intrinsics *PinholeCameraIntrinsics) (*mat.Dense, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	var p mat.Dense
	p.Mul(intrinsics.GetCameraMatrix(), cp.PoseMat)
	return &p, nil
}

// Project maps an object point to pixel coordinates with the full projection matrix.
func (cp *CamPose) Project(intrinsics *PinholeCameraIntrinsics, pt r3.Vector) (r2.Point, error) {
	p, err := cp.ProjectionMatrix(intrinsics)
	if err != nil {
		return r2.Point{}, err
	}
	var h mat.VecDense
	h.MulVec(p, mat.NewVecDense(4, []float64{pt.X, pt.Y, pt.Z, 1}))
	if h.AtVec(2) == 0 {
		return r2.Point{X: -1, Y: -1}, nil
	}
	return r2.Point{X: h.AtVec(0) / h.AtVec(2), Y: h.AtVec(1) / h.AtVec(2)}, nil
}

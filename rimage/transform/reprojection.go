package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/posepnp/spatialmath"
)

// ProjectPoints maps object points through the pose (rvec, tvec) and the pinhole intrinsics to pixels.
// Points on the camera plane map to (-1, -1).
func ProjectPoints(
	objectPoints []r3.Vector,
	rvec spatialmath.RotationVector,
	tvec r3.Vector,
	intrinsics *PinholeCameraIntrinsics,
) []r2.Point {
	rot := rvec.RotationMatrix()
	out := make([]r2.Point, len(objectPoints))
	for i, p := range objectPoints {
		out[i] = intrinsics.ProjectPoint(rot.Mul(p).Add(tvec))
	}
	return out
}

// ReprojectionErrors returns, per correspondence, the pixel distance between the observed image point
// and the projection of its object point.
func ReprojectionErrors(
	objectPoints []r3.Vector,
	imagePoints []r2.Point,
	rvec spatialmath.RotationVector,
	tvec r3.Vector,
	intrinsics *PinholeCameraIntrinsics,
) ([]float64, error) {
	if len(objectPoints) != len(imagePoints) {
		return nil, errors.Wrapf(ErrInputShapeMismatch, "%d object points but %d image points",
			len(objectPoints), len(imagePoints))
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	projected := ProjectPoints(objectPoints, rvec, tvec, intrinsics)
	errs := make([]float64, len(projected))
	for i, p := range projected {
		errs[i] = p.Sub(imagePoints[i]).Norm()
	}
	return errs, nil
}

// ReprojectionRMS is the root mean square of per point reprojection distances.
func ReprojectionRMS(distances []float64) float64 {
	if len(distances) == 0 {
		return 0
	}
	sum := 0.
	for _, d := range distances {
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(distances)))
}

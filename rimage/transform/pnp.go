package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/posepnp/logging"
	"go.viam.com/posepnp/spatialmath"
)

var (
	// ErrInputShapeMismatch is returned when the object and image point sets differ in length or are too short.
	ErrInputShapeMismatch = errors.New("object and image points do not form a usable correspondence set")
	// ErrPoseSolveFailure is returned when no consistent rotation and translation can be recovered.
	ErrPoseSolveFailure = errors.New("could not solve for the object pose")
)

const (
	// MinPnPPoints is the fewest correspondences SolvePnP accepts.
	MinPnPPoints = 4
	// minDLTPoints is the fewest non-coplanar correspondences for the 3D direct linear transform.
	minDLTPoints = 6
	// collinearRcond is the ratio of the second to first singular value of the centered object points
	// below which they are treated as a line.
	collinearRcond = 1e-8
	// coplanarRcond is the ratio of the third to first singular value below which the object is treated
	// as planar for the initial estimate.
	coplanarRcond = 1e-3
)

// PnPMethod names the linear method used for the initial pose.
type PnPMethod string

const (
	// PnPMethodDLT is the normalized 3D direct linear transform.
	PnPMethodDLT = PnPMethod("dlt")
	// PnPMethodHomography decomposes the homography from the object's best-fit plane to the image.
	PnPMethodHomography = PnPMethod("homography")
	// PnPMethodP3P solves the three point problem on triples of correspondences.
	PnPMethodP3P = PnPMethod("p3p")
)

// PnPOptions controls the iterative refinement.
type PnPOptions struct {
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"`
	// MaxReprojectionRMS rejects a refined pose whose pixel RMS is above it. Zero accepts any pose.
	MaxReprojectionRMS float64 `json:"max_reprojection_rms,omitempty"`
}

// DefaultPnPOptions returns the options used when none are given.
func DefaultPnPOptions() *PnPOptions {
	return &PnPOptions{MaxIterations: 100, Epsilon: 1e-10}
}

// PnPSolution is the pose that maps object coordinates into camera coordinates, x_cam = R·X + t.
type PnPSolution struct {
	RotationVector  spatialmath.RotationVector
	Rotation        *spatialmath.RotationMatrix
	Translation     r3.Vector
	ReprojectionRMS float64
	Iterations      int
	Method          PnPMethod
}

// Pose returns the solution as a spatialmath.Pose.
func (s *PnPSolution) Pose() spatialmath.Pose {
	return spatialmath.NewPose(s.Translation, s.Rotation)
}

// CamPose returns the solution as a 3x4 [R|t] camera pose.
func (s *PnPSolution) CamPose() *CamPose {
	return NewCamPose(s.Rotation, s.Translation)
}

// rigidTransform is an intermediate pose estimate.
type rigidTransform struct {
	R *spatialmath.RotationMatrix
	T r3.Vector
}

type poseStart struct {
	pose   *rigidTransform
	method PnPMethod
}

// PnPSolver recovers object poses from 3D to 2D correspondences.
type PnPSolver struct {
	logger logging.Logger
	opts   PnPOptions
}

// NewPnPSolver returns a solver; nil options select DefaultPnPOptions.
func NewPnPSolver(logger logging.Logger, opts *PnPOptions) *PnPSolver {
	o := *DefaultPnPOptions()
	if opts != nil {
		if opts.MaxIterations > 0 {
			o.MaxIterations = opts.MaxIterations
		}
		if opts.Epsilon > 0 {
			o.Epsilon = opts.Epsilon
		}
		if opts.MaxReprojectionRMS > 0 {
			o.MaxReprojectionRMS = opts.MaxReprojectionRMS
		}
	}
	return &PnPSolver{logger: logger, opts: o}
}

// SolvePnP finds the rotation and translation that best project objectPoints onto imagePoints through
// a distortion free pinhole camera. Point i of each slice must be the same physical feature.
func SolvePnP(
	objectPoints []r3.Vector,
	imagePoints []r2.Point,
	intrinsics *PinholeCameraIntrinsics,
	distortion DistortionCoefficients,
	opts *PnPOptions,
) (*PnPSolution, error) {
	return NewPnPSolver(logging.NewBlankLogger("pnp"), opts).Solve(objectPoints, imagePoints, intrinsics, distortion)
}

// CheckCorrespondences returns an error wrapping ErrInputShapeMismatch unless both sets have the same
// length of at least MinPnPPoints and every coordinate is finite.
func CheckCorrespondences(objectPoints []r3.Vector, imagePoints []r2.Point) error {
	if len(objectPoints) != len(imagePoints) {
		return errors.Wrapf(ErrInputShapeMismatch, "%d object points but %d image points",
			len(objectPoints), len(imagePoints))
	}
	if len(objectPoints) < MinPnPPoints {
		return errors.Wrapf(ErrInputShapeMismatch, "need at least %d correspondences, got %d",
			MinPnPPoints, len(objectPoints))
	}
	for i, p := range objectPoints {
		if !isFinite(p.X, p.Y, p.Z) {
			return errors.Wrapf(ErrInputShapeMismatch, "object point %d is not finite: %v", i, p)
		}
	}
	for i, p := range imagePoints {
		if !isFinite(p.X, p.Y) {
			return errors.Wrapf(ErrInputShapeMismatch, "image point %d is not finite: %v", i, p)
		}
	}
	return nil
}

// Solve runs SolvePnP with the solver's logger and options.
func (s *PnPSolver) Solve(
	objectPoints []r3.Vector,
	imagePoints []r2.Point,
	intrinsics *PinholeCameraIntrinsics,
	distortion DistortionCoefficients,
) (*PnPSolution, error) {
	if err := CheckCorrespondences(objectPoints, imagePoints); err != nil {
		return nil, err
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if err := distortion.CheckValid(); err != nil {
		return nil, err
	}

	spread, err := analyzePoints(objectPoints)
	if err != nil {
		return nil, errors.Wrapf(ErrPoseSolveFailure, "%v", err)
	}
	if spread.Values[0] == 0 || spread.Values[1]/spread.Values[0] < collinearRcond {
		return nil, errors.Wrap(ErrPoseSolveFailure, "object points are collinear")
	}

	normalized := make([]r2.Point, len(imagePoints))
	for i, pt := range imagePoints {
		normalized[i] = intrinsics.NormalizePixel(pt)
	}

	planar := spread.Values[2]/spread.Values[0] < coplanarRcond
	starts, err := s.initialPoses(objectPoints, imagePoints, normalized, intrinsics, spread, planar)
	if err != nil {
		return nil, errors.Wrapf(ErrPoseSolveFailure, "%v", err)
	}

	var (
		best           *rigidTransform
		bestMethod     PnPMethod
		bestIterations int
		bestCost       = math.Inf(1)
	)
	residuals := make([]float64, 2*len(objectPoints))
	for _, start := range starts {
		refined, iterations := s.refine(objectPoints, imagePoints, intrinsics, start.pose)
		rvec := refined.R.RotationVector()
		if !isFinite(rvec.X, rvec.Y, rvec.Z, refined.T.X, refined.T.Y, refined.T.Z) {
			continue
		}
		refined.residuals(residuals, objectPoints, imagePoints, intrinsics)
		cost := floats.Dot(residuals, residuals)
		if isFinite(cost) && cost < bestCost {
			best, bestMethod, bestIterations, bestCost = refined, start.method, iterations, cost
		}
	}
	if best == nil {
		return nil, errors.Wrap(ErrPoseSolveFailure, "refinement diverged")
	}
	best.residuals(residuals, objectPoints, imagePoints, intrinsics)
	rms := residualRMS(residuals)

	s.logger.Debugw("solved pnp",
		"points", len(objectPoints),
		"method", bestMethod,
		"planar", planar,
		"starts", len(starts),
		"iterations", bestIterations,
		"reprojection_rms_px", rms)

	if s.opts.MaxReprojectionRMS > 0 && rms > s.opts.MaxReprojectionRMS {
		return nil, errors.Wrapf(ErrPoseSolveFailure, "best pose reprojects with %.3g px rms, above the %.3g px limit",
			rms, s.opts.MaxReprojectionRMS)
	}

	return &PnPSolution{
		RotationVector:  best.R.RotationVector(),
		Rotation:        best.R,
		Translation:     best.T,
		ReprojectionRMS: rms,
		Iterations:      bestIterations,
		Method:          bestMethod,
	}, nil
}

// initialPoses returns the starting poses for refinement. Non-coplanar objects with enough points
// get the direct linear transform. Smaller ones, or ones where it fails, get the best three point
// solutions together with the best-fit plane homography.
func (s *PnPSolver) initialPoses(
	objectPoints []r3.Vector,
	imagePoints []r2.Point,
	normalized []r2.Point,
	intrinsics *PinholeCameraIntrinsics,
	spread *pointSpread,
	planar bool,
) ([]poseStart, error) {
	if planar {
		pose, err := planarPose(objectPoints, normalized, spread)
		if err != nil {
			return nil, err
		}
		return []poseStart{{pose, PnPMethodHomography}}, nil
	}
	if len(objectPoints) >= minDLTPoints {
		pose, err := dltPose(objectPoints, normalized, spread)
		if err == nil {
			return []poseStart{{pose, PnPMethodDLT}}, nil
		}
		s.logger.Debugw("direct linear transform failed, falling back to three point solutions", "error", err)
	}

	var starts []poseStart
	for _, pose := range minimalPoses(objectPoints, imagePoints, normalized, intrinsics) {
		starts = append(starts, poseStart{pose, PnPMethodP3P})
	}
	pose, err := planarPose(objectPoints, normalized, spread)
	if err == nil {
		starts = append(starts, poseStart{pose, PnPMethodHomography})
	} else if len(starts) == 0 {
		return nil, err
	}
	return starts, nil
}

// dltPose estimates the 3x4 projection [R|t] in normalized camera coordinates with the
// direct linear transform, after moving the object points to their centroid and scaling them
// to a mean distance of sqrt(3).
func dltPose(objectPoints []r3.Vector, normalized []r2.Point, spread *pointSpread) (*rigidTransform, error) {
	scale := spread.RMSDistance
	if scale == 0 {
		return nil, errors.New("object points are coincident")
	}
	scale /= math.Sqrt(3)
	imgN, imgT := normalizePoints(normalized)

	n := len(objectPoints)
	a := mat.NewDense(2*n, 12, nil)
	for i, p := range objectPoints {
		x := p.Sub(spread.Centroid).Mul(1 / scale)
		u, v := imgN[i].X, imgN[i].Y
		a.SetRow(2*i, []float64{x.X, x.Y, x.Z, 1, 0, 0, 0, 0, -u * x.X, -u * x.Y, -u * x.Z, -u})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, x.X, x.Y, x.Z, 1, -v * x.X, -v * x.Y, -v * x.Z, -v})
	}
	p, err := solveHomogeneous(a)
	if err != nil {
		return nil, err
	}

	var imgTInv, proj mat.Dense
	if err := imgTInv.Inverse(imgT); err != nil {
		return nil, err
	}
	proj.Mul(&imgTInv, mat.NewDense(3, 4, p))

	// the centroid sits at the origin of the scaled frame, so its depth is the last column's z.
	if proj.At(2, 3) < 0 {
		proj.Scale(-1, &proj)
	}
	var m mat.Dense
	m.Scale(1/scale, proj.Slice(0, 3, 0, 3))
	rot, lambda, err := nearestRotation(&m)
	if err != nil {
		return nil, err
	}
	if lambda == 0 {
		return nil, errors.New("projection matrix has no rotational part")
	}
	centroidCam := r3.Vector{X: proj.At(0, 3), Y: proj.At(1, 3), Z: proj.At(2, 3)}.Mul(1 / lambda)
	return &rigidTransform{R: rot, T: centroidCam.Sub(rot.Mul(spread.Centroid))}, nil
}

// planarPose estimates the pose from the homography between the object's best-fit plane and the
// normalized image, H = λ[r1 r2 t].
func planarPose(objectPoints []r3.Vector, normalized []r2.Point, spread *pointSpread) (*rigidTransform, error) {
	e1 := r3.Vector{X: spread.Axes.At(0, 0), Y: spread.Axes.At(1, 0), Z: spread.Axes.At(2, 0)}
	e2 := r3.Vector{X: spread.Axes.At(0, 1), Y: spread.Axes.At(1, 1), Z: spread.Axes.At(2, 1)}
	planePoints := make([]r2.Point, len(objectPoints))
	for i, p := range objectPoints {
		d := p.Sub(spread.Centroid)
		planePoints[i] = r2.Point{X: d.Dot(e1), Y: d.Dot(e2)}
	}
	h, err := EstimateHomography(planePoints, normalized)
	if err != nil {
		return nil, err
	}

	h1 := r3.Vector{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := r3.Vector{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := r3.Vector{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}
	lambda := (h1.Norm() + h2.Norm()) / 2
	if lambda == 0 {
		return nil, errors.New("homography has no rotational part")
	}
	r1, r2, tPlane := h1.Mul(1/lambda), h2.Mul(1/lambda), h3.Mul(1/lambda)
	if tPlane.Z < 0 {
		r1, r2, tPlane = r1.Mul(-1), r2.Mul(-1), tPlane.Mul(-1)
	}
	r3v := r1.Cross(r2)
	q := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	planeRot, _, err := nearestRotation(q)
	if err != nil {
		return nil, err
	}

	// x_cam = Rp·Bᵀ·(X - c) + tPlane, with B the principal axes of the object points.
	var objRot mat.Dense
	objRot.Mul(planeRot, spread.Axes.T())
	rot, _, err := nearestRotation(&objRot)
	if err != nil {
		return nil, err
	}
	return &rigidTransform{R: rot, T: tPlane.Sub(rot.Mul(spread.Centroid))}, nil
}

func isFinite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

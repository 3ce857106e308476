package transform

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/posepnp/logging"
	"go.viam.com/posepnp/spatialmath"
)

var (
	benchIntrinsics = &PinholeCameraIntrinsics{Fx: 409, Fy: 408, Ppx: 237, Ppy: 171}
	benchObject     = []r3.Vector{
		{X: 0, Y: 45, Z: 0},
		{X: 242.5, Y: 45, Z: 0},
		{X: 242.5, Y: 21, Z: 0},
		{X: 0, Y: 21, Z: 0},
		{X: 0, Y: 9, Z: -9},
		{X: 242.5, Y: 9, Z: -9},
		{X: 242.5, Y: 9, Z: 44.5},
		{X: 0, Y: 9, Z: 44.5},
	}
	truthRvec = spatialmath.RotationVector{X: 0.3, Y: -0.2, Z: 0.1}
	truthTvec = r3.Vector{X: -120, Y: -20, Z: 600}
)

func TestSolvePnPNonCoplanar(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	img := ProjectPoints(benchObject, truthRvec, truthTvec, benchIntrinsics)

	sol, err := NewPnPSolver(logger, nil).Solve(benchObject, img, benchIntrinsics, NewZeroDistortion())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Method, test.ShouldEqual, PnPMethodDLT)
	test.That(t, sol.RotationVector.X, test.ShouldAlmostEqual, truthRvec.X, 1e-5)
	test.That(t, sol.RotationVector.Y, test.ShouldAlmostEqual, truthRvec.Y, 1e-5)
	test.That(t, sol.RotationVector.Z, test.ShouldAlmostEqual, truthRvec.Z, 1e-5)
	test.That(t, sol.Translation.X, test.ShouldAlmostEqual, truthTvec.X, 1e-3)
	test.That(t, sol.Translation.Y, test.ShouldAlmostEqual, truthTvec.Y, 1e-3)
	test.That(t, sol.Translation.Z, test.ShouldAlmostEqual, truthTvec.Z, 1e-3)
	test.That(t, sol.ReprojectionRMS, test.ShouldBeLessThan, 1e-4)
	test.That(t, spatialmath.IsValidRotation(sol.Rotation), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("solved pnp").Len(), test.ShouldEqual, 1)

	errs, err := ReprojectionErrors(benchObject, img, sol.RotationVector, sol.Translation, benchIntrinsics)
	test.That(t, err, test.ShouldBeNil)
	for _, e := range errs {
		test.That(t, e, test.ShouldBeLessThan, 1e-3)
	}
}

func TestSolvePnPCoplanar(t *testing.T) {
	square := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 100, Y: 0, Z: 0},
		{X: 100, Y: 100, Z: 0},
		{X: 0, Y: 100, Z: 0},
	}
	rvec := spatialmath.RotationVector{X: 0.2, Y: 0.1, Z: -0.3}
	tvec := r3.Vector{X: -50, Y: -40, Z: 500}
	img := ProjectPoints(square, rvec, tvec, benchIntrinsics)

	sol, err := SolvePnP(square, img, benchIntrinsics, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Method, test.ShouldEqual, PnPMethodHomography)
	test.That(t, spatialmath.OrientationAlmostEqual(sol.RotationVector, rvec), test.ShouldBeTrue)
	test.That(t, sol.Translation.Sub(tvec).Norm(), test.ShouldBeLessThan, 1e-3)
	test.That(t, sol.ReprojectionRMS, test.ShouldBeLessThan, 1e-4)

	t.Run("tilted plane with more points", func(t *testing.T) {
		tilt := spatialmath.RotationVector{X: 0.4, Y: 0.3, Z: 0.2}.RotationMatrix()
		var board []r3.Vector
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				board = append(board, tilt.Mul(r3.Vector{X: 40 * float64(i), Y: 30 * float64(j)}).Add(r3.Vector{X: 5, Y: 7, Z: 9}))
			}
		}
		img := ProjectPoints(board, rvec, tvec, benchIntrinsics)
		sol, err := SolvePnP(board, img, benchIntrinsics, NewZeroDistortion(), nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Method, test.ShouldEqual, PnPMethodHomography)
		test.That(t, spatialmath.OrientationAlmostEqual(sol.RotationVector, rvec), test.ShouldBeTrue)
		test.That(t, sol.Translation.Sub(tvec).Norm(), test.ShouldBeLessThan, 1e-3)
	})
}

func TestSolvePnPNoisy(t *testing.T) {
	img := ProjectPoints(benchObject, truthRvec, truthTvec, benchIntrinsics)
	for i := range img {
		sign := 1.
		if i%2 == 1 {
			sign = -1
		}
		img[i] = img[i].Add(r2.Point{X: 0.5 * sign, Y: -0.3 * sign})
	}
	sol, err := SolvePnP(benchObject, img, benchIntrinsics, NewZeroDistortion(), &PnPOptions{MaxIterations: 50})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.ReprojectionRMS, test.ShouldBeLessThan, 2)
	test.That(t, sol.Iterations, test.ShouldBeLessThanOrEqualTo, 50)
	test.That(t, sol.RotationVector.X, test.ShouldAlmostEqual, truthRvec.X, 0.05)
	test.That(t, sol.RotationVector.Y, test.ShouldAlmostEqual, truthRvec.Y, 0.05)
	test.That(t, sol.RotationVector.Z, test.ShouldAlmostEqual, truthRvec.Z, 0.05)
}

func TestSolvePnPRecordedBench(t *testing.T) {
	// hand-picked pixels for the bench object; they do not agree with any single pose to within a few
	// pixels, so only the shape of the answer is checked.
	img := []r2.Point{
		{X: 203, Y: 165}, {X: 572, Y: 170}, {X: 570, Y: 227}, {X: 575, Y: 246},
		{X: 519, Y: 292}, {X: 157, Y: 240}, {X: 218, Y: 215}, {X: 205, Y: 201},
	}
	sol, err := SolvePnP(benchObject, img, benchIntrinsics, NewZeroDistortion(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.IsValidRotation(sol.Rotation), test.ShouldBeTrue)
	test.That(t, math.IsNaN(sol.ReprojectionRMS), test.ShouldBeFalse)
	test.That(t, math.IsInf(sol.ReprojectionRMS, 0), test.ShouldBeFalse)
}

func TestSolvePnPFewNonCoplanarPoints(t *testing.T) {
	obj := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 100, Y: 0, Z: 0},
		{X: 0, Y: 100, Z: 0},
		{X: 0, Y: 0, Z: 100},
		{X: 50, Y: 60, Z: 30},
	}
	rvec := spatialmath.RotationVector{X: 0, Y: 0, Z: 3.0}
	tvec := r3.Vector{X: 10, Y: 20, Z: 400}
	truth := rvec.RotationMatrix()

	for _, n := range []int{4, 5} {
		t.Run(fmt.Sprintf("%d points", n), func(t *testing.T) {
			img := ProjectPoints(obj[:n], rvec, tvec, benchIntrinsics)
			sol, err := NewPnPSolver(logging.NewTestLogger(t), nil).Solve(obj[:n], img, benchIntrinsics, nil)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, sol.Method, test.ShouldNotEqual, PnPMethodDLT)
			test.That(t, sol.ReprojectionRMS, test.ShouldBeLessThan, 1e-3)
			test.That(t, sol.Rotation.MaxAbsDiff(truth), test.ShouldBeLessThan, 1e-5)
			test.That(t, sol.Translation.Sub(tvec).Norm(), test.ShouldBeLessThan, 1e-2)
		})
	}
}

func TestSolvePnPFewNonCoplanarRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	angles := []float64{0.2, 1, 2, 2.8, 3.1, math.Pi - 1e-3}
	uniform := func(lo, hi float64) float64 { return lo + (hi-lo)*rng.Float64() }

	for _, n := range []int{4, 5} {
		t.Run(fmt.Sprintf("%d points", n), func(t *testing.T) {
			solver := NewPnPSolver(logging.NewBlankLogger("pnp"), &PnPOptions{MaxReprojectionRMS: 2})
			const trials = 120
			solved := 0
			for trial := 0; trial < trials; trial++ {
				obj := make([]r3.Vector, n)
				for i := range obj {
					obj[i] = r3.Vector{X: uniform(-50, 50), Y: uniform(-50, 50), Z: uniform(-50, 50)}
				}
				axis := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Normalize()
				angle := angles[trial%len(angles)]
				rvec := spatialmath.RotationVector{X: axis.X * angle, Y: axis.Y * angle, Z: axis.Z * angle}
				tvec := r3.Vector{X: uniform(-30, 30), Y: uniform(-30, 30), Z: uniform(400, 600)}
				img := ProjectPoints(obj, rvec, tvec, benchIntrinsics)

				sol, err := solver.Solve(obj, img, benchIntrinsics, nil)
				if err != nil {
					test.That(t, errors.Is(err, ErrPoseSolveFailure), test.ShouldBeTrue)
					continue
				}
				test.That(t, sol.ReprojectionRMS, test.ShouldBeLessThan, 2)
				solved++
			}
			test.That(t, solved, test.ShouldBeGreaterThanOrEqualTo, trials*95/100)
		})
	}
}

func TestSolvePnPMaxReprojectionRMS(t *testing.T) {
	img := []r2.Point{
		{X: 203, Y: 165}, {X: 572, Y: 170}, {X: 570, Y: 227}, {X: 575, Y: 246},
		{X: 519, Y: 292}, {X: 157, Y: 240}, {X: 218, Y: 215}, {X: 205, Y: 201},
	}
	_, err := SolvePnP(benchObject, img, benchIntrinsics, nil, &PnPOptions{MaxReprojectionRMS: 0.5})
	test.That(t, errors.Is(err, ErrPoseSolveFailure), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "px rms")

	exact := ProjectPoints(benchObject, truthRvec, truthTvec, benchIntrinsics)
	sol, err := SolvePnP(benchObject, exact, benchIntrinsics, nil, &PnPOptions{MaxReprojectionRMS: 0.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.ReprojectionRMS, test.ShouldBeLessThan, 0.5)
}

func TestP3PPoses(t *testing.T) {
	truth := truthRvec.RotationMatrix()
	obj := [3]r3.Vector{benchObject[0], benchObject[5], benchObject[6]}
	img := ProjectPoints(obj[:], truthRvec, truthTvec, benchIntrinsics)
	var normalized [3]r2.Point
	for i, pt := range img {
		normalized[i] = benchIntrinsics.NormalizePixel(pt)
	}

	poses := p3pPoses(obj, normalized)
	test.That(t, len(poses), test.ShouldBeBetweenOrEqual, 1, 4)
	found := false
	for _, pose := range poses {
		test.That(t, spatialmath.IsValidRotation(pose.R), test.ShouldBeTrue)
		if pose.R.MaxAbsDiff(truth) < 1e-6 && pose.T.Sub(truthTvec).Norm() < 1e-4 {
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)

	collinear := [3]r3.Vector{{X: 0}, {X: 1}, {X: 2}}
	test.That(t, p3pPoses(collinear, normalized), test.ShouldBeEmpty)
}

func TestPolyRealRoots(t *testing.T) {
	// (v - 1)(v - 2)(v² + 1)
	quartic := polyMul(polyMul([]float64{-1, 1}, []float64{-2, 1}), []float64{1, 0, 1})
	roots := polyRealRoots(quartic)
	sort.Float64s(roots)
	test.That(t, roots, test.ShouldHaveLength, 2)
	test.That(t, roots[0], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, roots[1], test.ShouldAlmostEqual, 2, 1e-9)

	// a vanishing leading coefficient drops the degree
	roots = polyRealRoots([]float64{-6, 2, 0})
	test.That(t, roots, test.ShouldHaveLength, 1)
	test.That(t, roots[0], test.ShouldAlmostEqual, 3)

	test.That(t, polyRealRoots([]float64{0, 0}), test.ShouldBeEmpty)
	test.That(t, polyEval(quartic, 3), test.ShouldAlmostEqual, 20)
}

func TestSolvePnPErrors(t *testing.T) {
	img := ProjectPoints(benchObject, truthRvec, truthTvec, benchIntrinsics)

	t.Run("too few points", func(t *testing.T) {
		_, err := SolvePnP(benchObject[:3], img[:3], benchIntrinsics, nil, nil)
		test.That(t, errors.Is(err, ErrInputShapeMismatch), test.ShouldBeTrue)
	})
	t.Run("length mismatch", func(t *testing.T) {
		_, err := SolvePnP(benchObject, img[:5], benchIntrinsics, nil, nil)
		test.That(t, errors.Is(err, ErrInputShapeMismatch), test.ShouldBeTrue)
	})
	t.Run("non finite point", func(t *testing.T) {
		obj := append([]r3.Vector{}, benchObject...)
		obj[2].Y = math.NaN()
		_, err := SolvePnP(obj, img, benchIntrinsics, nil, nil)
		test.That(t, errors.Is(err, ErrInputShapeMismatch), test.ShouldBeTrue)
	})
	t.Run("collinear object", func(t *testing.T) {
		line := []r3.Vector{{X: 0}, {X: 10}, {X: 20}, {X: 30}, {X: 40}}
		lineImg := []r2.Point{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}, {X: 4, Y: 4}, {X: 5, Y: 5}}
		_, err := SolvePnP(line, lineImg, benchIntrinsics, nil, nil)
		test.That(t, errors.Is(err, ErrPoseSolveFailure), test.ShouldBeTrue)
		test.That(t, strings.Count(err.Error(), ErrPoseSolveFailure.Error()), test.ShouldEqual, 1)
	})
	t.Run("coincident object", func(t *testing.T) {
		same := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}}
		_, err := SolvePnP(same, img[:4], benchIntrinsics, nil, nil)
		test.That(t, errors.Is(err, ErrPoseSolveFailure), test.ShouldBeTrue)
	})
	t.Run("missing intrinsics", func(t *testing.T) {
		_, err := SolvePnP(benchObject, img, nil, nil, nil)
		test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	})
	t.Run("distortion", func(t *testing.T) {
		_, err := SolvePnP(benchObject, img, benchIntrinsics, DistortionCoefficients{0.1, 0, 0, 0}, nil)
		test.That(t, errors.Is(err, ErrUnsupportedDistortion), test.ShouldBeTrue)
	})
}

func TestPnPSolutionPose(t *testing.T) {
	img := ProjectPoints(benchObject, truthRvec, truthTvec, benchIntrinsics)
	sol, err := SolvePnP(benchObject, img, benchIntrinsics, nil, nil)
	test.That(t, err, test.ShouldBeNil)

	pose := sol.Pose()
	for i, p := range benchObject {
		px := benchIntrinsics.ProjectPoint(spatialmath.TransformPoint(pose, p))
		test.That(t, px.Sub(img[i]).Norm(), test.ShouldBeLessThan, 1e-3)
	}

	camPose := sol.CamPose()
	back, err := camPose.Pose()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqualEps(pose, back, 1e-9), test.ShouldBeTrue)
	px, err := camPose.Project(benchIntrinsics, benchObject[3])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.Sub(img[3]).Norm(), test.ShouldBeLessThan, 1e-3)
}

func TestReprojectionRMS(t *testing.T) {
	test.That(t, ReprojectionRMS(nil), test.ShouldEqual, 0)
	test.That(t, ReprojectionRMS([]float64{3, 4}), test.ShouldAlmostEqual, math.Sqrt(12.5))

	_, err := ReprojectionErrors(benchObject, nil, truthRvec, truthTvec, benchIntrinsics)
	test.That(t, errors.Is(err, ErrInputShapeMismatch), test.ShouldBeTrue)
}

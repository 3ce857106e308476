package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/posepnp/spatialmath"
)

const (
	// minDepth keeps the projection finite for points that land on the camera plane mid-iteration.
	minDepth = 1e-12
	// maxDamping ends refinement when no step of any size reduces the cost.
	maxDamping = 1e16
	// poseParams is the size of the local parametrization: rotation increment then translation.
	poseParams = 6
)

// perturb applies a local update: the rotation is left multiplied by exp(x[0:3]) and x[3:6] is added
// to the translation.
func (rt *rigidTransform) perturb(x []float64) *rigidTransform {
	dR := spatialmath.RotationVector{X: x[0], Y: x[1], Z: x[2]}.RotationMatrix()
	return &rigidTransform{
		R: dR.MulMatrix(rt.R),
		T: rt.T.Add(r3.Vector{X: x[3], Y: x[4], Z: x[5]}),
	}
}

// residuals fills dst with the pixel differences projected - observed, u then v for each point.
func (rt *rigidTransform) residuals(dst []float64, objectPoints []r3.Vector, imagePoints []r2.Point,
	intrinsics *PinholeCameraIntrinsics,
) {
	for i, p := range objectPoints {
		pc := rt.R.Mul(p).Add(rt.T)
		z := pc.Z
		if math.Abs(z) < minDepth {
			z = math.Copysign(minDepth, z)
		}
		dst[2*i] = intrinsics.Fx*pc.X/z + intrinsics.Ppx - imagePoints[i].X
		dst[2*i+1] = intrinsics.Fy*pc.Y/z + intrinsics.Ppy - imagePoints[i].Y
	}
}

func residualRMS(residuals []float64) float64 {
	n := len(residuals) / 2
	if n == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(residuals, residuals) / float64(n))
}

// refine minimizes the summed squared reprojection error with Levenberg-Marquardt. The Jacobian
// is taken by central differences around the current estimate. It returns the best pose found and
// the number of iterations run.
func (s *PnPSolver) refine(
	objectPoints []r3.Vector,
	imagePoints []r2.Point,
	intrinsics *PinholeCameraIntrinsics,
	initial *rigidTransform,
) (*rigidTransform, int) {
	m := 2 * len(objectPoints)
	current := initial
	r := make([]float64, m)
	current.residuals(r, objectPoints, imagePoints, intrinsics)
	cost := floats.Dot(r, r)
	if !isFinite(cost) {
		return current, 0
	}

	jac := mat.NewDense(m, poseParams, nil)
	origin := make([]float64, poseParams)
	candidateResiduals := make([]float64, m)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	damping := -1.

	iter := 0
	for iter < s.opts.MaxIterations {
		iter++
		base := current
		fd.Jacobian(jac, func(y, x []float64) {
			base.perturb(x).residuals(y, objectPoints, imagePoints, intrinsics)
		}, origin, settings)

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))

		if damping < 0 {
			maxDiag := 0.
			for i := 0; i < poseParams; i++ {
				maxDiag = math.Max(maxDiag, jtj.At(i, i))
			}
			damping = 1e-3 * maxDiag
			if damping == 0 {
				damping = 1e-3
			}
		}

		improved, converged := false, false
		for damping < maxDamping {
			a := mat.NewDense(poseParams, poseParams, nil)
			a.Copy(&jtj)
			for i := 0; i < poseParams; i++ {
				a.Set(i, i, jtj.At(i, i)+damping*math.Max(jtj.At(i, i), 1e-12))
			}
			var step mat.VecDense
			if err := step.SolveVec(a, &grad); err != nil {
				damping *= 10
				continue
			}
			delta := step.RawVector().Data
			floats.Scale(-1, delta)

			candidate := base.perturb(delta)
			candidate.residuals(candidateResiduals, objectPoints, imagePoints, intrinsics)
			newCost := floats.Dot(candidateResiduals, candidateResiduals)
			if !isFinite(newCost) || newCost >= cost {
				damping *= 10
				continue
			}

			stepNorm := floats.Norm(delta, 2)
			converged = stepNorm <= s.opts.Epsilon*(1+current.T.Norm()) || cost-newCost <= s.opts.Epsilon*cost
			current = candidate
			copy(r, candidateResiduals)
			cost = newCost
			damping = math.Max(damping/10, 1e-15)
			improved = true
			break
		}
		if !improved || converged {
			break
		}
	}
	s.logger.Debugw("pose refinement finished", "iterations", iter, "cost", cost, "damping", damping)
	return current, iter
}

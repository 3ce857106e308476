package transform

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// maxP3PTriples bounds how many point triples are tried when building minimal starts.
	maxP3PTriples = 20
	// maxP3PStarts is how many of the best scoring three point poses go on to refinement.
	maxP3PStarts = 4
	// rootImagTol is the imaginary part, relative to the modulus, below which a polynomial root is real.
	rootImagTol = 1e-6
)

// p3pPoses returns the poses, up to four, that put three object points on the viewing rays of their
// normalized image points. It follows Grunert: the distances along the rays are s1, u·s1 and v·s1,
// and eliminating u from the three law of cosines equations leaves a quartic in v.
func p3pPoses(objectPoints [3]r3.Vector, normalized [3]r2.Point) []*rigidTransform {
	p1, p2, p3 := objectPoints[0], objectPoints[1], objectPoints[2]
	a2 := p2.Sub(p3).Norm2()
	b2 := p1.Sub(p3).Norm2()
	c2 := p1.Sub(p2).Norm2()
	if a2 == 0 || b2 == 0 || c2 == 0 {
		return nil
	}
	if p2.Sub(p1).Cross(p3.Sub(p1)).Norm2() < 1e-12*b2*c2 {
		return nil
	}

	var rays [3]r3.Vector
	for i, pt := range normalized {
		rays[i] = r3.Vector{X: pt.X, Y: pt.Y, Z: 1}.Normalize()
	}
	cosA := rays[1].Dot(rays[2])
	cosB := rays[0].Dot(rays[2])
	cosG := rays[0].Dot(rays[1])

	k := (a2 - c2) / b2
	c := c2 / b2
	// u = num(v) / den(v), from subtracting the b,c equation from the a,b one.
	num := []float64{-(1 + k), 2 * k * cosB, 1 - k}
	den := []float64{-2 * cosG, 2 * cosA}
	// u² - 2u·cosG = c(1 + v² - 2v·cosB) - 1, multiplied through by den².
	rhs := []float64{c - 1, -2 * c * cosB, c}
	quartic := polySub(
		polySub(polyMul(num, num), polyScale(2*cosG, polyMul(num, den))),
		polyMul(polyMul(den, den), rhs))

	var poses []*rigidTransform
	for _, v := range polyRealRoots(quartic) {
		if v <= 0 {
			continue
		}
		w := 1 + v*v - 2*v*cosB
		d := polyEval(den, v)
		if w <= 0 || math.Abs(d) < 1e-12 {
			continue
		}
		u := polyEval(num, v) / d
		if u <= 0 {
			continue
		}
		s1 := math.Sqrt(b2 / w)
		cam := []r3.Vector{rays[0].Mul(s1), rays[1].Mul(u * s1), rays[2].Mul(v * s1)}
		pose, err := alignPoints(objectPoints[:], cam)
		if err != nil {
			continue
		}
		poses = append(poses, pose)
	}
	return poses
}

// minimalPoses solves P3P on triples of correspondences and returns the poses with the lowest
// reprojection cost over every point, best first.
func minimalPoses(
	objectPoints []r3.Vector,
	imagePoints []r2.Point,
	normalized []r2.Point,
	intrinsics *PinholeCameraIntrinsics,
) []*rigidTransform {
	type scored struct {
		pose *rigidTransform
		cost float64
	}
	var candidates []scored
	residuals := make([]float64, 2*len(objectPoints))
	n, tried := len(objectPoints), 0
	for i := 0; i < n && tried < maxP3PTriples; i++ {
		for j := i + 1; j < n && tried < maxP3PTriples; j++ {
			for k := j + 1; k < n && tried < maxP3PTriples; k++ {
				tried++
				poses := p3pPoses(
					[3]r3.Vector{objectPoints[i], objectPoints[j], objectPoints[k]},
					[3]r2.Point{normalized[i], normalized[j], normalized[k]})
				for _, pose := range poses {
					pose.residuals(residuals, objectPoints, imagePoints, intrinsics)
					if cost := floats.Dot(residuals, residuals); isFinite(cost) {
						candidates = append(candidates, scored{pose, cost})
					}
				}
			}
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].cost < candidates[b].cost })
	if len(candidates) > maxP3PStarts {
		candidates = candidates[:maxP3PStarts]
	}
	out := make([]*rigidTransform, len(candidates))
	for i, c := range candidates {
		out[i] = c.pose
	}
	return out
}

// alignPoints returns the rigid transform taking src onto dst in the least squares sense (Kabsch).
func alignPoints(src, dst []r3.Vector) (*rigidTransform, error) {
	if len(src) != len(dst) || len(src) == 0 {
		return nil, errors.New("point sets must be the same non-zero length")
	}
	var srcC, dstC r3.Vector
	for i := range src {
		srcC = srcC.Add(src[i])
		dstC = dstC.Add(dst[i])
	}
	srcC = srcC.Mul(1 / float64(len(src)))
	dstC = dstC.Mul(1 / float64(len(dst)))

	cov := mat.NewDense(3, 3, nil)
	for i := range src {
		s, d := src[i].Sub(srcC), dst[i].Sub(dstC)
		sv, dv := [3]float64{s.X, s.Y, s.Z}, [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov.Set(r, c, cov.At(r, c)+dv[r]*sv[c])
			}
		}
	}
	rot, _, err := nearestRotation(cov)
	if err != nil {
		return nil, err
	}
	return &rigidTransform{R: rot, T: dstC.Sub(rot.Mul(srcC))}, nil
}

// Polynomials below are coefficient slices in increasing powers.

func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

func polyScale(s float64, a []float64) []float64 {
	out := make([]float64, len(a))
	for i, x := range a {
		out[i] = s * x
	}
	return out
}

func polySub(a, b []float64) []float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]float64, n)
	copy(out, a)
	for i, x := range b {
		out[i] -= x
	}
	return out
}

func polyEval(a []float64, x float64) float64 {
	y := 0.
	for i := len(a) - 1; i >= 0; i-- {
		y = y*x + a[i]
	}
	return y
}

func polyDeriv(a []float64) []float64 {
	if len(a) < 2 {
		return []float64{0}
	}
	out := make([]float64, len(a)-1)
	for i := 1; i < len(a); i++ {
		out[i-1] = float64(i) * a[i]
	}
	return out
}

// polyRealRoots returns the real roots of a, found as eigenvalues of its companion matrix and
// polished with a few Newton steps.
func polyRealRoots(a []float64) []float64 {
	scale := 0.
	for _, x := range a {
		scale = math.Max(scale, math.Abs(x))
	}
	if scale == 0 {
		return nil
	}
	deg := len(a) - 1
	for deg > 0 && math.Abs(a[deg]) <= 1e-14*scale {
		deg--
	}
	switch deg {
	case 0:
		return nil
	case 1:
		return []float64{-a[0] / a[1]}
	}

	companion := mat.NewDense(deg, deg, nil)
	for i := 0; i < deg; i++ {
		if i > 0 {
			companion.Set(i, i-1, 1)
		}
		companion.Set(i, deg-1, -a[i]/a[deg])
	}
	var eig mat.Eigen
	if ok := eig.Factorize(companion, mat.EigenNone); !ok {
		return nil
	}

	poly := a[:deg+1]
	deriv := polyDeriv(poly)
	var roots []float64
	for _, z := range eig.Values(nil) {
		if math.Abs(imag(z)) > rootImagTol*math.Max(1, cmplx.Abs(z)) {
			continue
		}
		x := real(z)
		fx := polyEval(poly, x)
		for i := 0; i < 3; i++ {
			d := polyEval(deriv, x)
			if d == 0 {
				break
			}
			next := x - fx/d
			fNext := polyEval(poly, next)
			if math.Abs(fNext) >= math.Abs(fx) {
				break
			}
			x, fx = next, fNext
		}
		if isFinite(x) {
			roots = append(roots, x)
		}
	}
	return roots
}

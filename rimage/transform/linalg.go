package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/posepnp/spatialmath"
)

// nullSpaceRcond is the ratio of the second smallest to the largest singular value below which a
// homogeneous system is treated as having more than a one dimensional null space.
const nullSpaceRcond = 1e-12

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U      *mat.Dense
	V      *mat.Dense
	VT     *mat.Dense
	Values []float64
}

// performSVD performs a full SVD on inputMatrix and returns U, V, Vᵗ and the singular values.
func performSVD(inputMatrix mat.Matrix) (*matsSVD, error) {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	u, v, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())
	return &matsSVD{U: u, V: v, VT: vt, Values: svd.Values(nil)}, nil
}

// solveHomogeneous returns the unit vector x minimizing |Ax|, which is the right singular vector of
// the smallest singular value. It fails when that minimizer is not unique.
func solveHomogeneous(a *mat.Dense) ([]float64, error) {
	rows, cols := a.Dims()
	if rows < cols-1 {
		return nil, errors.Errorf("need at least %d equations, got %d", cols-1, rows)
	}
	mats, err := performSVD(a)
	if err != nil {
		return nil, err
	}
	sv := mats.Values
	// with rows == cols-1 there are only rows singular values and the last column of V spans the null space.
	secondSmallest := sv[len(sv)-1]
	if len(sv) == cols {
		secondSmallest = sv[cols-2]
	}
	if sv[0] == 0 || secondSmallest/sv[0] < nullSpaceRcond {
		return nil, errors.New("linear system is rank deficient")
	}
	return mat.Col(nil, cols-1, mats.V), nil
}

// nearestRotation projects a 3x3 matrix onto SO(3) and returns the rotation with the mean singular
// value, which is the scale of the input when it is a scaled rotation.
func nearestRotation(m mat.Matrix) (*spatialmath.RotationMatrix, float64, error) {
	mats, err := performSVD(m)
	if err != nil {
		return nil, 0, err
	}
	var r mat.Dense
	r.Mul(mats.U, mats.VT)
	if mat.Det(&r) < 0 {
		var uFlip mat.Dense
		uFlip.Mul(mats.U, mat.NewDiagDense(3, []float64{1, 1, -1}))
		r.Mul(&uFlip, mats.VT)
	}
	scale := (mats.Values[0] + mats.Values[1] + mats.Values[2]) / 3
	rm, err := spatialmath.NewRotationMatrixFromMatrix(&r)
	if err != nil {
		return nil, 0, err
	}
	return rm, scale, nil
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2: the centroid
// moves to the origin and the mean distance from it becomes sqrt(2). It returns the moved points and
// the 3x3 transform that was applied.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := float64(len(pts))
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / nPoints)

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / nPoints
	}
	scale := 1.
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	pointsTransformed := make([]r2.Point, len(pts))
	for i, pt := range pts {
		pointsTransformed[i] = pt.Sub(mu).Mul(scale)
	}
	return pointsTransformed, mat.NewDense(3, 3, transformData)
}

// pointSpread describes the shape of a 3D point set: its centroid, principal axes (columns of Axes,
// right handed) and the singular values of the centered points in decreasing order.
type pointSpread struct {
	Centroid r3.Vector
	Axes     *mat.Dense
	Values   []float64
	// RMSDistance is the root mean square distance from the centroid.
	RMSDistance float64
}

func analyzePoints(pts []r3.Vector) (*pointSpread, error) {
	n := len(pts)
	centroid := r3.Vector{}
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1. / float64(n))

	centered := mat.NewDense(n, 3, nil)
	sumSq := 0.
	for i, p := range pts {
		d := p.Sub(centroid)
		centered.SetRow(i, []float64{d.X, d.Y, d.Z})
		sumSq += d.Norm2()
	}
	mats, err := performSVD(centered)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 3)
	copy(values, mats.Values)

	axes := mats.V
	if mat.Det(axes) < 0 {
		for i := 0; i < 3; i++ {
			axes.Set(i, 2, -axes.At(i, 2))
		}
	}
	return &pointSpread{
		Centroid:    centroid,
		Axes:        axes,
		Values:      values,
		RMSDistance: math.Sqrt(sumSq / float64(n)),
	}, nil
}

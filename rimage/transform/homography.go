package transform

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) mapping points on one plane to another
// plane in homogeneous coordinates. Indices are [row][column].
type Homography [3][3]float64

// At returns the value at the given row and column.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Dims returns 3, 3, satisfying mat.Matrix.
func (h *Homography) Dims() (int, int) {
	return 3, 3
}

// T returns the implicit transpose, satisfying mat.Matrix.
func (h *Homography) T() mat.Matrix {
	return mat.Transpose{Matrix: h}
}

// Apply maps a point through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct linear
// transform. At least 4 correspondences are needed, no 3 of them collinear; a degenerate set returns
// an error naming the rank deficient system.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Wrapf(ErrInputShapeMismatch, "%d source points but %d destination points", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Wrapf(ErrInputShapeMismatch, "need at least 4 points for a homography, got %d", len(src))
	}
	srcN, t1 := normalizePoints(src)
	dstN, t2 := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		s, d := srcN[i], dstN[i]
		a.SetRow(2*i, []float64{s.X, s.Y, 1, 0, 0, 0, -d.X * s.X, -d.X * s.Y, -d.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, s.X, s.Y, 1, -d.Y * s.X, -d.Y * s.Y, -d.Y})
	}
	h, err := solveHomogeneous(a)
	if err != nil {
		return nil, errors.Wrap(err, "cannot estimate homography")
	}

	// H = T2⁻¹ · Hn · T1
	var t2Inv mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(err, "cannot estimate homography")
	}
	var left, full mat.Dense
	left.Mul(&t2Inv, mat.NewDense(3, 3, h))
	full.Mul(&left, t1)

	out := &Homography{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = full.At(i, j)
		}
	}
	return out, nil
}

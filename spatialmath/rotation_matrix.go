package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/posepnp/logging"
)

const (
	// rotationTolerance bounds the Frobenius norm of RᵗR - I for a matrix to count as a rotation.
	rotationTolerance = 1e-6
	// determinantTolerance bounds |det(R) - 1|.
	determinantTolerance = 1e-6
)

// ErrInvalidRotation is returned when a matrix that must be a rotation is not orthonormal with determinant +1.
var ErrInvalidRotation = errors.New("matrix is not a valid rotation")

// RotationMatrix is a 3x3 orthonormal matrix with determinant +1, stored row-major.
// It implements mat.Matrix so it can be mixed with gonum routines.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates a rotation matrix from 9 row-major values, failing if the values
// do not form a rotation.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	rm := &RotationMatrix{}
	copy(rm.mat[:], m)
	if err := CheckRotation(rm); err != nil {
		return nil, err
	}
	return rm, nil
}

// NewRotationMatrixFromMatrix copies a 3x3 gonum matrix into a validated RotationMatrix.
func NewRotationMatrixFromMatrix(m mat.Matrix) (*RotationMatrix, error) {
	if err := CheckRotation(m); err != nil {
		return nil, err
	}
	return copyRotation(m), nil
}

// IdentityRotationMatrix returns the identity rotation.
func IdentityRotationMatrix() *RotationMatrix {
	return &RotationMatrix{[9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// copyRotation copies a 3x3 matrix without checking it.
func copyRotation(m mat.Matrix) *RotationMatrix {
	rm := &RotationMatrix{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rm.mat[3*i+j] = m.At(i, j)
		}
	}
	return rm
}

// IsValidRotation reports whether m is a 3x3 matrix with MᵗM within tolerance of the identity.
// The product MᵗM is logged at debug level on the global logger. It never panics; a malformed
// or non-orthonormal matrix yields false.
func IsValidRotation(m mat.Matrix) bool {
	if m == nil {
		return false
	}
	if r, c := m.Dims(); r != 3 || c != 3 {
		return false
	}
	var mtm mat.Dense
	mtm.Mul(m.T(), m)
	logging.Global().Debugw("the following should be an identity matrix, RᵗR",
		"rtr", fmt.Sprintf("%v", mat.Formatted(&mtm, mat.Squeeze())))

	var diff mat.Dense
	diff.Sub(&mtm, eye3())
	return mat.Norm(&diff, 2) < rotationTolerance
}

// CheckRotation returns an error wrapping ErrInvalidRotation unless m is orthonormal with
// determinant +1. Reflections pass IsValidRotation but fail here.
func CheckRotation(m mat.Matrix) error {
	if !IsValidRotation(m) {
		return errors.Wrap(ErrInvalidRotation, "RᵗR is not the identity")
	}
	if d := mat.Det(m); math.Abs(d-1) > determinantTolerance {
		return errors.Wrapf(ErrInvalidRotation, "determinant is %v", d)
	}
	return nil
}

// Dims returns the dimensions of the matrix, always 3x3.
func (rm *RotationMatrix) Dims() (int, int) {
	return 3, 3
}

// At returns the value at the given row and column.
func (rm *RotationMatrix) At(row, col int) float64 {
	if row < 0 || row > 2 || col < 0 || col > 2 {
		panic(mat.ErrIndexOutOfRange)
	}
	return rm.mat[3*row+col]
}

// T returns the implicit transpose, satisfying mat.Matrix.
func (rm *RotationMatrix) T() mat.Matrix {
	return mat.Transpose{Matrix: rm}
}

// Row returns the given row as a vector.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[3*row], Y: rm.mat[3*row+1], Z: rm.mat[3*row+2]}
}

// Col returns the given column as a vector.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[col+3], Z: rm.mat[col+6]}
}

// Mul rotates a vector.
func (rm *RotationMatrix) Mul(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.Row(0).Dot(v),
		Y: rm.Row(1).Dot(v),
		Z: rm.Row(2).Dot(v),
	}
}

// MulMatrix returns the product rm * other.
func (rm *RotationMatrix) MulMatrix(other *RotationMatrix) *RotationMatrix {
	out := &RotationMatrix{}
	for i := 0; i < 3; i++ {
		row := rm.Row(i)
		for j := 0; j < 3; j++ {
			out.mat[3*i+j] = row.Dot(other.Col(j))
		}
	}
	return out
}

// Transpose returns the transpose, which is also the inverse rotation.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	return copyRotation(rm.T())
}

// Det returns the determinant.
func (rm *RotationMatrix) Det() float64 {
	return rm.Row(0).Dot(rm.Row(1).Cross(rm.Row(2)))
}

// Dense returns a copy of the matrix as a gonum dense matrix.
func (rm *RotationMatrix) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, rm.mat[:])
	return mat.NewDense(3, 3, data)
}

// Data returns a row-major copy of the matrix values.
func (rm *RotationMatrix) Data() []float64 {
	data := make([]float64, 9)
	copy(data, rm.mat[:])
	return data
}

// MaxAbsDiff returns the largest absolute entry-wise difference between two matrices.
func (rm *RotationMatrix) MaxAbsDiff(other *RotationMatrix) float64 {
	maxDiff := 0.
	for i := range rm.mat {
		maxDiff = math.Max(maxDiff, math.Abs(rm.mat[i]-other.mat[i]))
	}
	return maxDiff
}

// RotationMatrix returns the receiver.
func (rm *RotationMatrix) RotationMatrix() *RotationMatrix {
	return rm
}

// EulerAngles extracts Euler angles from the matrix. The receiver is assumed to be a rotation;
// use MatrixToEuler for unchecked input.
func (rm *RotationMatrix) EulerAngles() *EulerAngles {
	return eulerFromMatrix(rm)
}

// RotationVector returns the axis-angle rotation vector of the matrix.
func (rm *RotationMatrix) RotationVector() RotationVector {
	return RotationVectorFromMatrix(rm)
}

// AxisAngles returns the orientation in R4 axis angle representation.
func (rm *RotationMatrix) AxisAngles() *R4AA {
	return rm.RotationVector().AxisAngles()
}

// Quaternion returns the orientation as a unit quaternion.
func (rm *RotationMatrix) Quaternion() quat.Number {
	return rotationMatrixToQuat(rm)
}

func (rm *RotationMatrix) String() string {
	return fmt.Sprintf("%v", mat.Formatted(rm, mat.Squeeze()))
}

// eye3 creates a 3x3 identity matrix.
func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

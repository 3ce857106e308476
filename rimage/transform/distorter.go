package transform

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupportedDistortion is returned when non-zero lens distortion coefficients are supplied.
// Points are assumed to come from an undistorted (or already rectified) image.
var ErrUnsupportedDistortion = errors.New("lens distortion is not supported, coefficients must be zero")

// DistortionCoefficients are lens distortion coefficients in the usual (k1, k2, p1, p2[, k3[, ...]]) order.
// Only the all-zero model is accepted.
type DistortionCoefficients []float64

// NewZeroDistortion returns four zero coefficients.
func NewZeroDistortion() DistortionCoefficients {
	return make(DistortionCoefficients, 4)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// CheckValid checks the coefficient count and that every coefficient is zero.
func (dc DistortionCoefficients) CheckValid() error {
	switch len(dc) {
	case 0, 4, 5, 8, 12, 14:
	default:
		return InvalidDistortionError(fmt.Sprintf("expected 0, 4, 5, 8, 12 or 14 coefficients, got %d", len(dc)))
	}
	for i, c := range dc {
		if c != 0 {
			return errors.Wrapf(ErrUnsupportedDistortion, "coefficient %d is %v", i, c)
		}
	}
	return nil
}

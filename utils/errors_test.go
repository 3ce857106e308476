package utils

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestConfigValidationErrors(t *testing.T) {
	err := NewConfigValidationFieldRequiredError("problems.0", "object_points")
	test.That(t, err, test.ShouldBeError, errors.New(`error validating "problems.0": "object_points" is required`))

	sentinel := errors.New("bad")
	err = NewConfigValidationError("pnp", sentinel)
	test.That(t, errors.Is(err, sentinel), test.ShouldBeTrue)

}

func TestParallelism(t *testing.T) {
	test.That(t, Parallelism(3), test.ShouldEqual, 3)
	test.That(t, Parallelism(0), test.ShouldEqual, ParallelFactor)
	test.That(t, ParallelFactor, test.ShouldBeGreaterThan, 0)
}

// Package poseestimation runs the end to end object pose pipeline: solve PnP, expand the rotation
// vector, extract Euler angles and reconstruct the matrix from them as a check.
package poseestimation

import (
	"math"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/posepnp/rimage/transform"
	"go.viam.com/posepnp/utils"
)

// DefaultVerifyTolerance is the largest entry difference between the solved and reconstructed
// rotation matrix that passes without a warning.
const DefaultVerifyTolerance = 1e-5

// Config configures a Pipeline.
type Config struct {
	// VerifyTolerance of zero selects DefaultVerifyTolerance.
	VerifyTolerance float64               `json:"verify_tolerance,omitempty"`
	PnP             *transform.PnPOptions `json:"pnp,omitempty"`
	// Parallelism bounds EstimateAll; zero uses utils.ParallelFactor.
	Parallelism int `json:"parallelism,omitempty"`
}

// ConfigFromAttributes decodes a generic attribute map, as found in a larger JSON config, into a Config.
func ConfigFromAttributes(attributes map[string]interface{}) (*Config, error) {
	var conf Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &conf})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.VerifyTolerance < 0 || math.IsNaN(conf.VerifyTolerance) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("verify_tolerance must be non-negative, got %v", conf.VerifyTolerance))
	}
	if conf.Parallelism < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("parallelism must be non-negative, got %d", conf.Parallelism))
	}
	if conf.PnP != nil {
		if conf.PnP.MaxIterations < 0 {
			return utils.NewConfigValidationError(path+".pnp",
				errors.Errorf("max_iterations must be non-negative, got %d", conf.PnP.MaxIterations))
		}
		if conf.PnP.Epsilon < 0 || math.IsNaN(conf.PnP.Epsilon) {
			return utils.NewConfigValidationError(path+".pnp",
				errors.Errorf("epsilon must be non-negative, got %v", conf.PnP.Epsilon))
		}
		if conf.PnP.MaxReprojectionRMS < 0 || math.IsNaN(conf.PnP.MaxReprojectionRMS) {
			return utils.NewConfigValidationError(path+".pnp",
				errors.Errorf("max_reprojection_rms must be non-negative, got %v", conf.PnP.MaxReprojectionRMS))
		}
	}
	return nil
}

func (conf *Config) verifyTolerance() float64 {
	if conf == nil || conf.VerifyTolerance == 0 {
		return DefaultVerifyTolerance
	}
	return conf.VerifyTolerance
}

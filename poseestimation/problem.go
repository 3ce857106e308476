package poseestimation

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/posepnp/rimage/transform"
	"go.viam.com/posepnp/spatialmath"
	"go.viam.com/posepnp/utils"
)

// Problem is one pose estimation input: index aligned object and image points seen by a calibrated camera.
type Problem struct {
	Name         string
	ObjectPoints []r3.Vector
	ImagePoints  []r2.Point
	Intrinsics   *transform.PinholeCameraIntrinsics
	Distortion   transform.DistortionCoefficients
	// ImagePath optionally names the image the points were picked from.
	ImagePath string
}

type point3JSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type point2JSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type problemJSON struct {
	Name         string                             `json:"name"`
	ObjectPoints []point3JSON                       `json:"object_points"`
	ImagePoints  []point2JSON                       `json:"image_points"`
	Intrinsics   *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion   transform.DistortionCoefficients   `json:"distortion"`
	ImagePath    string                             `json:"image_path"`
}

// BenchProblem returns the bench measurement shipped with the tool: eight corners of a machined
// part, the pixels they were picked at, and the intrinsics of the camera that took the picture.
func BenchProblem() *Problem {
	return &Problem{
		Name: "bench",
		ObjectPoints: []r3.Vector{
			{X: 0.0, Y: 45.0, Z: 0.0},
			{X: 242.5, Y: 45.0, Z: 0.0},
			{X: 242.5, Y: 21.0, Z: 0.0},
			{X: 0.0, Y: 21.0, Z: 0.0},
			{X: 0.0, Y: 9.0, Z: -9.0},
			{X: 242.5, Y: 9.0, Z: -9.0},
			{X: 242.5, Y: 9.0, Z: 44.5},
			{X: 0.0, Y: 9.0, Z: 44.5},
		},
		ImagePoints: []r2.Point{
			{X: 203, Y: 165},
			{X: 572, Y: 170},
			{X: 570, Y: 227},
			{X: 575, Y: 246},
			{X: 519, Y: 292},
			{X: 157, Y: 240},
			{X: 218, Y: 215},
			{X: 205, Y: 201},
		},
		Intrinsics: &transform.PinholeCameraIntrinsics{Fx: 409, Fy: 408, Ppx: 237, Ppy: 171},
		Distortion: transform.NewZeroDistortion(),
		ImagePath:  "bench_img.jpg",
	}
}

// NewSyntheticProblem projects objectPoints through pose and intrinsics to build a problem with an
// exactly known answer.
func NewSyntheticProblem(
	name string,
	objectPoints []r3.Vector,
	intrinsics *transform.PinholeCameraIntrinsics,
	pose spatialmath.Pose,
) *Problem {
	return &Problem{
		Name:         name,
		ObjectPoints: objectPoints,
		ImagePoints: transform.ProjectPoints(objectPoints, pose.Orientation().RotationVector(),
			pose.Point(), intrinsics),
		Intrinsics: intrinsics,
		Distortion: transform.NewZeroDistortion(),
	}
}

// NewProblemFromJSONFile reads a problem from a JSON file. A relative image_path is resolved against
// the file's directory. Every validation failure is reported, not only the first.
func NewProblemFromJSONFile(jsonPath string) (*Problem, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer jsonFile.Close() //nolint:errcheck
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	var raw problemJSON
	if err := json.Unmarshal(byteValue, &raw); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}

	problem := &Problem{
		Name:         raw.Name,
		ObjectPoints: make([]r3.Vector, 0, len(raw.ObjectPoints)),
		ImagePoints:  make([]r2.Point, 0, len(raw.ImagePoints)),
		Intrinsics:   raw.Intrinsics,
		Distortion:   raw.Distortion,
		ImagePath:    raw.ImagePath,
	}
	if problem.Name == "" {
		problem.Name = filepath.Base(jsonPath)
	}
	for _, p := range raw.ObjectPoints {
		problem.ObjectPoints = append(problem.ObjectPoints, r3.Vector{X: p.X, Y: p.Y, Z: p.Z})
	}
	for _, p := range raw.ImagePoints {
		problem.ImagePoints = append(problem.ImagePoints, r2.Point{X: p.X, Y: p.Y})
	}
	if problem.ImagePath != "" && !filepath.IsAbs(problem.ImagePath) {
		problem.ImagePath = filepath.Join(filepath.Dir(jsonPath), problem.ImagePath)
	}
	if err := problem.Validate(problem.Name); err != nil {
		return nil, err
	}
	return problem, nil
}

// Validate checks the problem and returns every problem found combined into one error.
func (p *Problem) Validate(path string) error {
	var errs error
	if len(p.ObjectPoints) == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "object_points"))
	}
	if len(p.ImagePoints) == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "image_points"))
	}
	if len(p.ObjectPoints) != len(p.ImagePoints) || len(p.ObjectPoints) < transform.MinPnPPoints {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path,
			transform.CheckCorrespondences(p.ObjectPoints, p.ImagePoints)))
	}
	for i, pt := range p.ObjectPoints {
		if !finite(pt.X, pt.Y, pt.Z) {
			errs = multierr.Append(errs, utils.NewConfigValidationError(
				fmt.Sprintf("%s.object_points.%d", path, i),
				errors.Wrapf(transform.ErrInputShapeMismatch, "not finite: %v", pt)))
		}
	}
	for i, pt := range p.ImagePoints {
		if !finite(pt.X, pt.Y) {
			errs = multierr.Append(errs, utils.NewConfigValidationError(
				fmt.Sprintf("%s.image_points.%d", path, i),
				errors.Wrapf(transform.ErrInputShapeMismatch, "not finite: %v", pt)))
		}
	}
	if err := p.Intrinsics.CheckValid(); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path+".intrinsic_parameters", err))
	}
	if err := p.Distortion.CheckValid(); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path+".distortion", err))
	}
	return errs
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

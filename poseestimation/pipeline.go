package poseestimation

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/posepnp/logging"
	"go.viam.com/posepnp/rimage/transform"
	"go.viam.com/posepnp/spatialmath"
	"go.viam.com/posepnp/utils"
)

// Result holds every representation of a recovered pose.
type Result struct {
	Name string
	// Pose maps object coordinates into camera coordinates.
	Pose           spatialmath.Pose
	RotationVector spatialmath.RotationVector
	RotationMatrix *spatialmath.RotationMatrix
	EulerAngles    *spatialmath.EulerAngles
	// ReconstructedMatrix is rebuilt from EulerAngles and should match RotationMatrix.
	ReconstructedMatrix *spatialmath.RotationMatrix
	Translation         r3.Vector
	ReprojectionRMS     float64
	// ReconstructionError is the largest entry difference between RotationMatrix and ReconstructedMatrix.
	ReconstructionError float64
	Iterations          int
	Method              transform.PnPMethod
}

// Pipeline estimates object poses. It holds no per call state and may be shared between goroutines.
type Pipeline struct {
	logger          logging.Logger
	solver          *transform.PnPSolver
	verifyTolerance float64
	parallelism     int
}

// NewPipeline returns a pipeline; a nil logger selects the global logger and a nil config the defaults.
func NewPipeline(logger logging.Logger, conf *Config) *Pipeline {
	if logger == nil {
		logger = logging.Global()
	}
	var pnpOpts *transform.PnPOptions
	parallelism := 0
	if conf != nil {
		pnpOpts = conf.PnP
		parallelism = conf.Parallelism
	}
	return &Pipeline{
		logger:          logger,
		solver:          transform.NewPnPSolver(logger.Sublogger("pnp"), pnpOpts),
		verifyTolerance: conf.verifyTolerance(),
		parallelism:     parallelism,
	}
}

// Estimate solves for the pose of problem and converts it to every representation in Result.
// Either every field is filled or an error is returned.
func (p *Pipeline) Estimate(problem *Problem) (*Result, error) {
	if problem == nil {
		return nil, errors.Wrap(transform.ErrInputShapeMismatch, "no problem given")
	}
	if err := transform.CheckCorrespondences(problem.ObjectPoints, problem.ImagePoints); err != nil {
		return nil, err
	}

	sol, err := p.solver.Solve(problem.ObjectPoints, problem.ImagePoints, problem.Intrinsics, problem.Distortion)
	if err != nil {
		return nil, err
	}

	rotation := sol.RotationVector.RotationMatrix()
	euler, err := spatialmath.MatrixToEuler(rotation)
	if err != nil {
		return nil, err
	}
	reconstructed := spatialmath.EulerToMatrix(euler)
	diff := rotation.MaxAbsDiff(reconstructed)
	if diff > p.verifyTolerance {
		p.logger.Warnw("rotation rebuilt from euler angles does not match the solved rotation",
			"problem", problem.Name, "max_abs_diff", diff, "tolerance", p.verifyTolerance)
	} else {
		p.logger.Debugw("verified euler reconstruction", "problem", problem.Name, "max_abs_diff", diff)
	}

	return &Result{
		Name:                problem.Name,
		Pose:                spatialmath.NewPose(sol.Translation, rotation),
		RotationVector:      sol.RotationVector,
		RotationMatrix:      rotation,
		EulerAngles:         euler,
		ReconstructedMatrix: reconstructed,
		Translation:         sol.Translation,
		ReprojectionRMS:     sol.ReprojectionRMS,
		ReconstructionError: diff,
		Iterations:          sol.Iterations,
		Method:              sol.Method,
	}, nil
}

// EstimateAll runs Estimate for every problem concurrently, with at most parallelism in flight
// (zero uses the pipeline's configured parallelism). Results keep the order of problems. The first
// failure cancels the problems that have not started and is returned.
func EstimateAll(ctx context.Context, pipeline *Pipeline, problems []*Problem, parallelism int) ([]*Result, error) {
	if parallelism <= 0 {
		parallelism = pipeline.parallelism
	}
	results := make([]*Result, len(problems))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(utils.Parallelism(parallelism))
	for i, problem := range problems {
		i, problem := i, problem
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := pipeline.Estimate(problem)
			if err != nil {
				name := ""
				if problem != nil {
					name = problem.Name
				}
				return errors.Wrapf(err, "problem %d (%s)", i, name)
			}
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

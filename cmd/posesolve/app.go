package main

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/posepnp/logging"
	"go.viam.com/posepnp/poseestimation"
	"go.viam.com/posepnp/rimage"
	"go.viam.com/posepnp/rimage/transform"
	"go.viam.com/posepnp/spatialmath"
	"go.viam.com/posepnp/utils"
)

const (
	// Flags.
	flagProblem     = "problem"
	flagConfig      = "config"
	flagSynthetic   = "synthetic"
	flagAnnotate    = "annotate"
	flagDebug       = "debug"
	flagParallelism = "parallel"

	defaultCanvasWidth  = 640
	defaultCanvasHeight = 480
)

// syntheticPose is the pose the bench object is projected through with --synthetic.
var syntheticPose = spatialmath.NewPose(
	r3.Vector{X: -120, Y: -20, Z: 600},
	spatialmath.RotationVector{X: 0.3, Y: -0.2, Z: 0.1},
)

func newApp() *cli.App {
	var logger logging.Logger

	return &cli.App{
		Name:  "posesolve",
		Usage: "recover the pose of a rigid object from 3D to 2D point correspondences",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load pipeline configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("posesolve")
			} else {
				logger = logging.NewLogger("posesolve")
			}
			logging.ReplaceGlobal(logger)
			return nil
		},
		Action: func(c *cli.Context) error {
			return solveAction(c, logger)
		},
		Commands: []*cli.Command{
			{
				Name:      "solve",
				Usage:     "solve a single problem and print every pose representation",
				UsageText: "posesolve solve [--problem FILE | --synthetic] [--annotate OUT.png]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagProblem,
						Aliases: []string{"p"},
						Usage:   "read the problem from JSON `FILE`; the built-in bench problem is used when empty",
					},
					&cli.BoolFlag{
						Name:  flagSynthetic,
						Usage: "replace the image points with the bench object projected through a known pose",
					},
					&cli.StringFlag{
						Name:    flagAnnotate,
						Aliases: []string{"o"},
						Usage:   "draw observed and reprojected points and write the image to `FILE`",
					},
				},
				Action: func(c *cli.Context) error {
					return solveAction(c, logger)
				},
			},
			{
				Name:      "batch",
				Usage:     "solve several problem files concurrently and print a summary",
				UsageText: "posesolve batch [--parallel N] FILE...",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagParallelism,
						Usage: "number of problems solved at once; 0 picks one from the CPU count",
					},
				},
				Action: func(c *cli.Context) error {
					return batchAction(c, logger)
				},
			},
		},
	}
}

func newPipeline(c *cli.Context, logger logging.Logger) (*poseestimation.Pipeline, error) {
	conf := &poseestimation.Config{}
	if path := c.String(flagConfig); path != "" {
		//nolint:gosec
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "error reading config file")
		}
		var attrs map[string]interface{}
		if err := json.Unmarshal(data, &attrs); err != nil {
			return nil, errors.Wrap(err, "error parsing config file")
		}
		if conf, err = poseestimation.ConfigFromAttributes(attrs); err != nil {
			return nil, err
		}
	}
	if err := conf.Validate(flagConfig); err != nil {
		return nil, err
	}
	return poseestimation.NewPipeline(logger, conf), nil
}

func loadProblem(c *cli.Context) (*poseestimation.Problem, error) {
	problem := poseestimation.BenchProblem()
	if path := c.String(flagProblem); path != "" {
		var err error
		if problem, err = poseestimation.NewProblemFromJSONFile(path); err != nil {
			return nil, err
		}
	}
	if c.Bool(flagSynthetic) {
		synthetic := poseestimation.NewSyntheticProblem(problem.Name+" (synthetic)",
			problem.ObjectPoints, problem.Intrinsics, syntheticPose)
		synthetic.Distortion = problem.Distortion
		problem = synthetic
	}
	return problem, nil
}

func solveAction(c *cli.Context, logger logging.Logger) error {
	pipeline, err := newPipeline(c, logger)
	if err != nil {
		return err
	}
	problem, err := loadProblem(c)
	if err != nil {
		return err
	}
	res, err := pipeline.Estimate(problem)
	if err != nil {
		return err
	}
	printResult(c.App.Writer, problem, res)

	if out := c.String(flagAnnotate); out != "" {
		if err := annotate(problem, res, out); err != nil {
			return err
		}
		logger.Infow("wrote annotated image", "path", out)
	}
	return nil
}

func batchAction(c *cli.Context, logger logging.Logger) error {
	if c.NArg() == 0 {
		return errors.New("batch needs at least one problem file")
	}
	pipeline, err := newPipeline(c, logger)
	if err != nil {
		return err
	}
	problems := make([]*poseestimation.Problem, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		problem, err := poseestimation.NewProblemFromJSONFile(path)
		if err != nil {
			return errors.Wrapf(err, "loading %q", path)
		}
		problems = append(problems, problem)
	}
	results, err := poseestimation.EstimateAll(c.Context, pipeline, problems, c.Int(flagParallelism))
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Name", "Translation", "Orientation", "Reprojection RMS (px)"})
	for i, res := range results {
		t.AppendRow(table.Row{
			fmt.Sprintf("%d", i),
			res.Name,
			formatVector(res.Translation),
			formatEuler(res.EulerAngles),
			fmt.Sprintf("%.3f", res.ReprojectionRMS),
		})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}

func printResult(w io.Writer, problem *poseestimation.Problem, res *poseestimation.Result) {
	fmt.Fprintf(w, "Problem: %s (%d points, %s initial estimate, %d iterations)\n",
		res.Name, len(problem.ObjectPoints), res.Method, res.Iterations)
	fmt.Fprintln(w, renderMatrix("Camera matrix", problem.Intrinsics.GetCameraMatrix()))

	t := table.NewWriter()
	t.SetTitle("Pose")
	t.AppendHeader(table.Row{"Quantity", "Value"})
	t.AppendRows([]table.Row{
		{"Euler angles (rad)", fmt.Sprintf("Roll:%.6f, Pitch:%.6f, Yaw:%.6f",
			res.EulerAngles.Roll, res.EulerAngles.Pitch, res.EulerAngles.Yaw)},
		{"Euler angles (deg)", formatEuler(res.EulerAngles)},
		{"Rotation vector", formatVector(r3.Vector(res.RotationVector))},
		{"Translation vector", formatVector(res.Translation)},
		{"Reprojection RMS (px)", fmt.Sprintf("%.4f", res.ReprojectionRMS)},
		{"Euler reconstruction error", fmt.Sprintf("%.3g", res.ReconstructionError)},
	})
	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, renderMatrix("Rotation matrix", res.RotationMatrix))
	fmt.Fprintln(w, renderMatrix("Matrix from Euler angles", res.ReconstructedMatrix))
}

func renderMatrix(title string, m mat.Matrix) string {
	rows, cols := m.Dims()
	t := table.NewWriter()
	t.SetTitle(title)
	for i := 0; i < rows; i++ {
		row := make(table.Row, cols)
		for j := 0; j < cols; j++ {
			row[j] = fmt.Sprintf("%.6f", m.At(i, j))
		}
		t.AppendRow(row)
	}
	return t.Render()
}

func formatVector(v r3.Vector) string {
	return fmt.Sprintf("X:%.4f, Y:%.4f, Z:%.4f", v.X, v.Y, v.Z)
}

func formatEuler(ea *spatialmath.EulerAngles) string {
	return fmt.Sprintf("Roll:%.2f, Pitch:%.2f, Yaw:%.2f",
		utils.RadToDeg(ea.Roll), utils.RadToDeg(ea.Pitch), utils.RadToDeg(ea.Yaw))
}

// annotate draws on the problem's image when it can be read and on a blank canvas otherwise.
func annotate(problem *poseestimation.Problem, res *poseestimation.Result, out string) error {
	var img image.Image
	if problem.ImagePath != "" {
		loaded, err := rimage.ReadImageFromFile(problem.ImagePath)
		if err == nil {
			img = loaded
		} else {
			logging.Global().Warnw("drawing on a blank canvas", "error", err)
		}
	}
	if img == nil {
		w, h := problem.Intrinsics.Width, problem.Intrinsics.Height
		if w == 0 || h == 0 {
			w, h = defaultCanvasWidth, defaultCanvasHeight
		}
		img = rimage.NewCanvas(w, h, color.Black)
	}
	reprojected := transform.ProjectPoints(problem.ObjectPoints, res.RotationVector, res.Translation, problem.Intrinsics)
	annotated, err := rimage.AnnotateCorrespondences(img, problem.ImagePoints, reprojected)
	if err != nil {
		return err
	}
	return rimage.WriteImageToFile(out, annotated)
}

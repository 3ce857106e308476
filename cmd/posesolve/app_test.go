package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/posepnp/rimage"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"posesolve"}, args...))
	return out.String(), err
}

func TestSolveBench(t *testing.T) {
	out, err := runApp(t)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Problem: bench (8 points")
	test.That(t, out, test.ShouldContainSubstring, "409.000000")
	test.That(t, out, test.ShouldContainSubstring, "Rotation vector")
	lower := strings.ToLower(out)
	test.That(t, lower, test.ShouldContainSubstring, "camera matrix")
	test.That(t, lower, test.ShouldContainSubstring, "matrix from euler angles")
}

func TestSolveSyntheticAnnotated(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "annotated.png")
	out, err := runApp(t, "solve", "--synthetic", "--annotate", outPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "bench (synthetic)")
	test.That(t, out, test.ShouldContainSubstring, "X:-120.0000, Y:-20.0000, Z:600.0000")

	img, err := rimage.ReadImageFromFile(outPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 640)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 480)
}

func TestSolveBadInput(t *testing.T) {
	dir := t.TempDir()
	problemPath := filepath.Join(dir, "short.json")
	err := os.WriteFile(problemPath, []byte(`{
		"object_points": [{"x":0,"y":0,"z":0},{"x":1,"y":0,"z":0},{"x":1,"y":1,"z":0}],
		"image_points": [{"x":1,"y":1},{"x":2,"y":1},{"x":2,"y":2}],
		"intrinsic_parameters": {"fx":409,"fy":408,"ppx":237,"ppy":171}
	}`), 0o600)
	test.That(t, err, test.ShouldBeNil)
	_, err = runApp(t, "solve", "--problem", problemPath)
	test.That(t, err, test.ShouldNotBeNil)

	configPath := filepath.Join(dir, "config.json")
	test.That(t, os.WriteFile(configPath, []byte(`{"verify_tolerance": -1}`), 0o600), test.ShouldBeNil)
	_, err = runApp(t, "--config", configPath, "solve")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "verify_tolerance")
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.json", "b.json"} {
		path := filepath.Join(dir, name)
		err := os.WriteFile(path, []byte(`{
			"object_points": [{"x":0,"y":45,"z":0},{"x":242.5,"y":45,"z":0},{"x":242.5,"y":21,"z":0},{"x":0,"y":21,"z":0},
				{"x":0,"y":9,"z":-9},{"x":242.5,"y":9,"z":-9},{"x":242.5,"y":9,"z":44.5},{"x":0,"y":9,"z":44.5}],
			"image_points": [{"x":203,"y":165},{"x":572,"y":170},{"x":570,"y":227},{"x":575,"y":246},
				{"x":519,"y":292},{"x":157,"y":240},{"x":218,"y":215},{"x":205,"y":201}],
			"intrinsic_parameters": {"fx":409,"fy":408,"ppx":237,"ppy":171}
		}`), 0o600)
		test.That(t, err, test.ShouldBeNil)
		paths = append(paths, path)
	}
	out, err := runApp(t, append([]string{"batch", "--parallel", "2"}, paths...)...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "a.json")
	test.That(t, out, test.ShouldContainSubstring, "b.json")

	_, err = runApp(t, "batch")
	test.That(t, err, test.ShouldNotBeNil)
}

package rimage

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestAnnotateCorrespondences(t *testing.T) {
	canvas := NewCanvas(100, 80, color.Black)
	observed := []r2.Point{{X: 20, Y: 20}, {X: 80, Y: 60}}
	reprojected := []r2.Point{{X: 60, Y: 40}, {X: 30, Y: 70}}

	out, err := AnnotateCorrespondences(canvas, observed, reprojected)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, canvas.Bounds())

	r, g, b, _ := out.At(20, 20).RGBA()
	test.That(t, r>>8, test.ShouldEqual, 255)
	test.That(t, g>>8, test.ShouldEqual, 0)
	test.That(t, b>>8, test.ShouldEqual, 0)

	r, g, _, _ = out.At(60, 40).RGBA()
	test.That(t, g>>8, test.ShouldBeGreaterThan, 100)
	test.That(t, r>>8, test.ShouldBeLessThan, g>>8)

	// the input is left alone
	r, g, b, _ = canvas.At(20, 20).RGBA()
	test.That(t, r+g+b, test.ShouldEqual, 0)

	_, err = AnnotateCorrespondences(canvas, observed, reprojected[:1])
	test.That(t, err, test.ShouldNotBeNil)

	out, err = AnnotateCorrespondences(canvas, observed, nil)
	test.That(t, err, test.ShouldBeNil)
	_, g, _, _ = out.At(60, 40).RGBA()
	test.That(t, g, test.ShouldEqual, 0)
}

func TestImageFileRoundTrip(t *testing.T) {
	canvas := NewCanvas(32, 24, color.NRGBA{R: 10, G: 200, B: 30, A: 255})
	test.That(t, canvas.Bounds(), test.ShouldResemble, image.Rect(0, 0, 32, 24))
	test.That(t, canvas.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{R: 10, G: 200, B: 30, A: 255})
	test.That(t, canvas.NRGBAAt(31, 23), test.ShouldResemble, color.NRGBA{R: 10, G: 200, B: 30, A: 255})
	path := filepath.Join(t.TempDir(), "canvas.png")
	test.That(t, WriteImageToFile(path, canvas), test.ShouldBeNil)

	img, err := ReadImageFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 32, 24))
	r, g, b, _ := img.At(5, 5).RGBA()
	test.That(t, []uint32{r >> 8, g >> 8, b >> 8}, test.ShouldResemble, []uint32{10, 200, 30})

	_, err = ReadImageFromFile(filepath.Join(t.TempDir(), "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, WriteImageToFile(filepath.Join(t.TempDir(), "canvas.unknown"), canvas), test.ShouldNotBeNil)
}

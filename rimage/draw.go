package rimage

import (
	"image"
	"image/color"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var (
	// ObservedColor marks image points as they were picked.
	ObservedColor = color.NRGBA{R: 255, A: 255}
	// ReprojectedColor marks object points projected through the recovered pose.
	ReprojectedColor = color.NRGBA{G: 255, A: 255}
	// LabelColor is used for point indices.
	LabelColor = color.NRGBA{R: 255, G: 255, A: 255}
)

const (
	observedRadius = 3.
	crossHalfSize  = 4.
	labelSize      = 10.
)

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p r2.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringAnchored(text, p.X, p.Y, 0, 0)
}

// DrawCircleFilled draws a filled circle of the given radius around p.
func DrawCircleFilled(dc *gg.Context, p r2.Point, radius float64, c color.Color) {
	dc.SetColor(c)
	dc.DrawCircle(p.X, p.Y, radius)
	dc.Fill()
}

// DrawCross draws an X centered on p.
func DrawCross(dc *gg.Context, p r2.Point, halfSize float64, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawLine(p.X-halfSize, p.Y-halfSize, p.X+halfSize, p.Y+halfSize)
	dc.Stroke()
	dc.DrawLine(p.X-halfSize, p.Y+halfSize, p.X+halfSize, p.Y-halfSize)
	dc.Stroke()
}

// AnnotateCorrespondences draws every observed point as a red dot with its index, and, when given,
// every reprojected point as a green cross. The input image is not modified.
func AnnotateCorrespondences(img image.Image, observed, reprojected []r2.Point) (image.Image, error) {
	if len(reprojected) != 0 && len(reprojected) != len(observed) {
		return nil, errors.Errorf("have %d observed points but %d reprojected points", len(observed), len(reprojected))
	}
	dc := gg.NewContextForImage(img)
	for i, p := range observed {
		DrawCircleFilled(dc, p, observedRadius, ObservedColor)
		DrawString(dc, strconv.Itoa(i), p.Add(r2.Point{X: observedRadius + 2, Y: -observedRadius - 2}), LabelColor, labelSize)
	}
	for _, p := range reprojected {
		DrawCross(dc, p, crossHalfSize, ReprojectedColor, 1.5)
	}
	return dc.Image(), nil
}

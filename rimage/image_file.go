package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ReadImageFromFile reads an image from the given file, applying any EXIF orientation.
func ReadImageFromFile(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image %q", path)
	}
	return img, nil
}

// WriteImageToFile writes an image to a file; the format is chosen from the extension.
func WriteImageToFile(path string, img image.Image) error {
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "cannot write image %q", path)
	}
	return nil
}

// NewCanvas returns a width by height image filled with c, for annotating points when no
// picture is available.
func NewCanvas(width, height int, c color.Color) *image.NRGBA {
	return imaging.New(width, height, c)
}

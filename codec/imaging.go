package codec

import (
	"image"
	"image/color"
	"os"

	"github.com/disintegration/imaging"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

// ImagingDecoder decodes JPEG, PNG, GIF, BMP and TIFF files with the imaging
// package. EXIF orientation is applied in every mode and alpha is dropped.
type ImagingDecoder struct{}

// Check that ImagingDecoder implements interface Decoder.
var _ Decoder = ImagingDecoder{}

// Decode implements Decoder.
func (ImagingDecoder) Decode(path string, mode ReadMode) (imagebridge.InterleavedImage, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return imagebridge.InterleavedImage{}, err
	}
	channels := 0
	switch mode {
	case ReadGrayscale:
		channels = 1
	case ReadColor:
		channels = 3
	default:
		// Orientation turns gray images into NRGBA.
		if grayFile(path) {
			channels = 1
		}
	}
	return imagebridge.FromImage(img, channels)
}

// grayFile reports whether the header of the image file at path declares a
// grayscale color model.
func grayFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return false
	}
	return cfg.ColorModel == color.GrayModel || cfg.ColorModel == color.Gray16Model
}

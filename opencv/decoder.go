package opencv

import (
	"fmt"

	"gocv.io/x/gocv"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
	"github.com/edgeimpulse/imagebridge-go/codec"
)

// Decoder decodes images with OpenCV's imread.
type Decoder struct{}

// Check that Decoder implements interface codec.Decoder.
var _ codec.Decoder = Decoder{}

// readFlag maps a read mode to imread flags. IMReadUnchanged would keep alpha
// and skip EXIF orientation, so ReadUnchanged uses IMReadAnyColor, which keeps
// gray or color and 8-bit depth.
func readFlag(mode codec.ReadMode) gocv.IMReadFlag {
	switch mode {
	case codec.ReadGrayscale:
		return gocv.IMReadGrayScale
	case codec.ReadColor:
		return gocv.IMReadColor
	}
	return gocv.IMReadAnyColor
}

// Decode implements codec.Decoder. The result has one or three channels and
// EXIF orientation applied in every mode.
func (Decoder) Decode(path string, mode codec.ReadMode) (imagebridge.InterleavedImage, error) {
	m := gocv.IMRead(path, readFlag(mode))
	defer m.Close()
	if m.Empty() {
		return imagebridge.InterleavedImage{}, fmt.Errorf("cannot decode %s", path)
	}
	return FromMat(m)
}

// Package imagebridge converts between the planar float images consumed by
// inference models and the interleaved byte images produced by cameras,
// decoders and video sources.
//
// The two forms disagree on channel order. Native interleaved images with
// three channels are BGR, planar images are RGB. Every conversion between the
// two swaps channel order exactly once; use ImportFromNative and
// ExportForDisplay rather than composing the lower-level functions by hand.
package imagebridge

import (
	"errors"
	"fmt"
)

// ErrChannelCount is returned by operations that require a three channel image.
var ErrChannelCount = errors.New("image does not have 3 channels")

// PlanarImage is an image of normalized float samples, stored channel-major:
// sample (x, y, c) is at Data[c*H*W + y*W + x]. Samples are in [0,1] by
// convention, which is not enforced.
type PlanarImage struct {
	W, H, C int
	Data    []float32
}

// NewPlanarImage returns a zero-filled planar image.
func NewPlanarImage(w, h, c int) PlanarImage {
	return PlanarImage{W: w, H: h, C: c, Data: make([]float32, w*h*c)}
}

// EmptyImage returns the 0x0x0 image used to signal that no frame is
// available.
func EmptyImage() PlanarImage {
	return PlanarImage{}
}

// IsEmpty reports whether im is the empty sentinel image.
func (im PlanarImage) IsEmpty() bool {
	return im.W == 0 && im.H == 0 && im.C == 0
}

// At returns the sample at column x, row y, channel c.
func (im PlanarImage) At(x, y, c int) float32 {
	return im.Data[c*im.H*im.W+y*im.W+x]
}

// Set stores v at column x, row y, channel c.
func (im PlanarImage) Set(x, y, c int, v float32) {
	im.Data[c*im.H*im.W+y*im.W+x] = v
}

// Copy returns a copy of im with its own buffer.
func (im PlanarImage) Copy() PlanarImage {
	r := im
	r.Data = make([]float32, len(im.Data))
	copy(r.Data, im.Data)
	return r
}

// Constrain clamps every sample of im to [0,1], in place.
func (im PlanarImage) Constrain() {
	for i, v := range im.Data {
		if v < 0 {
			im.Data[i] = 0
		} else if v > 1 {
			im.Data[i] = 1
		}
	}
}

// Validate checks that the buffer length matches the dimensions.
func (im PlanarImage) Validate() error {
	if im.W < 0 || im.H < 0 || im.C < 0 {
		return fmt.Errorf("negative dimensions %dx%dx%d", im.W, im.H, im.C)
	}
	if len(im.Data) != im.W*im.H*im.C {
		return fmt.Errorf("buffer has %d samples, expected %d for %dx%dx%d", len(im.Data), im.W*im.H*im.C, im.W, im.H, im.C)
	}
	return nil
}

// String returns the dimensions, e.g. "640x480x3".
func (im PlanarImage) String() string {
	return fmt.Sprintf("%dx%dx%d", im.W, im.H, im.C)
}

// InterleavedImage is an image of byte samples stored pixel-major: sample
// (x, y, c) is at Data[y*Stride + x*C + c]. Stride is the number of bytes
// between the starts of consecutive rows and may exceed W*C when rows are
// padded. Three channel images are in BGR order.
type InterleavedImage struct {
	W, H, C int
	Stride  int
	Data    []byte
}

// NewInterleavedImage returns a zero-filled interleaved image without row
// padding.
func NewInterleavedImage(w, h, c int) InterleavedImage {
	return InterleavedImage{W: w, H: h, C: c, Stride: w * c, Data: make([]byte, w*h*c)}
}

// NewInterleavedImageStride returns a zero-filled interleaved image whose rows
// are stride bytes apart. Stride must be at least w*c.
func NewInterleavedImageStride(w, h, c, stride int) (InterleavedImage, error) {
	if stride < w*c {
		return InterleavedImage{}, fmt.Errorf("stride %d smaller than row size %d", stride, w*c)
	}
	return InterleavedImage{W: w, H: h, C: c, Stride: stride, Data: make([]byte, stride*h)}, nil
}

// IsEmpty reports whether im holds no pixels.
func (im InterleavedImage) IsEmpty() bool {
	return im.W == 0 || im.H == 0 || im.C == 0 || len(im.Data) == 0
}

// String returns the dimensions, e.g. "640x480x3".
func (im InterleavedImage) String() string {
	return fmt.Sprintf("%dx%dx%d", im.W, im.H, im.C)
}

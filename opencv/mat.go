// Package opencv implements the decoder, capture and display collaborators
// with OpenCV through gocv.
//
// OpenCV stores color images in BGR order, which is the native order of
// imagebridge.InterleavedImage, so Mats are converted without reordering.
package opencv

import (
	"fmt"

	"gocv.io/x/gocv"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

func matType(channels int) (gocv.MatType, error) {
	switch channels {
	case 1:
		return gocv.MatTypeCV8UC1, nil
	case 3:
		return gocv.MatTypeCV8UC3, nil
	case 4:
		return gocv.MatTypeCV8UC4, nil
	}
	return 0, fmt.Errorf("no 8-bit mat type with %d channels", channels)
}

// FromMat copies an 8-bit Mat into an interleaved image. An empty Mat gives
// an empty image.
func FromMat(m gocv.Mat) (imagebridge.InterleavedImage, error) {
	if m.Empty() {
		return imagebridge.InterleavedImage{}, nil
	}
	if _, err := matType(m.Channels()); err != nil {
		return imagebridge.InterleavedImage{}, err
	}
	if t := m.Type(); t != gocv.MatTypeCV8UC1 && t != gocv.MatTypeCV8UC3 && t != gocv.MatTypeCV8UC4 {
		return imagebridge.InterleavedImage{}, fmt.Errorf("unsupported mat type %v", t)
	}
	if !m.IsContinuous() {
		c := m.Clone()
		defer c.Close()
		m = c
	}
	w, h, ch := m.Cols(), m.Rows(), m.Channels()
	return imagebridge.InterleavedImage{
		W:      w,
		H:      h,
		C:      ch,
		Stride: w * ch,
		Data:   m.ToBytes(),
	}, nil
}

// ToMat copies an interleaved image into a new Mat. The caller must close it.
func ToMat(im imagebridge.InterleavedImage) (gocv.Mat, error) {
	mt, err := matType(im.C)
	if err != nil {
		return gocv.Mat{}, err
	}
	row := im.W * im.C
	data := im.Data
	if im.Stride != row {
		data = make([]byte, row*im.H)
		for y := 0; y < im.H; y++ {
			copy(data[y*row:(y+1)*row], im.Data[y*im.Stride:])
		}
	}
	return gocv.NewMatFromBytes(im.H, im.W, mt, data[:row*im.H])
}

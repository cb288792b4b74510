package imagebridge

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"time"

	"github.com/disintegration/imaging"
)

// FromImage converts a standard library image to a native interleaved image.
// With channels 1 the result is grayscale, with 3 it is BGR. With channels 0
// the channel count follows the source: grayscale images stay grayscale,
// everything else becomes BGR. Alpha is dropped without compositing.
func FromImage(img image.Image, channels int) (InterleavedImage, error) {
	if channels == 0 {
		switch img.(type) {
		case *image.Gray, *image.Gray16:
			channels = 1
		default:
			channels = 3
		}
	}
	if channels != 1 && channels != 3 {
		return InterleavedImage{}, fmt.Errorf("cannot convert image to %d channels", channels)
	}

	b := img.Bounds()
	r := NewInterleavedImage(b.Dx(), b.Dy(), channels)

	if channels == 1 {
		if g, ok := img.(*image.Gray); ok {
			for y := 0; y < r.H; y++ {
				copy(r.Data[y*r.Stride:y*r.Stride+r.W], g.Pix[y*g.Stride:])
			}
			return r, nil
		}
		for y := 0; y < r.H; y++ {
			for x := 0; x < r.W; x++ {
				g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				r.Data[y*r.Stride+x] = g.Y
			}
		}
		return r, nil
	}

	for y := 0; y < r.H; y++ {
		row := r.Data[y*r.Stride:]
		for x := 0; x < r.W; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			row[3*x] = c.B
			row[3*x+1] = c.G
			row[3*x+2] = c.R
		}
	}
	return r, nil
}

// Image returns im as a standard library image. One channel images become
// *image.Gray, three (BGR) and four (BGRA) channel images become
// *image.NRGBA.
func (im InterleavedImage) Image() (image.Image, error) {
	switch im.C {
	case 1:
		g := image.NewGray(image.Rect(0, 0, im.W, im.H))
		for y := 0; y < im.H; y++ {
			copy(g.Pix[y*g.Stride:y*g.Stride+im.W], im.Data[y*im.Stride:])
		}
		return g, nil
	case 3, 4:
		n := image.NewNRGBA(image.Rect(0, 0, im.W, im.H))
		for y := 0; y < im.H; y++ {
			src := im.Data[y*im.Stride:]
			dst := n.Pix[y*n.Stride:]
			for x := 0; x < im.W; x++ {
				s := src[x*im.C:]
				dst[4*x] = s[2]
				dst[4*x+1] = s[1]
				dst[4*x+2] = s[0]
				if im.C == 4 {
					dst[4*x+3] = s[3]
				} else {
					dst[4*x+3] = 0xff
				}
			}
		}
		return n, nil
	}
	return nil, fmt.Errorf("no image type for %d channels", im.C)
}

// Fill resizes im to exactly w by h, cropping the center to keep the aspect
// ratio. Samples are clamped and quantized to bytes in the process. Images
// with other than 1 or 3 channels are returned unchanged.
func Fill(im PlanarImage, w, h int, verbose bool) PlanarImage {
	if (im.C != 1 && im.C != 3) || (im.W == w && im.H == h) {
		return im
	}
	t0 := time.Now()

	src := image.NewNRGBA(image.Rect(0, 0, im.W, im.H))
	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			p := src.Pix[y*src.Stride+4*x:]
			for c := 0; c < 3; c++ {
				v := im.At(x, y, c%im.C)
				if v < 0 {
					v = 0
				} else if v > 1 {
					v = 1
				}
				p[c] = byte(v * 255)
			}
			p[3] = 0xff
		}
	}

	dst := imaging.Fill(src, w, h, imaging.Center, imaging.NearestNeighbor)

	r := NewPlanarImage(w, h, im.C)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := dst.Pix[y*dst.Stride+4*x:]
			for c := 0; c < im.C; c++ {
				r.Set(x, y, c, float32(p[c])/255)
			}
		}
	}
	if verbose {
		log.Printf("resized %s to %s in %v", im, r, time.Since(t0))
	}
	return r
}

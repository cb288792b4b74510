package imagebridge

// ToInterleavedByte transposes a planar image into an interleaved byte image
// with the same channel count. Every sample is multiplied by 255 and
// truncated. Samples are not clamped; call Constrain first when they may be
// outside [0,1]. Channel order is not changed.
func ToInterleavedByte(im PlanarImage) InterleavedImage {
	r := NewInterleavedImage(im.W, im.H, im.C)
	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			for c := 0; c < im.C; c++ {
				v := im.Data[c*im.H*im.W+y*im.W+x]
				r.Data[y*r.Stride+x*im.C+c] = byte(int(v * 255))
			}
		}
	}
	return r
}

// ToPlanarFloat transposes an interleaved byte image into a planar image,
// dividing every sample by 255. Row padding is skipped. Channel order is not
// changed.
func ToPlanarFloat(im InterleavedImage) PlanarImage {
	r := NewPlanarImage(im.W, im.H, im.C)
	for y := 0; y < im.H; y++ {
		row := im.Data[y*im.Stride:]
		for c := 0; c < im.C; c++ {
			plane := r.Data[c*im.W*im.H+y*im.W:]
			for x := 0; x < im.W; x++ {
				plane[x] = float32(row[x*im.C+c]) / 255
			}
		}
	}
	return r
}

// SwapChannelOrder exchanges channels 0 and 2 of im in place, converting RGB
// to BGR and back. It returns ErrChannelCount, leaving im untouched, unless im
// has exactly 3 channels.
func SwapChannelOrder(im PlanarImage) error {
	if im.C != 3 {
		return ErrChannelCount
	}
	n := im.W * im.H
	r := im.Data[:n]
	b := im.Data[2*n : 3*n]
	for i := range r {
		r[i], b[i] = b[i], r[i]
	}
	return nil
}

// ExportForDisplay converts a planar image to a native interleaved image
// for display or encoding. It works on a copy: samples are clamped to [0,1],
// three channel images are swapped to BGR, then the result is transposed. The
// source image is never modified.
func ExportForDisplay(im PlanarImage) InterleavedImage {
	cp := im.Copy()
	cp.Constrain()
	if cp.C == 3 {
		SwapChannelOrder(cp)
	}
	return ToInterleavedByte(cp)
}

// ImportFromNative converts a native interleaved image, as produced by a
// decoder, video source or camera, into a planar image. Three channel images
// are swapped from BGR to RGB.
func ImportFromNative(im InterleavedImage) PlanarImage {
	r := ToPlanarFloat(im)
	if r.C == 3 {
		SwapChannelOrder(r)
	}
	return r
}

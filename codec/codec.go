// Package codec loads still images from storage into planar images.
//
// Loading is forgiving: an image that cannot be decoded is logged, recorded
// in a failure log, and replaced by a small placeholder, so that long
// unattended batch jobs are not stopped by one bad file.
package codec

import (
	"fmt"
	"log"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

// ReadMode selects how a decoder treats channels. The values match the
// OpenCV imread flags. Decoders apply EXIF orientation in every mode.
type ReadMode int

const (
	ReadUnchanged ReadMode = -1 // Keep gray or color as in the file, without alpha.
	ReadGrayscale ReadMode = 0  // Convert to one channel.
	ReadColor     ReadMode = 1  // Convert to three BGR channels.
)

// Placeholder dimensions of the image returned when loading fails.
const (
	PlaceholderWidth    = 10
	PlaceholderHeight   = 10
	PlaceholderChannels = 3
)

// DefaultFailureLog is the file failed paths are appended to when
// LoaderOpts.FailureLog is empty.
const DefaultFailureLog = "bad.list"

// Decoder decodes the image file at path into a native interleaved image.
// Failure is signaled by an error or by an empty image.
type Decoder interface {
	Decode(path string, mode ReadMode) (imagebridge.InterleavedImage, error)
}

// LoaderOpts are options for a Loader.
type LoaderOpts struct {
	Verbose    bool
	Decoder    Decoder // If nil, an ImagingDecoder is used.
	FailureLog string  // File to append failed paths to. Defaults to DefaultFailureLog.
}

// Loader loads images through a Decoder.
type Loader struct {
	opts    LoaderOpts
	decoder Decoder
	failed  *FailureLog
}

// NewLoader returns a new loader.
func NewLoader(opts *LoaderOpts) *Loader {
	l := &Loader{}
	if opts != nil {
		l.opts = *opts
	}
	l.decoder = l.opts.Decoder
	if l.decoder == nil {
		l.decoder = ImagingDecoder{}
	}
	path := l.opts.FailureLog
	if path == "" {
		path = DefaultFailureLog
	}
	l.failed = NewFailureLog(path)
	return l
}

// Load decodes the image at path into a planar image. Channels must be 0
// (keep the channels of the file), 1 (grayscale) or 3 (color); other values
// are logged and treated as 0. Alpha is dropped, so the result has one or
// three channels, and three channels are in RGB order.
//
// Load never fails. If the image cannot be decoded, the failure is logged,
// path is appended to the failure log, and a zero-filled 10x10x3 placeholder
// is returned.
func (l *Loader) Load(path string, channels int) imagebridge.PlanarImage {
	mode := ReadUnchanged
	switch channels {
	case 0:
	case 1:
		mode = ReadGrayscale
	case 3:
		mode = ReadColor
	default:
		log.Printf("cannot force load with %d channels, loading %q unchanged", channels, path)
	}

	im, err := l.decoder.Decode(path, mode)
	if err == nil && im.IsEmpty() {
		err = fmt.Errorf("empty image")
	}
	if err != nil {
		log.Printf("cannot load image %q: %v", path, err)
		if err := l.failed.Append(path); err != nil {
			log.Printf("recording failed image: %v", err)
		}
		return imagebridge.NewPlanarImage(PlaceholderWidth, PlaceholderHeight, PlaceholderChannels)
	}
	if im.C == 4 {
		im = dropAlpha(im)
	}
	if l.opts.Verbose {
		log.Printf("loaded %q, %s", path, im)
	}
	return imagebridge.ImportFromNative(im)
}

// dropAlpha returns the BGR channels of a BGRA image.
func dropAlpha(im imagebridge.InterleavedImage) imagebridge.InterleavedImage {
	r := imagebridge.NewInterleavedImage(im.W, im.H, 3)
	for y := 0; y < im.H; y++ {
		src := im.Data[y*im.Stride:]
		dst := r.Data[y*r.Stride:]
		for x := 0; x < im.W; x++ {
			copy(dst[3*x:3*x+3], src[4*x:4*x+3])
		}
	}
	return r
}

// FailureLog returns the log failed paths are appended to.
func (l *Loader) FailureLog() *FailureLog {
	return l.failed
}

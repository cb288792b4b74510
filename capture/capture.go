// Package capture pulls frames one at a time from video files or capture
// devices and converts them to planar images.
package capture

import (
	"fmt"
	"log"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

// Property is a configurable property of a capture source.
type Property int

const (
	PropFrameWidth Property = iota
	PropFrameHeight
	PropFPS
)

func (p Property) String() string {
	switch p {
	case PropFrameWidth:
		return "frame width"
	case PropFrameHeight:
		return "frame height"
	case PropFPS:
		return "fps"
	}
	return fmt.Sprintf("property %d", int(p))
}

// Source is an opened video file or capture device.
type Source interface {
	// Set requests a property value. Sources that do not support the
	// property, or the value, return false.
	Set(p Property, v float64) bool

	// Read returns the next frame as a native interleaved image. At the end
	// of the stream, Read returns an empty image and a nil error.
	Read() (imagebridge.InterleavedImage, error)

	// Close releases the source.
	Close() error
}

// Opener opens capture sources.
type Opener interface {
	// OpenFile opens a video file, or anything else the implementation
	// accepts as a path, e.g. a stream URL.
	OpenFile(path string) (Source, error)

	// OpenDevice opens a capture device by index.
	OpenDevice(index int) (Source, error)
}

// StreamOpts are options for Open.
type StreamOpts struct {
	Verbose bool
}

// Stream is an open capture source producing planar images.
type Stream struct {
	src    Source
	opts   StreamOpts
	frames int64
	done   bool
}

// Open opens the file at path, or, if path is empty, the device with the
// given index. Non-zero width, height and fps are requested from the source on
// a best-effort basis; sources that cannot apply them are used as is. Open
// returns an error if the source cannot be opened.
//
// Callers must call Close to clean up.
func Open(opener Opener, path string, index int, width, height, fps int, opts *StreamOpts) (*Stream, error) {
	s := &Stream{}
	if opts != nil {
		s.opts = *opts
	}

	var err error
	if path != "" {
		s.src, err = opener.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening video file %q: %w", path, err)
		}
	} else {
		s.src, err = opener.OpenDevice(index)
		if err != nil {
			return nil, fmt.Errorf("opening capture device %d: %w", index, err)
		}
	}

	set := func(p Property, v int) {
		if v == 0 {
			return
		}
		if !s.src.Set(p, float64(v)) && s.opts.Verbose {
			log.Printf("capture source did not accept %s %d", p, v)
		}
	}
	set(PropFrameWidth, width)
	set(PropFrameHeight, height)
	set(PropFPS, fps)

	return s, nil
}

// NextFrame returns the next frame. When the stream is exhausted, or reading
// fails, NextFrame returns the empty 0x0x0 image. Once exhausted, the source
// is not read again.
func (s *Stream) NextFrame() imagebridge.PlanarImage {
	if s.done {
		return imagebridge.EmptyImage()
	}
	im, err := s.src.Read()
	if err != nil {
		log.Printf("reading frame %d: %v", s.frames+1, err)
		return imagebridge.EmptyImage()
	}
	if im.IsEmpty() {
		if s.opts.Verbose {
			log.Printf("end of stream after %d frames", s.frames)
		}
		s.done = true
		return imagebridge.EmptyImage()
	}
	s.frames++
	return imagebridge.ImportFromNative(im)
}

// Frames returns the number of frames returned so far.
func (s *Stream) Frames() int64 {
	return s.frames
}

// Close closes the source.
func (s *Stream) Close() error {
	return s.src.Close()
}

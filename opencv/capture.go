package opencv

import (
	"fmt"
	"log"
	"math"

	"gocv.io/x/gocv"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
	"github.com/edgeimpulse/imagebridge-go/capture"
)

// OpenerOpts has options for opening OpenCV capture sources.
type OpenerOpts struct {
	Verbose bool
}

// Opener opens video files and devices with OpenCV's VideoCapture.
type Opener struct {
	opts OpenerOpts
}

// Check that Opener implements interface capture.Opener.
var _ capture.Opener = (*Opener)(nil)

// NewOpener returns a new opener.
func NewOpener(opts *OpenerOpts) *Opener {
	o := &Opener{}
	if opts != nil {
		o.opts = *opts
	}
	return o
}

// OpenFile implements capture.Opener. Path may be anything VideoCapture
// accepts, such as a stream URL or a GStreamer pipeline.
func (o *Opener) OpenFile(path string) (capture.Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		vc.Close()
		return nil, err
	}
	return o.newSource(vc, path)
}

// OpenDevice implements capture.Opener.
func (o *Opener) OpenDevice(index int) (capture.Source, error) {
	vc, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		vc.Close()
		return nil, err
	}
	return o.newSource(vc, fmt.Sprintf("device %d", index))
}

func (o *Opener) newSource(vc *gocv.VideoCapture, name string) (capture.Source, error) {
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("cannot open %s", name)
	}
	if o.opts.Verbose {
		log.Printf("opencv: opened %s", name)
	}
	return &Source{vc: vc, mat: gocv.NewMat(), verbose: o.opts.Verbose}, nil
}

// Source is an OpenCV VideoCapture. The frame Mat is reused between reads.
type Source struct {
	vc      *gocv.VideoCapture
	mat     gocv.Mat
	verbose bool
}

// Check that Source implements interface capture.Source.
var _ capture.Source = (*Source)(nil)

func videoProperty(p capture.Property) (gocv.VideoCaptureProperties, bool) {
	switch p {
	case capture.PropFrameWidth:
		return gocv.VideoCaptureFrameWidth, true
	case capture.PropFrameHeight:
		return gocv.VideoCaptureFrameHeight, true
	case capture.PropFPS:
		return gocv.VideoCaptureFPS, true
	}
	return 0, false
}

// Set implements capture.Source. It reports whether the property reads back
// as the requested value.
func (s *Source) Set(p capture.Property, v float64) bool {
	prop, ok := videoProperty(p)
	if !ok {
		return false
	}
	s.vc.Set(prop, v)
	got := s.vc.Get(prop)
	if s.verbose {
		log.Printf("opencv: set %s to %v, now %v", p, v, got)
	}
	return math.Abs(got-v) < 1e-3
}

// Read implements capture.Source.
func (s *Source) Read() (imagebridge.InterleavedImage, error) {
	if s.vc == nil {
		return imagebridge.InterleavedImage{}, fmt.Errorf("source closed")
	}
	if !s.vc.Read(&s.mat) || s.mat.Empty() {
		return imagebridge.InterleavedImage{}, nil
	}
	return FromMat(s.mat)
}

// Close implements capture.Source.
func (s *Source) Close() error {
	if s.vc == nil {
		return nil
	}
	s.mat.Close()
	err := s.vc.Close()
	s.vc = nil
	return err
}

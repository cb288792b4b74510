// Package v4l2 implements a camera runtime for Video4Linux2 devices.
//
// Devices are addressed with GenICam style feature names so they can be
// driven by camera.Controller. Supported pixel formats are RGB8 (RGB3), BGR8
// (BGR3) and YUV422_8 (YUYV); YUYV frames are converted to RGB8 on grab.
package v4l2

import (
	"errors"
	"fmt"
	"image/color"
	"log"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/blackjack/webcam"

	"github.com/edgeimpulse/imagebridge-go/camera"
)

// Error codes reported in camera.GrabResult.ErrorCode.
const (
	ErrorCodeRead       uint32 = 0xE0000001 // Reading the frame failed.
	ErrorCodeShortFrame uint32 = 0xE0000002 // Frame smaller than negotiated.
	ErrorCodeBuffer     uint32 = 0xE0000003 // Destination buffer too small.
)

// GenICam pixel format names and their V4L2 fourcc codes.
var pixelFormats = []struct {
	name   string
	fourcc string
}{
	{"RGB8", "RGB3"},
	{"BGR8", "BGR3"},
	{"YUV422_8", "YUYV"},
}

// fourcc returns the V4L2 pixel format code for a four character string.
func fourcc(s string) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24)
}

func formatName(f webcam.PixelFormat) (string, bool) {
	for _, pf := range pixelFormats {
		if fourcc(pf.fourcc) == f {
			return pf.name, true
		}
	}
	return "", false
}

func formatCode(name string) (webcam.PixelFormat, bool) {
	for _, pf := range pixelFormats {
		if pf.name == name {
			return fourcc(pf.fourcc), true
		}
	}
	return 0, false
}

// timeoutSeconds rounds d up to whole seconds, the resolution of V4L2 waits.
func timeoutSeconds(d time.Duration) uint32 {
	if d <= 0 {
		return 1
	}
	return uint32((d + time.Second - 1) / time.Second)
}

// RuntimeOpts has options for the V4L2 runtime.
type RuntimeOpts struct {
	Verbose bool

	// Pattern matching device nodes. Defaults to /dev/video*.
	Pattern string

	// Initial frame size. Defaults to 640x480.
	Width, Height uint32
}

// Runtime enumerates V4L2 device nodes.
type Runtime struct {
	opts        RuntimeOpts
	initialized bool
	paths       []string
}

// Check that Runtime implements interface camera.Runtime.
var _ camera.Runtime = (*Runtime)(nil)

// NewRuntime returns a new V4L2 runtime.
func NewRuntime(opts *RuntimeOpts) *Runtime {
	r := &Runtime{}
	if opts != nil {
		r.opts = *opts
	}
	if r.opts.Pattern == "" {
		r.opts.Pattern = "/dev/video*"
	}
	if r.opts.Width == 0 || r.opts.Height == 0 {
		r.opts.Width, r.opts.Height = 640, 480
	}
	return r
}

// Initialize implements camera.Runtime. It lists the device nodes.
func (r *Runtime) Initialize() error {
	paths, err := filepath.Glob(r.opts.Pattern)
	if err != nil {
		return fmt.Errorf("listing devices: %v", err)
	}
	sort.Strings(paths)
	r.paths = paths
	r.initialized = true
	if r.opts.Verbose {
		log.Printf("v4l2: found devices %v", paths)
	}
	return nil
}

// EnumerateDevices implements camera.Runtime.
func (r *Runtime) EnumerateDevices() (int, error) {
	if !r.initialized {
		return 0, errors.New("runtime not initialized")
	}
	return len(r.paths), nil
}

// CreateDevice implements camera.Runtime. The device node is not opened until
// Open is called.
func (r *Runtime) CreateDevice(index int) (camera.Device, error) {
	if !r.initialized {
		return nil, errors.New("runtime not initialized")
	}
	if index < 0 || index >= len(r.paths) {
		return nil, fmt.Errorf("no device with index %d", index)
	}
	return &Device{
		path:    r.paths[index],
		verbose: r.opts.Verbose,
		width:   r.opts.Width,
		height:  r.opts.Height,
	}, nil
}

// Terminate implements camera.Runtime.
func (r *Runtime) Terminate() error {
	r.initialized = false
	r.paths = nil
	return nil
}

// Device is a V4L2 camera.
type Device struct {
	path    string
	verbose bool

	cam       *webcam.Webcam
	formats   map[webcam.PixelFormat]string
	format    webcam.PixelFormat
	width     uint32
	height    uint32
	streaming bool
}

// Check that Device implements interface camera.Device.
var _ camera.Device = (*Device)(nil)

// Open implements camera.Device. It opens the device node and selects the
// first supported pixel format.
func (d *Device) Open(mode camera.AccessMode) (rerr error) {
	if d.cam != nil {
		return fmt.Errorf("device %s already open", d.path)
	}
	cam, err := webcam.Open(d.path)
	if err != nil {
		return fmt.Errorf("opening %s: %v", d.path, err)
	}
	d.cam = cam

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			d.cam.Close()
			d.cam = nil
		}
	}()

	d.formats = cam.GetSupportedFormats()
	for _, pf := range pixelFormats {
		f := fourcc(pf.fourcc)
		if _, ok := d.formats[f]; !ok {
			continue
		}
		if err := d.setFormat(f, d.width, d.height); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("device %s supports none of the pixel formats RGB3, BGR3, YUYV", d.path)
}

func (d *Device) setFormat(f webcam.PixelFormat, w, h uint32) error {
	if d.streaming {
		return errors.New("cannot change format while streaming")
	}
	f, w, h, err := d.cam.SetImageFormat(f, w, h)
	if err != nil {
		return fmt.Errorf("setting image format: %v", err)
	}
	d.format, d.width, d.height = f, w, h
	if d.verbose {
		name, _ := formatName(f)
		log.Printf("v4l2: %s format %s %dx%d", d.path, name, w, h)
	}
	return nil
}

var readable = map[string]bool{
	"DeviceModelName": true,
	"PixelFormat":     true,
	"Width":           true,
	"Height":          true,
	"PayloadSize":     true,
}

// FeatureIsAvailable implements camera.Device. Pixel format enumeration
// entries are available if the device supports the format.
func (d *Device) FeatureIsAvailable(name string) bool {
	if readable[name] {
		return d.cam != nil
	}
	const prefix = "EnumEntry_PixelFormat_"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		f, ok := formatCode(name[len(prefix):])
		if !ok {
			return false
		}
		_, ok = d.formats[f]
		return ok
	}
	return false
}

// FeatureIsReadable implements camera.Device.
func (d *Device) FeatureIsReadable(name string) bool {
	return d.cam != nil && readable[name]
}

// FeatureToString implements camera.Device.
func (d *Device) FeatureToString(name string) (string, error) {
	if d.cam == nil {
		return "", errors.New("device not open")
	}
	switch name {
	case "DeviceModelName":
		return d.cam.GetName()
	case "PixelFormat":
		s, ok := formatName(d.format)
		if !ok {
			return "", fmt.Errorf("unknown pixel format 0x%08X", uint32(d.format))
		}
		return s, nil
	}
	v, err := d.IntegerFeature(name)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v, 10), nil
}

// FeatureFromString implements camera.Device. PixelFormat, Width and Height
// are writable before the first grab.
func (d *Device) FeatureFromString(name, value string) error {
	if d.cam == nil {
		return errors.New("device not open")
	}
	switch name {
	case "PixelFormat":
		f, ok := formatCode(value)
		if !ok {
			return fmt.Errorf("unknown pixel format %q", value)
		}
		if _, ok := d.formats[f]; !ok {
			return fmt.Errorf("pixel format %s not supported by device", value)
		}
		return d.setFormat(f, d.width, d.height)
	case "Width", "Height":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil || v == 0 {
			return fmt.Errorf("invalid %s %q", name, value)
		}
		if name == "Width" {
			return d.setFormat(d.format, uint32(v), d.height)
		}
		return d.setFormat(d.format, d.width, uint32(v))
	}
	return fmt.Errorf("feature %s not writable", name)
}

// IntegerFeature implements camera.Device. PayloadSize is the size of an RGB8
// or BGR8 frame, which is what GrabSingleFrame writes for every format.
func (d *Device) IntegerFeature(name string) (int64, error) {
	if d.cam == nil {
		return 0, errors.New("device not open")
	}
	switch name {
	case "Width":
		return int64(d.width), nil
	case "Height":
		return int64(d.height), nil
	case "PayloadSize":
		return int64(d.width) * int64(d.height) * 3, nil
	}
	return 0, fmt.Errorf("feature %s is not an integer", name)
}

// GrabSingleFrame implements camera.Device. Streaming starts on the first
// grab. Timeouts are rounded up to whole seconds.
func (d *Device) GrabSingleFrame(buf []byte, timeout time.Duration) (camera.GrabResult, bool, error) {
	if d.cam == nil {
		return camera.GrabResult{}, false, errors.New("device not open")
	}
	if !d.streaming {
		if err := d.cam.StartStreaming(); err != nil {
			return camera.GrabResult{Status: camera.GrabFailed}, false, fmt.Errorf("starting stream: %v", err)
		}
		d.streaming = true
	}

	err := d.cam.WaitForFrame(timeoutSeconds(timeout))
	var timeoutErr *webcam.Timeout
	if errors.As(err, &timeoutErr) {
		return camera.GrabResult{Status: camera.GrabIdle}, false, nil
	} else if err != nil {
		return camera.GrabResult{Status: camera.GrabFailed}, false, fmt.Errorf("waiting for frame: %v", err)
	}

	frame, err := d.cam.ReadFrame()
	if err != nil {
		if d.verbose {
			log.Printf("v4l2: reading frame: %v", err)
		}
		return camera.GrabResult{Status: camera.GrabFailed, ErrorCode: ErrorCodeRead}, true, nil
	}
	if len(frame) == 0 {
		return camera.GrabResult{Status: camera.GrabIdle}, false, nil
	}
	w, h := int(d.width), int(d.height)
	return decodeFrame(buf, frame, d.format, w, h), true, nil
}

// decodeFrame writes frame, in pixel format f, to buf as packed 3 byte
// pixels.
func decodeFrame(buf, frame []byte, f webcam.PixelFormat, w, h int) camera.GrabResult {
	if len(buf) < w*h*3 {
		return camera.GrabResult{Status: camera.GrabFailed, ErrorCode: ErrorCodeBuffer}
	}
	if f == fourcc("YUYV") {
		if len(frame) < w*h*2 {
			return camera.GrabResult{Status: camera.GrabFailed, ErrorCode: ErrorCodeShortFrame}
		}
		yuyvToRGB(buf, frame, w, h)
	} else {
		if len(frame) < w*h*3 {
			return camera.GrabResult{Status: camera.GrabFailed, ErrorCode: ErrorCodeShortFrame}
		}
		copy(buf, frame[:w*h*3])
	}
	return camera.GrabResult{Status: camera.Grabbed, SizeX: w, SizeY: h}
}

// yuyvToRGB converts a YUYV 4:2:2 frame to RGB8. Each 4 byte group holds two
// pixels sharing chroma.
func yuyvToRGB(dst, src []byte, w, h int) {
	for i, o := 0, 0; i+3 < w*h*2; i, o = i+4, o+6 {
		y0, u, y1, v := src[i], src[i+1], src[i+2], src[i+3]
		dst[o], dst[o+1], dst[o+2] = color.YCbCrToRGB(y0, u, v)
		dst[o+3], dst[o+4], dst[o+5] = color.YCbCrToRGB(y1, u, v)
	}
}

// Close implements camera.Device. It stops streaming and closes the device
// node.
func (d *Device) Close() error {
	if d.cam == nil {
		return nil
	}
	var errs []error
	if d.streaming {
		if err := d.cam.StopStreaming(); err != nil {
			errs = append(errs, fmt.Errorf("stopping stream: %v", err))
		}
		d.streaming = false
	}
	if err := d.cam.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing %s: %v", d.path, err))
	}
	d.cam = nil
	return errors.Join(errs...)
}

// Destroy implements camera.Device. It closes the device if still open.
func (d *Device) Destroy() error {
	err := d.Close()
	d.formats = nil
	return err
}

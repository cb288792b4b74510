// Package camera grabs single frames from a hardware camera and converts them
// to planar images.
//
// A Controller owns one device of a Runtime. Init negotiates features and
// allocates frame buffers once, GetImage grabs with a bounded number of
// attempts and reuses the buffers, Terminate releases everything. A
// Controller is meant to be used by one goroutine; calls are serialized.
package camera

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

// Errors returned by Init. Match them with errors.Is.
var (
	ErrNoDeviceFound = errors.New("no camera device found")
	ErrDeviceOpen    = errors.New("cannot open camera device")
	ErrDeviceQuery   = errors.New("cannot query camera device")
	ErrOutOfMemory   = errors.New("out of memory for frame buffers")
	ErrState         = errors.New("camera already initialized")
)

// State is the lifecycle state of a Controller. A Ready controller is
// Grabbing while GetImage runs and Ready again when it returns.
type State int

const (
	Uninitialized State = iota
	Ready
	Grabbing
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Grabbing:
		return "grabbing"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state %d", int(s))
}

// Stats counts grab outcomes since the last Init.
type Stats struct {
	Frames   uint64 // GetImage calls that returned a frame.
	Timeouts uint64 // GetImage calls that gave up without a ready buffer.
	Failures uint64 // GetImage calls that ended with a failed grab.
	Attempts uint64 // Individual grab attempts.
}

// feature is an optional device setting, applied when the enumeration entry
// is available.
type feature struct {
	entry    string
	settings [][2]string
}

var optionalFeatures = []feature{
	{"EnumEntry_TriggerSelector_FrameStart", [][2]string{{"TriggerSelector", "FrameStart"}, {"TriggerMode", "Off"}}},
	{"EnumEntry_PixelFormat_RGB8", [][2]string{{"PixelFormat", "RGB8"}}},
	{"EnumEntry_BslColorSpaceMode_sRGB", [][2]string{{"BslColorSpaceMode", "sRGB"}}},
}

// Controller acquires frames from the first device of a Runtime.
type Controller struct {
	runtime Runtime
	config  Config
	mutex   sync.Mutex // Serializes all calls; frame buffers are reused.

	state     atomic.Int32 // State; read without the mutex.
	id        string
	runtimeUp bool
	dev       Device
	devOpen   bool

	payloadSize   int
	width, height int
	buf           []byte // Frame as grabbed.
	swapped       []byte // Frame with red and blue exchanged.
	native        imagebridge.InterleavedImage
	swapRB        bool

	stats Stats
}

// NewController returns a controller for runtime. If config is nil,
// DefaultConfig is used. Zero Retries or Timeout take their defaults.
func NewController(runtime Runtime, config *Config) *Controller {
	c := &Controller{runtime: runtime, config: DefaultConfig()}
	if config != nil {
		c.config = *config
		def := DefaultConfig()
		if c.config.Retries <= 0 {
			c.config.Retries = def.Retries
		}
		if c.config.Timeout <= 0 {
			c.config.Timeout = def.Timeout
		}
	}
	if c.config.Allocate == nil {
		c.config.Allocate = allocate
	}
	return c
}

func (c *Controller) logf(format string, args ...interface{}) {
	log.Printf("camera %s: %s", c.id, fmt.Sprintf(format, args...))
}

func (c *Controller) verbosef(format string, args ...interface{}) {
	if c.config.Verbose {
		c.logf(format, args...)
	}
}

// Init initializes the runtime, opens the first device, negotiates optional
// features, and allocates frame buffers. On failure everything acquired so far
// is released before the error is returned. Init may be called again after
// Terminate or after a failed Init.
func (c *Controller) Init() (rerr error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.State() != Uninitialized && c.State() != Terminated {
		return ErrState
	}
	c.id = uuid.NewString()[:8]
	c.stats = Stats{}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			if err := c.teardown(); err != nil {
				c.logf("cleanup after failed init: %v", err)
			}
			c.setState(Uninitialized)
		}
	}()

	if err := c.runtime.Initialize(); err != nil {
		return fmt.Errorf("initializing camera runtime: %w", err)
	}
	c.runtimeUp = true

	n, err := c.runtime.EnumerateDevices()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	if n == 0 {
		return ErrNoDeviceFound
	}

	dev, err := c.runtime.CreateDevice(0)
	if err != nil {
		return fmt.Errorf("%w: creating device: %v", ErrDeviceOpen, err)
	}
	c.dev = dev
	if err := dev.Open(AccessControl | AccessStream); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	c.devOpen = true

	if dev.FeatureIsReadable("DeviceModelName") {
		if name, err := dev.FeatureToString("DeviceModelName"); err == nil {
			c.logf("using camera %s", name)
		}
	}

	c.negotiate()

	payload, err := c.readInt("PayloadSize")
	if err != nil {
		return err
	}
	width, err := c.readInt("Width")
	if err != nil {
		return err
	}
	height, err := c.readInt("Height")
	if err != nil {
		return err
	}
	if payload < width*height*3 {
		return fmt.Errorf("%w: payload size %d too small for %dx%d RGB frames", ErrDeviceQuery, payload, width, height)
	}
	c.verbosef("payload size is %d, image width x height is %d x %d", payload, width, height)
	c.payloadSize = payload
	c.width = width
	c.height = height

	if c.buf, err = c.config.Allocate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	if c.swapped, err = c.config.Allocate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	// The device is asked for RGB8, but not every device offers it.
	c.swapRB = true
	if dev.FeatureIsReadable("PixelFormat") {
		if pf, err := dev.FeatureToString("PixelFormat"); err == nil && pf == "BGR8" {
			c.swapRB = false
		}
	}

	c.native = imagebridge.NewInterleavedImage(width, height, 3)
	c.setState(Ready)
	return nil
}

// negotiate applies the optional features the device offers. Features that
// are missing or cannot be set are skipped.
func (c *Controller) negotiate() {
	for _, f := range optionalFeatures {
		if !c.dev.FeatureIsAvailable(f.entry) {
			c.verbosef("feature %s not available, skipping", f.entry)
			continue
		}
		for _, kv := range f.settings {
			if err := c.dev.FeatureFromString(kv[0], kv[1]); err != nil {
				c.logf("setting %s to %s: %v", kv[0], kv[1], err)
				break
			}
			c.verbosef("set %s to %s", kv[0], kv[1])
		}
	}
}

func (c *Controller) readInt(name string) (int, error) {
	if !c.dev.FeatureIsReadable(name) {
		return 0, fmt.Errorf("%w: %s not readable", ErrDeviceQuery, name)
	}
	v, err := c.dev.IntegerFeature(name)
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrDeviceQuery, name, err)
	}
	if v <= 0 || v > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %s has invalid value %d", ErrDeviceQuery, name, v)
	}
	return int(v), nil
}

// GetImage grabs one frame and returns it as a planar RGB image. It makes up
// to Config.Retries attempts of Config.Timeout each, stopping at the first
// frame. If no frame is grabbed, the failure is logged and the empty 0x0x0
// image is returned. GetImage must only be called after a successful Init;
// otherwise it also returns the empty image.
func (c *Controller) GetImage() imagebridge.PlanarImage {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if st := c.State(); st != Ready {
		log.Printf("camera: get image on %s controller", st)
		return imagebridge.EmptyImage()
	}
	c.setState(Grabbing)
	defer c.setState(Ready)

	var res GrabResult
	var ready bool
	var err error
	for i := 0; i < c.config.Retries; i++ {
		c.stats.Attempts++
		res, ready, err = c.dev.GrabSingleFrame(c.buf, c.config.Timeout)
		if res.Status == Grabbed {
			break
		}
		c.verbosef("image wasn't grabbed successfully (attempt %d), error code 0x%08X", i+1, res.ErrorCode)
	}

	if res.Status != Grabbed {
		if err == nil && !ready {
			c.stats.Timeouts++
			c.logf("get image timeout after %d attempts of %v", c.config.Retries, c.config.Timeout)
			return imagebridge.EmptyImage()
		}
		c.stats.Failures++
		if err != nil {
			c.logf("image wasn't grabbed successfully: %v", err)
		} else {
			c.logf("image wasn't grabbed successfully, error code 0x%08X", res.ErrorCode)
		}
		return imagebridge.EmptyImage()
	}

	if (res.SizeX != 0 && res.SizeX != c.width) || (res.SizeY != 0 && res.SizeY != c.height) {
		c.stats.Failures++
		c.logf("grabbed %dx%d frame, expected %dx%d", res.SizeX, res.SizeY, c.width, c.height)
		return imagebridge.EmptyImage()
	}

	n := c.width * c.height * 3
	if c.swapRB {
		swapRedBlue(c.swapped, c.buf, c.width, c.height)
	} else {
		copy(c.swapped[:n], c.buf[:n])
	}
	copy(c.native.Data, c.swapped[:n])
	c.stats.Frames++
	return imagebridge.ImportFromNative(c.native)
}

// swapRedBlue writes the RGB frame in src to dst in BGR order.
func swapRedBlue(dst, src []byte, w, h int) {
	for i := 0; i < 3*w*h; i += 3 {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
	}
}

// Terminate closes and destroys the device, drops the frame buffers, and
// terminates the runtime. Terminate may be called more than once.
func (c *Controller) Terminate() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	err := c.teardown()
	c.setState(Terminated)
	return err
}

func (c *Controller) teardown() error {
	var errs []error
	if c.dev != nil {
		if c.devOpen {
			if err := c.dev.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing device: %v", err))
			}
		}
		if err := c.dev.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroying device: %v", err))
		}
	}
	c.dev = nil
	c.devOpen = false
	c.buf = nil
	c.swapped = nil
	c.native = imagebridge.InterleavedImage{}
	if c.runtimeUp {
		if err := c.runtime.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminating runtime: %v", err))
		}
		c.runtimeUp = false
	}
	return errors.Join(errs...)
}

// State returns the lifecycle state. It does not wait for a running call, so
// it can observe Grabbing.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Stats returns the grab counters since the last Init.
func (c *Controller) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}

// Size returns the negotiated frame width and height.
func (c *Controller) Size() (width, height int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.width, c.height
}

// PayloadSize returns the negotiated size of one frame in bytes.
func (c *Controller) PayloadSize() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.payloadSize
}

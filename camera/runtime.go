package camera

import (
	"fmt"
	"time"
)

// Runtime is a camera driver runtime. It must be initialized before use and
// terminated afterwards; no other method may be called after Terminate.
type Runtime interface {
	Initialize() error
	EnumerateDevices() (int, error)
	CreateDevice(index int) (Device, error)
	Terminate() error
}

// AccessMode is a set of access rights requested when opening a device.
type AccessMode int

const (
	AccessControl AccessMode = 1 << iota // Configure features.
	AccessStream                         // Grab images.
)

// Device is a camera created by a Runtime. Features are addressed by name, as
// in GenICam: for example "Width", "PixelFormat", or
// "EnumEntry_PixelFormat_RGB8" to test whether an enumeration value exists.
type Device interface {
	Open(mode AccessMode) error

	FeatureIsAvailable(name string) bool
	FeatureIsReadable(name string) bool
	FeatureToString(name string) (string, error)
	FeatureFromString(name, value string) error
	IntegerFeature(name string) (int64, error)

	// GrabSingleFrame grabs one frame into buf, waiting at most timeout.
	// Ready is false if no frame arrived in time. A non-nil error means the
	// runtime call itself failed.
	GrabSingleFrame(buf []byte, timeout time.Duration) (result GrabResult, ready bool, err error)

	Close() error
	Destroy() error
}

// GrabStatus is the outcome of a grab.
type GrabStatus int

const (
	GrabIdle GrabStatus = iota
	Grabbed
	GrabFailed
)

func (s GrabStatus) String() string {
	switch s {
	case GrabIdle:
		return "idle"
	case Grabbed:
		return "grabbed"
	case GrabFailed:
		return "failed"
	}
	return fmt.Sprintf("status %d", int(s))
}

// GrabResult describes a grabbed frame.
type GrabResult struct {
	Status    GrabStatus
	ErrorCode uint32 // Device specific, only meaningful if Status is GrabFailed.
	SizeX     int    // Width of the grabbed frame in pixels.
	SizeY     int    // Height of the grabbed frame in pixels.
}

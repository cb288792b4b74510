package camera

import (
	"fmt"
	"time"
)

// MaxPayloadSize is the largest frame buffer the default allocator hands out.
const MaxPayloadSize = 256 << 20

// Config holds the controller configuration.
type Config struct {
	Retries int           // Grab attempts per GetImage.
	Timeout time.Duration // Wait per grab attempt.
	Verbose bool          // Log every grab attempt and negotiated feature.

	// Allocate returns a frame buffer of n bytes. Failures are reported by
	// Init as ErrOutOfMemory. If nil, buffers up to MaxPayloadSize are
	// allocated on the heap.
	Allocate func(n int) ([]byte, error)
}

// DefaultConfig returns the configuration for Basler-style cameras: 10
// attempts of 500ms each.
func DefaultConfig() Config {
	return Config{
		Retries: 10,
		Timeout: 500 * time.Millisecond,
	}
}

func allocate(n int) ([]byte, error) {
	if n <= 0 || n > MaxPayloadSize {
		return nil, fmt.Errorf("cannot allocate %d bytes", n)
	}
	return make([]byte, n), nil
}

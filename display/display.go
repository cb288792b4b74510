// Package display shows images in named windows.
package display

import (
	"errors"
	"time"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

// NoKey is returned by Show when no key was pressed.
const NoKey = -1

// Display shows native interleaved images.
type Display interface {
	// Show shows img in the named window and waits up to wait for a key
	// press. A zero wait returns as soon as the image is drawn, a negative
	// wait blocks until a key is pressed. It returns the key code modulo
	// 256, or NoKey.
	Show(window string, img imagebridge.InterleavedImage, wait time.Duration) (int, error)

	// Close closes all windows.
	Close() error
}

// Show converts a planar image for display and shows it on d. The image is
// not modified.
func Show(d Display, window string, img imagebridge.PlanarImage, wait time.Duration) (int, error) {
	if img.IsEmpty() {
		return NoKey, errors.New("cannot show empty image")
	}
	return d.Show(window, imagebridge.ExportForDisplay(img), wait)
}

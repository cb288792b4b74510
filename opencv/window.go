package opencv

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
	"github.com/edgeimpulse/imagebridge-go/display"
)

// MakeWindow creates a named window. Non-zero width and height resize it.
// The caller must close it.
func MakeWindow(name string, width, height int, fullscreen bool) (*gocv.Window, error) {
	w := gocv.NewWindow(name)
	if width > 0 && height > 0 {
		if err := w.ResizeWindow(width, height); err != nil {
			w.Close()
			return nil, fmt.Errorf("resizing window %q: %v", name, err)
		}
	}
	if fullscreen {
		if err := w.SetWindowProperty(gocv.WindowPropertyFullscreen, gocv.WindowFullscreen); err != nil {
			w.Close()
			return nil, fmt.Errorf("making window %q fullscreen: %v", name, err)
		}
	}
	return w, nil
}

// WindowOpts has options for windows created by Windows.
type WindowOpts struct {
	Width, Height int
	Fullscreen    bool
}

// Windows is a display showing images in OpenCV highgui windows, created on
// first use. OpenCV requires all window calls to be made from the same
// goroutine.
type Windows struct {
	opts WindowOpts

	mutex   sync.Mutex
	windows map[string]*gocv.Window
}

// Check that Windows implements interface display.Display.
var _ display.Display = (*Windows)(nil)

// NewWindows returns a new window display.
func NewWindows(opts *WindowOpts) *Windows {
	d := &Windows{windows: map[string]*gocv.Window{}}
	if opts != nil {
		d.opts = *opts
	}
	return d
}

// waitDelay converts a wait to the millisecond delay of WaitKey, where 0
// waits forever. A zero wait still gives the window 1ms to redraw.
func waitDelay(wait time.Duration) int {
	if wait < 0 {
		return 0
	}
	ms := int((wait + time.Millisecond - 1) / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

// keyCode reduces a WaitKey result to a key code modulo 256.
func keyCode(k int) int {
	if k < 0 {
		return display.NoKey
	}
	return k % 256
}

// Show implements display.Display.
func (d *Windows) Show(window string, img imagebridge.InterleavedImage, wait time.Duration) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	w, ok := d.windows[window]
	if !ok {
		var err error
		w, err = MakeWindow(window, d.opts.Width, d.opts.Height, d.opts.Fullscreen)
		if err != nil {
			return display.NoKey, err
		}
		d.windows[window] = w
	}

	m, err := ToMat(img)
	if err != nil {
		return display.NoKey, err
	}
	defer m.Close()
	if err := w.IMShow(m); err != nil {
		return display.NoKey, fmt.Errorf("showing image in %q: %v", window, err)
	}
	return keyCode(w.WaitKey(waitDelay(wait))), nil
}

// Close implements display.Display.
func (d *Windows) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var first error
	for name, w := range d.windows {
		if err := w.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing window %q: %v", name, err)
		}
		delete(d.windows, name)
	}
	return first
}

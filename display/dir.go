package display

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

// DirOpts has options for a directory display.
type DirOpts struct {
	Verbose bool

	// Keep only the latest image per window instead of numbering them.
	Overwrite bool
}

// Dir is a display that writes every shown image as a PNG file to a
// directory, for headless systems. Keys are never pressed.
type Dir struct {
	dir  string
	opts DirOpts

	mutex sync.Mutex
	seq   map[string]int
}

// Check that Dir implements interface Display.
var _ Display = (*Dir)(nil)

// NewDir returns a display writing to dir, which is created if needed.
func NewDir(dir string, opts *DirOpts) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating display directory: %v", err)
	}
	d := &Dir{dir: dir, seq: map[string]int{}}
	if opts != nil {
		d.opts = *opts
	}
	return d, nil
}

// windowFile returns a file name for the window, without path separators.
func windowFile(window string) string {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, window)
	if s == "" {
		s = "window"
	}
	return s
}

// Show implements Display. It writes img to the next file for window and
// returns NoKey. Wait is ignored.
func (d *Dir) Show(window string, img imagebridge.InterleavedImage, wait time.Duration) (int, error) {
	im, err := img.Image()
	if err != nil {
		return NoKey, fmt.Errorf("converting image: %v", err)
	}

	d.mutex.Lock()
	n := d.seq[window]
	d.seq[window] = n + 1
	d.mutex.Unlock()

	name := windowFile(window) + ".png"
	if !d.opts.Overwrite {
		name = fmt.Sprintf("%s-%06d.png", windowFile(window), n)
	}
	path := filepath.Join(d.dir, name)
	if err := imaging.Save(im, path); err != nil {
		return NoKey, fmt.Errorf("writing %s: %v", path, err)
	}
	if d.opts.Verbose {
		log.Printf("display: wrote %s (%s)", path, img)
	}
	return NoKey, nil
}

// Close implements Display.
func (d *Dir) Close() error {
	return nil
}

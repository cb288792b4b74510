package imagebridge

import (
	"fmt"
	"os"
)

// shmDir is memory-backed on most Linux systems.
var shmDir = "/dev/shm"

// TempDir returns a new directory for short-lived frame files, named after
// kind, e.g. "imagebridge-ffmpeg-123456". The directory is made in shmDir if
// that is a writable directory, and in the OS default temporary directory
// otherwise. The caller removes it.
func TempDir(kind string) (string, error) {
	pattern := "imagebridge-"
	if kind != "" {
		pattern += kind + "-"
	}
	// MkdirTemp would create shmDir itself when missing, i.e. in /dev as root.
	if fi, err := os.Stat(shmDir); err == nil && fi.IsDir() {
		if dir, err := os.MkdirTemp(shmDir, pattern); err == nil {
			return dir, nil
		}
	}
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("making %s temp dir: %v", kind, err)
	}
	return dir, nil
}

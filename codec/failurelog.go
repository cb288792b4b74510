package codec

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// FailureLog is a plain-text file with one line per path that could not be
// loaded. Lines are only ever appended.
type FailureLog struct {
	path  string
	mutex sync.Mutex
}

// NewFailureLog returns a failure log writing to path. The file is created on
// the first Append.
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path}
}

// Path returns the file name of the log.
func (f *FailureLog) Path() string {
	return f.path
}

// Append adds one line for path.
func (f *FailureLog) Append(path string) error {
	if strings.ContainsAny(path, "\r\n") {
		path = strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(path)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	fp, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening failure log: %v", err)
	}
	if _, err := fp.WriteString(path + "\n"); err != nil {
		fp.Close()
		return fmt.Errorf("writing failure log: %v", err)
	}
	return fp.Close()
}

// Entries returns the paths recorded so far. A log that was never written
// has no entries.
func (f *FailureLog) Entries() ([]string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	fp, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("opening failure log: %v", err)
	}
	defer fp.Close()

	var r []string
	b := bufio.NewScanner(fp)
	for b.Scan() {
		r = append(r, b.Text())
	}
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("reading failure log: %v", err)
	}
	return r, nil
}

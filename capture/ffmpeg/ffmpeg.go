// Package ffmpeg implements capture sources that run ffmpeg to decode video
// files or record from V4L2 devices.
//
// Files are checked with ffprobe when opened and decoded to raw BGR frames on
// ffmpeg's stdout. The pipe blocks ffmpeg until the reader catches up, so
// every frame is returned in order.
//
// Devices are recorded to numbered JPEG frames in a temporary directory. Read
// waits for new files with a file change watcher and skips to the newest one.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
	"github.com/edgeimpulse/imagebridge-go/capture"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

const (
	framePrefix = "frame"
	frameSuffix = ".jpg"
)

// OpenerOpts has options for opening ffmpeg sources.
type OpenerOpts struct {
	Verbose bool

	// How long Read waits for ffmpeg to record a device frame before
	// failing. Defaults to 10s.
	FrameTimeout time.Duration

	// Executables to run. Default to "ffmpeg" and "ffprobe" looked up in
	// $PATH.
	FFmpeg  string
	FFprobe string
}

// Opener opens ffmpeg capture sources.
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
	if o.opts.FrameTimeout == 0 {
		o.opts.FrameTimeout = 10 * time.Second
	}
	if o.opts.FFmpeg == "" {
		o.opts.FFmpeg = "ffmpeg"
	}
	if o.opts.FFprobe == "" {
		o.opts.FFprobe = "ffprobe"
	}
	return o
}

func lookPath(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%s: %w", name, errInstallHint)
		}
	}
	return nil
}

// OpenFile returns a source decoding the video file or URL at path. The input
// must have a video stream that ffprobe can read.
func (o *Opener) OpenFile(path string) (capture.Source, error) {
	if err := lookPath(o.opts.FFmpeg, o.opts.FFprobe); err != nil {
		return nil, err
	}
	if !strings.Contains(path, "://") {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
	}
	w, h, err := videoSize(o.opts.FFprobe, path)
	if err != nil {
		return nil, err
	}
	if o.opts.Verbose {
		log.Printf("%s has %dx%d video", path, w, h)
	}
	return &Source{opts: o.opts, input: path, srcWidth: w, srcHeight: h}, nil
}

// OpenDevice returns a source recording from /dev/video<index>. The device
// node must be readable and writable.
func (o *Opener) OpenDevice(index int) (capture.Source, error) {
	if err := lookPath(o.opts.FFmpeg); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/dev/video%d", index)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &Source{opts: o.opts, input: path, device: true}, nil
}

// videoSize returns the size of the first video stream of input.
func videoSize(ffprobe, input string) (int, int, error) {
	cmd := exec.Command(ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		input,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("reading video size of %s: %v: %s", input, err, strings.TrimSpace(stderr.String()))
	}
	w, h, err := parseVideoSize(out)
	if err != nil {
		return 0, 0, fmt.Errorf("reading video size of %s: %v", input, err)
	}
	return w, h, nil
}

// parseVideoSize parses ffprobe's "width,height" output.
func parseVideoSize(out []byte) (int, int, error) {
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if line == "" {
		return 0, 0, fmt.Errorf("no video stream")
	}
	fields := strings.Split(strings.TrimSuffix(line, ","), ",")
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected ffprobe output %q", line)
	}
	w, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad width %q", fields[0])
	}
	h, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad height %q", fields[1])
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("bad video size %dx%d", w, h)
	}
	return w, h, nil
}

// Source is a capture source backed by an ffmpeg process. Ffmpeg is started
// on the first Read, so properties must be set before that.
type Source struct {
	opts   OpenerOpts
	input  string
	device bool

	// Size of the video stream in a file, from ffprobe.
	srcWidth, srcHeight int

	width, height int
	fps           float64

	started bool
	cancel  context.CancelFunc

	// Files.
	cmd     *exec.Cmd
	stdout  io.Reader
	stderr  *bytes.Buffer
	frameW  int
	frameH  int
	frames  int
	eof     bool
	waited  bool
	waitErr error

	// Devices.
	last    int // Number of the last frame returned.
	tempDir string
	watcher *fsnotify.Watcher
	exited  chan struct{}
}

// Check that Source implements interface capture.Source.
var _ capture.Source = (*Source)(nil)

// Set implements capture.Source. Properties cannot be changed once ffmpeg is
// running.
func (s *Source) Set(p capture.Property, v float64) bool {
	if s.started || v <= 0 {
		return false
	}
	switch p {
	case capture.PropFrameWidth:
		s.width = int(v)
	case capture.PropFrameHeight:
		s.height = int(v)
	case capture.PropFPS:
		s.fps = v
	default:
		return false
	}
	return true
}

// outputSize returns the size of decoded file frames. A single requested side
// keeps the aspect ratio of the video.
func (s *Source) outputSize() (int, int) {
	w, h := s.width, s.height
	switch {
	case w > 0 && h > 0:
	case w > 0:
		h = (s.srcHeight*w + s.srcWidth/2) / s.srcWidth
	case h > 0:
		w = (s.srcWidth*h + s.srcHeight/2) / s.srcHeight
	default:
		w, h = s.srcWidth, s.srcHeight
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// args returns the ffmpeg command-line arguments.
func (s *Source) args() []string {
	args := []string{"-nostdin"}
	if !s.opts.Verbose {
		args = append(args, "-loglevel", "error")
	}
	if s.device {
		args = append(args, "-f", "v4l2")
		if s.fps > 0 {
			args = append(args, "-framerate", strconv.FormatFloat(s.fps, 'f', -1, 64))
		}
		if s.width > 0 && s.height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", s.width, s.height))
		}
		return append(args,
			"-i", s.input,
			"-f", "image2",
			"-qscale:v", "2",
			framePrefix+"%06d"+frameSuffix,
		)
	}

	// Rotation metadata would make frames differ from the reported size.
	args = append(args, "-noautorotate", "-i", s.input, "-map", "0:v:0")
	if s.fps > 0 {
		args = append(args, "-r", strconv.FormatFloat(s.fps, 'f', -1, 64))
	}
	if w, h := s.outputSize(); w != s.srcWidth || h != s.srcHeight {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", w, h))
	}
	return append(args,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1",
	)
}

func (s *Source) command(ctx context.Context) *exec.Cmd {
	args := s.args()
	if s.opts.Verbose {
		log.Printf("starting ffmpeg with args %s", args)
	}
	return exec.CommandContext(ctx, s.opts.FFmpeg, args...)
}

func startError(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		err = errInstallHint
	}
	return fmt.Errorf("starting command ffmpeg: %v", err)
}

// startFile starts ffmpeg decoding the file to raw frames on its stdout.
func (s *Source) startFile() (rerr error) {
	s.started = true

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	s.frameW, s.frameH = s.outputSize()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	cmd := s.command(ctx)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %v", err)
	}
	if s.opts.Verbose {
		cmd.Stderr = os.Stderr
	} else {
		s.stderr = &bytes.Buffer{}
		cmd.Stderr = s.stderr
	}
	if err := cmd.Start(); err != nil {
		return startError(err)
	}
	s.cmd = cmd
	s.stdout = stdout
	return nil
}

// startDevice creates the temporary directory, starts watching it, and starts
// ffmpeg recording into it.
func (s *Source) startDevice() (rerr error) {
	s.started = true

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	tempDir, err := imagebridge.TempDir("ffmpeg")
	if err != nil {
		return fmt.Errorf("making temp dir: %v", err)
	}
	s.tempDir = tempDir
	if s.opts.Verbose {
		log.Printf("ffmpeg source, writing frames to tempdir %s", s.tempDir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new file change watcher: %v", err)
	}
	s.watcher = watcher
	if err := watcher.Add(s.tempDir); err != nil {
		return fmt.Errorf("registering file change watcher for temp dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	cmd := s.command(ctx)
	cmd.Dir = s.tempDir
	if s.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return startError(err)
	}
	s.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		if err != nil && s.opts.Verbose {
			log.Printf("ffmpeg exited: %v", err)
		}
		close(s.exited)
	}()
	return nil
}

// Read implements capture.Source. File frames are returned in order. Devices
// skip to the newest complete frame, dropping older ones. Read returns an
// empty image once ffmpeg has exited and all frames have been returned.
func (s *Source) Read() (imagebridge.InterleavedImage, error) {
	if s.device {
		return s.readDevice()
	}
	return s.readFile()
}

func (s *Source) readFile() (imagebridge.InterleavedImage, error) {
	if !s.started {
		if err := s.startFile(); err != nil {
			return imagebridge.InterleavedImage{}, err
		}
	}
	if s.eof {
		return imagebridge.InterleavedImage{}, nil
	}
	if s.stdout == nil {
		return imagebridge.InterleavedImage{}, fmt.Errorf("source closed")
	}

	im := imagebridge.NewInterleavedImage(s.frameW, s.frameH, 3)
	_, err := io.ReadFull(s.stdout, im.Data)
	if err == nil {
		s.frames++
		return im, nil
	}
	if err != io.EOF && err != io.ErrUnexpectedEOF {
		return imagebridge.InterleavedImage{}, fmt.Errorf("reading frame from ffmpeg: %v", err)
	}

	s.eof = true
	if err == io.ErrUnexpectedEOF && s.opts.Verbose {
		log.Printf("dropping partial frame %d", s.frames+1)
	}
	if err := s.wait(); err != nil {
		if s.frames == 0 {
			return imagebridge.InterleavedImage{}, fmt.Errorf("ffmpeg: %v%s", err, s.stderrTail())
		}
		if s.opts.Verbose {
			log.Printf("ffmpeg exited after %d frames: %v", s.frames, err)
		}
	}
	return imagebridge.InterleavedImage{}, nil
}

func (s *Source) wait() error {
	if !s.waited {
		s.waited = true
		s.waitErr = s.cmd.Wait()
	}
	return s.waitErr
}

func (s *Source) stderrTail() string {
	if s.stderr == nil {
		return ""
	}
	msg := strings.TrimSpace(s.stderr.String())
	if msg == "" {
		return ""
	}
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	return ": " + msg
}

func (s *Source) readDevice() (imagebridge.InterleavedImage, error) {
	if !s.started {
		if err := s.startDevice(); err != nil {
			return imagebridge.InterleavedImage{}, err
		}
	}
	if s.watcher == nil {
		return imagebridge.InterleavedImage{}, fmt.Errorf("source closed")
	}

	timeout := time.NewTimer(s.opts.FrameTimeout)
	defer timeout.Stop()

	for {
		exited := s.hasExited()
		nums, err := s.frameNumbers()
		if err != nil {
			return imagebridge.InterleavedImage{}, err
		}
		n, stale, ok := pickFrame(nums, exited)
		for _, k := range stale {
			if err := os.Remove(s.framePath(k)); err != nil && s.opts.Verbose {
				log.Printf("removing skipped frame %d: %v", k, err)
			} else if s.opts.Verbose {
				log.Printf("dropping frame %d, reader too slow", k)
			}
		}
		if ok {
			return s.readFrame(n)
		}
		if exited {
			return imagebridge.InterleavedImage{}, nil
		}

		select {
		case _, ok := <-s.watcher.Events:
			if !ok {
				return imagebridge.InterleavedImage{}, fmt.Errorf("file change watcher closed")
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return imagebridge.InterleavedImage{}, fmt.Errorf("file change watcher closed")
			}
			// Usually a queue overflow. The directory is scanned again anyway.
			if s.opts.Verbose {
				log.Printf("watching for changes: %v", err)
			}
		case <-s.exited:
		case <-timeout.C:
			return imagebridge.InterleavedImage{}, fmt.Errorf("no frame from ffmpeg within %v", s.opts.FrameTimeout)
		}
	}
}

func (s *Source) hasExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

func (s *Source) framePath(n int) string {
	return filepath.Join(s.tempDir, fmt.Sprintf("%s%06d%s", framePrefix, n, frameSuffix))
}

// frameNumbers returns the sorted numbers of frames after the last one read.
func (s *Source) frameNumbers() ([]int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return nil, fmt.Errorf("listing frames: %v", err)
	}
	var nums []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, framePrefix) || !strings.HasSuffix(name, frameSuffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, framePrefix), frameSuffix))
		if err != nil || n <= s.last {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// pickFrame selects the frame to read from the sorted frame numbers. While
// ffmpeg runs, the highest numbered frame may still be partially written, so
// only frames that have a successor are complete. The newest complete frame
// is picked and older ones are returned as stale.
func pickFrame(nums []int, exited bool) (n int, stale []int, ok bool) {
	complete := nums
	if !exited && len(complete) > 0 {
		complete = complete[:len(complete)-1]
	}
	if len(complete) == 0 {
		return 0, nil, false
	}
	return complete[len(complete)-1], complete[:len(complete)-1], true
}

func (s *Source) readFrame(n int) (imagebridge.InterleavedImage, error) {
	path := s.framePath(n)
	s.last = n
	img, err := imaging.Open(path)
	if err != nil {
		return imagebridge.InterleavedImage{}, fmt.Errorf("decoding frame %d: %v", n, err)
	}
	if err := os.Remove(path); err != nil && s.opts.Verbose {
		log.Printf("removing frame %s: %v", path, err)
	}
	return imagebridge.FromImage(img, 3)
}

// Close stops ffmpeg and removes the temporary directory.
func (s *Source) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd != nil {
		s.wait()
		s.stdout = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
	return nil
}

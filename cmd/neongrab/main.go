// Command neongrab grabs frames from a camera or a video stream, converts them
// to planar images, and shows them in a window or writes them to a directory.
//
// Examples:
//
//	# List V4L2 devices and quit.
//	neongrab -listdevices
//
//	# Grab 10 frames from the first camera, writing PNGs to /tmp/frames.
//	neongrab -count 10 -display dir -tracedir /tmp/frames
//
//	# Play a video file in a window, resized to 320x320 model input.
//	neongrab -source stream -backend opencv -path clip.mp4 -display window -resize 320x320
//
//	# Record from /dev/video1 with ffmpeg at 640x480, 15 fps.
//	neongrab -source stream -backend ffmpeg -index 1 -width 640 -height 480 -fps 15 -verbose
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
	"github.com/edgeimpulse/imagebridge-go/camera"
	"github.com/edgeimpulse/imagebridge-go/camera/v4l2"
	"github.com/edgeimpulse/imagebridge-go/capture"
	"github.com/edgeimpulse/imagebridge-go/capture/ffmpeg"
	"github.com/edgeimpulse/imagebridge-go/display"
	"github.com/edgeimpulse/imagebridge-go/opencv"
)

var (
	listDevices bool
	sourceType  string
	backend     string
	devices     string
	path        string
	index       int
	width       int
	height      int
	fps         int
	retries     int
	timeout     time.Duration
	interval    time.Duration
	count       int
	displayType string
	traceDir    string
	fullscreen  bool
	resize      string
	verbose     bool
)

func init() {
	flag.BoolVar(&listDevices, "listdevices", false, "if set, lists devices and exits")
	flag.StringVar(&sourceType, "source", "camera", "where frames come from: camera or stream")
	flag.StringVar(&backend, "backend", "ffmpeg", "stream backend: ffmpeg or opencv")
	flag.StringVar(&devices, "devices", "/dev/video*", "pattern matching camera device nodes")
	flag.StringVar(&path, "path", "", "video file or URL to stream; if empty, the device with -index is used")
	flag.IntVar(&index, "index", 0, "stream device index")
	flag.IntVar(&width, "width", 0, "requested frame width, 0 for the default")
	flag.IntVar(&height, "height", 0, "requested frame height, 0 for the default")
	flag.IntVar(&fps, "fps", 0, "requested stream frame rate, 0 for the default")
	flag.IntVar(&retries, "retries", 10, "camera grab attempts per frame")
	flag.DurationVar(&timeout, "timeout", 500*time.Millisecond, "camera wait per grab attempt")
	flag.DurationVar(&interval, "interval", 0, "minimum time between camera grabs")
	flag.IntVar(&count, "count", 0, "number of frames to grab, 0 grabs until interrupted or the stream ends")
	flag.StringVar(&displayType, "display", "none", "where frames go: none, dir or window")
	flag.StringVar(&traceDir, "tracedir", "frames", "directory for -display dir")
	flag.BoolVar(&fullscreen, "fullscreen", false, "show -display window fullscreen")
	flag.StringVar(&resize, "resize", "", "if set, resize frames to WxH, cropping to keep the aspect ratio")
	flag.BoolVar(&verbose, "verbose", false, "print verbose output")
}

func usage() {
	log.Println("usage: neongrab [flags]")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if len(flag.Args()) != 0 {
		usage()
	}
	os.Exit(main0())
}

// grabber returns the next frame, or the empty image.
type grabber func() imagebridge.PlanarImage

func main0() int {
	if listDevices {
		devs, err := v4l2.ListDevices(devices)
		if err != nil {
			log.Printf("listing devices: %v", err)
			return 1
		}
		for _, dev := range devs {
			l := []string{}
			for _, c := range dev.Caps {
				if c.Usable || verbose {
					l = append(l, fmt.Sprintf("%s@%s", c.Format, c.Size))
				}
			}
			fmt.Printf("%s: %s (caps: %s)\n", dev.Path, dev.Name, strings.Join(l, " "))
		}
		return 0
	}

	var rw, rh int
	if resize != "" {
		if _, err := fmt.Sscanf(resize, "%dx%d", &rw, &rh); err != nil || rw <= 0 || rh <= 0 {
			log.Printf("bad -resize %q, expected WxH", resize)
			return 2
		}
	}

	var grab grabber
	stream := false
	switch sourceType {
	case "camera":
		ropts := &v4l2.RuntimeOpts{
			Verbose: verbose,
			Pattern: devices,
			Width:   uint32(width),
			Height:  uint32(height),
		}
		cfg := &camera.Config{
			Retries: retries,
			Timeout: timeout,
			Verbose: verbose,
		}
		ctl := camera.NewController(v4l2.NewRuntime(ropts), cfg)
		if err := ctl.Init(); err != nil {
			log.Printf("init camera: %v", err)
			return 1
		}
		defer func() {
			s := ctl.Stats()
			log.Printf("camera: %d frames, %d timeouts, %d failures, %d attempts", s.Frames, s.Timeouts, s.Failures, s.Attempts)
			if err := ctl.Terminate(); err != nil {
				log.Printf("terminate camera: %v", err)
			}
		}()
		grab = ctl.GetImage
	case "stream":
		var opener capture.Opener
		switch backend {
		case "ffmpeg":
			opener = ffmpeg.NewOpener(&ffmpeg.OpenerOpts{Verbose: verbose})
		case "opencv":
			opener = opencv.NewOpener(&opencv.OpenerOpts{Verbose: verbose})
		default:
			log.Printf("unknown backend %q", backend)
			return 2
		}
		s, err := capture.Open(opener, path, index, width, height, fps, &capture.StreamOpts{Verbose: verbose})
		if err != nil {
			log.Printf("open stream: %v", err)
			return 1
		}
		defer s.Close()
		grab = s.NextFrame
		stream = true
	default:
		log.Printf("unknown source %q", sourceType)
		return 2
	}

	var disp display.Display
	switch displayType {
	case "none":
	case "dir":
		d, err := display.NewDir(traceDir, &display.DirOpts{Verbose: verbose})
		if err != nil {
			log.Printf("new display: %v", err)
			return 1
		}
		disp = d
	case "window":
		disp = opencv.NewWindows(&opencv.WindowOpts{Fullscreen: fullscreen})
	default:
		log.Printf("unknown display %q", displayType)
		return 2
	}
	if disp != nil {
		defer disp.Close()
	}

	timings, err := imagebridge.NewTimings(30, []string{"grab", "show"})
	if err != nil {
		log.Printf("new timings: %v", err)
		return 1
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	for n := 0; count == 0 || n < count; n++ {
		select {
		case <-signals:
			return 1
		default:
		}

		t0 := time.Now()
		img := grab()
		took := map[string]time.Duration{"grab": time.Since(t0)}
		if img.IsEmpty() {
			if stream {
				log.Printf("end of stream after %d frames", n)
				return 0
			}
			continue
		}
		if rw > 0 {
			img = imagebridge.Fill(img, rw, rh, verbose)
		}

		if disp != nil {
			t1 := time.Now()
			key, err := display.Show(disp, "neongrab", img, 0)
			if err != nil {
				log.Printf("show: %v", err)
				return 1
			}
			took["show"] = time.Since(t1)
			if key == 'q' || key == 27 {
				return 0
			}
		}

		avg, err := timings.Update(took)
		if err != nil {
			log.Printf("timings: %v", err)
		} else if verbose {
			log.Printf("frame %d %s, average grab %v, show %v", n, img, avg["grab"], avg["show"])
		}

		if d := interval - time.Since(t0); d > 0 {
			time.Sleep(d)
		}
	}
	return 0
}

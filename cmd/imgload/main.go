// Command imgload loads still images named on the command line as planar
// images, printing their dimensions and sample statistics. Images that fail
// to decode are replaced by placeholders and recorded in the failure log.
//
// Examples:
//
//	# Load images as color, with the default imaging decoder.
//	imgload -channels 3 a.jpg b.png
//
//	# Load with OpenCV, resize to 96x96, and write the results as PNGs.
//	imgload -decoder opencv -resize 96x96 -outdir /tmp/out *.jpg
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
	"github.com/edgeimpulse/imagebridge-go/codec"
	"github.com/edgeimpulse/imagebridge-go/display"
	"github.com/edgeimpulse/imagebridge-go/opencv"
)

var (
	channels    int
	decoderType string
	failureLog  string
	resize      string
	outDir      string
	verbose     bool
)

func init() {
	flag.IntVar(&channels, "channels", 0, "channels to load: 0 keeps the channels of the file, 1 is grayscale, 3 is color")
	flag.StringVar(&decoderType, "decoder", "imaging", "decoder to use: imaging or opencv")
	flag.StringVar(&failureLog, "faillog", codec.DefaultFailureLog, "file to append paths of images that fail to load to")
	flag.StringVar(&resize, "resize", "", "if set, resize images to WxH, cropping to keep the aspect ratio")
	flag.StringVar(&outDir, "outdir", "", "if set, write loaded images as PNG to the named directory")
	flag.BoolVar(&verbose, "verbose", false, "print verbose output")
}

func usage() {
	log.Println("usage: imgload [flags] image ...")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	os.Exit(main0(args))
}

func main0(args []string) int {
	var decoder codec.Decoder
	switch decoderType {
	case "imaging":
		decoder = codec.ImagingDecoder{}
	case "opencv":
		decoder = opencv.Decoder{}
	default:
		log.Printf("unknown decoder %q", decoderType)
		return 2
	}

	var rw, rh int
	if resize != "" {
		if _, err := fmt.Sscanf(resize, "%dx%d", &rw, &rh); err != nil || rw <= 0 || rh <= 0 {
			log.Printf("bad -resize %q, expected WxH", resize)
			return 2
		}
	}

	var out *display.Dir
	if outDir != "" {
		var err error
		out, err = display.NewDir(outDir, &display.DirOpts{Verbose: verbose, Overwrite: true})
		if err != nil {
			log.Printf("new output dir: %v", err)
			return 1
		}
	}

	loader := codec.NewLoader(&codec.LoaderOpts{
		Verbose:    verbose,
		Decoder:    decoder,
		FailureLog: failureLog,
	})

	before, err := loader.FailureLog().Entries()
	if err != nil {
		log.Printf("reading failure log: %v", err)
		return 1
	}

	for _, path := range args {
		img := loader.Load(path, channels)
		if rw > 0 {
			img = imagebridge.Fill(img, rw, rh, verbose)
		}
		lo, hi, mean := sampleStats(img)
		fmt.Printf("%s: %s min %.3f max %.3f mean %.3f\n", path, img, lo, hi, mean)

		if out != nil {
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if _, err := display.Show(out, name, img, 0); err != nil {
				log.Printf("writing %s: %v", name, err)
			}
		}
	}

	after, err := loader.FailureLog().Entries()
	if err != nil {
		log.Printf("reading failure log: %v", err)
		return 1
	}
	if failed := len(after) - len(before); failed > 0 {
		log.Printf("%d of %d images failed to load, see %s", failed, len(args), loader.FailureLog().Path())
		return 1
	}
	return 0
}

func sampleStats(img imagebridge.PlanarImage) (lo, hi, mean float32) {
	if len(img.Data) == 0 {
		return 0, 0, 0
	}
	lo, hi = img.Data[0], img.Data[0]
	var sum float64
	for _, v := range img.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += float64(v)
	}
	return lo, hi, float32(sum / float64(len(img.Data)))
}

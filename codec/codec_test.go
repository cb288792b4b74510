package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

type stubDecoder struct {
	im    imagebridge.InterleavedImage
	err   error
	modes []ReadMode
}

func (d *stubDecoder) Decode(path string, mode ReadMode) (imagebridge.InterleavedImage, error) {
	d.modes = append(d.modes, mode)
	return d.im, d.err
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	badList := filepath.Join(dir, "bad.list")
	l := NewLoader(&LoaderOpts{FailureLog: badList})

	missing := filepath.Join(dir, "doesnotexist.jpg")
	im := l.Load(missing, 3)
	if im.W != 10 || im.H != 10 || im.C != 3 || len(im.Data) != 300 {
		t.Fatalf("got image %s, expected 10x10x3 placeholder", im)
	}

	entries, err := l.FailureLog().Entries()
	if err != nil {
		t.Fatalf("reading failure log: %v", err)
	}
	if diff := cmp.Diff([]string{missing}, entries); diff != "" {
		t.Fatalf("failure log (-want +got):\n%s", diff)
	}

	l.Load(missing, 0)
	entries, _ = l.FailureLog().Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d failure log entries after second failure, expected 2", len(entries))
	}
}

func TestLoadPNG(t *testing.T) {
	dir := t.TempDir()
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			src.Set(x, y, color.NRGBA{R: 255, G: 0, B: 51, A: 0xff})
		}
	}
	path := filepath.Join(dir, "red.png")
	if err := imaging.Save(src, path); err != nil {
		t.Fatalf("saving png: %v", err)
	}

	l := NewLoader(&LoaderOpts{FailureLog: filepath.Join(dir, "bad.list")})
	im := l.Load(path, 3)
	if im.W != 3 || im.H != 2 || im.C != 3 {
		t.Fatalf("got image %s, expected 3x2x3", im)
	}
	if im.At(1, 1, 0) != 1 || im.At(1, 1, 1) != 0 || im.At(1, 1, 2) != 0.2 {
		t.Fatalf("unexpected pixel %v,%v,%v, expected RGB order 1,0,0.2", im.At(1, 1, 0), im.At(1, 1, 1), im.At(1, 1, 2))
	}

	gray := l.Load(path, 1)
	if gray.C != 1 {
		t.Fatalf("got %d channels, expected 1", gray.C)
	}

	if entries, _ := l.FailureLog().Entries(); len(entries) != 0 {
		t.Fatalf("unexpected failure log entries %v", entries)
	}
}

func TestLoadChannels(t *testing.T) {
	d := &stubDecoder{im: imagebridge.NewInterleavedImage(1, 1, 3)}
	l := NewLoader(&LoaderOpts{Decoder: d, FailureLog: filepath.Join(t.TempDir(), "bad.list")})
	for _, c := range []int{0, 1, 3, 2, 4} {
		l.Load("x.png", c)
	}
	exp := []ReadMode{ReadUnchanged, ReadGrayscale, ReadColor, ReadUnchanged, ReadUnchanged}
	if diff := cmp.Diff(exp, d.modes); diff != "" {
		t.Fatalf("read modes (-want +got):\n%s", diff)
	}
}

func TestLoadDecoderFailure(t *testing.T) {
	for _, d := range []*stubDecoder{
		{err: errors.New("corrupt")},
		{im: imagebridge.InterleavedImage{}},
	} {
		badList := filepath.Join(t.TempDir(), "bad.list")
		l := NewLoader(&LoaderOpts{Decoder: d, FailureLog: badList})
		im := l.Load("broken.jpg", 0)
		if im.W != PlaceholderWidth || im.H != PlaceholderHeight || im.C != PlaceholderChannels {
			t.Fatalf("got %s, expected placeholder", im)
		}
		entries, _ := NewFailureLog(badList).Entries()
		if diff := cmp.Diff([]string{"broken.jpg"}, entries); diff != "" {
			t.Fatalf("failure log (-want +got):\n%s", diff)
		}
	}
}

func TestFailureLogNewline(t *testing.T) {
	f := NewFailureLog(filepath.Join(t.TempDir(), "bad.list"))
	if err := f.Append("a\nb"); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := f.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if diff := cmp.Diff([]string{`a\nb`}, entries); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
}

// exifRotated is an APP1 segment with EXIF orientation 6, rotate 90 clockwise.
var exifRotated = []byte{
	0xff, 0xe1, 0x00, 0x22,
	'E', 'x', 'i', 'f', 0, 0,
	'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08,
	0x00, 0x01,
	0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x06, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// writeRotatedJPEG writes img as a JPEG tagged to be shown rotated.
func writeRotatedJPEG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encoding jpeg: %v", err)
	}
	b := buf.Bytes()
	data := append(append(append([]byte{}, b[:2]...), exifRotated...), b[2:]...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing jpeg: %v", err)
	}
}

func TestImagingOrientation(t *testing.T) {
	dir := t.TempDir()
	colorPath := filepath.Join(dir, "color.jpg")
	writeRotatedJPEG(t, colorPath, image.NewNRGBA(image.Rect(0, 0, 8, 4)))
	grayPath := filepath.Join(dir, "gray.jpg")
	writeRotatedJPEG(t, grayPath, image.NewGray(image.Rect(0, 0, 8, 4)))

	tests := []struct {
		path string
		mode ReadMode
		c    int
	}{
		{colorPath, ReadUnchanged, 3},
		{colorPath, ReadGrayscale, 1},
		{colorPath, ReadColor, 3},
		{grayPath, ReadUnchanged, 1},
		{grayPath, ReadColor, 3},
	}
	for _, tc := range tests {
		im, err := ImagingDecoder{}.Decode(tc.path, tc.mode)
		if err != nil {
			t.Fatalf("decode %s mode %d: %v", tc.path, tc.mode, err)
		}
		if im.W != 4 || im.H != 8 || im.C != tc.c {
			t.Errorf("decode %s mode %d: got %s, expected rotated 4x8x%d", filepath.Base(tc.path), tc.mode, im, tc.c)
		}
	}
}

func TestImagingDropsAlpha(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.png")
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := range src.Pix {
		src.Pix[i] = 0x80
	}
	if err := imaging.Save(src, path); err != nil {
		t.Fatalf("saving png: %v", err)
	}
	im, err := ImagingDecoder{}.Decode(path, ReadUnchanged)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if im.C != 3 {
		t.Fatalf("got %s, expected alpha dropped", im)
	}
}

func TestLoadDropsAlpha(t *testing.T) {
	bgra := imagebridge.NewInterleavedImage(1, 1, 4)
	copy(bgra.Data, []byte{51, 102, 255, 7})
	d := &stubDecoder{im: bgra}
	l := NewLoader(&LoaderOpts{Decoder: d, FailureLog: filepath.Join(t.TempDir(), "bad.list")})
	im := l.Load("alpha.png", 0)
	if im.C != 3 {
		t.Fatalf("got %s, expected 3 channels", im)
	}
	if diff := cmp.Diff([]float32{1, 0.4, 0.2}, im.Data); diff != "" {
		t.Fatalf("pixel is not RGB (-want +got):\n%s", diff)
	}
}

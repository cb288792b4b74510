package opencv

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"gocv.io/x/gocv"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
	"github.com/edgeimpulse/imagebridge-go/codec"
	"github.com/edgeimpulse/imagebridge-go/display"
)

func TestMatRoundTrip(t *testing.T) {
	im, err := imagebridge.NewInterleavedImageStride(2, 2, 3, 8)
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 6; x++ {
			im.Data[y*im.Stride+x] = byte(10*y + x)
		}
	}

	m, err := ToMat(im)
	if err != nil {
		t.Fatalf("to mat: %v", err)
	}
	defer m.Close()
	if m.Rows() != 2 || m.Cols() != 2 || m.Channels() != 3 {
		t.Fatalf("mat is %dx%d with %d channels", m.Cols(), m.Rows(), m.Channels())
	}

	r, err := FromMat(m)
	if err != nil {
		t.Fatalf("from mat: %v", err)
	}
	exp := imagebridge.InterleavedImage{W: 2, H: 2, C: 3, Stride: 6, Data: []byte{0, 1, 2, 3, 4, 5, 10, 11, 12, 13, 14, 15}}
	if diff := cmp.Diff(exp, r); diff != "" {
		t.Fatalf("round trip mismatch (-expected +got):\n%s", diff)
	}

	if _, err := ToMat(imagebridge.NewInterleavedImage(2, 2, 2)); err == nil {
		t.Fatalf("converted two channel image")
	}
	blank := gocv.NewMat()
	defer blank.Close()
	empty, err := FromMat(blank)
	if err != nil || !empty.IsEmpty() {
		t.Fatalf("empty mat gave %s, %v", empty, err)
	}
}

func TestDecoder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "red.png")
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("writing image: %v", err)
	}

	im, err := Decoder{}.Decode(path, codec.ReadColor)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if im.W != 4 || im.H != 3 || im.C != 3 {
		t.Fatalf("decoded %s, expected 4x3x3", im)
	}
	if diff := cmp.Diff([]byte{0, 0, 255}, im.Data[:3]); diff != "" {
		t.Fatalf("pixel is not BGR red (-expected +got):\n%s", diff)
	}

	gray, err := Decoder{}.Decode(path, codec.ReadGrayscale)
	if err != nil || gray.C != 1 {
		t.Fatalf("grayscale decode gave %s, %v", gray, err)
	}

	if _, err := (Decoder{}).Decode(filepath.Join(t.TempDir(), "missing.png"), codec.ReadUnchanged); err == nil {
		t.Fatalf("decoded missing file")
	}

	l := codec.NewLoader(&codec.LoaderOpts{Decoder: Decoder{}, FailureLog: filepath.Join(t.TempDir(), "bad.list")})
	p := l.Load(path, 3)
	if p.W != 4 || p.H != 3 || p.C != 3 || p.At(0, 0, 0) != 1 || p.At(0, 0, 2) != 0 {
		t.Fatalf("loaded %s with first pixel %v, %v, %v", p, p.At(0, 0, 0), p.At(0, 0, 1), p.At(0, 0, 2))
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

func TestDecodersAgree(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 8, 4)), nil); err != nil {
		t.Fatalf("encoding jpeg: %v", err)
	}
	b := buf.Bytes()
	rotated := filepath.Join(dir, "rotated.jpg")
	if err := os.WriteFile(rotated, append(append(append([]byte{}, b[:2]...), exifRotated...), b[2:]...), 0o644); err != nil {
		t.Fatalf("writing jpeg: %v", err)
	}

	alpha := filepath.Join(dir, "alpha.png")
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := range src.Pix {
		src.Pix[i] = 0x80
	}
	if err := imaging.Save(src, alpha); err != nil {
		t.Fatalf("writing png: %v", err)
	}

	tests := []struct {
		path    string
		mode    codec.ReadMode
		w, h, c int
	}{
		{rotated, codec.ReadUnchanged, 4, 8, 3},
		{rotated, codec.ReadGrayscale, 4, 8, 1},
		{rotated, codec.ReadColor, 4, 8, 3},
		{alpha, codec.ReadUnchanged, 3, 2, 3},
		{alpha, codec.ReadColor, 3, 2, 3},
	}
	for _, tc := range tests {
		for _, d := range []codec.Decoder{Decoder{}, codec.ImagingDecoder{}} {
			im, err := d.Decode(tc.path, tc.mode)
			if err != nil {
				t.Fatalf("%T decode %s mode %d: %v", d, tc.path, tc.mode, err)
			}
			if im.W != tc.w || im.H != tc.h || im.C != tc.c {
				t.Errorf("%T decode %s mode %d: got %s, expected %dx%dx%d", d, filepath.Base(tc.path), tc.mode, im, tc.w, tc.h, tc.c)
			}
		}
	}
}

func TestOpenFileMissing(t *testing.T) {
	o := NewOpener(nil)
	if _, err := o.OpenFile(filepath.Join(t.TempDir(), "missing.avi")); err == nil {
		t.Fatalf("opened missing file")
	}
}

func TestWaitDelay(t *testing.T) {
	tests := []struct {
		wait time.Duration
		exp  int
	}{
		{-1, 0},
		{0, 1},
		{time.Microsecond, 1},
		{30 * time.Millisecond, 30},
		{time.Second, 1000},
	}
	for _, tc := range tests {
		if got := waitDelay(tc.wait); got != tc.exp {
			t.Errorf("waitDelay(%v) = %d, expected %d", tc.wait, got, tc.exp)
		}
	}
	if k := keyCode(-1); k != display.NoKey {
		t.Fatalf("keyCode(-1) = %d", k)
	}
	if k := keyCode(0x100000 + 'q'); k != 'q' {
		t.Fatalf("keyCode with modifiers = %d, expected %d", k, 'q')
	}
}

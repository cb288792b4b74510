package display

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

type recorder struct {
	shown []imagebridge.InterleavedImage
}

func (r *recorder) Show(window string, img imagebridge.InterleavedImage, wait time.Duration) (int, error) {
	r.shown = append(r.shown, img)
	return 'q', nil
}

func (r *recorder) Close() error {
	return nil
}

func TestShowExports(t *testing.T) {
	img := imagebridge.NewPlanarImage(1, 1, 3)
	img.Data[0] = 1.5 // Red, out of range.
	img.Data[2] = 0.2 // Blue.
	orig := img.Copy()

	r := &recorder{}
	key, err := Show(r, "w", img, 0)
	if err != nil || key != 'q' {
		t.Fatalf("show: %d, %v", key, err)
	}
	if diff := cmp.Diff(orig, img); diff != "" {
		t.Fatalf("image modified (-before +after):\n%s", diff)
	}
	exp := []byte{51, 0, 255}
	if diff := cmp.Diff(exp, r.shown[0].Data); diff != "" {
		t.Fatalf("shown bytes mismatch (-expected +got):\n%s", diff)
	}

	if _, err := Show(r, "w", imagebridge.EmptyImage(), 0); err == nil {
		t.Fatalf("showed empty image")
	}
}

func TestDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	d, err := NewDir(dir, nil)
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	defer d.Close()

	img := imagebridge.NewPlanarImage(3, 2, 3)
	for x := 0; x < 3; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, 0, 1) // Red.
		}
	}
	for i := 0; i < 2; i++ {
		key, err := Show(d, "cam/0", img, time.Millisecond)
		if err != nil || key != NoKey {
			t.Fatalf("show: %d, %v", key, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{"cam_0-000000.png", "cam_0-000001.png"}, names); diff != "" {
		t.Fatalf("files mismatch (-expected +got):\n%s", diff)
	}

	saved, err := imaging.Open(filepath.Join(dir, names[0]))
	if err != nil {
		t.Fatalf("opening saved image: %v", err)
	}
	if b := saved.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Fatalf("saved image is %dx%d, expected 3x2", b.Dx(), b.Dy())
	}
	c := color.NRGBAModel.Convert(saved.At(1, 1)).(color.NRGBA)
	if c.R != 255 || c.G != 0 || c.B != 0 {
		t.Fatalf("saved pixel is %v, expected red", c)
	}
}

func TestDirOverwrite(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDir(dir, &DirOpts{Overwrite: true})
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	gray := imagebridge.NewInterleavedImage(2, 2, 1)
	for i := 0; i < 3; i++ {
		if _, err := d.Show("", gray, 0); err != nil {
			t.Fatalf("show: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "window.png")); err != nil {
		t.Fatalf("missing window.png: %v", err)
	}
	if _, err := d.Show("x", imagebridge.NewInterleavedImage(2, 2, 2), 0); err == nil {
		t.Fatalf("showed two channel image")
	}
}

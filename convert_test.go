package imagebridge_test

import (
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	imagebridge "github.com/edgeimpulse/imagebridge-go"
)

// quantum is the largest error one byte quantization step may introduce.
const quantum = 1.0/255 + 1e-6

func randomImage(r *rand.Rand, w, h, c int) imagebridge.PlanarImage {
	im := imagebridge.NewPlanarImage(w, h, c)
	for i := range im.Data {
		im.Data[i] = r.Float32()
	}
	return im
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, c := range []int{1, 3} {
		im := randomImage(r, 7, 5, c)
		got := imagebridge.ImportFromNative(imagebridge.ExportForDisplay(im))
		if got.W != im.W || got.H != im.H || got.C != im.C {
			t.Fatalf("round trip changed dimensions from %s to %s", im, got)
		}
		if diff := cmp.Diff(im.Data, got.Data, cmpopts.EquateApprox(0, quantum)); diff != "" {
			t.Fatalf("round trip with %d channels (-want +got):\n%s", c, diff)
		}
	}
}

func TestSwapChannelOrderInvolution(t *testing.T) {
	im := randomImage(rand.New(rand.NewSource(2)), 4, 3, 3)
	orig := im.Copy()

	if err := imagebridge.SwapChannelOrder(im); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if im.At(1, 2, 0) != orig.At(1, 2, 2) || im.At(1, 2, 2) != orig.At(1, 2, 0) || im.At(1, 2, 1) != orig.At(1, 2, 1) {
		t.Fatalf("channels 0 and 2 not exchanged")
	}
	if err := imagebridge.SwapChannelOrder(im); err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if diff := cmp.Diff(orig, im); diff != "" {
		t.Fatalf("double swap is not the identity (-want +got):\n%s", diff)
	}
}

func TestSwapChannelOrderChannelCount(t *testing.T) {
	im := imagebridge.NewPlanarImage(2, 2, 2)
	im.Data[0] = 0.5
	if err := imagebridge.SwapChannelOrder(im); !errors.Is(err, imagebridge.ErrChannelCount) {
		t.Fatalf("got error %v, expected ErrChannelCount", err)
	}
	if im.Data[0] != 0.5 {
		t.Fatalf("image modified on error")
	}
}

func TestLayoutTransposition(t *testing.T) {
	im := imagebridge.NewPlanarImage(2, 2, 2)
	copy(im.Data, []float32{0.0, 0.5, 1.0, 0.25, 0.0, 0.5, 1.0, 0.25})

	il := imagebridge.ToInterleavedByte(im)
	exp := []byte{0, 0, 127, 127, 255, 255, 63, 63}
	if diff := cmp.Diff(exp, il.Data); diff != "" {
		t.Fatalf("interleaved layout (-want +got):\n%s", diff)
	}
	if il.Stride != 4 {
		t.Fatalf("got stride %d, expected 4", il.Stride)
	}

	got := imagebridge.ToPlanarFloat(il)
	if diff := cmp.Diff(im, got, cmpopts.EquateApprox(0, quantum)); diff != "" {
		t.Fatalf("transposition round trip (-want +got):\n%s", diff)
	}
}

func TestToPlanarFloatStride(t *testing.T) {
	il, err := imagebridge.NewInterleavedImageStride(2, 2, 3, 8)
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	copy(il.Data, []byte{
		10, 20, 30, 40, 50, 60, 0xee, 0xee,
		70, 80, 90, 100, 110, 120, 0xee, 0xee,
	})
	im := imagebridge.ToPlanarFloat(il)
	exp := []float32{10, 40, 70, 100, 20, 50, 80, 110, 30, 60, 90, 120}
	for i := range exp {
		exp[i] /= 255
	}
	if diff := cmp.Diff(exp, im.Data); diff != "" {
		t.Fatalf("planar samples (-want +got):\n%s", diff)
	}

	if _, err := imagebridge.NewInterleavedImageStride(2, 2, 3, 5); err == nil {
		t.Fatalf("missing error for stride smaller than row")
	}
}

func TestExportForDisplay(t *testing.T) {
	im := imagebridge.NewPlanarImage(1, 1, 3)
	copy(im.Data, []float32{1.5, 0.5, -0.25})
	orig := im.Copy()

	il := imagebridge.ExportForDisplay(im)
	if diff := cmp.Diff([]byte{0, 127, 255}, il.Data); diff != "" {
		t.Fatalf("exported BGR bytes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(orig, im); diff != "" {
		t.Fatalf("source image modified (-want +got):\n%s", diff)
	}
}

func TestImportFromNativeGray(t *testing.T) {
	il := imagebridge.NewInterleavedImage(2, 1, 1)
	copy(il.Data, []byte{0, 255})
	im := imagebridge.ImportFromNative(il)
	if diff := cmp.Diff([]float32{0, 1}, im.Data); diff != "" {
		t.Fatalf("gray import (-want +got):\n%s", diff)
	}
}

func TestEmptyImage(t *testing.T) {
	if !imagebridge.EmptyImage().IsEmpty() {
		t.Fatalf("empty image not empty")
	}
	if imagebridge.NewPlanarImage(10, 10, 3).IsEmpty() {
		t.Fatalf("placeholder reported as empty")
	}
	if err := imagebridge.NewPlanarImage(3, 2, 3).Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	bad := imagebridge.PlanarImage{W: 2, H: 2, C: 3, Data: make([]float32, 5)}
	if err := bad.Validate(); err == nil {
		t.Fatalf("missing error for short buffer")
	}
}

func TestFromImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0xff})
	src.Set(1, 0, color.NRGBA{R: 40, G: 50, B: 60, A: 0xff})

	il, err := imagebridge.FromImage(src, 0)
	if err != nil {
		t.Fatalf("from image: %v", err)
	}
	if diff := cmp.Diff([]byte{30, 20, 10, 60, 50, 40}, il.Data); diff != "" {
		t.Fatalf("native bytes are not BGR (-want +got):\n%s", diff)
	}

	im := imagebridge.ImportFromNative(il)
	if got := im.At(0, 0, 0); got != 10.0/255 {
		t.Fatalf("planar channel 0 is %v, expected red 10/255", got)
	}

	back, err := il.Image()
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if diff := cmp.Diff(src.Pix, back.(*image.NRGBA).Pix); diff != "" {
		t.Fatalf("image round trip (-want +got):\n%s", diff)
	}

	gray, err := imagebridge.FromImage(src, 1)
	if err != nil {
		t.Fatalf("from image gray: %v", err)
	}
	if gray.C != 1 || len(gray.Data) != 2 {
		t.Fatalf("unexpected gray image %s", gray)
	}

	if _, err := imagebridge.FromImage(src, 2); err == nil {
		t.Fatalf("missing error for 2 channels")
	}
}

func TestFill(t *testing.T) {
	im := imagebridge.NewPlanarImage(4, 2, 3)
	for i := range im.Data {
		im.Data[i] = 1
	}
	r := imagebridge.Fill(im, 2, 2, false)
	if r.W != 2 || r.H != 2 || r.C != 3 {
		t.Fatalf("got %s, expected 2x2x3", r)
	}
	for i, v := range r.Data {
		if v != 1 {
			t.Fatalf("sample %d is %v, expected 1", i, v)
		}
	}
}

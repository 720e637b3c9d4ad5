package visualization

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"voxview/internal/models"
)

// renderGray renders slice and requires 16-bit gray output
func renderGray(t *testing.T, opts RenderOptions, slice *mat.Dense) *image.Gray16 {
	t.Helper()
	img, err := NewViewer(opts).Render(slice)
	if err != nil {
		t.Fatalf("Failed to render slice: %v", err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("Expected *image.Gray16, got %T", img)
	}
	return gray
}

// TestRender verifies autoscaling maps the slice range onto the full gray range
func TestRender(t *testing.T) {
	slice := mat.NewDense(2, 3, []float64{
		10, 20, 30,
		40, 50, 60,
	})
	img := renderGray(t, RenderOptions{Autoscale: true}, slice)

	bounds := img.Bounds()
	if bounds.Dx() != 3 || bounds.Dy() != 2 {
		t.Errorf("Expected 3x2 image, got %dx%d", bounds.Dx(), bounds.Dy())
	}
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected minimum to map to 0, got %d", got)
	}
	if got := img.Gray16At(2, 1).Y; got != 65535 {
		t.Errorf("Expected maximum to map to 65535, got %d", got)
	}
}

// TestRenderFlips verifies FlipX and FlipY move the first sample to the
// opposite corners
func TestRenderFlips(t *testing.T) {
	slice := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 0,
	})

	tests := []struct {
		opts RenderOptions
		x, y int
	}{
		{RenderOptions{Autoscale: true}, 0, 0},
		{RenderOptions{Autoscale: true, FlipX: true}, 1, 0},
		{RenderOptions{Autoscale: true, FlipY: true}, 0, 1},
		{RenderOptions{Autoscale: true, FlipX: true, FlipY: true}, 1, 1},
	}
	for _, tt := range tests {
		img := renderGray(t, tt.opts, slice)
		if got := img.Gray16At(tt.x, tt.y).Y; got != 65535 {
			t.Errorf("flipX=%v flipY=%v: expected bright pixel at (%d,%d), got %d",
				tt.opts.FlipX, tt.opts.FlipY, tt.x, tt.y, got)
		}
	}
}

func TestRenderFixedWindow(t *testing.T) {
	slice := mat.NewDense(1, 3, []float64{-1, 0.5, 2})
	img := renderGray(t, RenderOptions{Low: 0, High: 1}, slice)
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected values below the window to clamp to 0, got %d", got)
	}
	if got := img.Gray16At(1, 0).Y; got != 32768 {
		t.Errorf("Expected mid window value 32768, got %d", got)
	}
	if got := img.Gray16At(2, 0).Y; got != 65535 {
		t.Errorf("Expected values above the window to clamp to 65535, got %d", got)
	}

	flat := mat.NewDense(2, 2, []float64{3, 3, 3, 3})
	img = renderGray(t, RenderOptions{Autoscale: true, Colormap: Gray}, flat)
	if got := img.Gray16At(1, 1).Y; got != 0 {
		t.Errorf("Expected constant slice to render black, got %d", got)
	}
}

func TestRenderAspectRatio(t *testing.T) {
	slice := mat.NewDense(4, 6, nil)
	img, err := NewViewer(RenderOptions{Autoscale: true, AspectRatio: 2}).Render(slice)
	if err != nil {
		t.Fatalf("Failed to render slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 6 || b.Dy() != 8 {
		t.Errorf("Expected 6x8 image, got %dx%d", b.Dx(), b.Dy())
	}
}

// TestRenderIgnoresNaN verifies one NaN sample does not black out the
// autoscaled image
func TestRenderIgnoresNaN(t *testing.T) {
	slice := mat.NewDense(2, 2, []float64{
		0, math.NaN(),
		5, 10,
	})
	img := renderGray(t, RenderOptions{Autoscale: true}, slice)
	if got := img.Gray16At(1, 1).Y; got != 65535 {
		t.Errorf("Expected maximum to map to 65535, got %d", got)
	}
	if got := img.Gray16At(0, 1).Y; got != 32768 {
		t.Errorf("Expected 5 to map to 32768, got %d", got)
	}
	if got := img.Gray16At(1, 0).Y; got != 0 {
		t.Errorf("Expected NaN to render black, got %d", got)
	}

	allNaN := mat.NewDense(1, 2, []float64{math.NaN(), math.NaN()})
	renderGray(t, RenderOptions{Autoscale: true}, allNaN)
}

func TestRenderColormap(t *testing.T) {
	slice := mat.NewDense(1, 3, []float64{0, math.NaN(), 1})
	img, err := NewViewer(RenderOptions{Autoscale: true, Colormap: Viridis}).Render(slice)
	if err != nil {
		t.Fatalf("Failed to render slice: %v", err)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		t.Fatalf("Expected *image.RGBA, got %T", img)
	}
	low, high := rgba.RGBAAt(0, 0), rgba.RGBAAt(2, 0)
	if low.B <= low.G || high.G <= high.B {
		t.Errorf("Expected viridis to run from purple to yellow, got %v and %v", low, high)
	}
	if low.A != 255 || high.A != 255 {
		t.Errorf("Expected opaque samples, got alpha %d and %d", low.A, high.A)
	}
	if got := rgba.RGBAAt(1, 0).A; got != 0 {
		t.Errorf("Expected NaN to stay transparent, got alpha %d", got)
	}

	for _, name := range Colormaps() {
		if _, err := NewViewer(RenderOptions{Autoscale: true, Colormap: name}).Render(slice); err != nil {
			t.Errorf("Failed to render with colormap %s: %v", name, err)
		}
	}
	if _, err := NewViewer(RenderOptions{Colormap: "jet"}).Render(slice); err == nil {
		t.Errorf("Expected error for an unknown colormap")
	}
	if !ValidColormap("") || !ValidColormap("Viridis") || ValidColormap("jet") {
		t.Errorf("Unexpected ValidColormap results")
	}
}

// TestRenderColorbar verifies the bar sits right of the slice, bright at
// the top
func TestRenderColorbar(t *testing.T) {
	slice := mat.NewDense(3, 4, nil)
	img := renderGray(t, RenderOptions{Low: 0, High: 1, Colorbar: true}, slice)

	wantWidth := 4 + colorbarGap + colorbarMinWidth
	if b := img.Bounds(); b.Dx() != wantWidth || b.Dy() != 3 {
		t.Fatalf("Expected %dx3 image, got %dx%d", wantWidth, b.Dx(), b.Dy())
	}
	x := wantWidth - 1
	if got := img.Gray16At(x, 0).Y; got != 65535 {
		t.Errorf("Expected colorbar top to be white, got %d", got)
	}
	if got := img.Gray16At(x, 2).Y; got != 0 {
		t.Errorf("Expected colorbar bottom to be black, got %d", got)
	}
}

func TestDefaultRenderOptions(t *testing.T) {
	if DefaultRenderOptions(models.Axial).FlipY {
		t.Errorf("Expected axial slices to keep row order")
	}
	if !DefaultRenderOptions(models.Sagittal).FlipY {
		t.Errorf("Expected sagittal slices to be flipped vertically")
	}
	if got := DefaultRenderOptions(models.Axial).Colormap; got != Viridis {
		t.Errorf("Expected viridis by default, got %q", got)
	}
}

func TestEncode(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := Encode(&buf, img, "png"); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	decoded, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("Failed to decode png: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("Expected bounds %v, got %v", img.Bounds(), decoded.Bounds())
	}
	if err := Encode(&buf, img, "tiff"); err == nil {
		t.Errorf("Expected error for unsupported format")
	}
}

// fakeSource serves depth 3x3 slices with the index in the top left corner.
type fakeSource struct {
	depth int
}

func (f fakeSource) SliceCount(string, models.Orientation, *models.Size) int {
	return f.depth
}

func (f fakeSource) ImageSlice(_ string, index int, _ models.Orientation, _ *models.Size) (*mat.Dense, error) {
	if index >= f.depth {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	s := mat.NewDense(3, 3, nil)
	s.Set(0, 0, float64(index))
	return s, nil
}

// TestSaveSliceSequence verifies that slice sequences are written as files
func TestSaveSliceSequence(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "slices")
	viewer := NewViewer(DefaultRenderOptions(models.Axial))

	n, err := viewer.SaveSliceSequence(fakeSource{depth: 3}, "vol.bin", models.Axial, nil, outputDir)
	if err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 slices written, got %d", n)
	}
	for i := 0; i < 3; i++ {
		path := filepath.Join(outputDir, fmt.Sprintf("slice_axial_%03d.png", i))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected file %s to exist: %v", path, err)
		}
	}

	if _, err := viewer.SaveSliceSequence(fakeSource{}, "empty.bin", models.Axial, nil, outputDir); err == nil {
		t.Errorf("Expected error for a volume without slices")
	}
}

func TestSaveSliceUnknownExtension(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 2, 2))
	path := filepath.Join(t.TempDir(), "slice.bmp")
	if err := NewViewer(RenderOptions{}).SaveSlice(img, path); err == nil {
		t.Errorf("Expected error for .bmp output")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected failed output to be removed")
	}
}

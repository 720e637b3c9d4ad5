package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/palette"

	"voxview/internal/models"
	"voxview/pkg/interpolation"
)

// RenderOptions controls how a slice becomes an image
type RenderOptions struct {
	// FlipX mirrors columns
	FlipX bool

	// FlipY draws the first row at the bottom of the image
	FlipY bool

	// Autoscale maps the slice's own min and max onto the full range.
	// When false, Low and High are used.
	Autoscale bool
	Low       float64
	High      float64

	// AspectRatio is the pixel height over width; 0 or 1 leaves the
	// slice unscaled
	AspectRatio float64

	// Colormap is one of Colormaps(). Empty or "gray" renders 16-bit
	// grayscale, anything else RGBA.
	Colormap string

	// Colorbar appends a strip showing the colormap from Low (bottom) to
	// High (top)
	Colorbar bool
}

// DefaultRenderOptions returns the display defaults for orientation o.
func DefaultRenderOptions(o models.Orientation) RenderOptions {
	return RenderOptions{
		FlipY:     o.DefaultFlipY(),
		Autoscale: true,
		High:      1,
		Colormap:  Viridis,
	}
}

// Viewer turns 2D slices into images and writes them out.
type Viewer struct {
	opts RenderOptions
}

// NewViewer creates a new slice viewer
func NewViewer(opts RenderOptions) *Viewer {
	return &Viewer{opts: opts}
}

// Options returns the viewer's render options.
func (v *Viewer) Options() RenderOptions {
	return v.opts
}

// colorbar geometry in pixels
const (
	colorbarGap      = 2
	colorbarMinWidth = 4
)

// Render maps a slice to an image. Rows of the slice become image rows.
// The result is an *image.Gray16 for gray output and an *image.RGBA
// otherwise. NaN samples are left black (gray) or transparent (color).
func (v *Viewer) Render(slice *mat.Dense) (image.Image, error) {
	rows, cols := slice.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("cannot render an empty slice")
	}
	cm, err := newColorMap(v.opts.Colormap)
	if err != nil {
		return nil, err
	}

	if v.opts.AspectRatio > 0 && v.opts.AspectRatio != 1 {
		r, c := interpolation.DisplaySize(rows, cols, v.opts.AspectRatio)
		scaled, err := interpolation.Resample(slice, r, c)
		if err != nil {
			return nil, err
		}
		slice, rows, cols = scaled, r, c
	}

	lo, hi := v.opts.Low, v.opts.High
	if v.opts.Autoscale {
		lo, hi = dataRange(slice)
	}
	span := hi - lo

	width := cols
	if v.opts.Colorbar {
		width += colorbarGap + colorbarWidth(cols)
	}
	bounds := image.Rect(0, 0, width, rows)
	var img draw.Image = image.NewGray16(bounds)
	if cm != nil {
		img = image.NewRGBA(bounds)
	}

	for r := 0; r < rows; r++ {
		y := r
		if v.opts.FlipY {
			y = rows - 1 - r
		}
		for c := 0; c < cols; c++ {
			x := c
			if v.opts.FlipX {
				x = cols - 1 - c
			}
			sample := slice.At(r, c)
			if math.IsNaN(sample) {
				continue
			}
			level := 0.0
			if span > 0 {
				level = math.Max(0, math.Min(1, (sample-lo)/span))
			}
			img.Set(x, y, levelColor(cm, level))
		}
	}

	if v.opts.Colorbar {
		for y := 0; y < rows; y++ {
			level := 1.0
			if rows > 1 {
				level = 1 - float64(y)/float64(rows-1)
			}
			c := levelColor(cm, level)
			for x := cols + colorbarGap; x < width; x++ {
				img.Set(x, y, c)
			}
		}
	}
	return img, nil
}

// dataRange returns the min and max of slice ignoring NaNs. An all-NaN
// slice yields (0, 0).
func dataRange(slice *mat.Dense) (lo, hi float64) {
	rows, _ := slice.Dims()
	lo, hi = math.Inf(1), math.Inf(-1)
	for r := 0; r < rows; r++ {
		row := slice.RawRowView(r)
		if !floats.HasNaN(row) {
			lo = math.Min(lo, floats.Min(row))
			hi = math.Max(hi, floats.Max(row))
			continue
		}
		for _, x := range row {
			if !math.IsNaN(x) {
				lo = math.Min(lo, x)
				hi = math.Max(hi, x)
			}
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

func colorbarWidth(cols int) int {
	return max(colorbarMinWidth, cols/16)
}

// levelColor maps a level in [0, 1] through cm, or onto 16-bit gray when
// cm is nil.
func levelColor(cm palette.ColorMap, level float64) color.Color {
	if cm == nil {
		return color.Gray16{Y: uint16(math.Round(level * 65535))}
	}
	c, err := cm.At(level)
	if err != nil {
		return color.Black
	}
	return c
}

// Encode writes img as PNG or JPEG depending on format ("png", "jpg" or
// "jpeg").
func Encode(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	}
	return fmt.Errorf("unsupported image format %q (must be png or jpeg)", format)
}

// SaveSlice saves an image, choosing the encoding from the file extension
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	format := strings.TrimPrefix(filepath.Ext(filename), ".")
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := Encode(file, img, format); err != nil {
		file.Close()
		os.Remove(filename)
		return err
	}
	return file.Close()
}

// SliceSource yields the slices of a volume. *provider.Provider
// implements it.
type SliceSource interface {
	SliceCount(path string, o models.Orientation, hint *models.Size) int
	ImageSlice(path string, index int, o models.Orientation, hint *models.Size) (*mat.Dense, error)
}

// SaveSliceSequence renders every slice of path along o into outputDir as
// PNG files and returns how many were written.
func (v *Viewer) SaveSliceSequence(src SliceSource, path string, o models.Orientation, hint *models.Size, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	count := src.SliceCount(path, o, hint)
	if count == 0 {
		return 0, fmt.Errorf("no %s slices available for %s", o, path)
	}

	for pos := 0; pos < count; pos++ {
		slice, err := src.ImageSlice(path, pos, o, hint)
		if err != nil {
			return pos, err
		}
		img, err := v.Render(slice)
		if err != nil {
			return pos, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", o, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}
	return count, nil
}

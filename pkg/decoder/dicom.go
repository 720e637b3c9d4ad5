package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/sync/errgroup"

	"voxview/internal/models"
)

var dicomFileExtensions = []string{".dcm", ".dicom"}

// DICOM decodes single DICOM files and directories holding one series.
// Only uncompressed pixel data is supported.
type DICOM struct {
	// Workers bounds how many series files are parsed at once
	Workers int
	Logger  *slog.Logger
}

// NewDICOM returns a DICOM decoder parsing up to workers files at once.
func NewDICOM(workers int, logger *slog.Logger) *DICOM {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DICOM{Workers: workers, Logger: logger}
}

func (*DICOM) Name() string { return "dicom" }

func (*DICOM) Extensions() []string {
	return append([]string{""}, dicomFileExtensions...)
}

func (d *DICOM) Decode(path string, _ *models.Size) (*Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return d.decodeSeries(path)
	}
	if Ext(path) == "" {
		return nil, errors.New("path must be a directory of DICOM files or a single DICOM file")
	}
	img, err := readDICOMImage(path)
	if err != nil {
		return nil, err
	}
	vol, affine, err := assembleSeries([]*dicomImage{img})
	if err != nil {
		return nil, err
	}
	return &Result{Volume: vol, Affine: affine, Decoder: d.Name()}, nil
}

// LooksLikeDICOMDir reports whether dir should be tried as a DICOM series
// before anything else: it has no extension of its own, or it contains a
// file with a DICOM extension.
func LooksLikeDICOMDir(dir string) bool {
	if Ext(dir) == "" {
		return true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Type().IsRegular() && isDICOMName(e.Name()) {
			return true
		}
	}
	return false
}

func isDICOMName(name string) bool {
	ext := Ext(name)
	for _, e := range dicomFileExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (d *DICOM) decodeSeries(dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ext := Ext(e.Name()); ext == "" || isDICOMName(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no candidate DICOM files in %s", dir)
	}

	images := make([]*dicomImage, len(files))
	skipped := make([]error, len(files))
	var g errgroup.Group
	g.SetLimit(d.Workers)
	for i, file := range files {
		// an unreadable file is skipped, not fatal, so workers report
		// through skipped and never cancel the group
		g.Go(func() error {
			img, err := readDICOMImage(file)
			if err != nil {
				skipped[i] = err
				return nil
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := images[:0]
	var reasons []error
	for i, img := range images {
		if img != nil {
			found = append(found, img)
			continue
		}
		d.Logger.Debug("skipping series file", "file", files[i], "error", skipped[i])
		reasons = append(reasons, skipped[i])
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no readable DICOM images among %d files in %s: %w",
			len(files), dir, errors.Join(reasons...))
	}
	if len(reasons) > 0 {
		d.Logger.Info("skipped unreadable series files", "dir", dir, "skipped", len(reasons), "files", len(files))
	}

	vol, affine, err := assembleSeries(found)
	if err != nil {
		return nil, err
	}
	d.Logger.Debug("assembled DICOM series", "dir", dir, "slices", vol.Depth, "files", len(files))
	return &Result{Volume: vol, Affine: affine, Decoder: d.Name()}, nil
}

// dicomImage is the subset of one DICOM instance needed to place its
// frames in a volume.
type dicomImage struct {
	file     string
	rows     int
	cols     int
	frames   [][]float64
	instance int

	// geometry; nil slices mean the attribute was absent
	position       []float64
	orientation    []float64
	pixelSpacing   []float64
	sliceThickness float64
	sliceSpacing   float64
}

func readDICOMImage(path string) (*dicomImage, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	img := &dicomImage{file: path}
	img.rows, _ = intValue(ds, tag.Rows)
	img.cols, _ = intValue(ds, tag.Columns)
	img.instance, _ = intValue(ds, tag.InstanceNumber)
	img.position, _ = floatValues(ds, tag.ImagePositionPatient)
	img.orientation, _ = floatValues(ds, tag.ImageOrientationPatient)
	img.pixelSpacing, _ = floatValues(ds, tag.PixelSpacing)
	if v, ok := floatValues(ds, tag.SliceThickness); ok && len(v) > 0 {
		img.sliceThickness = v[0]
	}
	if v, ok := floatValues(ds, tag.SpacingBetweenSlices); ok && len(v) > 0 {
		img.sliceSpacing = v[0]
	}

	slope, intercept := 1.0, 0.0
	if v, ok := floatValues(ds, tag.RescaleSlope); ok && len(v) > 0 {
		slope = v[0]
	}
	if v, ok := floatValues(ds, tag.RescaleIntercept); ok && len(v) > 0 {
		intercept = v[0]
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%s has no pixel data", filepath.Base(path))
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected pixel data value", filepath.Base(path))
	}
	if info.IsEncapsulated {
		return nil, fmt.Errorf("%s: compressed pixel data is not supported", filepath.Base(path))
	}
	for i, fr := range info.Frames {
		if fr.Encapsulated {
			return nil, fmt.Errorf("%s: frame %d is encapsulated", filepath.Base(path), i)
		}
		native := fr.NativeData
		if img.rows == 0 || img.cols == 0 {
			img.rows, img.cols = native.Rows, native.Cols
		}
		if native.Rows != img.rows || native.Cols != img.cols || len(native.Data) != img.rows*img.cols {
			return nil, fmt.Errorf("%s: frame %d is %dx%d with %d pixels, expected %dx%d",
				filepath.Base(path), i, native.Rows, native.Cols, len(native.Data), img.rows, img.cols)
		}
		pixels := make([]float64, len(native.Data))
		for p, samples := range native.Data {
			if len(samples) > 0 {
				pixels[p] = float64(samples[0])*slope + intercept
			}
		}
		img.frames = append(img.frames, pixels)
	}
	if len(img.frames) == 0 {
		return nil, fmt.Errorf("%s has no image frames", filepath.Base(path))
	}
	return img, nil
}

func intValue(ds dicom.Dataset, t tag.Tag) (int, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			return n, err == nil
		}
	}
	return 0, false
}

func floatValues(ds dicom.Dataset, t tag.Tag) ([]float64, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, false
	}
	switch v := el.Value.GetValue().(type) {
	case []float64:
		return v, len(v) > 0
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, len(out) > 0
	case []string:
		var out []float64
		for _, s := range v {
			// multi-valued DS attributes may arrive as one backslash joined string
			for _, part := range strings.Split(s, `\`) {
				f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err != nil {
					return nil, false
				}
				out = append(out, f)
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

// assembleSeries orders images along the slice normal and stacks their
// frames into a volume. The affine is only built when pixel spacing is
// known.
func assembleSeries(images []*dicomImage) (*models.Volume, *models.Affine, error) {
	if len(images) == 0 {
		return nil, nil, errors.New("no images to assemble")
	}
	first := images[0]
	for _, img := range images[1:] {
		if img.rows != first.rows || img.cols != first.cols {
			return nil, nil, fmt.Errorf("series mixes %dx%d and %dx%d images (%s)",
				first.rows, first.cols, img.rows, img.cols, filepath.Base(img.file))
		}
	}

	rowCos, colCos := [3]float64{1, 0, 0}, [3]float64{0, 1, 0}
	if len(first.orientation) == 6 {
		copy(rowCos[:], first.orientation[0:3])
		copy(colCos[:], first.orientation[3:6])
	}
	normal := cross(rowCos, colCos)

	havePositions := true
	for _, img := range images {
		if len(img.position) != 3 {
			havePositions = false
			break
		}
	}
	sorted := append([]*dicomImage(nil), images...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if havePositions {
			pa, pb := dot(normal, a.position), dot(normal, b.position)
			if pa != pb {
				return pa < pb
			}
		}
		if a.instance != b.instance {
			return a.instance < b.instance
		}
		return a.file < b.file
	})

	frameSize := first.rows * first.cols
	var data []float64
	for _, img := range sorted {
		for _, fr := range img.frames {
			if len(fr) != frameSize {
				return nil, nil, fmt.Errorf("%s: frame has %d pixels, expected %d", filepath.Base(img.file), len(fr), frameSize)
			}
			data = append(data, fr...)
		}
	}
	vol, err := models.NewVolume(data, first.cols, first.rows, len(data)/frameSize)
	if err != nil {
		return nil, nil, err
	}

	if len(first.pixelSpacing) < 2 {
		return vol, nil, nil
	}
	rowSpacing, colSpacing := first.pixelSpacing[0], first.pixelSpacing[1]

	spacing := 0.0
	if havePositions && len(sorted) > 1 {
		spacing = math.Abs(dot(normal, sorted[1].position) - dot(normal, sorted[0].position))
	}
	for _, candidate := range []float64{first.sliceSpacing, first.sliceThickness, 1} {
		if spacing > 0 {
			break
		}
		spacing = candidate
	}

	var origin [3]float64
	if len(sorted[0].position) == 3 {
		copy(origin[:], sorted[0].position)
	}
	affine := models.NewAffine(scale(rowCos, colSpacing), scale(colCos, rowSpacing), scale(normal, spacing), origin)
	return vol, affine, nil
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a [3]float64, b []float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func scale(v [3]float64, s float64) [3]float64 {
	return [3]float64{v[0] * s, v[1] * s, v[2] * s}
}

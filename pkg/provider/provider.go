// Package provider serves 2D cross-sections of volumes loaded through a
// decoder registry, keeping the most recently decoded volume in a single
// cache slot.
//
// A Provider is not safe for concurrent use. Callers that share one across
// goroutines must serialize access.
package provider

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"voxview/internal/models"
	"voxview/pkg/decoder"
	"voxview/pkg/metrics"
)

var (
	// ErrIndexOutOfRange is returned for slice indices outside [0, count).
	// Callers are expected to clamp before asking.
	ErrIndexOutOfRange = errors.New("slice index out of range")

	// ErrNoVolume is returned when an operation needs a path and none was given.
	ErrNoVolume = errors.New("no volume path given")

	// ErrInvalidOrientation is returned for orientations outside the three planes.
	ErrInvalidOrientation = errors.New("invalid orientation")
)

// Loader decodes volumes. *decoder.Registry implements it.
type Loader interface {
	Decode(path string, hint *models.Size) (*decoder.Result, error)
	Extensions() []string
}

// cacheEntry is the single memoized volume. It is replaced wholesale.
type cacheEntry struct {
	path    string
	volume  *models.Volume
	affine  *models.Affine
	decoder string
}

// Provider memoizes the last decoded volume and answers slice queries on it.
type Provider struct {
	loader  Loader
	logger  *slog.Logger
	metrics *metrics.Metrics
	entry   *cacheEntry
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets a logger for cache and load events.
// If nil, a discard logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithMetrics records cache hits and misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) {
		p.metrics = m
	}
}

// New creates a provider with an empty cache slot.
func New(loader Loader, opts ...Option) *Provider {
	p := &Provider{loader: loader}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Load returns the volume for path, decoding it only when path differs
// from the cached one. On failure the cache is left empty.
func (p *Provider) Load(path string, hint *models.Size) (*models.Volume, error) {
	if path == "" {
		return nil, ErrNoVolume
	}
	if p.entry != nil && p.entry.path == path {
		p.metrics.IncrementCacheHits()
		p.logger.Debug("volume cache hit", "path", path)
		return p.entry.volume, nil
	}

	p.metrics.IncrementCacheMisses()
	// the previous volume is released before decoding the next one
	p.entry = nil

	res, err := p.loader.Decode(path, hint)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	p.entry = &cacheEntry{
		path:    path,
		volume:  res.Volume,
		affine:  res.Affine,
		decoder: res.Decoder,
	}
	p.logger.Info("volume loaded", "path", path, "decoder", res.Decoder,
		"size", res.Volume.Size().String(), "affine", res.Affine != nil)
	return res.Volume, nil
}

// SliceCount returns the number of slices along o's axis, or 0 when the
// volume cannot be loaded.
func (p *Provider) SliceCount(path string, o models.Orientation, hint *models.Size) int {
	if !o.Valid() {
		return 0
	}
	vol, err := p.Load(path, hint)
	if err != nil {
		return 0
	}
	return vol.Extent(o)
}

// ImageSlice returns slice index of the volume at path along o.
//
// Axial slices are (y, x) = V[i,:,:], coronal slices are (z, x) = V[:,i,:]
// and sagittal slices are (z, y) = V[:,:,i] mirrored left-right.
func (p *Provider) ImageSlice(path string, index int, o models.Orientation, hint *models.Size) (*mat.Dense, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrientation, int(o))
	}
	vol, err := p.Load(path, hint)
	if err != nil {
		return nil, err
	}
	return Extract(vol, index, o)
}

// Extract cuts one 2D slice out of vol.
func Extract(vol *models.Volume, index int, o models.Orientation) (*mat.Dense, error) {
	if count := vol.Extent(o); index < 0 || index >= count {
		return nil, fmt.Errorf("%w: %s index %d, volume has %d", ErrIndexOutOfRange, o, index, count)
	}
	nx, ny, nz := vol.Width, vol.Height, vol.Depth

	switch o {
	case models.Axial:
		plane := make([]float64, ny*nx)
		copy(plane, vol.Data[index*ny*nx:(index+1)*ny*nx])
		return mat.NewDense(ny, nx, plane), nil

	case models.Coronal:
		out := mat.NewDense(nz, nx, nil)
		for z := 0; z < nz; z++ {
			start := vol.Index(0, index, z)
			out.SetRow(z, vol.Data[start:start+nx])
		}
		return out, nil

	case models.Sagittal:
		out := mat.NewDense(nz, ny, nil)
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				out.Set(z, ny-1-y, vol.At(index, y, z))
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidOrientation, int(o))
}

// Size returns the (x, y, z) size of the cached volume.
func (p *Provider) Size() (models.Size, bool) {
	if p.entry == nil {
		return models.Size{}, false
	}
	return p.entry.volume.Size(), true
}

// AspectRatio returns the displayed pixel height over width for slices
// along o. It is unavailable when the cached volume has no affine.
func (p *Provider) AspectRatio(o models.Orientation) (float64, bool) {
	if p.entry == nil || p.entry.affine == nil || !o.Valid() {
		return 0, false
	}
	return p.entry.affine.AspectRatio(o)
}

// Affine returns the cached volume's voxel-to-physical transform.
func (p *Provider) Affine() (*models.Affine, bool) {
	if p.entry == nil || p.entry.affine == nil {
		return nil, false
	}
	return p.entry.affine, true
}

// Path returns the cached path, or "" when the cache is empty.
func (p *Provider) Path() string {
	if p.entry == nil {
		return ""
	}
	return p.entry.path
}

// Decoder returns the name of the decoder that produced the cached volume.
func (p *Provider) Decoder() string {
	if p.entry == nil {
		return ""
	}
	return p.entry.decoder
}

// ResetCache drops the cached volume so the next request decodes again.
func (p *Provider) ResetCache() {
	if p.entry != nil {
		p.logger.Debug("volume cache reset", "path", p.entry.path)
	}
	p.entry = nil
}

// ValidExtensions lists every extension some decoder accepts, for
// filtering file listings.
func (p *Provider) ValidExtensions() []string {
	return p.loader.Extensions()
}

package decoder

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"time"

	"voxview/internal/models"
)

// Observer receives the outcome of every decode attempt.
type Observer interface {
	ObserveDecode(decoder string, elapsed time.Duration, err error)
}

// Registry tries decoders in insertion order.
type Registry struct {
	decoders []Decoder
	series   Decoder
	logger   *slog.Logger
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for per-attempt diagnostics.
// If nil, a discard logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithSeriesDecoder sets the decoder tried first for directories that look
// like DICOM series.
func WithSeriesDecoder(d Decoder) Option {
	return func(r *Registry) {
		r.series = d
	}
}

// WithObserver reports decode attempts, e.g. to metrics.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// NewRegistry creates a registry over decoders in priority order.
func NewRegistry(decoders []Decoder, opts ...Option) *Registry {
	r := &Registry{decoders: append([]Decoder(nil), decoders...)}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// Options selects the tunable parts of the default decoder set.
type Options struct {
	// ExtraShapes are appended to CommonShapes for headerless raw files
	ExtraShapes []models.Size
	// HDF5Keys overrides DefaultHDF5Keys when non-empty
	HDF5Keys []string
	// DICOMWorkers bounds concurrent parsing of series files
	DICOMWorkers int
	Logger       *slog.Logger
}

// Default returns the standard registry. Order matters: the dose cube
// reader precedes the generic MAT reader, and raw files are tried with a
// header, then with the hint, then against the common shapes.
func Default(o Options, opts ...Option) *Registry {
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dcm := NewDICOM(o.DICOMWorkers, logger)
	decoders := []Decoder{
		DoseCube{},
		MATLAB{},
		NumPy{},
		NewHDF5(o.HDF5Keys...),
		dcm,
		HeaderedRaw{},
		HintedRaw{},
		CTI{},
		NewCommonShape(o.ExtraShapes...),
	}
	base := []Option{WithLogger(logger), WithSeriesDecoder(dcm)}
	return NewRegistry(decoders, append(base, opts...)...)
}

// Decoders returns the decoders in priority order.
func (r *Registry) Decoders() []Decoder {
	return append([]Decoder(nil), r.decoders...)
}

// Extensions returns the sorted union of every decoder's extensions.
func (r *Registry) Extensions() []string {
	seen := make(map[string]bool)
	all := r.decoders
	if r.series != nil {
		all = append(all[:len(all):len(all)], r.series)
	}
	for _, d := range all {
		for _, e := range d.Extensions() {
			seen[e] = true
		}
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Decode produces a volume from path, returning the first decoder success.
// When every applicable decoder fails the error is a *NoDecoderError.
func (r *Registry) Decode(path string, hint *models.Size) (*Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	var failures []error
	tried := make(map[string]bool)

	if fi.IsDir() && r.series != nil && LooksLikeDICOMDir(path) {
		tried[r.series.Name()] = true
		res, err := r.attempt(r.series, path, hint)
		if err == nil {
			return res, nil
		}
		failures = append(failures, err)
	}

	for _, d := range r.decoders {
		if tried[d.Name()] {
			continue
		}
		if !Accepts(d, path) {
			continue
		}
		tried[d.Name()] = true
		res, err := r.attempt(d, path, hint)
		if err == nil {
			return res, nil
		}
		failures = append(failures, err)
	}

	if len(failures) == 0 {
		failures = append(failures, fmt.Errorf("%w: no decoder handles extension %q", ErrFormatMismatch, Ext(path)))
	}
	size := int64(0)
	if !fi.IsDir() {
		size = fi.Size()
	}
	nerr := &NoDecoderError{Path: path, Bytes: size, Failures: failures}
	r.logger.Warn("failed to load volume", "path", path, "bytes", size, "attempts", len(failures), "error", nerr)
	return nil, nerr
}

func (r *Registry) attempt(d Decoder, path string, hint *models.Size) (*Result, error) {
	start := time.Now()
	res, err := d.Decode(path, hint)
	if err == nil && (res == nil || res.Volume == nil) {
		err = errors.New("decoder returned no volume")
	}
	if r.observer != nil {
		r.observer.ObserveDecode(d.Name(), time.Since(start), err)
	}
	if err != nil {
		r.logger.Debug("decoder failed", "decoder", d.Name(), "path", path, "error", err)
		return nil, failed(d.Name(), err)
	}
	if res.Decoder == "" {
		res.Decoder = d.Name()
	}
	r.logger.Debug("decoded volume", "decoder", d.Name(), "path", path,
		"size", res.Volume.Size().String(), "affine", res.Affine != nil)
	return res, nil
}

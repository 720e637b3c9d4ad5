package decoder

import (
	"errors"
	"fmt"
	"math"

	hdf5 "github.com/robert-malhotra/go-hdf5/hdf5"

	"voxview/internal/models"
)

// DefaultHDF5Keys are the dataset names tried in HDF5 containers.
var DefaultHDF5Keys = []string{"data", "volume", "arraydata"}

// HDF5 reads the first dataset found among Keys.
type HDF5 struct {
	Keys []string
}

// NewHDF5 returns an HDF5 decoder trying keys, or DefaultHDF5Keys when
// keys is empty.
func NewHDF5(keys ...string) *HDF5 {
	if len(keys) == 0 {
		keys = DefaultHDF5Keys
	}
	return &HDF5{Keys: keys}
}

func (*HDF5) Name() string { return "hdf5" }

func (*HDF5) Extensions() []string {
	return []string{".h5", ".hdf5", ".dose", ".fmap"}
}

func (d *HDF5) Decode(path string, hint *models.Size) (*Result, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hdf5 file: %w", err)
	}
	defer f.Close()

	var errs []error
	for _, key := range d.Keys {
		ds, err := f.OpenDataset(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("dataset %q: %w", key, err))
			continue
		}
		vol, err := hdf5Volume(ds, hint)
		if err != nil {
			errs = append(errs, fmt.Errorf("dataset %q: %w", key, err))
			continue
		}
		return &Result{Volume: vol, Decoder: d.Name()}, nil
	}
	return nil, errors.Join(errs...)
}

// hdf5Dataset is the part of *hdf5.Dataset the decoder reads.
type hdf5Dataset interface {
	Shape() []uint64
	ReadFloat64() ([]float64, error)
}

// hdf5Volume shapes ds as a volume. The shape is checked before the samples
// are read so a forged header cannot request an impossible allocation.
func hdf5Volume(ds hdf5Dataset, hint *models.Size) (*models.Volume, error) {
	shape := ds.Shape()
	dims := make([]int, len(shape))
	for i, s := range shape {
		if s > math.MaxInt {
			return nil, fmt.Errorf("shape %v overflows", shape)
		}
		dims[i] = int(s)
	}
	if _, ok := models.Product(dims...); !ok {
		return nil, fmt.Errorf("shape %v overflows", shape)
	}
	data, err := ds.ReadFloat64()
	if err != nil {
		return nil, err
	}
	return volumeFromDims(dims, data, hint)
}

// Package h5 reads detector images out of HDF5 files.
//
// Compressed Eiger data (bitshuffle/LZ4) needs the HDF5 filter plugins to be
// discoverable through HDF5_PLUGIN_PATH before the first file is opened.
package h5

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/portenta/image-processing-ioc/internal/beam"
)

// Loader reads one dataset per call into memory. The HDF5 C library is not
// reentrant in its default build, so calls are serialized.
type Loader struct {
	mu sync.Mutex
}

// NewLoader returns a ready-to-use Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the dataset at path inside the HDF5 file and returns it as
// float64 samples with the dataset's shape. Integer datasets are converted by
// the HDF5 library.
func (l *Loader) Load(ctx context.Context, path, dataset string) (*beam.Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("h5: open %q: %w", path, err)
	}
	defer f.Close()

	ds, err := f.OpenDataset(dataset)
	if err != nil {
		return nil, fmt.Errorf("h5: open dataset %q in %q: %w", dataset, path, err)
	}
	defer ds.Close()

	space := ds.Space()
	defer space.Close()

	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, fmt.Errorf("h5: dataset %q dims: %w", dataset, err)
	}
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}

	data := make([]float64, space.SimpleExtentNPoints())
	if err := ds.Read(&data); err != nil {
		return nil, fmt.Errorf("h5: read dataset %q: %w", dataset, err)
	}

	img, err := beam.NewArray(shape, data)
	if err != nil {
		return nil, fmt.Errorf("h5: dataset %q: %w", dataset, err)
	}
	return img, nil
}

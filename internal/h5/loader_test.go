package h5

import (
	"context"
	"path/filepath"
	"testing"

	"gonum.org/v1/hdf5"
)

// writeEiger writes frames × rows × cols uint32 samples to entry/data/data,
// the layout an Eiger detector produces.
func writeEiger(t *testing.T, frames, rows, cols uint) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "eiger_000001.h5")

	f, err := hdf5.CreateFile(p, hdf5.F_ACC_TRUNC)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer f.Close()

	entry, err := f.CreateGroup("entry")
	if err != nil {
		t.Fatalf("CreateGroup entry: %v", err)
	}
	defer entry.Close()
	grp, err := entry.CreateGroup("data")
	if err != nil {
		t.Fatalf("CreateGroup data: %v", err)
	}
	defer grp.Close()

	space, err := hdf5.CreateSimpleDataspace([]uint{frames, rows, cols}, nil)
	if err != nil {
		t.Fatalf("CreateSimpleDataspace: %v", err)
	}
	defer space.Close()
	dtype, err := hdf5.NewDatatypeFromValue(uint32(0))
	if err != nil {
		t.Fatalf("NewDatatypeFromValue: %v", err)
	}

	ds, err := grp.CreateDataset("data", dtype, space)
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	defer ds.Close()

	data := make([]uint32, frames*rows*cols)
	for i := range data {
		data[i] = uint32(i)
	}
	if err := ds.Write(&data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return p
}

func TestLoad_EigerLayout(t *testing.T) {
	p := writeEiger(t, 2, 3, 4)

	img, err := NewLoader().Load(context.Background(), p, "entry/data/data")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(img.Shape) != 3 || img.Shape[0] != 2 || img.Shape[1] != 3 || img.Shape[2] != 4 {
		t.Fatalf("Shape: got %v, want [2 3 4]", img.Shape)
	}
	if len(img.Data) != 24 || img.Data[23] != 23 {
		t.Errorf("Data: got len %d last %v, want 24 values ending in 23", len(img.Data), img.Data[len(img.Data)-1])
	}
}

func TestLoad_MissingDataset(t *testing.T) {
	p := writeEiger(t, 1, 2, 2)
	if _, err := NewLoader().Load(context.Background(), p, "entry/data/nope"); err == nil {
		t.Fatal("expected error for missing dataset, got nil")
	}
}

func TestLoad_NotHDF5(t *testing.T) {
	if _, err := NewLoader().Load(context.Background(), "/nonexistent/file.h5", "entry/data/data"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLoader().Load(ctx, "/any.h5", "entry/data/data"); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

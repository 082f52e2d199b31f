package patchgan_go

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"
)

func TestPatchStats(t *testing.T) {
	patches := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{1, 2, 3, 4}))
	mean, std, err := PatchStats(patches)
	if err != nil {
		t.Fatal(err)
	}
	if mean != 2.5 {
		t.Errorf("expected mean 2.5, got %v", mean)
	}
	// Unbiased estimate
	if want := math.Sqrt(5.0 / 3.0); math.Abs(std-want) > 1e-12 {
		t.Errorf("expected std %v, got %v", want, std)
	}

	if _, _, err := PatchStats(tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{1, 2}))); err == nil {
		t.Error("expected error for float32 patch map")
	}
}

func TestPlotPatchMap(t *testing.T) {
	patches := NormRandDense(1, 1, 4, 8)
	fname := filepath.Join(t.TempDir(), "patches.png")
	if err := PlotPatchMap(patches, fname); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(fname)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("plot file is empty")
	}

	if err := PlotPatchMap(NormRandDense(1, 4, 8), fname); err == nil {
		t.Error("expected error for 1D patch map")
	}
}

func TestRandDense(t *testing.T) {
	uniform := UniformRandDense(2, 3, 4)
	if uniform.Shape().TotalSize() != 24 {
		t.Fatalf("expected 24 values, got shape %v", uniform.Shape())
	}
	for _, v := range uniform.Data().([]float64) {
		if v < 0 || v >= 1 {
			t.Fatalf("value %v is out of [0;1)", v)
		}
	}
	normal := NormRandDense(3, 5)
	if normal.Dims() != 2 || normal.Shape()[1] != 5 {
		t.Errorf("unexpected shape %v", normal.Shape())
	}
}

package patchgan_go

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// NormRandDense Return reference to tensor.Dense filled with normally distributed float64 values
//
// shape - shape of resulting dense, e.g. (batch, channels, height, width)
//
func NormRandDense(shape ...int) *tensor.Dense {
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = rand.NormFloat64()
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// UniformRandDense Return reference to tensor.Dense filled with pseudo-random float64 values in range [0.0,1.0)
//
// shape - shape of resulting dense, e.g. (batch, channels, height, width)
//
func UniformRandDense(shape ...int) *tensor.Dense {
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = rand.Float64()
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// patchGrid First sample's first channel of 2D patch map as plotter.GridXYZ
type patchGrid struct {
	rows, cols int
	values     []float64
}

func (g patchGrid) Dims() (c, r int)   { return g.cols, g.rows }
func (g patchGrid) Z(c, r int) float64 { return g.values[r*g.cols+c] }
func (g patchGrid) X(c int) float64    { return float64(c) }
func (g patchGrid) Y(r int) float64    { return float64(g.rows - 1 - r) }

func newPatchGrid(t tensor.Tensor) (patchGrid, error) {
	shp := t.Shape()
	if len(shp) != 4 {
		return patchGrid{}, fmt.Errorf("Patch map must have shape (batch, channels, height, width), but got %v", shp)
	}
	grid := patchGrid{rows: shp[2], cols: shp[3], values: make([]float64, shp[2]*shp[3])}
	for r := 0; r < grid.rows; r++ {
		for c := 0; c < grid.cols; c++ {
			val, err := t.At(0, 0, r, c)
			if err != nil {
				return patchGrid{}, errors.Wrap(err, "Can't select patch value")
			}
			switch v := val.(type) {
			case float64:
				grid.values[r*grid.cols+c] = v
			case float32:
				grid.values[r*grid.cols+c] = float64(v)
			default:
				return patchGrid{}, fmt.Errorf("Patch value type %T is not handled", val)
			}
		}
	}
	return grid, nil
}

// PlotPatchMap Plot heatmap of 2D patch map (output of discriminator) for first sample and channel
func PlotPatchMap(t tensor.Tensor, fname string) error {
	grid, err := newPatchGrid(t)
	if err != nil {
		return err
	}
	heatMap := plotter.NewHeatMap(grid, palette.Heat(16, 1))
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Patch map %dx%d", grid.rows, grid.cols)
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(heatMap)
	// Save the plot to a PNG file.
	if err := p.Save(4*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}

// PatchStats Mean and standard deviation of every value of patch map
func PatchStats(t tensor.Tensor) (float64, float64, error) {
	values, ok := t.Data().([]float64)
	if !ok {
		return 0, 0, fmt.Errorf("Patch map must hold float64 values, but got %T", t.Data())
	}
	if len(values) == 0 {
		return 0, 0, fmt.Errorf("Patch map is empty")
	}
	mean, std := stat.MeanStdDev(values, nil)
	return mean, std, nil
}

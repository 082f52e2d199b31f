package patchgan_go

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func constNode(g *gorgonia.ExprGraph, name string, data []float64, shape ...int) *gorgonia.Node {
	return gorgonia.NewTensor(g, gorgonia.Float64, len(shape), gorgonia.WithShape(shape...), gorgonia.WithName(name), gorgonia.WithValue(tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))))
}

func filled(size int, value float64) []float64 {
	data := make([]float64, size)
	for i := range data {
		data[i] = value
	}
	return data
}

func TestConvolveVolume(t *testing.T) {
	g := gorgonia.NewGraph()
	x := constNode(g, "x", filled(27, 1), 1, 1, 3, 3, 3)
	w := constNode(g, "w", filled(27, 1), 1, 1, 3, 3, 3)
	out, err := convolve(x, w, 3, 3, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tensor.Shape{1, 1, 3, 3, 3}, out.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	runGraph(t, g)
	data := out.Value().Data().([]float64)
	// Number of neighbours of each voxel inside the volume (zero padding counts nothing)
	if data[13] != 27 {
		t.Errorf("center voxel: expected 27, got %v", data[13])
	}
	if data[0] != 8 {
		t.Errorf("corner voxel: expected 8, got %v", data[0])
	}
	if data[4] != 18 {
		t.Errorf("center of first depth slice: expected 18, got %v", data[4])
	}
}

func TestConvolveVolumeChannels(t *testing.T) {
	g := gorgonia.NewGraph()
	// Channel #c of input is filled by c+1, depth 2
	x := constNode(g, "x", append(filled(8, 1), filled(8, 2)...), 1, 2, 2, 2, 2)
	// 1x1x1 kernel sums channels with weights 1 and 10
	w := constNode(g, "w", []float64{1, 10}, 1, 2, 1, 1, 1)
	out, err := convolve(x, w, 3, 1, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	runGraph(t, g)
	if !floats.Equal(filled(8, 21), out.Value().Data().([]float64)) {
		t.Errorf("expected every voxel to be 21, got %v", out.Value().Data())
	}
}

func TestAvgPoolExcludesPadding(t *testing.T) {
	g := gorgonia.NewGraph()
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i)
	}
	x := constNode(g, "x", data, 1, 1, 4, 4)
	ones := constNode(g, "ones", filled(32, 1), 1, 2, 4, 4)
	out, err := pool(x, PoolingAvg, 2, 3, 1, 2, "avg")
	if err != nil {
		t.Fatal(err)
	}
	flat, err := pool(ones, PoolingAvg, 2, 3, 1, 2, "avg_ones")
	if err != nil {
		t.Fatal(err)
	}
	runGraph(t, g)
	// Windows cover 4, 6, 6 and 9 cells of input
	want := []float64{10.0 / 4.0, 24.0 / 6.0, 51.0 / 6.0, 90.0 / 9.0}
	if !floats.EqualApprox(want, out.Value().Data().([]float64), 1e-12) {
		t.Errorf("expected %v, got %v", want, out.Value().Data())
	}
	if !floats.EqualApprox(filled(8, 1), flat.Value().Data().([]float64), 1e-12) {
		t.Errorf("average of constant input must keep the constant at borders, got %v", flat.Value().Data())
	}
}

func TestWindowCounts(t *testing.T) {
	got := windowCounts(4, 4, tensor.Shape{3, 3}, []int{1, 1}, []int{2, 2}, 2)
	want := []float64{4, 6, 6, 9, 4, 6, 6, 9}
	if !floats.Equal(want, got) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPoolVolume(t *testing.T) {
	g := gorgonia.NewGraph()
	data := make([]float64, 8)
	for i := range data {
		data[i] = float64(i)
	}
	x := constNode(g, "x", data, 1, 1, 2, 2, 2)
	maxOut, err := pool(x, PoolingMax, 3, 3, 1, 2, "max")
	if err != nil {
		t.Fatal(err)
	}
	avgOut, err := pool(x, PoolingAvg, 3, 3, 1, 2, "avg")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tensor.Shape{1, 1, 1, 1, 1}, maxOut.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	runGraph(t, g)
	if v := maxOut.Value().Data().([]float64)[0]; v != 7 {
		t.Errorf("max: expected 7, got %v", v)
	}
	// Window covers every voxel, padding is not counted
	if v := avgOut.Value().Data().([]float64)[0]; math.Abs(v-3.5) > 1e-12 {
		t.Errorf("avg: expected 3.5, got %v", v)
	}
}

func TestInstanceNorm(t *testing.T) {
	g := gorgonia.NewGraph()
	x := constNode(g, "x", []float64{1, 2, 3, 4, 10, 10, 10, 10}, 1, 2, 2, 2)
	out, err := instanceNorm(x, defaultNormEps)
	if err != nil {
		t.Fatal(err)
	}
	runGraph(t, g)
	std := math.Sqrt(1.25 + defaultNormEps)
	want := []float64{-1.5 / std, -0.5 / std, 0.5 / std, 1.5 / std, 0, 0, 0, 0}
	if !floats.EqualApprox(want, out.Value().Data().([]float64), 1e-9) {
		t.Errorf("expected %v, got %v", want, out.Value().Data())
	}
}

func TestLayerADNOrdering(t *testing.T) {
	tests := []struct {
		name     string
		ordering string
		convOnly bool
		want     []float64
	}{
		// Convolution output is {-2, 2}: normalized to {-1, 1} then rectified
		{"NDA", "NDA", false, []float64{0, 1}},
		// Rectified to {0, 2} then normalized
		{"AN", "AN", false, []float64{-1, 1}},
		{"conv only", "NDA", true, []float64{-2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gorgonia.NewGraph()
			x := constNode(g, "x", []float64{-2, 2}, 1, 1, 1, 2)
			layer := &Layer{
				Name:        "layer",
				Type:        LayerConvolutional,
				WeightNode:  constNode(g, "w", []float64{1}, 1, 1, 1, 1),
				Activation:  Rectify,
				Norm:        NormSpec{Type: NormInstance, Eps: 1e-12},
				SpatialDims: 2,
				OutChannels: 1,
				KernelSize:  1,
				Stride:      1,
				ADNOrdering: tt.ordering,
				ConvOnly:    tt.convOnly,
			}
			out, err := layer.Fwd(x)
			if err != nil {
				t.Fatal(err)
			}
			runGraph(t, g)
			if !floats.EqualApprox(tt.want, out.Value().Data().([]float64), 1e-6) {
				t.Errorf("expected %v, got %v", tt.want, out.Value().Data())
			}
		})
	}
}

func TestLayerDropoutFollowsMode(t *testing.T) {
	added := make(map[bool]int)
	for _, training := range []bool{false, true} {
		g := gorgonia.NewGraph()
		x := constNode(g, "x", filled(64, 1), 1, 1, 8, 8)
		layer := &Layer{
			Name:        "layer",
			Type:        LayerConvolutional,
			WeightNode:  constNode(g, "w", []float64{1}, 1, 1, 1, 1),
			SpatialDims: 2,
			OutChannels: 1,
			KernelSize:  1,
			Stride:      1,
			DropoutProb: 0.5,
			ADNOrdering: "D",
		}
		layer.SetTraining(training)
		before := len(g.AllNodes())
		if _, err := layer.Fwd(x); err != nil {
			t.Fatal(err)
		}
		added[training] = len(g.AllNodes()) - before
	}
	if added[true] <= added[false] {
		t.Errorf("dropout must be wired in training mode only: %d nodes added in training, %d in evaluation", added[true], added[false])
	}
}

func TestLayerOutputShape(t *testing.T) {
	tests := []struct {
		name  string
		layer Layer
		input tensor.Shape
		want  tensor.Shape
	}{
		{"strided conv", Layer{Type: LayerConvolutional, SpatialDims: 2, OutChannels: 16, KernelSize: 3, Padding: 1, Stride: 2}, tensor.Shape{4, 3, 256, 512}, tensor.Shape{4, 16, 128, 256}},
		{"conv and pool", Layer{Type: LayerConvolutional, SpatialDims: 2, OutChannels: 16, KernelSize: 3, Padding: 1, Stride: 1, Pooling: PoolingMax}, tensor.Shape{1, 3, 64, 64}, tensor.Shape{1, 16, 32, 32}},
		{"even kernel conv and pool", Layer{Type: LayerConvolutional, SpatialDims: 2, OutChannels: 16, KernelSize: 4, Padding: 2, Stride: 1, Pooling: PoolingAvg}, tensor.Shape{1, 3, 16, 16}, tensor.Shape{1, 16, 8, 8}},
		{"pool", Layer{Type: LayerPool, SpatialDims: 3, KernelSize: 3, Padding: 1, Stride: 2, Pooling: PoolingAvg}, tensor.Shape{1, 3, 8, 16, 16}, tensor.Shape{1, 3, 4, 8, 8}},
		{"1D terminal", Layer{Type: LayerConvolutional, SpatialDims: 1, OutChannels: 1, KernelSize: 1, Stride: 1}, tensor.Shape{2, 64, 10}, tensor.Shape{2, 1, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.layer.OutputShape(tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("shape mismatch (-want +got):\n%s", diff)
			}
		})
	}

	layer := Layer{Type: LayerConvolutional, SpatialDims: 2, OutChannels: 1, KernelSize: 3, Padding: 1, Stride: 2}
	if _, err := layer.OutputShape(tensor.Shape{1, 1, 16}); err == nil {
		t.Error("expected error for input of wrong rank")
	}
}

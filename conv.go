package patchgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// gorgonia convolves and pools 4D inputs only. Signals (N,C,W) are lifted to (N,C,1,W);
// volumes (N,C,D,H,W) are processed slice by slice along depth.

func toPlanar(x *gorgonia.Node, spatialDims int) (*gorgonia.Node, error) {
	if spatialDims != 1 {
		return x, nil
	}
	shp := x.Shape()
	if len(shp) != 3 {
		return nil, fmt.Errorf("1D input must have shape (batch, channels, width), but got %v", shp)
	}
	return gorgonia.Reshape(x, tensor.Shape{shp[0], shp[1], 1, shp[2]})
}

func fromPlanar(x *gorgonia.Node, spatialDims int) (*gorgonia.Node, error) {
	if spatialDims != 1 {
		return x, nil
	}
	shp := x.Shape()
	return gorgonia.Reshape(x, tensor.Shape{shp[0], shp[1], shp[3]})
}

// planarGeometry Kernel, padding, stride and dilation for gorgonia's 2D ops
func planarGeometry(spatialDims, kernel, pad, stride int) (tensor.Shape, []int, []int, []int) {
	if spatialDims == 1 {
		return tensor.Shape{1, kernel}, []int{0, pad}, []int{1, stride}, []int{1, 1}
	}
	return tensor.Shape{kernel, kernel}, []int{pad, pad}, []int{stride, stride}, []int{1, 1}
}

// filterShape Shape of convolution weights for provided spatial dimensionality
func filterShape(spatialDims, out, in, kernel int) tensor.Shape {
	switch spatialDims {
	case 1:
		return tensor.Shape{out, in, 1, kernel}
	case 3:
		return tensor.Shape{out, in, kernel, kernel, kernel}
	default:
		return tensor.Shape{out, in, kernel, kernel}
	}
}

// biasShape Shape of per-channel bias broadcastable over batch and spatial axes of planar output
func biasShape(spatialDims, out int) tensor.Shape {
	if spatialDims == 3 {
		return tensor.Shape{1, out, 1, 1, 1}
	}
	return tensor.Shape{1, out, 1, 1}
}

// broadcastAxes Every axis of planar tensor except channels
func broadcastAxes(dims int) []byte {
	axes := make([]byte, 0, dims-1)
	for i := 0; i < dims; i++ {
		if i != 1 {
			axes = append(axes, byte(i))
		}
	}
	return axes
}

func convolve(x, filter *gorgonia.Node, spatialDims, kernel, pad, stride int) (*gorgonia.Node, error) {
	if spatialDims == 3 {
		return convolveVolume(x, filter, kernel, pad, stride)
	}
	kernelShape, pads, strides, dilations := planarGeometry(spatialDims, kernel, pad, stride)
	return gorgonia.Conv2d(x, filter, kernelShape, pads, strides, dilations)
}

// convolveVolume 3D convolution as sum over kernel depth of 2D convolutions of matching depth slices.
// Out of range slices are the zero padding and contribute nothing.
func convolveVolume(x, filter *gorgonia.Node, kernel, pad, stride int) (*gorgonia.Node, error) {
	depth := x.Shape()[2]
	outDepth := (depth+2*pad-kernel)/stride + 1
	if outDepth < 1 {
		return nil, fmt.Errorf("Volume depth %d is too small for kernel %d", depth, kernel)
	}
	filterSlices := make(gorgonia.Nodes, kernel)
	for kd := range filterSlices {
		ws, err := sliceAtDepth(filter, kd)
		if err != nil {
			return nil, errors.Wrap(err, "Can't slice filter")
		}
		filterSlices[kd] = ws
	}
	inputSlices := make(map[int]*gorgonia.Node)
	kernelShape, pads, strides, dilations := planarGeometry(2, kernel, pad, stride)

	planes := make(gorgonia.Nodes, 0, outDepth)
	for od := 0; od < outDepth; od++ {
		var acc *gorgonia.Node
		for kd := 0; kd < kernel; kd++ {
			id := od*stride + kd - pad
			if id < 0 || id >= depth {
				continue
			}
			xs, err := depthSlice(x, id, inputSlices)
			if err != nil {
				return nil, err
			}
			y, err := gorgonia.Conv2d(xs, filterSlices[kd], kernelShape, pads, strides, dilations)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("Can't convolve[2D] depth slice %d by kernel slice %d", id, kd))
			}
			if acc == nil {
				acc = y
				continue
			}
			if acc, err = gorgonia.Add(acc, y); err != nil {
				return nil, errors.Wrap(err, "Can't do (x+y) for depth slices")
			}
		}
		if acc == nil {
			return nil, fmt.Errorf("No input depth slice falls into kernel window of output depth %d", od)
		}
		planes = append(planes, acc)
	}
	return stackDepth(planes)
}

func pool(x *gorgonia.Node, method PoolingMethod, spatialDims, kernel, pad, stride int, name string) (*gorgonia.Node, error) {
	if spatialDims == 3 {
		return poolVolume(x, method, kernel, pad, stride, name)
	}
	kernelShape, pads, strides, _ := planarGeometry(spatialDims, kernel, pad, stride)
	return poolPlanar(x, method, kernelShape, pads, strides, name)
}

func poolPlanar(x *gorgonia.Node, method PoolingMethod, kernelShape tensor.Shape, pads, strides []int, name string) (*gorgonia.Node, error) {
	switch method {
	case PoolingMax:
		return gorgonia.MaxPool2D(x, kernelShape, pads, strides)
	case PoolingAvg:
		return avgPool2D(x, kernelShape, pads, strides, name)
	default:
		return nil, fmt.Errorf("Pooling method '%s' is not handled", method)
	}
}

// avgPool2D Average pooling as convolution of every channel with kernel of ones, divided by number of
// input cells under each window. Zero padding is excluded from the average (count_include_pad=False).
func avgPool2D(x *gorgonia.Node, kernelShape tensor.Shape, pads, strides []int, name string) (*gorgonia.Node, error) {
	shp := x.Shape()
	n, c := shp[0], shp[1]
	folded, err := gorgonia.Reshape(x, tensor.Shape{n * c, 1, shp[2], shp[3]})
	if err != nil {
		return nil, errors.Wrap(err, "Can't fold channels into batch for average pooling")
	}
	sumShape := tensor.Shape{1, 1, kernelShape[0], kernelShape[1]}
	filter := gorgonia.NewTensor(x.Graph(), gorgonia.Float64, 4, gorgonia.WithShape(sumShape...), gorgonia.WithName(name+"_sum_kernel"), gorgonia.WithInit(gorgonia.Ones()))
	summed, err := gorgonia.Conv2d(folded, filter, kernelShape, pads, strides, []int{1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't convolve[2D] input by summing kernel")
	}
	sshp := summed.Shape().Clone()
	counts := windowCounts(shp[2], shp[3], kernelShape, pads, strides, sshp[0])
	countNode := gorgonia.NewTensor(x.Graph(), gorgonia.Float64, 4, gorgonia.WithShape(sshp...), gorgonia.WithName(name+"_avg_counts"), gorgonia.WithValue(tensor.New(tensor.WithShape(sshp...), tensor.WithBacking(counts))))
	pooled, err := gorgonia.HadamardDiv(summed, countNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (sum/count) for average pooling")
	}
	return gorgonia.Reshape(pooled, tensor.Shape{n, c, sshp[2], sshp[3]})
}

// windowCounts Number of input cells (padding excluded) under every pooling window, repeated for each of batch planes
func windowCounts(height, width int, kernelShape tensor.Shape, pads, strides []int, batch int) []float64 {
	outH := convOutputSize(height, kernelShape[0], pads[0], strides[0])
	outW := convOutputSize(width, kernelShape[1], pads[1], strides[1])
	plane := make([]float64, outH*outW)
	for oy := 0; oy < outH; oy++ {
		rows := validCells(height, kernelShape[0], pads[0], strides[0], oy)
		for ox := 0; ox < outW; ox++ {
			plane[oy*outW+ox] = float64(rows * validCells(width, kernelShape[1], pads[1], strides[1], ox))
		}
	}
	counts := make([]float64, 0, batch*len(plane))
	for i := 0; i < batch; i++ {
		counts = append(counts, plane...)
	}
	return counts
}

// validCells Number of in-range positions covered by window #o along single axis
func validCells(size, kernel, pad, stride, o int) int {
	from := o*stride - pad
	to := from + kernel
	if from < 0 {
		from = 0
	}
	if to > size {
		to = size
	}
	if to < from {
		return 0
	}
	return to - from
}

// poolVolume 3D pooling: 2D pooling of each depth slice, then reduction over depth window
func poolVolume(x *gorgonia.Node, method PoolingMethod, kernel, pad, stride int, name string) (*gorgonia.Node, error) {
	depth := x.Shape()[2]
	outDepth := (depth+2*pad-kernel)/stride + 1
	if outDepth < 1 {
		return nil, fmt.Errorf("Volume depth %d is too small for pooling kernel %d", depth, kernel)
	}
	kernelShape, pads, strides, _ := planarGeometry(2, kernel, pad, stride)
	pooledSlices := make(map[int]*gorgonia.Node)
	planes := make(gorgonia.Nodes, 0, outDepth)
	for od := 0; od < outDepth; od++ {
		window := make(gorgonia.Nodes, 0, kernel)
		for kd := 0; kd < kernel; kd++ {
			id := od*stride + kd - pad
			if id < 0 || id >= depth {
				continue
			}
			pooled, ok := pooledSlices[id]
			if !ok {
				xs, err := sliceAtDepth(x, id)
				if err != nil {
					return nil, err
				}
				pooled, err = poolPlanar(xs, method, kernelShape, pads, strides, fmt.Sprintf("%s_d%d", name, id))
				if err != nil {
					return nil, errors.Wrap(err, fmt.Sprintf("Can't pool depth slice %d", id))
				}
				pooledSlices[id] = pooled
			}
			window = append(window, pooled)
		}
		plane, err := reduceDepthWindow(window, method)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't reduce depth window of output depth %d", od))
		}
		planes = append(planes, plane)
	}
	return stackDepth(planes)
}

// reduceDepthWindow Max or average over in-range depth slices of window. Padding slices are not counted
func reduceDepthWindow(window gorgonia.Nodes, method PoolingMethod) (*gorgonia.Node, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("Empty depth window")
	}
	switch method {
	case PoolingMax:
		if len(window) == 1 {
			return window[0], nil
		}
		stacked, err := stackDepth(window)
		if err != nil {
			return nil, err
		}
		return gorgonia.Max(stacked, 2)
	case PoolingAvg:
		acc := window[0]
		var err error
		for i := 1; i < len(window); i++ {
			if acc, err = gorgonia.Add(acc, window[i]); err != nil {
				return nil, errors.Wrap(err, "Can't do (x+y) for depth slices")
			}
		}
		return gorgonia.Div(acc, gorgonia.NewConstant(float64(len(window))))
	default:
		return nil, fmt.Errorf("Pooling method '%s' is not handled", method)
	}
}

func depthSlice(x *gorgonia.Node, id int, cache map[int]*gorgonia.Node) (*gorgonia.Node, error) {
	if xs, ok := cache[id]; ok {
		return xs, nil
	}
	xs, err := sliceAtDepth(x, id)
	if err != nil {
		return nil, err
	}
	cache[id] = xs
	return xs, nil
}

// sliceAtDepth (N,C,H,W) plane of (N,C,D,H,W) tensor at depth id.
// Slice gives strided view: im2col and pooling kernels need contiguous plane, hence the copy.
func sliceAtDepth(x *gorgonia.Node, id int) (*gorgonia.Node, error) {
	view, err := gorgonia.Slice(x, nil, nil, gorgonia.S(id))
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't slice at depth %d", id))
	}
	plane, err := gorgonia.Mul(view, gorgonia.NewConstant(1.0))
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't copy plane at depth %d", id))
	}
	return plane, nil
}

// stackDepth Stacks (N,C,H,W) planes into (N,C,D,H,W) volume
func stackDepth(planes gorgonia.Nodes) (*gorgonia.Node, error) {
	lifted := make(gorgonia.Nodes, len(planes))
	for i, p := range planes {
		shp := p.Shape()
		l, err := gorgonia.Reshape(p, tensor.Shape{shp[0], shp[1], 1, shp[2], shp[3]})
		if err != nil {
			return nil, errors.Wrap(err, "Can't add depth axis to plane")
		}
		lifted[i] = l
	}
	if len(lifted) == 1 {
		return lifted[0], nil
	}
	return gorgonia.Concat(2, lifted...)
}

// convOutputSize Spatial extent after convolution or pooling
func convOutputSize(size, kernel, pad, stride int) int {
	return (size+2*pad-kernel)/stride + 1
}

package patchgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// SubDiscriminator Patch-GAN discriminator of single scale. It's simple sequential network actually.
//
// Layers of private network: [pyramid pooling stages...] [downsampling convolutions...] [terminal 1x1 convolution]
// numPyramid - number of leading pooling stages, their outputs are not reported as features
//
type SubDiscriminator struct {
	private    *Network
	index      int
	numLayers  int
	numPyramid int
	features   gorgonia.Nodes
}

// NewSubDiscriminator Constructor for SubDiscriminator of scale #index.
// Size bound of the scale is checked before any node is added to the graph.
func NewSubDiscriminator(g *gorgonia.ExprGraph, cfg Config, index int) (*SubDiscriminator, error) {
	if g == nil {
		return nil, fmt.Errorf("Graph for discriminator #%d is nil", index)
	}
	if err := cfg.validateFields(); err != nil {
		return nil, err
	}
	if err := cfg.validateLayerCounts(); err != nil {
		return nil, err
	}
	if index < 0 || index >= cfg.NumScales {
		return nil, invalidf("discriminator index %d is out of range [0;%d)", index, cfg.NumScales)
	}
	if err := cfg.checkScaleSize(index); err != nil {
		return nil, err
	}
	activation, err := cfg.Activation.Func()
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("discriminator_%d", index)
	numLayers := cfg.LayerCount(index)
	padding := cfg.Padding()[0]
	ordering := cfg.adnOrdering()

	numPyramid := 0
	if cfg.InputPyramid {
		numPyramid = index
	}
	layers := make([]*Layer, 0, numPyramid+numLayers+1)
	for p := 0; p < numPyramid; p++ {
		layers = append(layers, &Layer{
			Name:        fmt.Sprintf("%s_pyramid_%d", name, p),
			Type:        LayerPool,
			SpatialDims: cfg.SpatialDims,
			KernelSize:  cfg.KernelSize,
			Padding:     padding,
			Stride:      2,
			Pooling:     cfg.pyramidPooling(),
		})
	}

	stride, convPadding, downsamplePooling := 2, padding, PoolingNone
	if cfg.Pooling != PoolingNone && !cfg.InputPyramid {
		// Stride-1 convolution keeps (odd kernel) or grows by one (even kernel) the extent,
		// then 2-wide pooling halves it
		stride, convPadding, downsamplePooling = 1, cfg.KernelSize/2, cfg.Pooling
	}
	inChannels := cfg.InChannels
	outChannels := cfg.NumChannels * 2
	for l := 0; l < numLayers; l++ {
		layerName := fmt.Sprintf("%s_%d", name, l)
		layer := newConvLayer(g, cfg, layerName, inChannels, outChannels, cfg.KernelSize)
		layer.Activation = activation
		layer.Padding = convPadding
		layer.Stride = stride
		layer.Pooling = downsamplePooling
		layer.ADNOrdering = ordering
		layers = append(layers, layer)
		inChannels = outChannels
		outChannels = outChannels * 2
	}

	terminal := newConvLayer(g, cfg, name+"_final_conv", inChannels, cfg.OutChannels, 1)
	terminal.Activation = activation
	terminal.Stride = 1
	terminal.ADNOrdering = ordering
	terminal.ConvOnly = cfg.TerminalConvOnly
	layers = append(layers, terminal)

	sub := &SubDiscriminator{
		private: &Network{
			Name:   name,
			Layers: layers,
		},
		index:      index,
		numLayers:  numLayers,
		numPyramid: numPyramid,
	}
	sub.SetTraining(true)
	return sub, nil
}

func newConvLayer(g *gorgonia.ExprGraph, cfg Config, name string, in, out, kernel int) *Layer {
	wShape := filterShape(cfg.SpatialDims, out, in, kernel)
	layer := &Layer{
		Name:        name,
		Type:        LayerConvolutional,
		WeightNode:  gorgonia.NewTensor(g, gorgonia.Float64, len(wShape), gorgonia.WithShape(wShape...), gorgonia.WithName(name+"_w"), gorgonia.WithInit(cfg.weightInit())),
		Norm:        cfg.Norm,
		SpatialDims: cfg.SpatialDims,
		OutChannels: out,
		KernelSize:  kernel,
		DropoutProb: cfg.Dropout,
	}
	if cfg.Bias {
		bShape := biasShape(cfg.SpatialDims, out)
		layer.BiasNode = gorgonia.NewTensor(g, gorgonia.Float64, len(bShape), gorgonia.WithShape(bShape...), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.Zeroes()))
	}
	return layer
}

// Index Returns position of discriminator among sibling scales
func (net *SubDiscriminator) Index() int {
	return net.index
}

// NumLayers Returns effective number of downsampling convolution layers (terminal one is not counted)
func (net *SubDiscriminator) NumLayers() int {
	return net.numLayers
}

// Name Returns name of discriminator
func (net *SubDiscriminator) Name() string {
	return net.private.Name
}

// Out Returns reference to output node of terminal layer
func (net *SubDiscriminator) Out() *gorgonia.Node {
	return net.private.Out()
}

// Outputs Returns references to outputs of every convolution layer, terminal one is the last
func (net *SubDiscriminator) Outputs() gorgonia.Nodes {
	outputs := net.private.Outputs()
	if len(outputs) == 0 {
		return nil
	}
	return outputs[net.numPyramid:]
}

// Features Returns same nodes as Outputs if intermediate features were requested during feedforward, nil otherwise
func (net *SubDiscriminator) Features() gorgonia.Nodes {
	return net.features
}

// Learnables Returns learnables nodes
func (net *SubDiscriminator) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// SetTraining Switches discriminator between training and evaluation mode
func (net *SubDiscriminator) SetTraining(training bool) {
	net.private.SetTraining(training)
}

// Fwd Initializates feedforward for provided input
//
// input - Input node of shape (batch, channels, spatial...)
// getIntermediateFeatures - keep outputs of every layer for feature-matching
//
func (net *SubDiscriminator) Fwd(input *gorgonia.Node, getIntermediateFeatures bool) error {
	if err := net.private.Fwd(input); err != nil {
		return errors.Wrap(err, "[SubDiscriminator]")
	}
	net.features = nil
	if getIntermediateFeatures {
		net.features = net.Outputs()
	}
	return nil
}

// feedforwardState Results of the last successful feedforward
type feedforwardState struct {
	outputs  gorgonia.Nodes
	features gorgonia.Nodes
}

func (net *SubDiscriminator) snapshot() feedforwardState {
	return feedforwardState{outputs: net.private.outputs, features: net.features}
}

func (net *SubDiscriminator) restore(state feedforwardState) {
	net.private.outputs = state.outputs
	net.features = state.features
}

// OutputShape Returns shape of terminal output for provided input shape
func (net *SubDiscriminator) OutputShape(input tensor.Shape) (tensor.Shape, error) {
	shapes, err := net.FeatureShapes(input)
	if err != nil {
		return nil, err
	}
	return shapes[len(shapes)-1], nil
}

// FeatureShapes Returns shapes of every convolution layer output for provided input shape
func (net *SubDiscriminator) FeatureShapes(input tensor.Shape) ([]tensor.Shape, error) {
	shapes, err := net.private.OutputShapes(input)
	if err != nil {
		return nil, errors.Wrap(err, "[SubDiscriminator]")
	}
	return shapes[net.numPyramid:], nil
}

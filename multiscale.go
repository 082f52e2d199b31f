package patchgan_go

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MultiScaleDiscriminator Multi-scale Patch-GAN discriminator based on Pix2PixHD:
// High-Resolution Image Synthesis and Semantic Manipulation with Conditional GANs (Wang et al., CVPR 2018).
//
// discriminators - sub-discriminators by name ("discriminator_<index>") in index order
// outputs - terminal output of every scale
// features - per-scale layer outputs, if requested during feedforward
//
type MultiScaleDiscriminator struct {
	cfg            Config
	discriminators *orderedmap.OrderedMap[string, *SubDiscriminator]

	outputs  gorgonia.Nodes
	features []gorgonia.Nodes
}

// NewMultiScaleDiscriminator Constructor for MultiScaleDiscriminator.
// Configuration is fully validated before any sub-discriminator is built.
func NewMultiScaleDiscriminator(g *gorgonia.ExprGraph, cfg Config) (*MultiScaleDiscriminator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "[MultiScaleDiscriminator] Invalid configuration")
	}
	net := &MultiScaleDiscriminator{
		cfg:            cfg,
		discriminators: orderedmap.New[string, *SubDiscriminator](cfg.NumScales),
	}
	for i := 0; i < cfg.NumScales; i++ {
		sub, err := NewSubDiscriminator(g, cfg, i)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[MultiScaleDiscriminator] Can't build discriminator #%d", i))
		}
		net.discriminators.Set(sub.Name(), sub)
		slog.Debug("built sub-discriminator", "name", sub.Name(), "layers", sub.NumLayers(), "downsampling", cfg.DownsamplingDepth(i))
	}
	return net, nil
}

// Config Returns configuration discriminator has been built with
func (net *MultiScaleDiscriminator) Config() Config {
	return net.cfg
}

// NumScales Returns number of sub-discriminators
func (net *MultiScaleDiscriminator) NumScales() int {
	return net.discriminators.Len()
}

// Discriminator Returns sub-discriminator of scale #i
func (net *MultiScaleDiscriminator) Discriminator(i int) (*SubDiscriminator, bool) {
	return net.discriminators.Get(fmt.Sprintf("discriminator_%d", i))
}

// Outputs Returns terminal outputs of every scale, ordered by scale index
func (net *MultiScaleDiscriminator) Outputs() gorgonia.Nodes {
	return net.outputs
}

// Features Returns layer outputs of every scale if requested during feedforward, nil otherwise
func (net *MultiScaleDiscriminator) Features() []gorgonia.Nodes {
	return net.features
}

// Learnables Returns learnables nodes of every scale
func (net *MultiScaleDiscriminator) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0)
	for pair := net.discriminators.Oldest(); pair != nil; pair = pair.Next() {
		learnables = append(learnables, pair.Value.Learnables()...)
	}
	return learnables
}

// SetTraining Switches every scale between training and evaluation mode
func (net *MultiScaleDiscriminator) SetTraining(training bool) {
	for pair := net.discriminators.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.SetTraining(training)
	}
}

// Train Alias to SetTraining(true)
func (net *MultiScaleDiscriminator) Train() { net.SetTraining(true) }

// Eval Alias to SetTraining(false)
func (net *MultiScaleDiscriminator) Eval() { net.SetTraining(false) }

// Fwd Initializates feedforward for provided input. The same input node is passed to every scale.
// If any scale fails, every scale keeps results of previous feedforward (nodes already added to graph stay there).
//
// input - Input node of shape (batch, in_channels, spatial...)
// getIntermediateFeatures - collect layer outputs of every scale for feature-matching loss
//
func (net *MultiScaleDiscriminator) Fwd(input *gorgonia.Node, getIntermediateFeatures bool) error {
	if input == nil {
		return fmt.Errorf("[MultiScaleDiscriminator] Input node is nil")
	}
	if input.Dims() != net.cfg.SpatialDims+2 {
		return fmt.Errorf("[MultiScaleDiscriminator] Input must have %d dims (batch, channels, spatial...), but got shape %v", net.cfg.SpatialDims+2, input.Shape())
	}
	outputs := make(gorgonia.Nodes, 0, net.NumScales())
	var features []gorgonia.Nodes
	if getIntermediateFeatures {
		features = make([]gorgonia.Nodes, 0, net.NumScales())
	}
	previous := make([]feedforwardState, 0, net.NumScales())
	for pair := net.discriminators.Oldest(); pair != nil; pair = pair.Next() {
		previous = append(previous, pair.Value.snapshot())
	}
	for pair := net.discriminators.Oldest(); pair != nil; pair = pair.Next() {
		if err := pair.Value.Fwd(input, getIntermediateFeatures); err != nil {
			net.rollback(previous)
			return errors.Wrap(err, fmt.Sprintf("[MultiScaleDiscriminator] Can't feedforward %s", pair.Key))
		}
		outputs = append(outputs, pair.Value.Out())
		if getIntermediateFeatures {
			features = append(features, pair.Value.Features())
		}
	}
	net.outputs = outputs
	net.features = features
	return nil
}

func (net *MultiScaleDiscriminator) rollback(previous []feedforwardState) {
	i := 0
	for pair := net.discriminators.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.restore(previous[i])
		i++
	}
}

// OutputShapes Returns shape of terminal output of every scale for provided input shape
func (net *MultiScaleDiscriminator) OutputShapes(input tensor.Shape) ([]tensor.Shape, error) {
	shapes := make([]tensor.Shape, 0, net.NumScales())
	for pair := net.discriminators.Oldest(); pair != nil; pair = pair.Next() {
		shp, err := pair.Value.OutputShape(input)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[MultiScaleDiscriminator] %s", pair.Key))
		}
		shapes = append(shapes, shp)
	}
	return shapes, nil
}

package patchgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type LayerType uint16

// downsampleWindow Window and stride of pooling which replaces strided convolution
const downsampleWindow = 2

const (
	// LayerConvolutional Convolution (+bias) followed by activation, dropout and normalization in configured order
	LayerConvolutional = LayerType(iota)
	// LayerPool Pooling only. Has no learnables
	LayerPool
)

// Layer Just an alias to Convolution+Bias+Norm+Dropout+ActivationFunction combo
//
// Stride - stride of convolution (or pooling for LayerPool)
// Pooling - pooling method of LayerPool. For LayerConvolutional a non-empty value means that
// convolution keeps the resolution and the pooling with 2-wide window and stride 2 halves it afterwards
// ConvOnly - skip activation, dropout and normalization
//
type Layer struct {
	Name       string
	Type       LayerType
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	Activation ActivationFunc
	Norm       NormSpec

	SpatialDims int
	OutChannels int
	KernelSize  int
	Padding     int
	Stride      int
	Pooling     PoolingMethod
	DropoutProb float64
	ADNOrdering string
	ConvOnly    bool

	training  bool
	batchNorm *batchNormState
}

// Learnables Returns learnables nodes
func (l *Layer) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 4)
	if l.WeightNode != nil {
		learnables = append(learnables, l.WeightNode)
	}
	if l.BiasNode != nil {
		learnables = append(learnables, l.BiasNode)
	}
	if l.batchNorm != nil {
		learnables = append(learnables, l.batchNorm.scale, l.batchNorm.shift)
	}
	return learnables
}

// SetTraining Switches layer between training and evaluation mode.
// Dropout is wired into the graph during feedforward, so the mode must be set before Fwd.
// Batch normalization follows the mode at any time.
func (l *Layer) SetTraining(training bool) {
	l.training = training
	l.batchNorm.setTraining(training)
}

// Fwd Initializates feedforward for provided input
func (l *Layer) Fwd(input *gorgonia.Node) (*gorgonia.Node, error) {
	x, err := toPlanar(input, l.SpatialDims)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[Layer %s] Can't lift input to planar layout", l.Name))
	}
	var out *gorgonia.Node
	switch l.Type {
	case LayerPool:
		out, err = pool(x, l.Pooling, l.SpatialDims, l.KernelSize, l.Padding, l.Stride, l.Name)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[Layer %s] Can't pool input", l.Name))
		}
		gorgonia.WithName(fmt.Sprintf("%s_%spool", l.Name, l.Pooling))(out)
	case LayerConvolutional:
		out, err = l.fwdConvolutional(x)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[Layer %s]", l.Name))
		}
	default:
		return nil, fmt.Errorf("Layer %s type '%d' (uint16) is not handled", l.Name, l.Type)
	}
	out, err = fromPlanar(out, l.SpatialDims)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[Layer %s] Can't restore layout of output", l.Name))
	}
	return out, nil
}

func (l *Layer) fwdConvolutional(x *gorgonia.Node) (*gorgonia.Node, error) {
	if l.WeightNode == nil {
		return nil, fmt.Errorf("WeightNode is nil")
	}
	out, err := convolve(x, l.WeightNode, l.SpatialDims, l.KernelSize, l.Padding, l.Stride)
	if err != nil {
		return nil, errors.Wrap(err, "Can't convolve input by kernel")
	}
	gorgonia.WithName(l.Name + "_conv")(out)
	if l.BiasNode != nil {
		out, err = gorgonia.BroadcastAdd(out, l.BiasNode, nil, broadcastAxes(out.Dims()))
		if err != nil {
			return nil, errors.Wrap(err, "Can't add bias to convolution output")
		}
	}
	if l.Pooling != PoolingNone {
		out, err = pool(out, l.Pooling, l.SpatialDims, downsampleWindow, 0, downsampleWindow, l.Name)
		if err != nil {
			return nil, errors.Wrap(err, "Can't downsample convolution output by pooling")
		}
		gorgonia.WithName(fmt.Sprintf("%s_%spool", l.Name, l.Pooling))(out)
	}
	if l.ConvOnly {
		return out, nil
	}
	for _, step := range l.ADNOrdering {
		switch step {
		case 'A':
			activation := l.Activation
			if activation == nil {
				activation = NoActivation
			}
			out, err = activation(out)
			if err != nil {
				return nil, errors.Wrap(err, "Can't apply activation function to convolution output")
			}
			gorgonia.WithName(l.Name + "_activated")(out)
		case 'D':
			if !l.training || l.DropoutProb <= 0 {
				continue
			}
			out, err = gorgonia.Dropout(out, l.DropoutProb)
			if err != nil {
				return nil, errors.Wrap(err, "Can't apply dropout to convolution output")
			}
		case 'N':
			out, err = l.normalize(out)
			if err != nil {
				return nil, errors.Wrap(err, "Can't normalize convolution output")
			}
		}
	}
	return out, nil
}

// OutputShape Shape of layer output for provided input shape. Batch axis is kept as is
func (l *Layer) OutputShape(input tensor.Shape) (tensor.Shape, error) {
	if len(input) != l.SpatialDims+2 {
		return nil, fmt.Errorf("Layer %s expects %dD input, but got shape %v", l.Name, l.SpatialDims+2, input)
	}
	out := input.Clone()
	for axis := 2; axis < len(out); axis++ {
		switch l.Type {
		case LayerPool:
			out[axis] = convOutputSize(out[axis], l.KernelSize, l.Padding, l.Stride)
		case LayerConvolutional:
			out[axis] = convOutputSize(out[axis], l.KernelSize, l.Padding, l.Stride)
			if l.Pooling != PoolingNone {
				out[axis] = convOutputSize(out[axis], downsampleWindow, 0, downsampleWindow)
			}
		}
		if out[axis] < 1 {
			return nil, fmt.Errorf("Layer %s collapses input of shape %v along axis %d", l.Name, input, axis)
		}
	}
	if l.Type == LayerConvolutional {
		out[1] = l.OutChannels
	}
	return out, nil
}

package patchgan_go

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NormType Kind of normalization applied after convolution
type NormType string

const (
	NormNone     = NormType("")
	NormInstance = NormType("instance")
	NormBatch    = NormType("batch")
)

const (
	defaultNormEps      = 1e-5
	defaultNormMomentum = 0.9
)

// NormSpec Normalization type plus its parameters. Zero Eps and Momentum mean defaults (1e-5 and 0.9)
type NormSpec struct {
	Type     NormType `json:"type"`
	Eps      float64  `json:"eps,omitempty"`
	Momentum float64  `json:"momentum,omitempty"`
}

func (spec NormSpec) kind() NormType {
	return NormType(strings.ToLower(string(spec.Type)))
}

func (spec NormSpec) eps() float64 {
	if spec.Eps == 0 {
		return defaultNormEps
	}
	return spec.Eps
}

func (spec NormSpec) momentum() float64 {
	if spec.Momentum == 0 {
		return defaultNormMomentum
	}
	return spec.Momentum
}

func (spec NormSpec) validate() error {
	switch spec.kind() {
	case NormNone, "none", NormInstance, NormBatch:
	default:
		return invalidf("normalization '%s' is not supported", spec.Type)
	}
	if spec.Eps < 0 {
		return invalidf("normalization eps must be non-negative, got %v", spec.Eps)
	}
	if spec.Momentum < 0 || spec.Momentum >= 1 {
		return invalidf("normalization momentum must be in [0;1), got %v", spec.Momentum)
	}
	return nil
}

// batchNormState Holds learnables and op of gorgonia's batch normalization.
// gorgonia sizes scale and shift after the activation shape, so they are created on first feedforward
// and shared by later ones. Every feedforward adds its own op.
type batchNormState struct {
	scale *gorgonia.Node
	shift *gorgonia.Node
	ops   []*gorgonia.BatchNormOp
}

func (bn *batchNormState) setTraining(training bool) {
	if bn == nil {
		return
	}
	for _, op := range bn.ops {
		if training {
			op.SetTraining()
		} else {
			op.SetTesting()
		}
	}
}

// normalize Applies normalization to planar input (4D for 1D/2D images, 5D for volumes)
func (l *Layer) normalize(x *gorgonia.Node) (*gorgonia.Node, error) {
	kind := l.Norm.kind()
	if kind == NormNone || kind == "none" {
		return x, nil
	}
	shp := x.Shape().Clone()
	in := x
	var err error
	if len(shp) == 5 {
		// Statistics span every spatial axis, so depth and height are folded together
		in, err = gorgonia.Reshape(x, tensor.Shape{shp[0], shp[1], shp[2] * shp[3], shp[4]})
		if err != nil {
			return nil, errors.Wrap(err, "Can't fold depth of volume before normalization")
		}
	}
	var out *gorgonia.Node
	switch kind {
	case NormInstance:
		out, err = instanceNorm(in, l.Norm.eps())
	case NormBatch:
		out, err = l.batchNormalize(in)
	}
	if err != nil {
		return nil, err
	}
	gorgonia.WithName(fmt.Sprintf("%s_%s_norm", l.Name, kind))(out)
	if len(shp) == 5 {
		out, err = gorgonia.Reshape(out, shp)
		if err != nil {
			return nil, errors.Wrap(err, "Can't unfold depth of volume after normalization")
		}
	}
	return out, nil
}

func (l *Layer) batchNormalize(x *gorgonia.Node) (*gorgonia.Node, error) {
	if l.batchNorm == nil {
		g := x.Graph()
		l.batchNorm = &batchNormState{
			scale: gorgonia.NewTensor(g, x.Dtype(), x.Dims(), gorgonia.WithShape(x.Shape().Clone()...), gorgonia.WithName(l.Name+"_bn_scale"), gorgonia.WithInit(gorgonia.Ones())),
			shift: gorgonia.NewTensor(g, x.Dtype(), x.Dims(), gorgonia.WithShape(x.Shape().Clone()...), gorgonia.WithName(l.Name+"_bn_shift"), gorgonia.WithInit(gorgonia.Zeroes())),
		}
	}
	out, _, _, op, err := gorgonia.BatchNorm(x, l.batchNorm.scale, l.batchNorm.shift, l.Norm.momentum(), l.Norm.eps())
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply batch normalization")
	}
	l.batchNorm.ops = append(l.batchNorm.ops, op)
	l.batchNorm.setTraining(l.training)
	return out, nil
}

// instanceNorm Normalizes each (sample, channel) plane of 4D input to zero mean and unit variance
func instanceNorm(x *gorgonia.Node, eps float64) (*gorgonia.Node, error) {
	shp := x.Shape()
	if len(shp) != 4 {
		return nil, fmt.Errorf("Instance normalization expects 4D input, but got shape %v", shp)
	}
	statShape := tensor.Shape{shp[0], shp[1], 1, 1}
	spatial := []byte{2, 3}

	mean, err := gorgonia.Mean(x, 2, 3)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(X) over spatial axes")
	}
	mean, err = gorgonia.Reshape(mean, statShape)
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape mean(X)")
	}
	centered, err := gorgonia.BroadcastSub(x, mean, nil, spatial)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X-mean(X))")
	}
	sqr, err := gorgonia.Square(centered)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	variance, err := gorgonia.Mean(sqr, 2, 3)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do var(X) over spatial axes")
	}
	variance, err = gorgonia.Reshape(variance, statShape)
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape var(X)")
	}
	variance, err = gorgonia.Add(variance, gorgonia.NewConstant(eps))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (var(X)+eps)")
	}
	invStd, err := gorgonia.InverseSqrt(variance)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do 1/sqrt(x)")
	}
	out, err := gorgonia.BroadcastHadamardProd(centered, invStd, nil, spatial)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*y)")
	}
	return out, nil
}

package patchgan_go

import (
	"strings"

	"gorgonia.org/gorgonia"
)

// ActivationFunc Just an alias to Gorgonia'a api_gen.go - https://github.com/gorgonia/gorgonia/blob/master/api_gen.go#L1
type ActivationFunc func(a *gorgonia.Node) (*gorgonia.Node, error)

func NoActivation(a *gorgonia.Node) (*gorgonia.Node, error) { return a, nil }
func Tanh(a *gorgonia.Node) (*gorgonia.Node, error)         { return gorgonia.Tanh(a) }
func Sigmoid(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Sigmoid(a) }
func Softplus(a *gorgonia.Node) (*gorgonia.Node, error)     { return gorgonia.Softplus(a) }
func Rectify(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Rectify(a) }

// Swish x*sigmoid(x)
func Swish(a *gorgonia.Node) (*gorgonia.Node, error) {
	sigm, err := gorgonia.Sigmoid(a)
	if err != nil {
		return nil, err
	}
	return gorgonia.HadamardProd(a, sigm)
}

// LeakyReLU Returns leaky rectifier with provided slope for negative values
func LeakyReLU(negativeSlope float64) ActivationFunc {
	return func(a *gorgonia.Node) (*gorgonia.Node, error) {
		return gorgonia.LeakyRelu(a, negativeSlope)
	}
}

const (
	ActivationIdentity  = "identity"
	ActivationReLU      = "relu"
	ActivationLeakyReLU = "leakyrelu"
	ActivationSigmoid   = "sigmoid"
	ActivationTanh      = "tanh"
	ActivationSoftplus  = "softplus"
	ActivationSwish     = "swish"
)

// Same default slope as torch.nn.LeakyReLU
const defaultNegativeSlope = 0.01

// ActivationSpec Activation name (case insensitive) plus its parameters
type ActivationSpec struct {
	Name          string  `json:"name"`
	NegativeSlope float64 `json:"negative_slope,omitempty"`
}

// Func Resolves activation name into function
func (spec ActivationSpec) Func() (ActivationFunc, error) {
	switch strings.ToLower(spec.Name) {
	case ActivationIdentity, "":
		return NoActivation, nil
	case ActivationReLU:
		return Rectify, nil
	case ActivationLeakyReLU:
		slope := spec.NegativeSlope
		if slope == 0 {
			slope = defaultNegativeSlope
		}
		return LeakyReLU(slope), nil
	case ActivationSigmoid:
		return Sigmoid, nil
	case ActivationTanh:
		return Tanh, nil
	case ActivationSoftplus:
		return Softplus, nil
	case ActivationSwish:
		return Swish, nil
	default:
		return nil, invalidf("activation '%s' is not supported", spec.Name)
	}
}

func (spec ActivationSpec) validate() error {
	_, err := spec.Func()
	return err
}

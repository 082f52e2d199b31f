package patchgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Network Abstraction for sequential neural network.
//
// Layers - simple sequence of layers
// outputs - output of every layer in order, the last one is network's output
//
type Network struct {
	Name    string
	Layers  []*Layer
	outputs gorgonia.Nodes
}

// Out Returns reference to output node
func (net *Network) Out() *gorgonia.Node {
	if len(net.outputs) == 0 {
		return nil
	}
	return net.outputs[len(net.outputs)-1]
}

// Outputs Returns references to output nodes of every layer
func (net *Network) Outputs() gorgonia.Nodes {
	return net.outputs
}

// Learnables Returns learnables nodes
func (net *Network) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			learnables = append(learnables, l.Learnables()...)
		}
	}
	return learnables
}

// SetTraining Switches every layer between training and evaluation mode
func (net *Network) SetTraining(training bool) {
	for _, l := range net.Layers {
		if l != nil {
			l.SetTraining(training)
		}
	}
}

// Fwd Initializates feedforward for provided input. Output of each layer is kept.
func (net *Network) Fwd(input *gorgonia.Node) error {
	networkName := "network"
	if net.Name != "" {
		networkName = net.Name
	}
	if len(net.Layers) == 0 {
		return fmt.Errorf("Network %s must have one layer atleast", networkName)
	}
	if input == nil {
		return fmt.Errorf("Network %s got nil input", networkName)
	}
	outputs := make(gorgonia.Nodes, 0, len(net.Layers))
	last := input
	for i, l := range net.Layers {
		if l == nil {
			return fmt.Errorf("Network's %s layer #%d is nil", networkName, i)
		}
		out, err := l.Fwd(last)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("[Network %s, Layer #%d] Can't feedforward input", networkName, i))
		}
		outputs = append(outputs, out)
		last = out
	}
	net.outputs = outputs
	return nil
}

// OutputShapes Returns shapes of every layer's output for provided input shape
func (net *Network) OutputShapes(input tensor.Shape) ([]tensor.Shape, error) {
	shapes := make([]tensor.Shape, 0, len(net.Layers))
	last := input
	for i, l := range net.Layers {
		shp, err := l.OutputShape(last)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[Network %s, Layer #%d]", net.Name, i))
		}
		shapes = append(shapes, shp)
		last = shp
	}
	return shapes, nil
}

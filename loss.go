package patchgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

func reduce(x *gorgonia.Node, reduction []LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(x)
	case LossReductionMean:
		return gorgonia.Mean(x)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// MSELoss See ref. https://en.wikipedia.org/wiki/Mean_squared_error
// Default reduction is 'mean'
func MSELoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	sqr, err := gorgonia.Square(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	return reduce(sqr, reduction)
}

// L1Loss See ref. https://en.wikipedia.org/wiki/Least_absolute_deviations
// Default reduction is 'mean'
func L1Loss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	abs, err := gorgonia.Abs(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	return reduce(abs, reduction)
}

// BinaryCrossEntropyLoss See ref. https://en.wikipedia.org/wiki/Cross_entropy#Cross-entropy_loss_function_and_logistic_regression
// A holds probabilities, B holds targets in [0;1]: -(B*log(A) + (1-B)*log(1-A))
// Default reduction is 'mean'
func BinaryCrossEntropyLoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	one := gorgonia.NewConstant(1.0)
	logMain, err := gorgonia.Log(a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(A)")
	}
	hprodMain, err := gorgonia.HadamardProd(logMain, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}
	invA, err := gorgonia.Sub(one, a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-A)")
	}
	logBin, err := gorgonia.Log(invA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(1-A)")
	}
	invB, err := gorgonia.Sub(one, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-B)")
	}
	hprodBin, err := gorgonia.HadamardProd(logBin, invB)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*(1-B))")
	}
	sum, err := gorgonia.Add(hprodMain, hprodBin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	neg, err := gorgonia.Neg(sum)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	return reduce(neg, reduction)
}

// AdversarialCriterion Criterion comparing patch maps of discriminator with real/fake target
type AdversarialCriterion uint16

const (
	// CriterionLeastSquares LSGAN: mean((x-target)^2)
	CriterionLeastSquares = AdversarialCriterion(iota)
	// CriterionBCE BCE between sigmoid(x) and target
	CriterionBCE
	// CriterionHinge Discriminator: mean(relu(1-x)) for real, mean(relu(1+x)) for fake. Generator: -mean(x)
	CriterionHinge
)

// PatchAdversarialLoss Adversarial loss over terminal outputs of every scale, averaged by number of scales
//
// outputs - terminal outputs of MultiScaleDiscriminator
// targetIsReal - whether patches should be classified as real
// forDiscriminator - hinge criterion differs for discriminator and generator updates
//
func PatchAdversarialLoss(outputs gorgonia.Nodes, targetIsReal bool, criterion AdversarialCriterion, forDiscriminator bool) (*gorgonia.Node, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("No discriminator outputs provided")
	}
	if criterion == CriterionHinge && !forDiscriminator && !targetIsReal {
		return nil, fmt.Errorf("Hinge loss of generator is defined for real target only")
	}
	var total *gorgonia.Node
	for i, out := range outputs {
		if out == nil {
			return nil, fmt.Errorf("Discriminator output #%d is nil", i)
		}
		loss, err := patchLoss(out, targetIsReal, criterion, forDiscriminator)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't evaluate adversarial loss of scale #%d", i))
		}
		if total == nil {
			total = loss
			continue
		}
		if total, err = gorgonia.Add(total, loss); err != nil {
			return nil, errors.Wrap(err, "Can't do (x+y)")
		}
	}
	return gorgonia.Div(total, gorgonia.NewConstant(float64(len(outputs))))
}

func patchLoss(out *gorgonia.Node, targetIsReal bool, criterion AdversarialCriterion, forDiscriminator bool) (*gorgonia.Node, error) {
	switch criterion {
	case CriterionLeastSquares:
		return MSELoss(out, patchTarget(out, targetIsReal))
	case CriterionBCE:
		prob, err := gorgonia.Sigmoid(out)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do sigmoid(x)")
		}
		return BinaryCrossEntropyLoss(prob, patchTarget(out, targetIsReal))
	case CriterionHinge:
		if !forDiscriminator {
			mean, err := gorgonia.Mean(out)
			if err != nil {
				return nil, errors.Wrap(err, "Can't do mean(x)")
			}
			return gorgonia.Neg(mean)
		}
		var margin *gorgonia.Node
		var err error
		if targetIsReal {
			margin, err = gorgonia.Sub(gorgonia.NewConstant(1.0), out)
		} else {
			margin, err = gorgonia.Add(out, gorgonia.NewConstant(1.0))
		}
		if err != nil {
			return nil, errors.Wrap(err, "Can't do hinge margin")
		}
		rectified, err := gorgonia.Rectify(margin)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do relu(x)")
		}
		return gorgonia.Mean(rectified)
	default:
		return nil, fmt.Errorf("Adversarial criterion %d is not supported", criterion)
	}
}

// patchTarget Tensor of ones (real) or zeros (fake) shaped as patch map
func patchTarget(out *gorgonia.Node, isReal bool) *gorgonia.Node {
	initFn, label := gorgonia.Zeroes(), "fake"
	if isReal {
		initFn, label = gorgonia.Ones(), "real"
	}
	return gorgonia.NewTensor(out.Graph(), out.Dtype(), out.Dims(), gorgonia.WithShape(out.Shape().Clone()...), gorgonia.WithName(fmt.Sprintf("patch_target_%s_%d", label, out.ID())), gorgonia.WithInit(initFn))
}

// FeatureMatchingLoss L1 distance between intermediate features of real and generated inputs (Pix2PixHD).
// Last feature of each scale is the terminal patch map: it is left to the adversarial loss and skipped here.
// Loss is averaged over remaining layers of each scale and then over scales.
//
// realFeatures, fakeFeatures - Features() of MultiScaleDiscriminator fed by real and generated inputs
//
func FeatureMatchingLoss(realFeatures, fakeFeatures []gorgonia.Nodes) (*gorgonia.Node, error) {
	if len(realFeatures) == 0 {
		return nil, fmt.Errorf("No features provided")
	}
	if len(realFeatures) != len(fakeFeatures) {
		return nil, fmt.Errorf("Number of scales must match: %d for real features and %d for fake ones", len(realFeatures), len(fakeFeatures))
	}
	var total *gorgonia.Node
	for i := range realFeatures {
		if len(realFeatures[i]) != len(fakeFeatures[i]) {
			return nil, fmt.Errorf("Scale #%d has %d real features and %d fake ones", i, len(realFeatures[i]), len(fakeFeatures[i]))
		}
		numLayers := len(realFeatures[i]) - 1
		if numLayers < 1 {
			return nil, fmt.Errorf("Scale #%d must have one intermediate feature atleast besides terminal output, got %d features", i, len(realFeatures[i]))
		}
		var scaleLoss *gorgonia.Node
		for j := 0; j < numLayers; j++ {
			l1, err := L1Loss(fakeFeatures[i][j], realFeatures[i][j])
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("Can't evaluate L1 of scale #%d, layer #%d", i, j))
			}
			if scaleLoss == nil {
				scaleLoss = l1
				continue
			}
			if scaleLoss, err = gorgonia.Add(scaleLoss, l1); err != nil {
				return nil, errors.Wrap(err, "Can't do (x+y)")
			}
		}
		scaleLoss, err := gorgonia.Div(scaleLoss, gorgonia.NewConstant(float64(numLayers)))
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x/n)")
		}
		if total == nil {
			total = scaleLoss
			continue
		}
		if total, err = gorgonia.Add(total, scaleLoss); err != nil {
			return nil, errors.Wrap(err, "Can't do (x+y)")
		}
	}
	return gorgonia.Div(total, gorgonia.NewConstant(float64(len(realFeatures))))
}

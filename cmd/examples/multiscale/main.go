package main

import (
	"fmt"
	"math/rand"

	patchgan "github.com/LdDl/patchgan-go"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var (
	batchSize   = 1
	imgChannels = 3
	imgHeight   = 64
	imgWidth    = 128
	imgShape    = []int{batchSize, imgChannels, imgHeight, imgWidth}

	configJSON = []byte(`{
		"num_d": 2,
		"num_layers_d": 2,
		"spatial_dims": 2,
		"num_channels": 8,
		"in_channels": 3,
		"out_channels": 1,
		"kernel_size": 3,
		"activation": {"name": "leakyrelu", "negative_slope": 0.2},
		"norm": {"type": "instance"},
		"bias": false,
		"dropout": 0.1,
		"minimum_size_im": 64
	}`)
)

func main() {
	// Initialize seed with constant value to reproduce results
	rand.Seed(1337)

	cfg, err := patchgan.ParseConfig(configJSON)
	if err != nil {
		panic(err)
	}

	/* Define Gorgonia's graph */
	g := gorgonia.NewGraph()

	/* Define discriminator */
	discriminator, err := patchgan.NewMultiScaleDiscriminator(g, cfg)
	if err != nil {
		panic(err)
	}
	discriminator.Eval()

	/* Both real and generated images go through the same discriminator weights */
	inputReal := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(imgShape...), gorgonia.WithName("discriminator_input_real"))
	err = discriminator.Fwd(inputReal, true)
	if err != nil {
		panic(err)
	}
	outputsReal, featuresReal := discriminator.Outputs(), discriminator.Features()

	inputFake := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(imgShape...), gorgonia.WithName("discriminator_input_fake"))
	err = discriminator.Fwd(inputFake, true)
	if err != nil {
		panic(err)
	}
	outputsFake, featuresFake := discriminator.Outputs(), discriminator.Features()

	/* Prepare cost nodes */
	advReal, err := patchgan.PatchAdversarialLoss(outputsReal, true, patchgan.CriterionLeastSquares, true)
	if err != nil {
		panic(err)
	}
	advFake, err := patchgan.PatchAdversarialLoss(outputsFake, false, patchgan.CriterionLeastSquares, true)
	if err != nil {
		panic(err)
	}
	featureMatching, err := patchgan.FeatureMatchingLoss(featuresReal, featuresFake)
	if err != nil {
		panic(err)
	}
	var advRealOut, advFakeOut, featureMatchingOut gorgonia.Value
	gorgonia.Read(advReal, &advRealOut)
	gorgonia.Read(advFake, &advFakeOut)
	gorgonia.Read(featureMatching, &featureMatchingOut)

	scaleOut := make([]gorgonia.Value, len(outputsReal))
	for i := range outputsReal {
		gorgonia.Read(outputsReal[i], &scaleOut[i])
	}

	/* Define tape machine */
	tm := gorgonia.NewTapeMachine(g)
	defer tm.Close()

	err = gorgonia.Let(inputReal, patchgan.UniformRandDense(imgShape...))
	if err != nil {
		panic(err)
	}
	err = gorgonia.Let(inputFake, patchgan.NormRandDense(imgShape...))
	if err != nil {
		panic(err)
	}
	err = tm.RunAll()
	if err != nil {
		panic(err)
	}
	tm.Reset()

	expectedShapes, err := discriminator.OutputShapes(imgShape)
	if err != nil {
		panic(err)
	}
	for i := range outputsReal {
		mean, std, err := patchgan.PatchStats(scaleOut[i].(*tensor.Dense))
		if err != nil {
			panic(err)
		}
		fmt.Printf("Scale #%d: output %v (expected %v), %d features, mean=%.4f std=%.4f\n", i, outputsReal[i].Shape(), expectedShapes[i], len(featuresReal[i]), mean, std)
	}
	fmt.Println("Adversarial loss [real]:", advRealOut)
	fmt.Println("Adversarial loss [fake]:", advFakeOut)
	fmt.Println("Feature matching loss:", featureMatchingOut)

	err = patchgan.PlotPatchMap(scaleOut[0].(*tensor.Dense), "patch_map_scale_0.png")
	if err != nil {
		panic(err)
	}
}

package patchgan_go

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// PoolingMethod Pooling operation used for downsampling
type PoolingMethod string

const (
	PoolingNone = PoolingMethod("")
	PoolingMax  = PoolingMethod("max")
	PoolingAvg  = PoolingMethod("avg")
)

// Config Configuration of multi-scale discriminator. It is consumed once at construction time.
//
// NumScales - number of sub-discriminators
// NumLayers - number of downsampling layers in the first sub-discriminator. Sub-discriminator #i gets NumLayers*(i+1) layers
// LayersPerScale - explicit number of downsampling layers for each sub-discriminator. Overrides NumLayers when not nil
// MinimumSize - minimum spatial size of input. Guards against architectures collapsing input below single unit
// InputPyramid - sub-discriminator #i pools its input i times before its own layers (Pix2PixHD way). Layer counts are not scaled in that mode.
//   Average pooling of pyramid stages does not count zero padding
// ADNOrdering - order of activation (A), dropout (D) and normalization (N) after each convolution
//
type Config struct {
	NumScales      int   `json:"num_d"`
	NumLayers      int   `json:"num_layers_d"`
	LayersPerScale []int `json:"layers_per_scale,omitempty"`

	SpatialDims int `json:"spatial_dims"`
	NumChannels int `json:"num_channels"`
	InChannels  int `json:"in_channels"`
	OutChannels int `json:"out_channels"`
	KernelSize  int `json:"kernel_size"`

	Activation ActivationSpec `json:"activation"`
	Norm       NormSpec       `json:"norm"`
	Bias       bool           `json:"bias"`
	Dropout    float64        `json:"dropout"`

	MinimumSize  int           `json:"minimum_size_im"`
	Pooling      PoolingMethod `json:"pooling_method,omitempty"`
	InputPyramid bool          `json:"input_pyramid,omitempty"`

	ADNOrdering      string `json:"adn_ordering,omitempty"`
	TerminalConvOnly bool   `json:"terminal_conv_only,omitempty"`

	WeightInit gorgonia.InitWFn `json:"-"`
}

// DefaultConfig Returns configuration of two-scale 2D discriminator for single-channel images of size 256 (atleast)
func DefaultConfig() Config {
	return Config{
		NumScales:   2,
		NumLayers:   3,
		SpatialDims: 2,
		NumChannels: 8,
		InChannels:  1,
		OutChannels: 1,
		KernelSize:  3,
		Activation:  ActivationSpec{Name: ActivationLeakyReLU, NegativeSlope: 0.2},
		Norm:        NormSpec{Type: NormInstance},
		MinimumSize: 256,
		ADNOrdering: "NDA",
	}
}

// ParseConfig Decodes JSON on top of DefaultConfig and validates the result
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "Can't decode discriminator configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate Checks configuration. Layer counts vs. number of scales are checked before size bound of each scale.
func (cfg Config) Validate() error {
	if err := cfg.validateFields(); err != nil {
		return err
	}
	if err := cfg.validateLayerCounts(); err != nil {
		return err
	}
	for i := 0; i < cfg.NumScales; i++ {
		if err := cfg.checkScaleSize(i); err != nil {
			return err
		}
	}
	return nil
}

func (cfg Config) validateFields() error {
	if cfg.NumScales < 1 {
		return invalidf("number of discriminators must be positive, got %d", cfg.NumScales)
	}
	if cfg.SpatialDims < 1 || cfg.SpatialDims > 3 {
		return invalidf("spatial dims must be 1, 2 or 3, got %d", cfg.SpatialDims)
	}
	if cfg.NumChannels < 1 || cfg.InChannels < 1 || cfg.OutChannels < 1 {
		return invalidf("channel counts must be positive, got num_channels=%d in_channels=%d out_channels=%d", cfg.NumChannels, cfg.InChannels, cfg.OutChannels)
	}
	if cfg.KernelSize < 1 {
		return invalidf("kernel size must be positive, got %d", cfg.KernelSize)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return invalidf("dropout must be in [0;1), got %v", cfg.Dropout)
	}
	if cfg.MinimumSize < 1 {
		return invalidf("minimum image size must be positive, got %d", cfg.MinimumSize)
	}
	if err := cfg.Activation.validate(); err != nil {
		return err
	}
	if err := cfg.Norm.validate(); err != nil {
		return err
	}
	switch cfg.Pooling {
	case PoolingNone, PoolingMax, PoolingAvg:
	default:
		return invalidf("pooling method '%s' is not supported", cfg.Pooling)
	}
	return validateADN(cfg.adnOrdering())
}

func (cfg Config) validateLayerCounts() error {
	if cfg.LayersPerScale != nil {
		if len(cfg.LayersPerScale) != cfg.NumScales {
			return &LayerCountMismatchError{Expected: cfg.NumScales, Actual: len(cfg.LayersPerScale)}
		}
		for i, n := range cfg.LayersPerScale {
			if n < 1 {
				return invalidf("discriminator #%d must have one layer atleast, got %d", i, n)
			}
		}
	} else if cfg.NumLayers < 1 {
		return invalidf("number of layers must be positive, got %d", cfg.NumLayers)
	}
	return nil
}

// LayerCount Returns effective number of downsampling layers of sub-discriminator #scale
func (cfg Config) LayerCount(scale int) int {
	if cfg.LayersPerScale != nil {
		return cfg.LayersPerScale[scale]
	}
	if cfg.InputPyramid {
		return cfg.NumLayers
	}
	return cfg.NumLayers * (scale + 1)
}

// DownsamplingDepth Returns how many times sub-discriminator #scale halves spatial extent of input
func (cfg Config) DownsamplingDepth(scale int) int {
	depth := cfg.LayerCount(scale)
	if cfg.InputPyramid {
		depth += scale
	}
	return depth
}

// Padding Returns padding which keeps convolutions 'same'-sized before striding
func (cfg Config) Padding() []int {
	padding := make([]int, cfg.SpatialDims)
	for i := range padding {
		padding[i] = (cfg.KernelSize - 1) / 2
	}
	return padding
}

func (cfg Config) checkScaleSize(scale int) error {
	depth := cfg.DownsamplingDepth(scale)
	if float64(cfg.MinimumSize)/math.Pow(2, float64(depth)) < 1 {
		return &InputTooSmallError{Scale: scale, LayerCount: depth, MinimumSize: cfg.MinimumSize}
	}
	return nil
}

func (cfg Config) pyramidPooling() PoolingMethod {
	if cfg.Pooling == PoolingNone {
		return PoolingAvg
	}
	return cfg.Pooling
}

func (cfg Config) adnOrdering() string {
	if cfg.ADNOrdering == "" {
		return "NDA"
	}
	return strings.ToUpper(cfg.ADNOrdering)
}

func (cfg Config) weightInit() gorgonia.InitWFn {
	if cfg.WeightInit == nil {
		return gorgonia.GlorotN(1.0)
	}
	return cfg.WeightInit
}

func validateADN(ordering string) error {
	seen := make(map[rune]bool, 3)
	for _, r := range ordering {
		if !strings.ContainsRune("ADN", r) {
			return invalidf("ADN ordering '%s' contains unknown step '%c'", ordering, r)
		}
		if seen[r] {
			return invalidf("ADN ordering '%s' repeats step '%c'", ordering, r)
		}
		seen[r] = true
	}
	return nil
}

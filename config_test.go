package patchgan_go

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default configuration must be valid, got: %v", err)
	}
}

func TestLayerCount(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantCount []int
		wantDepth []int
	}{
		{
			name:      "uniform",
			mutate:    func(c *Config) { c.NumScales, c.NumLayers = 3, 2 },
			wantCount: []int{2, 4, 6},
			wantDepth: []int{2, 4, 6},
		},
		{
			name:      "per scale",
			mutate:    func(c *Config) { c.NumScales, c.LayersPerScale = 3, []int{3, 4, 5} },
			wantCount: []int{3, 4, 5},
			wantDepth: []int{3, 4, 5},
		},
		{
			name:      "input pyramid",
			mutate:    func(c *Config) { c.NumScales, c.NumLayers, c.InputPyramid = 4, 3, true },
			wantCount: []int{3, 3, 3, 3},
			wantDepth: []int{3, 4, 5, 6},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			var gotCount, gotDepth []int
			for i := 0; i < cfg.NumScales; i++ {
				gotCount = append(gotCount, cfg.LayerCount(i))
				gotDepth = append(gotDepth, cfg.DownsamplingDepth(i))
			}
			if diff := cmp.Diff(tt.wantCount, gotCount); diff != "" {
				t.Errorf("layer counts mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantDepth, gotDepth); diff != "" {
				t.Errorf("downsampling depths mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidateInputTooSmall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumScales = 2
	cfg.NumLayers = 6
	cfg.MinimumSize = 256

	err := cfg.Validate()
	var tooSmall *InputTooSmallError
	if !errors.As(err, &tooSmall) {
		t.Fatalf("expected InputTooSmallError, got %v", err)
	}
	if tooSmall.Scale != 1 || tooSmall.LayerCount != 12 {
		t.Errorf("expected scale #1 with 12 layers, got scale #%d with %d layers", tooSmall.Scale, tooSmall.LayerCount)
	}
}

func TestValidateLayerCountMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumScales = 5
	cfg.LayersPerScale = []int{3, 4, 5}

	err := cfg.Validate()
	var mismatch *LayerCountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected LayerCountMismatchError, got %v", err)
	}
	if mismatch.Expected != 5 || mismatch.Actual != 3 {
		t.Errorf("expected 5 vs 3 layer counts, got %d vs %d", mismatch.Expected, mismatch.Actual)
	}
}

func TestValidateInvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no scales", func(c *Config) { c.NumScales = 0 }},
		{"4D images", func(c *Config) { c.SpatialDims = 4 }},
		{"no channels", func(c *Config) { c.NumChannels = 0 }},
		{"no kernel", func(c *Config) { c.KernelSize = 0 }},
		{"dropout of one", func(c *Config) { c.Dropout = 1 }},
		{"zero minimum size", func(c *Config) { c.MinimumSize = 0 }},
		{"unknown activation", func(c *Config) { c.Activation = ActivationSpec{Name: "gelu"} }},
		{"unknown norm", func(c *Config) { c.Norm = NormSpec{Type: "group"} }},
		{"unknown pooling", func(c *Config) { c.Pooling = "lp" }},
		{"repeated ADN step", func(c *Config) { c.ADNOrdering = "NAN" }},
		{"unknown ADN step", func(c *Config) { c.ADNOrdering = "NX" }},
		{"zero layers", func(c *Config) { c.NumLayers = 0 }},
		{"zero layers of scale", func(c *Config) { c.LayersPerScale = []int{2, 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"num_d": 3,
		"layers_per_scale": [3, 4, 5],
		"in_channels": 3,
		"activation": {"name": "LEAKYRELU", "negative_slope": 0.1},
		"norm": {"type": "batch"},
		"pooling_method": "max"
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NumScales != 3 || cfg.InChannels != 3 || cfg.Pooling != PoolingMax {
		t.Errorf("unexpected configuration: %+v", cfg)
	}
	if diff := cmp.Diff([]int{3, 4, 5}, cfg.LayersPerScale); diff != "" {
		t.Errorf("layers per scale mismatch (-want +got):\n%s", diff)
	}
	// Untouched fields keep defaults
	if cfg.KernelSize != 3 || cfg.MinimumSize != 256 || cfg.SpatialDims != 2 {
		t.Errorf("defaults were not kept: %+v", cfg)
	}

	if _, err := ParseConfig([]byte(`{"num_d": 5, "layers_per_scale": [3, 4, 5]}`)); err == nil {
		t.Error("expected mismatch error for 5 scales and 3 layer counts")
	}
	if _, err := ParseConfig([]byte(`{"num_d": "two"}`)); err == nil {
		t.Error("expected decoding error")
	}
}

func TestPadding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpatialDims = 3
	cfg.KernelSize = 5
	if diff := cmp.Diff([]int{2, 2, 2}, cfg.Padding()); diff != "" {
		t.Errorf("padding mismatch (-want +got):\n%s", diff)
	}
}

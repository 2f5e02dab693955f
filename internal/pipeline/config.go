// Package pipeline runs the staged latent pipeline: stage 1 generation with
// seed retries, stage 2a upsampling, budget-gated stage 2b refinement and
// decode to 8-bit frames.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"clipgen/internal/providers/diffusion"
)

// Stage 2b initialisation modes.
const (
	InitLatent = "latent"
	InitImage  = "image"
)

// DefaultPreset is used when a request names none.
const DefaultPreset = "balanced"

// PipelineConfig holds every tunable of one pipeline revision. Revisions are
// presets of this struct rather than separate code paths.
type PipelineConfig struct {
	Name string `yaml:"-"`

	Stage1Width    int `yaml:"stage1_width"`
	Stage1Height   int `yaml:"stage1_height"`
	UpsampleFactor int `yaml:"upsample_factor"`
	TargetWidth    int `yaml:"target_width"`
	TargetHeight   int `yaml:"target_height"`

	Stage1Steps    int     `yaml:"stage1_steps"`
	Stage1Guidance float64 `yaml:"stage1_guidance"`
	Stage1Attempts int     `yaml:"stage1_attempts"`

	Stage2Steps      int     `yaml:"stage2_steps"`
	Stage2Guidance   float64 `yaml:"stage2_guidance"`
	Stage2Init       string  `yaml:"stage2_init"`
	Stage2NoiseScale float64 `yaml:"stage2_noise_scale"`
	Stage2Strength   float64 `yaml:"stage2_strength"`

	HardBudget       time.Duration `yaml:"hard_budget"`
	Stage1Timeout    time.Duration `yaml:"stage1_timeout"`
	MinStage2bBudget time.Duration `yaml:"min_stage2b_budget"`

	MaxFrames int  `yaml:"max_frames"`
	WithAudio bool `yaml:"with_audio"`

	FidelityPass float64 `yaml:"fidelity_pass"`
	FidelityFail float64 `yaml:"fidelity_fail"`
}

// Presets are the built-in revisions.
var Presets = map[string]PipelineConfig{
	"preview": {
		Name:             "preview",
		Stage1Width:      256,
		Stage1Height:     144,
		UpsampleFactor:   2,
		TargetWidth:      512,
		TargetHeight:     288,
		Stage1Steps:      4,
		Stage1Guidance:   1.0,
		Stage1Attempts:   3,
		Stage2Steps:      2,
		Stage2Guidance:   2.5,
		Stage2Init:       InitLatent,
		Stage2NoiseScale: 0.4,
		Stage2Strength:   0.6,
		HardBudget:       30 * time.Second,
		Stage1Timeout:    20 * time.Second,
		MinStage2bBudget: 5 * time.Second,
		MaxFrames:        49,
		WithAudio:        true,
		FidelityPass:     20,
		FidelityFail:     30,
	},
	"fast": {
		Name:             "fast",
		Stage1Width:      640,
		Stage1Height:     368,
		UpsampleFactor:   2,
		TargetWidth:      1280,
		TargetHeight:     720,
		Stage1Steps:      6,
		Stage1Guidance:   1.0,
		Stage1Attempts:   3,
		Stage2Steps:      2,
		Stage2Guidance:   2.5,
		Stage2Init:       InitLatent,
		Stage2NoiseScale: 0.4,
		Stage2Strength:   0.6,
		HardBudget:       60 * time.Second,
		Stage1Timeout:    45 * time.Second,
		MinStage2bBudget: 10 * time.Second,
		MaxFrames:        97,
		WithAudio:        true,
		FidelityPass:     20,
		FidelityFail:     30,
	},
	"balanced": {
		Name:             "balanced",
		Stage1Width:      960,
		Stage1Height:     544,
		UpsampleFactor:   2,
		TargetWidth:      1920,
		TargetHeight:     1080,
		Stage1Steps:      8,
		Stage1Guidance:   1.0,
		Stage1Attempts:   3,
		Stage2Steps:      3,
		Stage2Guidance:   3.0,
		Stage2Init:       InitLatent,
		Stage2NoiseScale: 0.45,
		Stage2Strength:   0.6,
		HardBudget:       90 * time.Second,
		Stage1Timeout:    70 * time.Second,
		MinStage2bBudget: 15 * time.Second,
		MaxFrames:        121,
		WithAudio:        true,
		FidelityPass:     20,
		FidelityFail:     30,
	},
	"quality": {
		Name:             "quality",
		Stage1Width:      960,
		Stage1Height:     544,
		UpsampleFactor:   2,
		TargetWidth:      1920,
		TargetHeight:     1080,
		Stage1Steps:      12,
		Stage1Guidance:   1.5,
		Stage1Attempts:   3,
		Stage2Steps:      4,
		Stage2Guidance:   4.0,
		Stage2Init:       InitImage,
		Stage2NoiseScale: 0.45,
		Stage2Strength:   0.55,
		HardBudget:       180 * time.Second,
		Stage1Timeout:    120 * time.Second,
		MinStage2bBudget: 30 * time.Second,
		MaxFrames:        161,
		WithAudio:        true,
		FidelityPass:     20,
		FidelityFail:     30,
	},
}

// DecodedSize is the pixel size the decoder returns before cropping.
func (c PipelineConfig) DecodedSize() (int, int) {
	return c.Stage1Width * c.UpsampleFactor, c.Stage1Height * c.UpsampleFactor
}

func (c PipelineConfig) Stage1Schedule() diffusion.Schedule {
	return diffusion.Schedule{Steps: c.Stage1Steps, Guidance: c.Stage1Guidance}
}

func (c PipelineConfig) Stage2Schedule() diffusion.Schedule {
	return diffusion.Schedule{Steps: c.Stage2Steps, Guidance: c.Stage2Guidance}
}

// WithBudgetOverrides replaces the budget thresholds that are non-zero.
func (c PipelineConfig) WithBudgetOverrides(hard, stage1Timeout, minStage2b time.Duration) PipelineConfig {
	if hard > 0 {
		c.HardBudget = hard
	}
	if stage1Timeout > 0 {
		c.Stage1Timeout = stage1Timeout
	}
	if minStage2b > 0 {
		c.MinStage2bBudget = minStage2b
	}
	return c
}

func (c PipelineConfig) Validate() error {
	switch {
	case c.Stage1Width <= 0 || c.Stage1Height <= 0:
		return fmt.Errorf("pipeline: preset %q: stage1 size must be positive", c.Name)
	case c.Stage1Width%diffusion.SpatialScale != 0 || c.Stage1Height%diffusion.SpatialScale != 0:
		return fmt.Errorf("pipeline: preset %q: stage1 size must be a multiple of %d", c.Name, diffusion.SpatialScale)
	case c.UpsampleFactor < 1:
		return fmt.Errorf("pipeline: preset %q: upsample factor must be at least 1", c.Name)
	case c.Stage1Steps <= 0 || c.Stage2Steps <= 0:
		return fmt.Errorf("pipeline: preset %q: step counts must be positive", c.Name)
	case c.Stage2Guidance <= c.Stage1Guidance:
		return fmt.Errorf("pipeline: preset %q: stage2 guidance must exceed stage1 guidance", c.Name)
	case c.Stage1Attempts <= 0:
		return fmt.Errorf("pipeline: preset %q: stage1 attempts must be positive", c.Name)
	case c.Stage2Init != InitLatent && c.Stage2Init != InitImage:
		return fmt.Errorf("pipeline: preset %q: unknown stage2 init %q", c.Name, c.Stage2Init)
	case c.HardBudget <= 0 || c.Stage1Timeout <= 0 || c.MinStage2bBudget < 0:
		return fmt.Errorf("pipeline: preset %q: budgets must be positive", c.Name)
	case c.MaxFrames < 9:
		return fmt.Errorf("pipeline: preset %q: max frames must be at least 9", c.Name)
	case c.FidelityPass <= 0 || c.FidelityFail < c.FidelityPass:
		return fmt.Errorf("pipeline: preset %q: fidelity thresholds out of order", c.Name)
	}
	dw, dh := c.DecodedSize()
	if c.TargetWidth <= 0 || c.TargetHeight <= 0 || c.TargetWidth > dw || c.TargetHeight > dh {
		return fmt.Errorf("pipeline: preset %q: target %dx%d exceeds decoded %dx%d", c.Name, c.TargetWidth, c.TargetHeight, dw, dh)
	}
	return nil
}

// Registry resolves preset names.
type Registry struct {
	presets map[string]PipelineConfig
}

// NewRegistry copies the built-in presets and merges extra over them.
func NewRegistry(extra map[string]PipelineConfig) (*Registry, error) {
	r := &Registry{presets: make(map[string]PipelineConfig, len(Presets)+len(extra))}
	for name, cfg := range Presets {
		r.presets[name] = cfg
	}
	for name, cfg := range extra {
		cfg.Name = name
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		r.presets[name] = cfg
	}
	return r, nil
}

func (r *Registry) Get(name string) (PipelineConfig, bool) {
	if name == "" {
		name = DefaultPreset
	}
	cfg, ok := r.presets[name]
	return cfg, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadPresets reads a YAML document of the form
//
//	presets:
//	  studio:
//	    extends: quality
//	    hard_budget: 240s
//
// Each entry starts from the preset it extends (balanced by default) and
// overrides only the keys it sets.
func LoadPresets(path string) (map[string]PipelineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read presets: %w", err)
	}
	return ParsePresets(raw)
}

func ParsePresets(raw []byte) (map[string]PipelineConfig, error) {
	var doc struct {
		Presets map[string]yaml.Node `yaml:"presets"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("pipeline: parse presets: %w", err)
	}
	if len(doc.Presets) == 0 {
		return nil, errors.New("pipeline: presets file defines no presets")
	}
	out := make(map[string]PipelineConfig, len(doc.Presets))
	for name, node := range doc.Presets {
		var head struct {
			Extends string `yaml:"extends"`
		}
		if err := node.Decode(&head); err != nil {
			return nil, fmt.Errorf("pipeline: preset %q: %w", name, err)
		}
		if head.Extends == "" {
			head.Extends = DefaultPreset
		}
		base, ok := Presets[head.Extends]
		if !ok {
			return nil, fmt.Errorf("pipeline: preset %q extends unknown preset %q", name, head.Extends)
		}
		if err := node.Decode(&base); err != nil {
			return nil, fmt.Errorf("pipeline: preset %q: %w", name, err)
		}
		base.Name = name
		if err := base.Validate(); err != nil {
			return nil, err
		}
		out[name] = base
	}
	return out, nil
}

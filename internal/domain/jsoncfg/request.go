package jsoncfg

import (
	"fmt"
	"strings"

	"clipgen/internal/domain"
)

// GenerationPayload is the wire contract accepted by /v1/generate and
// /v1/jobs.
type GenerationPayload struct {
	ImageURL         string `json:"image_url"`
	Image            string `json:"image"`
	Dialogue         string `json:"dialogue"`
	SceneDescription string `json:"scene_description"`
	NumFrames        int    `json:"num_frames"`
	FPS              int    `json:"fps"`
	Seed             int64  `json:"seed"`
	EnableRefinement *bool  `json:"enable_refinement"`
	ToneFix          *bool  `json:"tone_fix"`
	Engine           string `json:"engine"`
	Model            string `json:"model"`
	Preset           string `json:"preset"`
}

const (
	// DefaultNumFrames is roughly five seconds at the default frame rate.
	DefaultNumFrames = 121
	// MinNumFrames is the smallest clip the latent grid supports.
	MinNumFrames = 9
	// DefaultFPS is used when the request omits fps.
	DefaultFPS = 24
	MinFPS     = 8
	MaxFPS     = 30
	// MaxDialogueRunes bounds dialogue text; only shallow features are used.
	MaxDialogueRunes = 2000
	// MaxSceneRunes bounds raw scene descriptions before sanitization.
	MaxSceneRunes = 4000
)

// Normalize applies defaults and clamps numeric fields. maxFrames is the
// active preset's frame cap.
func (p *GenerationPayload) Normalize(maxFrames int) {
	if p == nil {
		return
	}
	if maxFrames < MinNumFrames {
		maxFrames = DefaultNumFrames
	}
	if strings.TrimSpace(p.ImageURL) == "" {
		p.ImageURL = strings.TrimSpace(p.Image)
	}
	p.ImageURL = strings.TrimSpace(p.ImageURL)
	p.Image = ""
	if p.NumFrames <= 0 {
		p.NumFrames = DefaultNumFrames
	}
	if p.NumFrames > maxFrames {
		p.NumFrames = maxFrames
	}
	if p.NumFrames < MinNumFrames {
		p.NumFrames = MinNumFrames
	}
	p.NumFrames = snapFrames(p.NumFrames)
	if p.FPS <= 0 {
		p.FPS = DefaultFPS
	}
	if p.FPS < MinFPS {
		p.FPS = MinFPS
	}
	if p.FPS > MaxFPS {
		p.FPS = MaxFPS
	}
	if p.Seed < 0 {
		p.Seed = -p.Seed
	}
	p.Engine = strings.ToLower(strings.TrimSpace(p.Engine))
	if p.Engine == "" {
		p.Engine = domain.EngineLocal
	}
	p.Model = strings.TrimSpace(p.Model)
	p.Preset = strings.ToLower(strings.TrimSpace(p.Preset))
	if p.EnableRefinement == nil {
		v := false
		p.EnableRefinement = &v
	}
	if p.ToneFix == nil {
		v := true
		p.ToneFix = &v
	}
}

// snapFrames rounds down to the nearest 8k+1 frame count.
func snapFrames(n int) int {
	if n < MinNumFrames {
		return MinNumFrames
	}
	return ((n-1)/8)*8 + 1
}

// Validate reports input errors. It assumes Normalize has run. hasUpload
// reports whether the image arrived as a multipart file.
func (p GenerationPayload) Validate(hasUpload bool) error {
	if !hasUpload && p.ImageURL == "" {
		return fmt.Errorf("%w: image_url is required", domain.ErrInvalidInput)
	}
	if p.ImageURL != "" {
		lower := strings.ToLower(p.ImageURL)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "data:") {
			return fmt.Errorf("%w: image_url must be an http(s) or data url", domain.ErrInvalidInput)
		}
	}
	if len([]rune(p.Dialogue)) > MaxDialogueRunes {
		return fmt.Errorf("%w: dialogue exceeds %d characters", domain.ErrInvalidInput, MaxDialogueRunes)
	}
	if len([]rune(p.SceneDescription)) > MaxSceneRunes {
		return fmt.Errorf("%w: scene_description exceeds %d characters", domain.ErrInvalidInput, MaxSceneRunes)
	}
	return nil
}

// ToRequest converts a normalized payload into the domain request.
func (p GenerationPayload) ToRequest(upload []byte) domain.GenerationRequest {
	req := domain.GenerationRequest{
		Image:            domain.SourceImage{Data: upload, URL: p.ImageURL},
		Dialogue:         p.Dialogue,
		SceneDescription: p.SceneDescription,
		FrameCount:       p.NumFrames,
		FPS:              p.FPS,
		Seed:             p.Seed,
		Engine:           p.Engine,
		VendorModel:      p.Model,
		Preset:           p.Preset,
	}
	if len(upload) > 0 {
		req.Image.URL = ""
	}
	if p.EnableRefinement != nil {
		req.EnableRefinement = *p.EnableRefinement
	}
	if p.ToneFix != nil {
		req.ToneFix = *p.ToneFix
	}
	return req
}

package domain

import "time"

// Engines.
const (
	EngineLocal = "local"
)

// SourceImage is the caller supplied reference image. Exactly one of Data or
// URL is set; URL may be an http(s) URL or a base64 data URL.
type SourceImage struct {
	Data []byte `json:"-"`
	URL  string `json:"url,omitempty"`
}

// GenerationRequest is an accepted, normalized request. It is not mutated
// after acceptance.
type GenerationRequest struct {
	Image            SourceImage `json:"image"`
	Dialogue         string      `json:"dialogue"`
	SceneDescription string      `json:"scene_description"`
	FrameCount       int         `json:"frame_count"`
	FPS              int         `json:"fps"`
	Seed             int64       `json:"seed"`
	EnableRefinement bool        `json:"enable_refinement"`
	ToneFix          bool        `json:"tone_fix"`
	Engine           string      `json:"engine"`
	VendorModel      string      `json:"vendor_model,omitempty"`
	Preset           string      `json:"preset,omitempty"`
}

// Duration is the requested clip length.
func (r GenerationRequest) Duration() time.Duration {
	if r.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(r.FrameCount) / float64(r.FPS) * float64(time.Second))
}

// Audio outcomes.
const (
	AudioOriginal    = "original"
	AudioSynthesized = "synthesized"
	AudioSilent      = "silent"
)

// GenerationReport summarizes the non-fatal decisions taken while producing
// an artifact.
type GenerationReport struct {
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt"`
	PromptFallback  bool     `json:"prompt_fallback"`
	Motion          string   `json:"motion"`
	Stage1Attempts  int      `json:"stage1_attempts,omitempty"`
	Stage2b         string   `json:"stage2b,omitempty"`
	Stage2bReason   string   `json:"stage2b_reason,omitempty"`
	FidelityVerdict string   `json:"fidelity_verdict,omitempty"`
	FidelityMaxDiff float64  `json:"fidelity_max_diff,omitempty"`
	FrameReplaced   bool     `json:"frame_replaced,omitempty"`
	Audio           string   `json:"audio"`
	VendorTaskID    string   `json:"vendor_task_id,omitempty"`
	Degraded        []string `json:"degraded,omitempty"`
}

// ArtifactMeta describes a produced clip without its bytes.
type ArtifactMeta struct {
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	FrameCount int              `json:"frame_count"`
	FPS        int              `json:"fps"`
	DurationMS int64            `json:"duration_ms"`
	CostUSD    float64          `json:"cost_usd"`
	Seed       int64            `json:"seed"`
	Engine     string           `json:"engine"`
	Preset     string           `json:"preset,omitempty"`
	Report     GenerationReport `json:"report"`
}

// VideoArtifact is the terminal output of a generation.
type VideoArtifact struct {
	ArtifactMeta
	Data []byte
}

// ContentType is the MIME type of every artifact this service produces.
const ContentType = "video/mp4"

// GenerationRecord is one row of the generation ledger.
type GenerationRecord struct {
	ID              string
	JobID           string
	Engine          string
	Preset          string
	Status          string
	ErrorCode       string
	Seed            int64
	Stage2b         string
	FidelityVerdict string
	FidelityMaxDiff float64
	Audio           string
	FrameCount      int
	FPS             int
	DurationMS      int64
	CostUSD         float64
	CreatedAt       time.Time
}

// Ledger statuses.
const (
	RecordSucceeded = "succeeded"
	RecordFailed    = "failed"
)

package jsoncfg

import (
	"errors"
	"testing"

	"clipgen/internal/domain"
)

func TestGenerationPayloadNormalizeDefaults(t *testing.T) {
	p := &GenerationPayload{Image: "https://cdn.example.com/a.png"}
	p.Normalize(121)

	if p.ImageURL != "https://cdn.example.com/a.png" {
		t.Fatalf("ImageURL = %q, want image alias", p.ImageURL)
	}
	if p.NumFrames != DefaultNumFrames {
		t.Fatalf("NumFrames = %d, want %d", p.NumFrames, DefaultNumFrames)
	}
	if p.FPS != DefaultFPS {
		t.Fatalf("FPS = %d, want %d", p.FPS, DefaultFPS)
	}
	if p.Engine != domain.EngineLocal {
		t.Fatalf("Engine = %q, want %q", p.Engine, domain.EngineLocal)
	}
	if p.EnableRefinement == nil || *p.EnableRefinement {
		t.Fatalf("EnableRefinement should default to false")
	}
	if p.ToneFix == nil || !*p.ToneFix {
		t.Fatalf("ToneFix should default to true")
	}
}

func TestGenerationPayloadNormalizeClamps(t *testing.T) {
	tests := []struct {
		name       string
		frames     int
		fps        int
		maxFrames  int
		wantFrames int
		wantFPS    int
	}{
		{name: "above cap", frames: 500, fps: 24, maxFrames: 121, wantFrames: 121},
		{name: "snap down", frames: 100, fps: 24, maxFrames: 121, wantFrames: 97},
		{name: "below min", frames: 3, fps: 24, maxFrames: 121, wantFrames: 9},
		{name: "cap not aligned", frames: 200, fps: 24, maxFrames: 150, wantFrames: 145},
		{name: "fps high", frames: 121, fps: 120, maxFrames: 121, wantFrames: 121, wantFPS: MaxFPS},
		{name: "fps low", frames: 121, fps: 2, maxFrames: 121, wantFrames: 121, wantFPS: MinFPS},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &GenerationPayload{NumFrames: tc.frames, FPS: tc.fps}
			p.Normalize(tc.maxFrames)
			if p.NumFrames != tc.wantFrames {
				t.Fatalf("NumFrames = %d, want %d", p.NumFrames, tc.wantFrames)
			}
			wantFPS := tc.wantFPS
			if wantFPS == 0 {
				wantFPS = tc.fps
			}
			if p.FPS != wantFPS {
				t.Fatalf("FPS = %d, want %d", p.FPS, wantFPS)
			}
		})
	}
}

func TestGenerationPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload GenerationPayload
		upload  bool
		wantErr bool
	}{
		{name: "missing image", payload: GenerationPayload{}, wantErr: true},
		{name: "upload only", payload: GenerationPayload{}, upload: true},
		{name: "https", payload: GenerationPayload{ImageURL: "https://x.test/a.jpg"}},
		{name: "data url", payload: GenerationPayload{ImageURL: "data:image/png;base64,AAAA"}},
		{name: "file scheme", payload: GenerationPayload{ImageURL: "file:///etc/passwd"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate(tc.upload)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Fatalf("Validate() = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestGenerationPayloadToRequestPrefersUpload(t *testing.T) {
	p := &GenerationPayload{ImageURL: "https://x.test/a.jpg", Dialogue: "hi"}
	p.Normalize(121)
	req := p.ToRequest([]byte{1, 2, 3})
	if req.Image.URL != "" {
		t.Fatalf("Image.URL = %q, want empty when upload present", req.Image.URL)
	}
	if len(req.Image.Data) != 3 {
		t.Fatalf("Image.Data len = %d, want 3", len(req.Image.Data))
	}
	if req.FrameCount != DefaultNumFrames || req.FPS != DefaultFPS {
		t.Fatalf("unexpected frame settings %d@%d", req.FrameCount, req.FPS)
	}
}

package diffusion

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeRuntime struct {
	mu      sync.Mutex
	deleted []string
	refine  refineBody
}

func (f *fakeRuntime) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeLatent := func(w http.ResponseWriter, id string, width, height int) {
		_ = json.NewEncoder(w).Encode(map[string]any{"latent": map[string]any{
			"id": id, "frames": 2, "height": height, "width": width, "channels": 128, "fps": 24, "has_audio": true,
		}})
	}
	mux.HandleFunc("POST /v1/stage1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body stage1Body
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ImagePNG == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.Seed == 13 {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(errorResponse{Code: "oom", Message: "out of memory"})
			return
		}
		writeLatent(w, "lat-1", 120, 68)
	})
	mux.HandleFunc("POST /v1/upsamplers", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "up-1"})
	})
	mux.HandleFunc("POST /v1/upsamplers/up-1/apply", func(w http.ResponseWriter, r *http.Request) {
		writeLatent(w, "lat-2", 240, 136)
	})
	mux.HandleFunc("POST /v1/refine", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&f.refine)
		f.mu.Unlock()
		writeLatent(w, "lat-3", 240, 136)
	})
	mux.HandleFunc("POST /v1/latents/lat-3/decode", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frames", "2")
		w.Header().Set("X-Width", "2")
		w.Header().Set("X-Height", "1")
		buf := make([]byte, 2*2*1*3*4)
		for i := 0; i < len(buf)/4; i++ {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(0.5))
		}
		_, _ = w.Write(buf)
	})
	mux.HandleFunc("GET /v1/latents/lat-3/audio", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Sample-Rate", "48000")
		buf := make([]byte, 4*4)
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(-0.25))
		}
		_, _ = w.Write(buf)
	})
	mux.HandleFunc("DELETE /", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.URL.Path)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestRemoteRoundTrip(t *testing.T) {
	rt := &fakeRuntime{}
	srv := httptest.NewServer(rt.handler(t))
	defer srv.Close()

	r, err := NewRemote(RemoteOptions{BaseURL: srv.URL + "/", Token: "secret", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	ctx := context.Background()
	l1, err := r.GenerateLatent(ctx, Stage1Params{Image: refImage(16, 16), Width: 960, Height: 544, Frames: 2, FPS: 24, Seed: 1})
	if err != nil {
		t.Fatalf("GenerateLatent: %v", err)
	}
	if l1.Handle != "lat-1" || l1.Width != 120 || !l1.HasAudio {
		t.Fatalf("latent = %+v", l1)
	}
	up, err := r.LoadUpsampler(ctx)
	if err != nil {
		t.Fatalf("LoadUpsampler: %v", err)
	}
	l2, err := up.Upsample(ctx, l1)
	if err != nil {
		t.Fatalf("Upsample: %v", err)
	}
	l1.Release()
	_ = up.Close()

	l3, err := r.Refine(ctx, RefineParams{Input: LatentContinuation{Latent: l2, NoiseScale: 0.4}, Width: 1920, Height: 1088, Frames: 2, FPS: 24})
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if rt.refine.Init.Kind != "latent" || rt.refine.Init.LatentID != "lat-2" {
		t.Fatalf("refine init = %+v", rt.refine.Init)
	}
	px, err := r.Decode(ctx, l3)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(px.Frames) != 2 || px.Width != 2 || px.Height != 1 || px.Frames[1][5] != 0.5 {
		t.Fatalf("pixels = %+v", px)
	}
	if px.Audio == nil || len(px.Audio.Samples) != 4 || px.Audio.Samples[0] != -0.25 {
		t.Fatalf("audio = %+v", px.Audio)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	want := []string{"/v1/latents/lat-1", "/v1/upsamplers/up-1"}
	if len(rt.deleted) != len(want) {
		t.Fatalf("deleted = %v, want %v", rt.deleted, want)
	}
	for i := range want {
		if rt.deleted[i] != want[i] {
			t.Fatalf("deleted = %v, want %v", rt.deleted, want)
		}
	}
}

func TestRemoteImageInitAndErrors(t *testing.T) {
	rt := &fakeRuntime{}
	srv := httptest.NewServer(rt.handler(t))
	defer srv.Close()
	r, _ := NewRemote(RemoteOptions{BaseURL: srv.URL, Token: "secret", HTTPClient: srv.Client()})
	ctx := context.Background()

	if _, err := r.Refine(ctx, RefineParams{Input: ImageInit{Image: refImage(8, 8), Strength: 0.7}}); err != nil {
		t.Fatalf("Refine image init: %v", err)
	}
	if rt.refine.Init.Kind != "image" || rt.refine.Init.ImagePNG == "" || rt.refine.Init.Strength != 0.7 {
		t.Fatalf("refine init = %+v", rt.refine.Init)
	}

	_, err := r.GenerateLatent(ctx, Stage1Params{Image: refImage(8, 8), Seed: 13})
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("GenerateLatent error = %v, want runtime message", err)
	}

	anon, _ := NewRemote(RemoteOptions{BaseURL: srv.URL, HTTPClient: srv.Client()})
	if _, err := anon.GenerateLatent(ctx, Stage1Params{Image: refImage(8, 8)}); err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("unauthenticated error = %v, want status 401", err)
	}

	if _, err := NewRemote(RemoteOptions{}); err != ErrMissingBaseURL {
		t.Fatalf("NewRemote() error = %v, want ErrMissingBaseURL", err)
	}
}

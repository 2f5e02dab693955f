package handlers

import (
	"net/http"
	"strconv"

	"clipgen/internal/domain"
)

// Generate runs a request synchronously and streams back the mp4.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	req, err := a.readRequest(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	art, err := a.gen.Generate(r.Context(), "", req, nil)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeVideo(w, art.Data, art.ArtifactMeta)
}

func writeVideo(w http.ResponseWriter, data []byte, meta domain.ArtifactMeta) {
	h := w.Header()
	h.Set("Content-Type", domain.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Generation-Engine", meta.Engine)
	h.Set("X-Generation-Seed", strconv.FormatInt(meta.Seed, 10))
	h.Set("X-Generation-Cost-USD", strconv.FormatFloat(meta.CostUSD, 'f', 6, 64))
	h.Set("X-Generation-Frames", strconv.Itoa(meta.FrameCount))
	h.Set("X-Generation-FPS", strconv.Itoa(meta.FPS))
	h.Set("X-Generation-Duration-MS", strconv.FormatInt(meta.DurationMS, 10))
	h.Set("X-Generation-Audio", meta.Report.Audio)
	if meta.Preset != "" {
		h.Set("X-Generation-Preset", meta.Preset)
	}
	if meta.Report.Stage2b != "" {
		h.Set("X-Generation-Stage2b", meta.Report.Stage2b)
	}
	if meta.Report.FidelityVerdict != "" {
		h.Set("X-Generation-Fidelity", meta.Report.FidelityVerdict)
	}
	if meta.Report.PromptFallback {
		h.Set("X-Generation-Prompt-Fallback", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

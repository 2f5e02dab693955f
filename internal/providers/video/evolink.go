package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"clipgen/internal/domain"
	"clipgen/internal/imageprep"
)

const (
	defaultEvolinkBase  = "https://api.evolink.ai/v1"
	defaultEvolinkModel = "seedance-1.0-pro-fast"
)

// Evolink is a generic video generation API whose responses vary in shape
// between models, so fields are read leniently.
type Evolink struct {
	client
}

func NewEvolink(opts ClientOptions) *Evolink {
	return &Evolink{client: newClient(VendorEvolink, defaultEvolinkBase, opts)}
}

var _ Generator = (*Evolink)(nil)

func (e *Evolink) Size() (int, int) { return 1248, 704 }

type evolinkCreateRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Image          string `json:"image"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	NumFrames      int    `json:"num_frames,omitempty"`
	FPS            int    `json:"fps"`
	Duration       int    `json:"duration"`
	Seed           int64  `json:"seed,omitempty"`
}

func (e *Evolink) CreateTask(ctx context.Context, req TaskRequest) (string, error) {
	if len(req.Image) == 0 {
		return "", fmt.Errorf("evolink: reference image is required: %w", domain.ErrInvalidInput)
	}
	mime := req.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultEvolinkModel
	}
	fps := req.FPS
	if fps <= 0 {
		fps = 24
	}
	duration := req.DurationSeconds
	if duration <= 0 {
		duration = 5
	}
	w, h := e.Size()
	payload := evolinkCreateRequest{
		Model:          model,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Image:          imageprep.DataURL(mime, req.Image),
		Width:          w,
		Height:         h,
		NumFrames:      req.Frames,
		FPS:            fps,
		Duration:       duration,
		Seed:           req.Seed,
	}
	var out map[string]any
	if err := e.doJSON(ctx, http.MethodPost, e.baseURL+"/video/generations", payload, &out); err != nil {
		return "", err
	}
	id := firstString(out, "task_id", "id", "data.task_id", "data.id")
	if id == "" {
		return "", fmt.Errorf("evolink: response carried no task id: %w", domain.ErrVendorUnavailable)
	}
	e.logger.Info().Str("task_id", id).Str("model", model).Msg("evolink: task created")
	return id, nil
}

func (e *Evolink) GetTask(ctx context.Context, id string) (Task, error) {
	if id == "" {
		return Task{}, errors.New("evolink: task id is required")
	}
	var out map[string]any
	if err := e.doJSON(ctx, http.MethodGet, e.baseURL+"/video/generations/"+url.PathEscape(id), nil, &out); err != nil {
		return Task{}, err
	}
	task := Task{ID: id, Status: StatusRunning}
	status := strings.ToLower(firstString(out, "status", "data.status", "state"))
	switch status {
	case "completed", "complete", "success", "succeeded":
		task.Status = StatusSucceeded
		task.ResultURL = firstString(out, "video_url", "url", "data.video_url", "data.url", "output.video_url", "results.0")
	case "failed", "error", "cancelled":
		task.Status = StatusFailed
		task.Error = firstString(out, "error.message", "error", "message", "data.error")
		if task.Error == "" {
			task.Error = status
		}
	case "queued", "pending", "submitted":
		task.Status = StatusQueued
	}
	return task, nil
}

// firstString returns the first non-empty string found at any of the
// dotted paths. Numeric path segments index arrays.
func firstString(doc map[string]any, paths ...string) string {
	for _, p := range paths {
		if v := lookup(doc, strings.Split(p, ".")); v != "" {
			return v
		}
	}
	return ""
}

func lookup(node any, path []string) string {
	for _, seg := range path {
		switch n := node.(type) {
		case map[string]any:
			node = n[seg]
		case []any:
			var idx int
			if _, err := fmt.Sscanf(seg, "%d", &idx); err != nil || idx < 0 || idx >= len(n) {
				return ""
			}
			node = n[idx]
		default:
			return ""
		}
	}
	switch v := node.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

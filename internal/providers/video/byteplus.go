package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"clipgen/internal/domain"
	"clipgen/internal/imageprep"
)

const (
	defaultBytePlusBase  = "https://ark.ap-southeast.bytepluses.com/api/v3"
	defaultBytePlusModel = "seedance-1-0-pro-fast-251015"
)

// BytePlusModelAliases maps public model names to ModelArk endpoint ids.
var BytePlusModelAliases = map[string]string{
	"seedance-1.0-pro":      "seedance-1-0-pro-251015",
	"seedance-1.0-pro-fast": "seedance-1-0-pro-fast-251015",
}

type BytePlusOptions struct {
	ClientOptions
	// ModelOverride replaces every requested model when set.
	ModelOverride string
}

// BytePlus drives Seedance through the ModelArk content generation API.
type BytePlus struct {
	client
	modelOverride string
}

func NewBytePlus(opts BytePlusOptions) *BytePlus {
	return &BytePlus{
		client:        newClient(VendorBytePlus, defaultBytePlusBase, opts.ClientOptions),
		modelOverride: strings.TrimSpace(opts.ModelOverride),
	}
}

var _ Generator = (*BytePlus)(nil)

func (b *BytePlus) Size() (int, int) { return 1248, 704 }

// ResolveModel applies the override, then the alias table.
func (b *BytePlus) ResolveModel(requested string) string {
	if b.modelOverride != "" {
		return b.modelOverride
	}
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return defaultBytePlusModel
	}
	if id, ok := BytePlusModelAliases[requested]; ok {
		return id
	}
	return requested
}

type arkContent struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *arkImageURL `json:"image_url,omitempty"`
}

type arkImageURL struct {
	URL string `json:"url"`
}

type arkCreateRequest struct {
	Model   string       `json:"model"`
	Content []arkContent `json:"content"`
}

type arkTask struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content struct {
		VideoURL string `json:"video_url"`
	} `json:"content"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// arkPrompt appends the text commands ModelArk reads from the prompt.
func arkPrompt(req TaskRequest) string {
	duration := req.DurationSeconds
	if duration <= 0 {
		duration = 5
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(req.Prompt))
	fmt.Fprintf(&sb, " --resolution 720p --ratio 16:9 --duration %d --camerafixed true", duration)
	if req.Seed > 0 {
		fmt.Fprintf(&sb, " --seed %d", req.Seed)
	}
	return sb.String()
}

func (b *BytePlus) CreateTask(ctx context.Context, req TaskRequest) (string, error) {
	if len(req.Image) == 0 {
		return "", fmt.Errorf("byteplus: reference image is required: %w", domain.ErrInvalidInput)
	}
	mime := req.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	payload := arkCreateRequest{
		Model: b.ResolveModel(req.Model),
		Content: []arkContent{
			{Type: "text", Text: arkPrompt(req)},
			{Type: "image_url", ImageURL: &arkImageURL{URL: imageprep.DataURL(mime, req.Image)}},
		},
	}
	var out arkTask
	if err := b.doJSON(ctx, http.MethodPost, b.baseURL+"/contents/generations/tasks", payload, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("byteplus: response carried no task id: %w", domain.ErrVendorUnavailable)
	}
	b.logger.Info().Str("task_id", out.ID).Str("model", payload.Model).Msg("byteplus: task created")
	return out.ID, nil
}

func (b *BytePlus) GetTask(ctx context.Context, id string) (Task, error) {
	if id == "" {
		return Task{}, errors.New("byteplus: task id is required")
	}
	var out arkTask
	if err := b.doJSON(ctx, http.MethodGet, b.baseURL+"/contents/generations/tasks/"+url.PathEscape(id), nil, &out); err != nil {
		return Task{}, err
	}
	task := Task{ID: id, ResultURL: out.Content.VideoURL}
	switch out.Status {
	case "queued":
		task.Status = StatusQueued
	case "running":
		task.Status = StatusRunning
	case "succeeded":
		task.Status = StatusSucceeded
	case "failed", "cancelled", "expired":
		task.Status = StatusFailed
		task.Error = out.Status
		if out.Error != nil {
			task.Error = strings.TrimSpace(out.Error.Code + ": " + out.Error.Message)
		}
	default:
		task.Status = StatusRunning
	}
	return task, nil
}

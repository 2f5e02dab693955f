package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"clipgen/internal/domain"
	"clipgen/internal/imageprep"
)

const (
	defaultRunwareBase  = "https://api.runware.ai/v1"
	defaultRunwareModel = "bytedance:2@2"
)

type RunwareOptions struct {
	ClientOptions
	// Enabled gates the vendor behind a billing decision.
	Enabled bool
}

// Runware drives Seedance through Runware's task API.
type Runware struct {
	client
	enabled bool
}

func NewRunware(opts RunwareOptions) *Runware {
	return &Runware{client: newClient(VendorRunware, defaultRunwareBase, opts.ClientOptions), enabled: opts.Enabled}
}

var _ Generator = (*Runware)(nil)

func (r *Runware) Size() (int, int) { return 1280, 720 }

func (r *Runware) Enabled() bool { return r.enabled }

type runwareFrameImage struct {
	InputImage string `json:"inputImage"`
}

type runwareTask struct {
	TaskType       string              `json:"taskType"`
	TaskUUID       string              `json:"taskUUID"`
	PositivePrompt string              `json:"positivePrompt,omitempty"`
	NegativePrompt string              `json:"negativePrompt,omitempty"`
	Model          string              `json:"model,omitempty"`
	Width          int                 `json:"width,omitempty"`
	Height         int                 `json:"height,omitempty"`
	Duration       int                 `json:"duration,omitempty"`
	FPS            int                 `json:"fps,omitempty"`
	Seed           int64               `json:"seed,omitempty"`
	FrameImages    []runwareFrameImage `json:"frameImages,omitempty"`
	NumberResults  int                 `json:"numberResults,omitempty"`
	DeliveryMethod string              `json:"deliveryMethod,omitempty"`
	IncludeCost    bool                `json:"includeCost,omitempty"`
	OutputFormat   string              `json:"outputFormat,omitempty"`
}

type runwareResponse struct {
	Data []struct {
		TaskType string  `json:"taskType"`
		TaskUUID string  `json:"taskUUID"`
		Status   string  `json:"status"`
		VideoURL string  `json:"videoURL"`
		Cost     float64 `json:"cost"`
	} `json:"data"`
	Errors []struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		TaskUUID string `json:"taskUUID"`
	} `json:"errors"`
}

func (r *Runware) errorsAsClass(resp runwareResponse) error {
	if len(resp.Errors) == 0 {
		return nil
	}
	first := resp.Errors[0]
	msg := strings.TrimSpace(first.Code + ": " + first.Message)
	if isBillingMessage(strings.ToLower(msg)) {
		return fmt.Errorf("runware: insufficient credits: %s: %w", msg, domain.ErrVendorAccessDenied)
	}
	return fmt.Errorf("runware: %s: %w", msg, classOf(http.StatusBadRequest, msg))
}

func (r *Runware) CreateTask(ctx context.Context, req TaskRequest) (string, error) {
	if !r.enabled {
		return "", fmt.Errorf("runware: provider is disabled: %w", domain.ErrVendorDisabled)
	}
	if len(req.Image) == 0 {
		return "", fmt.Errorf("runware: reference image is required: %w", domain.ErrInvalidInput)
	}
	mime := req.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultRunwareModel
	}
	duration := req.DurationSeconds
	if duration <= 0 {
		duration = 5
	}
	w, h := r.Size()
	id := uuid.NewString()
	task := runwareTask{
		TaskType:       "videoInference",
		TaskUUID:       id,
		PositivePrompt: req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          model,
		Width:          w,
		Height:         h,
		Duration:       duration,
		FPS:            req.FPS,
		FrameImages:    []runwareFrameImage{{InputImage: imageprep.DataURL(mime, req.Image)}},
		NumberResults:  1,
		DeliveryMethod: "async",
		IncludeCost:    true,
		OutputFormat:   "MP4",
	}
	if req.Seed > 0 {
		task.Seed = req.Seed
	}
	var out runwareResponse
	if err := r.doJSON(ctx, http.MethodPost, r.baseURL, []runwareTask{task}, &out); err != nil {
		return "", r.billing(err)
	}
	if err := r.errorsAsClass(out); err != nil {
		return "", err
	}
	r.logger.Info().Str("task_id", id).Str("model", model).Msg("runware: task created")
	return id, nil
}

func (r *Runware) GetTask(ctx context.Context, id string) (Task, error) {
	if id == "" {
		return Task{}, errors.New("runware: task id is required")
	}
	var out runwareResponse
	poll := []runwareTask{{TaskType: "getResponse", TaskUUID: id}}
	if err := r.doJSON(ctx, http.MethodPost, r.baseURL, poll, &out); err != nil {
		return Task{}, r.billing(err)
	}
	if len(out.Errors) > 0 {
		return Task{ID: id, Status: StatusFailed, Error: strings.TrimSpace(out.Errors[0].Code + ": " + out.Errors[0].Message)}, nil
	}
	task := Task{ID: id, Status: StatusRunning}
	for _, d := range out.Data {
		if d.TaskUUID != id {
			continue
		}
		switch strings.ToLower(d.Status) {
		case "success", "completed":
			task.Status = StatusSucceeded
			task.ResultURL = d.VideoURL
			task.CostUSD = d.Cost
		case "error", "failed":
			task.Status = StatusFailed
			task.Error = d.Status
		}
	}
	return task, nil
}

// billing keeps insufficient-credit failures in the access-denied class even
// when the vendor reports them with a generic status.
func (r *Runware) billing(err error) error {
	if err != nil && isBillingMessage(strings.ToLower(err.Error())) && !errors.Is(err, domain.ErrVendorAccessDenied) {
		return fmt.Errorf("runware: insufficient credits: %v: %w", err, domain.ErrVendorAccessDenied)
	}
	return err
}

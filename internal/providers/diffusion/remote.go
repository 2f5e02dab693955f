package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clipgen/internal/infra"
)

// ErrMissingBaseURL indicates that the remote runtime was not configured.
var ErrMissingBaseURL = errors.New("diffusion: runtime base url is required")

// RemoteOptions configures the HTTP client of a model runtime that keeps
// latents resident on its accelerator and exposes them by handle.
type RemoteOptions struct {
	BaseURL        string
	Token          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

// Remote implements Model against one runtime instance.
type Remote struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *infra.Logger
}

type latentResponse struct {
	Latent struct {
		ID       string `json:"id"`
		Frames   int    `json:"frames"`
		Height   int    `json:"height"`
		Width    int    `json:"width"`
		Channels int    `json:"channels"`
		FPS      int    `json:"fps"`
		HasAudio bool   `json:"has_audio"`
	} `json:"latent"`
}

type scheduleBody struct {
	Steps    int     `json:"steps"`
	Guidance float64 `json:"guidance"`
}

type stage1Body struct {
	Prompt         string       `json:"prompt"`
	NegativePrompt string       `json:"negative_prompt"`
	ImagePNG       string       `json:"image_png_b64"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	Frames         int          `json:"frames"`
	FPS            int          `json:"fps"`
	Seed           int64        `json:"seed"`
	Schedule       scheduleBody `json:"schedule"`
	WithAudio      bool         `json:"with_audio"`
}

type refineInit struct {
	Kind       string  `json:"kind"`
	LatentID   string  `json:"latent_id,omitempty"`
	NoiseScale float64 `json:"noise_scale,omitempty"`
	ImagePNG   string  `json:"image_png_b64,omitempty"`
	Strength   float64 `json:"strength,omitempty"`
}

type refineBody struct {
	Init           refineInit   `json:"init"`
	Prompt         string       `json:"prompt"`
	NegativePrompt string       `json:"negative_prompt"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	Frames         int          `json:"frames"`
	FPS            int          `json:"fps"`
	Seed           int64        `json:"seed"`
	Schedule       scheduleBody `json:"schedule"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewRemote(opts RemoteOptions) (*Remote, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Remote{baseURL: baseURL, token: strings.TrimSpace(opts.Token), httpClient: httpClient, logger: logger}, nil
}

var _ Model = (*Remote)(nil)

func (r *Remote) GenerateLatent(ctx context.Context, p Stage1Params) (*Latent, error) {
	img, err := encodePNG(p.Image)
	if err != nil {
		return nil, err
	}
	body := stage1Body{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		ImagePNG:       img,
		Width:          p.Width,
		Height:         p.Height,
		Frames:         p.Frames,
		FPS:            p.FPS,
		Seed:           p.Seed,
		Schedule:       scheduleBody{Steps: p.Schedule.Steps, Guidance: p.Schedule.Guidance},
		WithAudio:      p.WithAudio,
	}
	var out latentResponse
	if err := r.postJSON(ctx, "/v1/stage1", body, &out); err != nil {
		return nil, err
	}
	return r.latent(out), nil
}

func (r *Remote) LoadUpsampler(ctx context.Context) (Upsampler, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := r.postJSON(ctx, "/v1/upsamplers", struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("diffusion: runtime returned an empty upsampler id")
	}
	return &remoteUpsampler{runtime: r, id: out.ID}, nil
}

func (r *Remote) Refine(ctx context.Context, p RefineParams) (*Latent, error) {
	body := refineBody{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Width:          p.Width,
		Height:         p.Height,
		Frames:         p.Frames,
		FPS:            p.FPS,
		Seed:           p.Seed,
		Schedule:       scheduleBody{Steps: p.Schedule.Steps, Guidance: p.Schedule.Guidance},
	}
	switch in := p.Input.(type) {
	case LatentContinuation:
		if in.Latent == nil || in.Latent.Handle == "" {
			return nil, errors.New("diffusion: continuation latent has no handle")
		}
		body.Init = refineInit{Kind: "latent", LatentID: in.Latent.Handle, NoiseScale: in.NoiseScale}
	case ImageInit:
		img, err := encodePNG(in.Image)
		if err != nil {
			return nil, err
		}
		body.Init = refineInit{Kind: "image", ImagePNG: img, Strength: in.Strength}
	default:
		return nil, fmt.Errorf("diffusion: unsupported stage2 input %T", p.Input)
	}
	var out latentResponse
	if err := r.postJSON(ctx, "/v1/refine", body, &out); err != nil {
		return nil, err
	}
	return r.latent(out), nil
}

// Decode fetches little-endian float32 RGB frames for the latent and, when
// the latent carries audio, its waveform.
func (r *Remote) Decode(ctx context.Context, l *Latent) (*PixelTensor, error) {
	if l == nil || l.Handle == "" {
		return nil, errors.New("diffusion: latent has no handle")
	}
	resp, err := r.do(ctx, http.MethodPost, "/v1/latents/"+l.Handle+"/decode", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	frames, _ := strconv.Atoi(resp.Header.Get("X-Frames"))
	width, _ := strconv.Atoi(resp.Header.Get("X-Width"))
	height, _ := strconv.Atoi(resp.Header.Get("X-Height"))
	if frames <= 0 || width <= 0 || height <= 0 {
		return nil, errors.New("diffusion: decode response is missing geometry headers")
	}
	out := &PixelTensor{Frames: make([][]float32, frames), Width: width, Height: height}
	perFrame := width * height * 3
	buf := make([]byte, perFrame*4)
	for f := 0; f < frames; f++ {
		if _, err := io.ReadFull(resp.Body, buf); err != nil {
			return nil, fmt.Errorf("diffusion: read frame %d: %w", f, err)
		}
		out.Frames[f] = decodeFloats(buf)
	}
	if l.HasAudio {
		wave, err := r.audio(ctx, l.Handle)
		if err != nil {
			r.logger.Warn().Err(err).Str("latent", l.Handle).Msg("diffusion: audio decode failed, continuing without audio")
		} else {
			out.Audio = wave
		}
	}
	return out, nil
}

func (r *Remote) audio(ctx context.Context, handle string) (*Waveform, error) {
	resp, err := r.do(ctx, http.MethodGet, "/v1/latents/"+handle+"/audio", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	rate, _ := strconv.Atoi(resp.Header.Get("X-Sample-Rate"))
	if rate <= 0 {
		return nil, errors.New("diffusion: audio response is missing sample rate")
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("diffusion: read audio: %w", err)
	}
	return &Waveform{Samples: decodeFloats(raw), SampleRate: rate}, nil
}

func (r *Remote) latent(resp latentResponse) *Latent {
	id := resp.Latent.ID
	l := NewLatent(resp.Latent.Frames, resp.Latent.Height, resp.Latent.Width, resp.Latent.Channels, func() {
		r.deleteResource("/v1/latents/" + id)
	})
	l.Handle = id
	l.FPS = resp.Latent.FPS
	l.HasAudio = resp.Latent.HasAudio
	return l
}

// deleteResource frees accelerator memory. Failures are logged only.
func (r *Remote) deleteResource(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := r.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("diffusion: release failed")
		return
	}
	resp.Body.Close()
}

func (r *Remote) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("diffusion: encode request: %w", err)
	}
	resp, err := r.do(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("diffusion: decode response: %w", err)
	}
	return nil
}

func (r *Remote) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("diffusion: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diffusion: http request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("diffusion: %s (%s)", detail.Message, detail.Code)
		}
		return nil, fmt.Errorf("diffusion: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

type remoteUpsampler struct {
	runtime *Remote
	id      string
}

func (u *remoteUpsampler) Upsample(ctx context.Context, l *Latent) (*Latent, error) {
	if l == nil || l.Handle == "" {
		return nil, errors.New("diffusion: latent has no handle")
	}
	var out latentResponse
	body := map[string]string{"latent_id": l.Handle}
	if err := u.runtime.postJSON(ctx, "/v1/upsamplers/"+u.id+"/apply", body, &out); err != nil {
		return nil, err
	}
	return u.runtime.latent(out), nil
}

func (u *remoteUpsampler) Close() error {
	u.runtime.deleteResource("/v1/upsamplers/" + u.id)
	return nil
}

func encodePNG(img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("diffusion: image is required")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("diffusion: encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodeFloats(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

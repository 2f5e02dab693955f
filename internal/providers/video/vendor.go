// Package video talks to hosted image-to-video vendors through a common
// create, poll and download contract.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clipgen/internal/domain"
	"clipgen/internal/infra"
)

// Vendor names, also used as credential provider keys.
const (
	VendorBytePlus = "byteplus"
	VendorRunware  = "runware"
	VendorEvolink  = "evolink"
)

// TaskRequest is one image-to-video job. Image holds encoded JPEG bytes of
// the preconditioned reference.
type TaskRequest struct {
	Model           string
	Prompt          string
	NegativePrompt  string
	Image           []byte
	ImageMIME       string
	Width           int
	Height          int
	DurationSeconds int
	Frames          int
	FPS             int
	Seed            int64
}

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type Task struct {
	ID        string
	Status    Status
	ResultURL string
	Error     string
	CostUSD   float64
}

// Generator is a remote video vendor.
type Generator interface {
	Name() string
	// Size is the frame size the vendor renders at.
	Size() (int, int)
	CreateTask(ctx context.Context, req TaskRequest) (string, error)
	GetTask(ctx context.Context, id string) (Task, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// KeySource looks up operator-managed vendor keys. It is satisfied by the
// credentials store.
type KeySource interface {
	Token(ctx context.Context, provider string) (string, error)
}

// ClientOptions are shared by every vendor client.
type ClientOptions struct {
	APIKey         string
	BaseURL        string
	Keys           KeySource
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

type client struct {
	vendor     string
	apiKey     string
	baseURL    string
	keys       KeySource
	httpClient *http.Client
	logger     *infra.Logger
}

func newClient(vendor, defaultBase string, opts ClientOptions) client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBase
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return client{
		vendor:     vendor,
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		keys:       opts.Keys,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c client) Name() string {
	return c.vendor
}

// key prefers an operator-managed key over the configured one.
func (c client) key(ctx context.Context) (string, error) {
	if c.keys != nil {
		key, err := c.keys.Token(ctx, c.vendor)
		if err != nil {
			c.logger.Warn().Err(err).Str("vendor", c.vendor).Msg("video: credential lookup failed, using configured key")
		} else if key != "" {
			return key, nil
		}
	}
	if c.apiKey == "" {
		return "", fmt.Errorf("%s: api key is not configured: %w", c.vendor, domain.ErrVendorAccessDenied)
	}
	return c.apiKey, nil
}

// doJSON sends payload (when non-nil) and decodes a 2xx body into out.
// Non-2xx responses and transport failures are classified.
func (c client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	key, err := c.key(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.vendor, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.vendor, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(c.vendor, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return classifyTransport(c.vendor, err)
	}
	if resp.StatusCode >= 300 {
		return classifyResponse(c.vendor, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %v: %w", c.vendor, err, domain.ErrVendorUnavailable)
	}
	return nil
}

// Download fetches a finished clip.
func (c client) Download(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%s: invalid result url: %w", c.vendor, domain.ErrVendorUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build download request: %w", c.vendor, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(c.vendor, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, classifyResponse(c.vendor, resp.StatusCode, raw)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(c.vendor, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: empty download: %w", c.vendor, domain.ErrVendorUnavailable)
	}
	return data, nil
}

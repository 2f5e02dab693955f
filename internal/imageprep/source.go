package imageprep

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"clipgen/internal/domain"
	"clipgen/internal/infra"
)

// LoaderOptions configures how reference images are fetched and decoded.
type LoaderOptions struct {
	HTTPClient   *http.Client
	FetchTimeout time.Duration
	MaxBytes     int64
	AllowedHosts []string
	Logger       *infra.Logger
}

// Loader turns a domain.SourceImage into a decoded image.
type Loader struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	allow    map[string]struct{}
	logger   *infra.Logger
}

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBytes     = 20 << 20
)

func NewLoader(opts LoaderOptions) *Loader {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	allow := make(map[string]struct{}, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			allow[h] = struct{}{}
		}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Loader{client: client, timeout: timeout, maxBytes: maxBytes, allow: allow, logger: logger}
}

// Load resolves and decodes src. Every failure wraps domain.ErrInvalidInput.
func (l *Loader) Load(ctx context.Context, src domain.SourceImage) (image.Image, error) {
	data := src.Data
	if len(data) == 0 {
		raw := strings.TrimSpace(src.URL)
		var err error
		switch {
		case raw == "":
			return nil, fmt.Errorf("%w: image is required", domain.ErrInvalidInput)
		case strings.HasPrefix(strings.ToLower(raw), "data:"):
			data, err = decodeDataURL(raw)
		default:
			data, err = l.fetch(ctx, raw)
		}
		if err != nil {
			return nil, err
		}
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", domain.ErrInvalidInput, l.maxBytes)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported image format", domain.ErrInvalidInput)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrInvalidInput)
	}
	l.logger.Debug().Str("format", format).Int("width", b.Dx()).Int("height", b.Dy()).Msg("imageprep: decoded reference image")
	return img, nil
}

func (l *Loader) fetch(ctx context.Context, raw string) ([]byte, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid image url", domain.ErrInvalidInput)
	}
	if len(l.allow) > 0 {
		if _, ok := l.allow[strings.ToLower(u.Hostname())]; !ok {
			return nil, fmt.Errorf("%w: image host %q is not allowed", domain.ErrInvalidInput, u.Hostname())
		}
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid image url", domain.ErrInvalidInput)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Warn().Err(err).Str("host", u.Hostname()).Msg("imageprep: fetch failed")
		return nil, fmt.Errorf("%w: image could not be fetched", domain.ErrInvalidInput)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: image fetch returned status %d", domain.ErrInvalidInput, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: image could not be read", domain.ErrInvalidInput)
	}
	return data, nil
}

var errBadDataURL = errors.New("malformed data url")

func decodeDataURL(raw string) ([]byte, error) {
	comma := strings.IndexByte(raw, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, errBadDataURL)
	}
	meta := strings.ToLower(raw[len("data:"):comma])
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("%w: data url must be base64 encoded", domain.ErrInvalidInput)
	}
	if !strings.HasPrefix(meta, "image/") {
		return nil, fmt.Errorf("%w: data url must carry an image", domain.ErrInvalidInput)
	}
	payload := strings.TrimSpace(raw[comma+1:])
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, errBadDataURL)
	}
	return data, nil
}

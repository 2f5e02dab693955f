package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"clipgen/internal/adapter/repo"
	"clipgen/internal/domain"
	"clipgen/internal/infra"
	"clipgen/internal/middleware"
	"clipgen/internal/pipeline"
)

// Generator runs one generation synchronously.
type Generator interface {
	Generate(ctx context.Context, jobID string, req domain.GenerationRequest, progress func(string)) (*domain.VideoArtifact, error)
	Preset(name string) (pipeline.PipelineConfig, error)
}

// JobManager is the async job surface.
type JobManager interface {
	Start(ctx context.Context, req domain.GenerationRequest) (domain.Job, error)
	Status(ctx context.Context, id string) (domain.Job, error)
	Fetch(ctx context.Context, id string) ([]byte, domain.ArtifactMeta, error)
}

type CredentialStore interface {
	SetToken(ctx context.Context, provider, token string) error
	DeleteToken(ctx context.Context, provider string) error
}

type StatsSource interface {
	Summary(ctx context.Context, window time.Duration) (repo.Summary, error)
}

// Info is reported by the health endpoint.
type Info struct {
	Service string
	Version string
	Preset  string
	Runtime string
	Engines []string
}

type Options struct {
	Generator   Generator
	Jobs        JobManager
	Credentials CredentialStore
	Stats       StatsSource
	Info        Info
	// MaxUploadBytes bounds multipart uploads held in memory.
	MaxUploadBytes int64
	// EventsInterval paces the websocket progress stream.
	EventsInterval time.Duration
	AllowedOrigins []string
	Logger         *infra.Logger
}

type App struct {
	gen         Generator
	jobs        JobManager
	credentials CredentialStore
	stats       StatsSource
	info        Info
	maxUpload   int64
	events      time.Duration
	origins     []string
	logger      *infra.Logger
}

func NewApp(opts Options) (*App, error) {
	if opts.Generator == nil {
		return nil, errors.New("handlers: generator is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("handlers: job manager is required")
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	events := opts.EventsInterval
	if events <= 0 {
		events = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &App{
		gen:         opts.Generator,
		jobs:        opts.Jobs,
		credentials: opts.Credentials,
		stats:       opts.Stats,
		info:        opts.Info,
		maxUpload:   maxUpload,
		events:      events,
		origins:     opts.AllowedOrigins,
		logger:      logger,
	}, nil
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail writes err as the error envelope. Server-side classes get a fixed
// message; the full chain only goes to the log.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		middleware.WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return
	}
	code := domain.ErrorCode(err)
	status := StatusFor(code)
	ev := a.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = a.logger.Error()
	}
	ev.Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Str("code", code).Msg("http: request failed")
	middleware.WriteError(w, r, status, code, domain.PublicMessage(err))
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case "invalid_input":
		return http.StatusBadRequest
	case "unauthorized":
		return http.StatusUnauthorized
	case "vendor_access_denied":
		return http.StatusForbidden
	case "not_found", "model_unavailable":
		return http.StatusNotFound
	case "not_ready", "vendor_disabled":
		return http.StatusConflict
	case "generation_failed":
		return http.StatusBadGateway
	case "busy", "vendor_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

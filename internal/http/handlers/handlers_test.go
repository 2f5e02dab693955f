package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"clipgen/internal/adapter/repo"
	"clipgen/internal/domain"
	"clipgen/internal/middleware"
	"clipgen/internal/pipeline"
)

type fakeGenerator struct {
	mu  sync.Mutex
	got []domain.GenerationRequest
	art *domain.VideoArtifact
	err error
}

func (f *fakeGenerator) Generate(ctx context.Context, jobID string, req domain.GenerationRequest, progress func(string)) (*domain.VideoArtifact, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.art, nil
}

func (f *fakeGenerator) Preset(name string) (pipeline.PipelineConfig, error) {
	if name == "" {
		name = "preview"
	}
	cfg, ok := pipeline.Presets[name]
	if !ok {
		return pipeline.PipelineConfig{}, fmt.Errorf("unknown preset %q: %w", name, domain.ErrInvalidInput)
	}
	return cfg, nil
}

type fakeJobs struct {
	mu       sync.Mutex
	started  []domain.GenerationRequest
	statuses []domain.Job
	fetch    []byte
	meta     domain.ArtifactMeta
	fetchErr error
	calls    int
}

func (f *fakeJobs) Start(ctx context.Context, req domain.GenerationRequest) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	return domain.Job{ID: "job-1", Status: domain.JobStatusRunning, Stage: domain.StageQueued}, nil
}

// Status walks through statuses, repeating the last one.
func (f *fakeJobs) Status(ctx context.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "job-1" || len(f.statuses) == 0 {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	i := f.calls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.calls++
	return f.statuses[i], nil
}

func (f *fakeJobs) Fetch(ctx context.Context, id string) ([]byte, domain.ArtifactMeta, error) {
	if f.fetchErr != nil {
		return nil, domain.ArtifactMeta{}, f.fetchErr
	}
	return f.fetch, f.meta, nil
}

type fakeCredentials struct {
	provider, token string
}

func (f *fakeCredentials) DeleteToken(ctx context.Context, provider string) error {
	if f.provider != provider {
		return fmt.Errorf("%w: no stored key for %s", domain.ErrNotFound, provider)
	}
	f.provider, f.token = "", ""
	return nil
}

func (f *fakeCredentials) SetToken(ctx context.Context, provider, token string) error {
	if token == "" {
		return fmt.Errorf("%w: api key is required", domain.ErrInvalidInput)
	}
	f.provider, f.token = provider, token
	return nil
}

type fakeStats struct{}

func (fakeStats) Summary(ctx context.Context, window time.Duration) (repo.Summary, error) {
	return repo.Summary{Total: 3, CostUSD: 0.3, Engines: []repo.EngineStats{{Engine: "local", Total: 3, Succeeded: 3}}}, nil
}

func sampleArtifact() *domain.VideoArtifact {
	return &domain.VideoArtifact{
		ArtifactMeta: domain.ArtifactMeta{
			Width: 512, Height: 288, FrameCount: 49, FPS: 24, DurationMS: 2041,
			CostUSD: 0.0123, Seed: 42, Engine: domain.EngineLocal, Preset: "preview",
			Report: domain.GenerationReport{Audio: domain.AudioSynthesized, Stage2b: "skipped", FidelityVerdict: "pass"},
		},
		Data: []byte("mp4-bytes"),
	}
}

func newTestApp(t *testing.T, gen *fakeGenerator, jobs *fakeJobs) *App {
	t.Helper()
	app, err := NewApp(Options{
		Generator:      gen,
		Jobs:           jobs,
		Credentials:    &fakeCredentials{},
		Stats:          fakeStats{},
		Info:           Info{Service: "clipgen", Version: "test", Preset: "preview", Runtime: "synthetic", Engines: []string{"local"}},
		MaxUploadBytes: 1 << 20,
		EventsInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	return app
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	middleware.RequestID(h).ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorDetail {
	t.Helper()
	var body middleware.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{}, &fakeJobs{})
	rec := serve(app.Health, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Preset != "preview" || body.Runtime != "synthetic" {
		t.Fatalf("unexpected health %+v", body)
	}
}

func TestGenerateJSON(t *testing.T) {
	gen := &fakeGenerator{art: sampleArtifact()}
	app := newTestApp(t, gen, &fakeJobs{})
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(
		`{"image_url":"https://cdn.example.com/a.png","dialogue":"Hello!","num_frames":500,"seed":42}`))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(app.Generate, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "mp4-bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	checks := map[string]string{
		"Content-Type":          "video/mp4",
		"X-Generation-Seed":     "42",
		"X-Generation-Engine":   "local",
		"X-Generation-Cost-USD": "0.012300",
		"X-Generation-Frames":   "49",
		"X-Generation-Audio":    "synthesized",
	}
	for k, want := range checks {
		if got := rec.Header().Get(k); got != want {
			t.Fatalf("%s = %q, want %q", k, got, want)
		}
	}
	if len(gen.got) != 1 {
		t.Fatalf("expected one generation, got %d", len(gen.got))
	}
	got := gen.got[0]
	if got.FrameCount != 49 || got.FPS != 24 || !got.ToneFix || got.Engine != domain.EngineLocal {
		t.Fatalf("request not normalized: %+v", got)
	}
}

func TestGenerateMultipart(t *testing.T) {
	gen := &fakeGenerator{art: sampleArtifact()}
	app := newTestApp(t, gen, &fakeJobs{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("dialogue", "how are you?")
	_ = mw.WriteField("tone_fix", "false")
	_ = mw.WriteField("num_frames", "17")
	part, _ := mw.CreateFormFile("image", "ref.png")
	_, _ = part.Write([]byte("png-bytes"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(app.Generate, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	got := gen.got[0]
	if string(got.Image.Data) != "png-bytes" || got.Image.URL != "" {
		t.Fatalf("upload not carried: %+v", got.Image)
	}
	if got.ToneFix || got.FrameCount != 17 || got.Dialogue != "how are you?" {
		t.Fatalf("form fields not applied: %+v", got)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		genErr     error
		wantStatus int
		wantCode   string
		hidden     string
	}{
		{"empty body", "", nil, http.StatusBadRequest, "invalid_input", ""},
		{"malformed json", "{", nil, http.StatusBadRequest, "invalid_input", ""},
		{"missing image", `{"dialogue":"hi"}`, nil, http.StatusBadRequest, "invalid_input", ""},
		{"bad scheme", `{"image_url":"ftp://x/y.png"}`, nil, http.StatusBadRequest, "invalid_input", ""},
		{"unknown preset", `{"image_url":"https://x/y.png","preset":"ultra"}`, nil, http.StatusBadRequest, "invalid_input", ""},
		{"generation failed", `{"image_url":"https://x/y.png"}`, fmt.Errorf("decode: CUDA out of memory: %w", domain.ErrGenerationFailed), http.StatusBadGateway, "generation_failed", "CUDA"},
		{"vendor denied", `{"image_url":"https://x/y.png","engine":"byteplus"}`, fmt.Errorf("byteplus: AccessDenied key sk-123: %w", domain.ErrVendorAccessDenied), http.StatusForbidden, "vendor_access_denied", "sk-123"},
		{"model unavailable", `{"image_url":"https://x/y.png","engine":"byteplus"}`, domain.ErrModelUnavailable, http.StatusNotFound, "model_unavailable", ""},
		{"vendor disabled", `{"image_url":"https://x/y.png","engine":"runware"}`, domain.ErrVendorDisabled, http.StatusConflict, "vendor_disabled", ""},
		{"vendor unavailable", `{"image_url":"https://x/y.png","engine":"evolink"}`, domain.ErrVendorUnavailable, http.StatusServiceUnavailable, "vendor_unavailable", ""},
		{"internal", `{"image_url":"https://x/y.png"}`, errors.New("open /var/lib/clipgen/scratch: permission denied"), http.StatusInternalServerError, "internal", "/var/lib"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{err: tc.genErr, art: sampleArtifact()}
			app := newTestApp(t, gen, &fakeJobs{})
			req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := serve(app.Generate, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			detail := decodeError(t, rec)
			if detail.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", detail.Code, tc.wantCode)
			}
			if detail.RequestID == "" {
				t.Fatalf("missing request id")
			}
			if tc.hidden != "" && strings.Contains(rec.Body.String(), tc.hidden) {
				t.Fatalf("response leaked %q: %s", tc.hidden, rec.Body.String())
			}
			if tc.genErr == nil && len(gen.got) != 0 {
				t.Fatalf("input error must not reach the generator")
			}
		})
	}
}

func TestGenerateBodyTooLarge(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{art: sampleArtifact()}, &fakeJobs{})
	h := middleware.MaxBody(16)(http.HandlerFunc(app.Generate))
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"image_url":"https://x/y.png","dialogue":"long"}`))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (%s)", rec.Code, rec.Body.String())
	}
}

func withID(h http.HandlerFunc, key, value string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := chi.NewRouteContext()
		rc.URLParams.Add(key, value)
		h(w, r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc)))
	}
}

func TestJobLifecycle(t *testing.T) {
	jobs := &fakeJobs{
		statuses: []domain.Job{{ID: "job-1", Status: domain.JobStatusRunning, Stage: "stage1_running"}},
		fetchErr: fmt.Errorf("jobs: job-1 is stage1_running: %w", domain.ErrJobNotReady),
	}
	app := newTestApp(t, &fakeGenerator{}, jobs)

	rec := serve(app.StartJob, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"image_url":"https://x/y.png"}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Location") != "/v1/jobs/job-1" {
		t.Fatalf("Location = %q", rec.Header().Get("Location"))
	}
	var started jobStartResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &started)
	if started.JobID != "job-1" || started.Status != domain.JobStatusRunning {
		t.Fatalf("unexpected start body %+v", started)
	}

	rec = serve(withID(app.JobStatus, "id", "job-1"), httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil))
	var status jobStatusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if rec.Code != http.StatusOK || status.Stage != "stage1_running" {
		t.Fatalf("status = %d body %+v", rec.Code, status)
	}

	rec = serve(withID(app.JobVideo, "id", "job-1"), httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/video", nil))
	if rec.Code != http.StatusConflict || decodeError(t, rec).Code != "not_ready" {
		t.Fatalf("video while running = %d (%s)", rec.Code, rec.Body.String())
	}

	jobs.fetchErr = nil
	jobs.fetch = []byte("mp4")
	jobs.meta = sampleArtifact().ArtifactMeta
	rec = serve(withID(app.JobVideo, "id", "job-1"), httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/video", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "mp4" || rec.Header().Get("X-Generation-Seed") != "42" {
		t.Fatalf("video = %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(withID(app.JobStatus, "id", "missing"), httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rec.Code)
	}
}

func TestJobFailedFetchKeepsClass(t *testing.T) {
	jobs := &fakeJobs{fetchErr: domain.ErrorFromCode("vendor_unavailable", "the video vendor is unavailable, retry later")}
	app := newTestApp(t, &fakeGenerator{}, jobs)
	rec := serve(withID(app.JobVideo, "id", "job-1"), httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/video", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if d := decodeError(t, rec); d.Message != "the video vendor is unavailable, retry later" {
		t.Fatalf("message = %q", d.Message)
	}
}

func TestSetCredential(t *testing.T) {
	creds := &fakeCredentials{}
	app := newTestApp(t, &fakeGenerator{}, &fakeJobs{})
	app.credentials = creds

	req := httptest.NewRequest(http.MethodPut, "/v1/admin/credentials/byteplus", strings.NewReader(`{"api_key":"ark-123"}`))
	rec := serve(withID(app.SetCredential, "provider", "byteplus"), req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if creds.provider != "byteplus" || creds.token != "ark-123" {
		t.Fatalf("stored %q=%q", creds.provider, creds.token)
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/admin/credentials/byteplus", strings.NewReader(`{"api_key":""}`))
	if rec := serve(withID(app.SetCredential, "provider", "byteplus"), req); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty key status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/admin/credentials/byteplus", nil)
	if rec := serve(withID(app.DeleteCredential, "provider", "byteplus"), req); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d (%s)", rec.Code, rec.Body.String())
	}
	if creds.token != "" {
		t.Fatalf("token still stored after delete")
	}
	req = httptest.NewRequest(http.MethodDelete, "/v1/admin/credentials/byteplus", nil)
	if rec := serve(withID(app.DeleteCredential, "provider", "byteplus"), req); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}

	app.credentials = nil
	req = httptest.NewRequest(http.MethodPut, "/v1/admin/credentials/byteplus", strings.NewReader(`{"api_key":"x"}`))
	if rec := serve(withID(app.SetCredential, "provider", "byteplus"), req); rec.Code != http.StatusNotFound {
		t.Fatalf("unconfigured status = %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{}, &fakeJobs{})
	rec := serve(app.Stats, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":3`) {
		t.Fatalf("stats = %d %s", rec.Code, rec.Body.String())
	}
	app.stats = nil
	if rec := serve(app.Stats, httptest.NewRequest(http.MethodGet, "/v1/stats", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("stats without ledger = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		"invalid_input":        400,
		"unauthorized":         401,
		"vendor_access_denied": 403,
		"not_found":            404,
		"model_unavailable":    404,
		"not_ready":            409,
		"vendor_disabled":      409,
		"generation_failed":    502,
		"busy":                 503,
		"vendor_unavailable":   503,
		"internal":             500,
	}
	for code, want := range tests {
		if got := StatusFor(code); got != want {
			t.Fatalf("StatusFor(%q) = %d, want %d", code, got, want)
		}
	}
}

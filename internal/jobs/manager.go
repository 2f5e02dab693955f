package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clipgen/internal/domain"
	"clipgen/internal/infra"
	"clipgen/internal/storage"
)

type ManagerOptions struct {
	Registry  Registry
	Artifacts storage.Store
	Now       func() time.Time
	Logger    *infra.Logger
}

// Manager owns the job lifecycle seen by API callers: start, status and
// fetch-then-forget.
type Manager struct {
	registry  Registry
	artifacts storage.Store
	now       func() time.Time
	logger    *infra.Logger
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Registry == nil {
		return nil, errors.New("jobs: registry is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("jobs: artifact store is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Manager{registry: opts.Registry, artifacts: opts.Artifacts, now: now, logger: logger}, nil
}

// Start records a running job and enqueues it. Uploaded image bytes are
// parked in the artifact store under the job's input key.
func (m *Manager) Start(ctx context.Context, req domain.GenerationRequest) (domain.Job, error) {
	id := uuid.NewString()
	now := m.now().UTC()
	job := domain.Job{
		ID:        id,
		Status:    domain.JobStatusRunning,
		Stage:     domain.StageQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(req.Image.Data) > 0 {
		key, err := m.artifacts.Write(ctx, storage.InputKey(id), req.Image.Data)
		if err != nil {
			return domain.Job{}, fmt.Errorf("jobs: store input: %w", err)
		}
		job.InputKey = key
	}
	job.Request.Image.Data = nil
	if err := m.registry.Create(ctx, job); err != nil {
		m.discard(ctx, job.InputKey)
		return domain.Job{}, err
	}
	if err := m.registry.Push(ctx, id); err != nil {
		_ = m.registry.Delete(ctx, id)
		m.discard(ctx, job.InputKey)
		return domain.Job{}, err
	}
	m.logger.Info().Str("job_id", id).Str("engine", req.Engine).Msg("jobs: started")
	return job, nil
}

func (m *Manager) Status(ctx context.Context, id string) (domain.Job, error) {
	return m.registry.Get(ctx, id)
}

// Fetch returns a finished clip and forgets the job. A running job reports
// domain.ErrJobNotReady; a failed one returns its recorded error class.
func (m *Manager) Fetch(ctx context.Context, id string) ([]byte, domain.ArtifactMeta, error) {
	job, err := m.registry.Get(ctx, id)
	if err != nil {
		return nil, domain.ArtifactMeta{}, err
	}
	switch job.Status {
	case domain.JobStatusRunning:
		return nil, domain.ArtifactMeta{}, fmt.Errorf("jobs: %s is %s: %w", id, job.Stage, domain.ErrJobNotReady)
	case domain.JobStatusError:
		return nil, domain.ArtifactMeta{}, domain.ErrorFromCode(job.ErrorCode, job.Error)
	}
	data, err := m.artifacts.Read(ctx, job.ResultKey)
	if err != nil {
		return nil, domain.ArtifactMeta{}, fmt.Errorf("jobs: read result of %s: %w", id, err)
	}
	var meta domain.ArtifactMeta
	if job.Artifact != nil {
		meta = *job.Artifact
	}
	m.Forget(ctx, job)
	return data, meta, nil
}

// Forget removes the job record and both artifacts.
func (m *Manager) Forget(ctx context.Context, job domain.Job) {
	if err := m.registry.Delete(ctx, job.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: delete record failed")
	}
	m.discard(ctx, job.InputKey)
	m.discard(ctx, job.ResultKey)
}

func (m *Manager) discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := m.artifacts.Delete(ctx, key); err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn().Err(err).Str("key", key).Msg("jobs: delete artifact failed")
	}
}

// Expire sweeps jobs whose TTL ran out and deletes their input and output
// artifacts. Registries that cannot sweep report zero.
func (m *Manager) Expire(ctx context.Context) (int, error) {
	sweeper, ok := m.registry.(Sweeper)
	if !ok {
		return 0, nil
	}
	ids, err := sweeper.Sweep(ctx)
	for _, id := range ids {
		m.discard(ctx, storage.InputKey(id))
		m.discard(ctx, storage.OutputKey(id))
	}
	if len(ids) > 0 {
		m.logger.Info().Int("jobs", len(ids)).Msg("jobs: expired jobs removed")
	}
	if err != nil {
		return len(ids), fmt.Errorf("jobs: sweep: %w", err)
	}
	return len(ids), nil
}

// RunJanitor calls Expire every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Expire(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn().Err(err).Msg("jobs: sweep failed")
			}
		}
	}
}

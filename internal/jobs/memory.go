package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clipgen/internal/domain"
)

const defaultQueueSize = 256

type memoryEntry struct {
	job     domain.Job
	expires time.Time
}

// MemoryRegistry keeps jobs in process. It serves single-process
// deployments where the API runs the workers itself.
type MemoryRegistry struct {
	mu    sync.Mutex
	jobs  map[string]*memoryEntry
	queue chan string
	ttl   time.Duration
	now   func() time.Time
}

type MemoryOptions struct {
	TTL       time.Duration
	QueueSize int
	Now       func() time.Time
}

func NewMemoryRegistry(opts MemoryOptions) *MemoryRegistry {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryRegistry{jobs: make(map[string]*memoryEntry), queue: make(chan string, size), ttl: ttl, now: now}
}

var _ Registry = (*MemoryRegistry)(nil)

func (m *MemoryRegistry) Create(ctx context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("jobs: job %s already exists", job.ID)
	}
	m.jobs[job.ID] = &memoryEntry{job: job, expires: m.now().Add(m.ttl)}
	return nil
}

// lookup returns a live entry. Expired entries stay in the map until Sweep
// collects them so their artifacts can be released. Callers hold mu.
func (m *MemoryRegistry) lookup(id string) (*memoryEntry, error) {
	e, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("jobs: %s: %w", id, domain.ErrNotFound)
	}
	if m.now().After(e.expires) {
		return nil, fmt.Errorf("jobs: %s expired: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func (m *MemoryRegistry) Get(ctx context.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return domain.Job{}, err
	}
	return e.job, nil
}

func (m *MemoryRegistry) Update(ctx context.Context, id string, mutate func(*domain.Job)) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return domain.Job{}, err
	}
	mutate(&e.job)
	return e.job, nil
}

func (m *MemoryRegistry) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("jobs: %s: %w", id, domain.ErrNotFound)
	}
	delete(m.jobs, id)
	return nil
}

// Sweep drops expired jobs and returns their ids.
func (m *MemoryRegistry) Sweep(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var expired []string
	for id, e := range m.jobs {
		if now.After(e.expires) {
			delete(m.jobs, id)
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func (m *MemoryRegistry) Push(ctx context.Context, id string) error {
	select {
	case m.queue <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("jobs: queue is full: %w", domain.ErrBusy)
	}
}

func (m *MemoryRegistry) Pop(ctx context.Context) (string, error) {
	select {
	case id := <-m.queue:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Package jobs runs generations asynchronously: a registry of job records,
// a queue of pending ids and the worker loop that drains it.
package jobs

import (
	"context"
	"time"

	"clipgen/internal/domain"
)

// DefaultTTL bounds how long an unfetched job is kept.
const DefaultTTL = 24 * time.Hour

// DefaultSweepInterval is how often the janitor looks for expired jobs.
const DefaultSweepInterval = 5 * time.Minute

// Store keeps job records. Get, Update and Delete report domain.ErrNotFound
// for unknown or expired ids.
type Store interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, error)
	// Update applies mutate atomically and returns the stored result.
	Update(ctx context.Context, id string, mutate func(*domain.Job)) (domain.Job, error)
	Delete(ctx context.Context, id string) error
}

// Queue hands pending job ids to workers.
type Queue interface {
	Push(ctx context.Context, id string) error
	// Pop blocks until an id is available or ctx is done.
	Pop(ctx context.Context) (string, error)
}

// Registry is a Store and a Queue sharing one backend.
type Registry interface {
	Store
	Queue
}

// Sweeper is implemented by registries that can report records whose TTL
// ran out. Each id is returned once, after which the record is gone.
type Sweeper interface {
	Sweep(ctx context.Context) ([]string, error)
}

var (
	_ Sweeper = (*MemoryRegistry)(nil)
	_ Sweeper = (*RedisRegistry)(nil)
)

package diffusion

import (
	"context"
	"errors"
)

// ErrNoModels is returned by NewPool when no instances are given.
var ErrNoModels = errors.New("diffusion: at least one model instance is required")

// Pool hands out model instances, one per accelerator slot, so that a
// request has exclusive use of its instance for its whole duration.
type Pool struct {
	slots chan Model
	size  int
}

func NewPool(models ...Model) (*Pool, error) {
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	p := &Pool{slots: make(chan Model, len(models)), size: len(models)}
	for _, m := range models {
		p.slots <- m
	}
	return p, nil
}

// Acquire blocks until an instance is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Model, error) {
	select {
	case m := <-p.slots:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an instance obtained from Acquire.
func (p *Pool) Release(m Model) {
	if m == nil {
		return
	}
	p.slots <- m
}

func (p *Pool) Size() int {
	return p.size
}

// Idle reports how many instances are currently free.
func (p *Pool) Idle() int {
	return len(p.slots)
}

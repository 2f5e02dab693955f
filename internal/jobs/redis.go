package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"clipgen/internal/domain"
)

const (
	defaultRedisPrefix = "clipgen:jobs:"
	popTimeout         = time.Second
	maxUpdateRetries   = 8
)

// RedisRegistry shares jobs between API and worker processes. Records are
// JSON values with a TTL; the queue is a list drained with BRPOP. A sorted
// set scored by expiry time remembers ids after their record expired so
// Sweep can report them.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type RedisOptions struct {
	TTL    time.Duration
	Prefix string
	Now    func() time.Time
}

// NewRedisRegistry connects to url (redis://...) and pings it.
func NewRedisRegistry(ctx context.Context, url string, opts RedisOptions) (*RedisRegistry, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("jobs: parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("jobs: connect to redis: %w", err)
	}
	return NewRedisRegistryWithClient(client, opts), nil
}

func NewRedisRegistryWithClient(client *redis.Client, opts RedisOptions) *RedisRegistry {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl, now: now}
}

var _ Registry = (*RedisRegistry)(nil)

func (r *RedisRegistry) key(id string) string {
	return r.prefix + "job:" + id
}

func (r *RedisRegistry) queueKey() string {
	return r.prefix + "queue"
}

func (r *RedisRegistry) expiryKey() string {
	return r.prefix + "expiry"
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) Create(ctx context.Context, job domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: encode job: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(job.ID), raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("jobs: create %s: %w", job.ID, err)
	}
	if !ok {
		return fmt.Errorf("jobs: job %s already exists", job.ID)
	}
	expires := r.now().Add(r.ttl)
	if err := r.client.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(expires.Unix()), Member: job.ID}).Err(); err != nil {
		return fmt.Errorf("jobs: index %s: %w", job.ID, err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (domain.Job, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, fmt.Errorf("jobs: %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("jobs: get %s: %w", id, err)
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.Job{}, fmt.Errorf("jobs: decode %s: %w", id, err)
	}
	return job, nil
}

// Update is an optimistic WATCH/MULTI loop; the key keeps its TTL.
func (r *RedisRegistry) Update(ctx context.Context, id string, mutate func(*domain.Job)) (domain.Job, error) {
	key := r.key(id)
	var out domain.Job
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("jobs: %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var job domain.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return fmt.Errorf("jobs: decode %s: %w", id, err)
		}
		mutate(&job)
		next, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("jobs: encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, next, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err == nil {
			out = job
		}
		return err
	}
	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.Job{}, err
	}
	return domain.Job{}, fmt.Errorf("jobs: update %s: too much contention", id)
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.key(id))
	pipe.ZRem(ctx, r.expiryKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobs: delete %s: %w", id, err)
	}
	n := del.Val()
	if n == 0 {
		return fmt.Errorf("jobs: %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Sweep claims ids whose expiry has passed. ZREM decides the claim, so
// concurrent sweepers in several processes never report the same id twice.
func (r *RedisRegistry) Sweep(ctx context.Context) ([]string, error) {
	cutoff := strconv.FormatInt(r.now().Unix(), 10)
	ids, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{Min: "-inf", Max: "(" + cutoff}).Result()
	if err != nil {
		return nil, fmt.Errorf("jobs: list expired: %w", err)
	}
	var expired []string
	for _, id := range ids {
		n, err := r.client.ZRem(ctx, r.expiryKey(), id).Result()
		if err != nil {
			return expired, fmt.Errorf("jobs: claim expired %s: %w", id, err)
		}
		if n == 0 {
			continue
		}
		if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
			return expired, fmt.Errorf("jobs: drop expired %s: %w", id, err)
		}
		expired = append(expired, id)
	}
	return expired, nil
}

func (r *RedisRegistry) Push(ctx context.Context, id string) error {
	if err := r.client.LPush(ctx, r.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", id, err)
	}
	return nil
}

// Pop polls BRPOP in short slices so ctx cancellation is noticed promptly.
func (r *RedisRegistry) Pop(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := r.client.BRPop(ctx, popTimeout, r.queueKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return "", fmt.Errorf("jobs: dequeue: %w", err)
		}
		if len(res) == 2 {
			return res[1], nil
		}
	}
}

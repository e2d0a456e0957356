package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/photoremix/internal/metrics"
	"github.com/digkill/photoremix/pkg/logger"
)

const (
	popTimeout   = time.Second
	lockTTL      = 10 * time.Minute
	requeueDelay = 2 * time.Second
	errorBackoff = 5 * time.Second
)

// releaseLock deletes the lock only when it still carries our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisQueue shares ids between processes through a Redis list. A pending set
// collapses duplicate enqueues and a per-id lock keeps one execution in flight.
type RedisQueue struct {
	rdb          redis.UniversalClient
	name         string
	workers      int
	requeueDelay time.Duration
	log          *slog.Logger
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// ConnectRedis creates a client and checks the connection.
func ConnectRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func NewRedisQueue(rdb redis.UniversalClient, name string, workers int, log *slog.Logger) *RedisQueue {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &RedisQueue{rdb: rdb, name: name, workers: workers, requeueDelay: requeueDelay, log: log}
}

func (q *RedisQueue) listKey() string           { return q.name + ":queue" }
func (q *RedisQueue) pendingKey() string        { return q.name + ":pending" }
func (q *RedisQueue) lockKey(id string) string { return q.name + ":lock:" + id }

func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	added, err := q.rdb.SAdd(ctx, q.pendingKey(), id).Result()
	if err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	if added == 0 {
		return nil
	}
	if err := q.rdb.LPush(ctx, q.listKey(), id).Err(); err != nil {
		q.rdb.SRem(context.WithoutCancel(ctx), q.pendingKey(), id)
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Run(ctx context.Context, handler Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(ctx, handler)
			return nil
		})
	}
	return g.Wait()
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) {
	for ctx.Err() == nil {
		result, err := q.rdb.BRPop(ctx, popTimeout, q.listKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.log.Error("redis BRPOP failed", "err", err)
			sleep(ctx, errorBackoff)
			continue
		}
		// result[0] is the list name, result[1] the id.
		q.deliver(ctx, result[1], handler)
	}
}

func (q *RedisQueue) deliver(ctx context.Context, id string, handler Handler) {
	if err := q.rdb.SRem(ctx, q.pendingKey(), id).Err(); err != nil {
		q.log.Error("clear pending mark", "id", id, "err", err)
	}

	token := uuid.NewString()
	locked, err := q.rdb.SetNX(ctx, q.lockKey(id), token, lockTTL).Result()
	if err != nil {
		q.log.Error("acquire task lock", "id", id, "err", err)
		q.requeue(ctx, id)
		return
	}
	if !locked {
		// Another worker is running this id; deliver again once it is likely done.
		q.requeue(ctx, id)
		return
	}
	defer func() {
		if err := releaseLock.Run(context.WithoutCancel(ctx), q.rdb, []string{q.lockKey(id)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			q.log.Error("release task lock", "id", id, "err", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task handler panicked", "id", id, "panic", r)
		}
	}()

	handler(ctx, id)
}

func (q *RedisQueue) requeue(ctx context.Context, id string) {
	sleep(ctx, q.requeueDelay)
	if err := q.Enqueue(context.WithoutCancel(ctx), id); err != nil {
		q.log.Error("requeue task", "id", id, "err", err)
	}
}

// Len reports how many ids are waiting in the list.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.listKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	metrics.QueueDepth.WithLabelValues("redis").Set(float64(n))
	return n, nil
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

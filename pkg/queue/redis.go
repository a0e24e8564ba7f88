package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"QuorumFeed/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// QueueMode restricts which side of the queue an instance serves.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m QueueMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	default:
		return "producer-consumer"
	}
}

const (
	defaultKeyPrefix = "quorumfeed:queue"
	popTimeout       = time.Second
	redeliveryEvery  = 5 * time.Second
)

// RedisQueue is a Redis-list backed job queue. Failed deliveries go to a
// retry ZSET scored by the next attempt time; exhausted messages land in a
// dead-letter list for manual inspection.
type RedisQueue struct {
	l         *logger.Logger
	cfg       *QueueConfig
	client    *redis.Client
	mode      QueueMode
	keyPrefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	wg     sync.WaitGroup
	stopCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// RedisQueueOption configures a RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix overrides the Redis key namespace.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(q *RedisQueue) { q.keyPrefix = prefix }
}

func NewRedisQueue(l *logger.Logger, cfg *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if cfg == nil {
		cfg = &QueueConfig{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		l:         l,
		cfg:       cfg,
		client:    client,
		mode:      mode,
		keyPrefix: defaultKeyPrefix,
		jobs:      make(map[string]Job),
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewRedisPublisher returns a started publish-only queue.
func NewRedisPublisher(l *logger.Logger, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	q := NewRedisQueue(l, &QueueConfig{}, client, ModeProducerOnly, opts...)
	if err := q.Start(); err != nil {
		l.Error("redis publisher start failed", logger.Error(err))
	}
	return q
}

// NewRedisConsumer returns a consume-only queue with jobs pre-registered.
// Call Start to begin draining.
func NewRedisConsumer(l *logger.Logger, cfg *QueueConfig, client *redis.Client, jobs []Job, opts ...RedisQueueOption) *RedisQueue {
	q := NewRedisQueue(l, cfg, client, ModeConsumerOnly, opts...)
	for _, job := range jobs {
		q.RegisterJob(job)
	}
	return q
}

// RegisterJob binds a job to its message type. Later registrations for the
// same type are ignored.
func (q *RedisQueue) RegisterJob(job Job) {
	if q.mode == ModeProducerOnly {
		q.l.Warn("job registration ignored in producer-only mode", logger.String("job", job.Name()))
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.jobs[job.Type()]; dup {
		q.l.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
	q.l.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start verifies the Redis connection and, for consumer modes, launches the
// worker pool and the redelivery loop.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	q.running = true
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.Ping(ctx).Err(); err != nil {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	if q.mode == ModeProducerOnly {
		q.l.Info("redis publisher started", logger.String("addr", q.client.Options().Addr))
		return nil
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.redeliveryLoop()

	q.l.Info("redis queue started",
		logger.Int("workers", q.cfg.Workers),
		logger.String("addr", q.client.Options().Addr),
		logger.String("mode", q.mode.String()))
	return nil
}

// Stop drains the workers, bounded by ctx.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	if q.mode != ModeProducerOnly {
		close(q.stopCh)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		q.l.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		q.l.Info("redis queue stopped")
		return nil
	}
}

// PublishMessage enqueues a payload under msgType. Implements QueueService.
func (q *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.running {
		return fmt.Errorf("queue not running")
	}
	if q.mode != ModeProducerOnly {
		if _, ok := q.jobs[msgType]; !ok {
			return fmt.Errorf("no job registered for type %s", msgType)
		}
	}

	raw, err := json.Marshal(Message{
		ID:        strconv.FormatInt(time.Now().UnixNano(), 10),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := q.client.LPush(ctx, q.queueKey(), raw).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (q *RedisQueue) worker(id int) {
	defer q.wg.Done()
	q.l.Info("queue worker started", logger.Int("worker_id", id))

	for {
		select {
		case <-q.stopCh:
			return
		case <-q.ctx.Done():
			return
		default:
			q.popAndDispatch()
		}
	}
}

func (q *RedisQueue) popAndDispatch() {
	ctx, cancel := context.WithTimeout(q.ctx, 2*popTimeout)
	defer cancel()

	result, err := q.client.BRPop(ctx, popTimeout, q.queueKey()).Result()
	if err != nil {
		switch {
		case errors.Is(err, redis.Nil),
			errors.Is(err, context.DeadlineExceeded),
			errors.Is(err, context.Canceled):
			return
		}
		q.l.Error("brpop error", logger.Error(err))
		time.Sleep(popTimeout)
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		q.l.Error("unmarshal message", logger.Error(err))
		return
	}
	q.dispatch(msg)
}

func (q *RedisQueue) dispatch(msg Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.l.Error("no job for message type",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		return
	}

	err := job.Handle(q.ctx, normalizePayload(msg.Payload))
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		q.l.Warn("message cancelled during shutdown",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
		return
	}
	q.retryOrBury(msg, job, err)
}

// normalizePayload turns a JSON-decoded map back into raw JSON so job
// handlers can unmarshal into their own types via ParsePayload.
func normalizePayload(payload interface{}) interface{} {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return payload
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return json.RawMessage(raw)
}

func (q *RedisQueue) retryOrBury(msg Message, job Job, cause error) {
	q.l.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(cause))

	if msg.Attempts >= q.cfg.RetryLimit {
		q.bury(msg)
		return
	}

	msg.Attempts++
	raw, err := json.Marshal(msg)
	if err != nil {
		q.l.Error("marshal retry", logger.Error(err))
		return
	}
	retryAt := time.Now().Add(q.cfg.RetryDelay)
	if err := q.client.ZAdd(context.Background(), q.retryKey(), redis.Z{
		Score:  float64(retryAt.Unix()),
		Member: raw,
	}).Err(); err != nil {
		q.l.Error("zadd retry", logger.Error(err))
		return
	}
	q.l.Info("retry scheduled",
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", retryAt.Format(time.RFC3339)))
}

func (q *RedisQueue) bury(msg Message) {
	q.l.Error("max retries reached, moving to dead letter queue", logger.String("id", msg.ID))
	raw, err := json.Marshal(msg)
	if err != nil {
		q.l.Error("marshal dlq", logger.Error(err))
		return
	}
	if err := q.client.LPush(context.Background(), q.dlqKey(), raw).Err(); err != nil {
		q.l.Error("lpush dlq", logger.Error(err))
	}
}

// redeliveryLoop periodically moves due retry messages back onto the main
// list.
func (q *RedisQueue) redeliveryLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(redeliveryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.redeliverDue()
		}
	}
}

func (q *RedisQueue) redeliverDue() {
	due, err := q.client.ZRangeByScoreWithScores(q.ctx, q.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		q.l.Error("fetch retry messages", logger.Error(err))
		return
	}

	for _, z := range due {
		if q.ctx.Err() != nil {
			return
		}
		raw := z.Member.(string)
		pipe := q.client.TxPipeline()
		pipe.ZRem(q.ctx, q.retryKey(), raw)
		pipe.LPush(q.ctx, q.queueKey(), raw)
		if _, err := pipe.Exec(q.ctx); err != nil && !errors.Is(err, context.Canceled) {
			q.l.Error("redeliver retry message", logger.Error(err))
		}
	}
}

func (q *RedisQueue) queueKey() string { return q.keyPrefix + ":messages" }
func (q *RedisQueue) retryKey() string { return q.keyPrefix + ":retry" }
func (q *RedisQueue) dlqKey() string   { return q.keyPrefix + ":dlq" }

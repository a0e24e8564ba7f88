package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	domrepo "QuorumFeed/internal/domain/repository"
)

// effect is one deferred side effect: a snapshot save, an archive insert, a
// Kafka publish. The name feeds error metrics.
type effect struct {
	name string
	fn   func(ctx context.Context) error
	done chan struct{} // non-nil only for flush markers
}

// EffectsPipeline decouples side effects from the hot path. Producers enqueue
// without blocking; a single worker applies effects in order with backoff on
// failure. Flush lets callers await everything enqueued so far, which keeps
// tests deterministic.
type EffectsPipeline struct {
	metrics domrepo.Metrics
	bufSize int
	retries int
	bufCh   chan effect
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
}

type PipelineOption func(*EffectsPipeline)

// WithBufferSize sets the pending-effect buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *EffectsPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetries sets how many times a failing effect is reattempted before it
// is dropped.
func WithRetries(n int) PipelineOption {
	return func(p *EffectsPipeline) {
		if n >= 0 {
			p.retries = n
		}
	}
}

func NewEffectsPipeline(metrics domrepo.Metrics, opts ...PipelineOption) *EffectsPipeline {
	p := &EffectsPipeline{
		metrics: metrics,
		bufSize: 1000,
		retries: 2,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan effect, p.bufSize)
	return p
}

// Start launches the background worker.
func (p *EffectsPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case e := <-p.bufCh:
				if e.done != nil {
					close(e.done)
					continue
				}
				var err error
				for attempt := 0; attempt <= p.retries; attempt++ {
					if err = e.fn(ctx); err == nil {
						break
					}
					if backoff < 2*time.Second {
						backoff *= 2
					}
					select {
					case <-p.stopCh:
						return
					case <-time.After(backoff):
					}
				}
				if err != nil {
					p.metrics.RecordError("effect_" + e.name)
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the worker. Pending effects are abandoned; call Flush first when
// they matter.
func (p *EffectsPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Enqueue adds an effect without blocking. On a full buffer the effect is
// dropped and counted.
func (p *EffectsPipeline) Enqueue(name string, fn func(ctx context.Context) error) {
	select {
	case p.bufCh <- effect{name: name, fn: fn}:
	default:
		p.metrics.RecordError("effect_buffer_full")
	}
}

// Flush blocks until every effect enqueued before the call has been applied,
// or the context expires.
func (p *EffectsPipeline) Flush(ctx context.Context) error {
	marker := effect{done: make(chan struct{})}
	select {
	case p.bufCh <- marker:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline flush: %w", ctx.Err())
	case <-p.stopCh:
		return fmt.Errorf("pipeline stopped during flush")
	}
}

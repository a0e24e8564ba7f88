package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type nopMetrics struct{ errs atomic.Int64 }

func (m *nopMetrics) RecordQuote(source, symbol string, ok bool)    {}
func (m *nopMetrics) RecordLastPrice(symbol string, price float64)  {}
func (m *nopMetrics) RecordSubmission(feedID, outcome string)       {}
func (m *nopMetrics) RecordConsensus(feedID string, reached bool)   {}
func (m *nopMetrics) RecordSlash(nodeAddress string, amount float64) {}
func (m *nopMetrics) RecordStakeOp(op string, ok bool)              {}
func (m *nopMetrics) RecordError(kind string)                       { m.errs.Add(1) }
func (m *nopMetrics) RecordLatency(op string, seconds float64)      {}

func TestPipelineFlushAppliesQueuedEffects(t *testing.T) {
	p := NewEffectsPipeline(&nopMetrics{}, WithBufferSize(16))
	p.Start(context.Background())
	defer p.Stop()

	var applied atomic.Int64
	for i := 0; i < 5; i++ {
		p.Enqueue("count", func(ctx context.Context) error {
			applied.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := applied.Load(); got != 5 {
		t.Fatalf("applied = %d, want 5", got)
	}
}

func TestPipelineRetriesThenDrops(t *testing.T) {
	m := &nopMetrics{}
	p := NewEffectsPipeline(m, WithBufferSize(4), WithRetries(1))
	p.Start(context.Background())
	defer p.Stop()

	var attempts atomic.Int64
	p.Enqueue("fail", func(ctx context.Context) error {
		attempts.Add(1)
		return errors.New("downstream down")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2 (initial + one retry)", got)
	}
	if m.errs.Load() == 0 {
		t.Fatal("expected a recorded error after retries exhausted")
	}
}

func TestPipelineDropsWhenBufferFull(t *testing.T) {
	m := &nopMetrics{}
	// not started: nothing drains the buffer
	p := NewEffectsPipeline(m, WithBufferSize(1))

	p.Enqueue("a", func(ctx context.Context) error { return nil })
	p.Enqueue("b", func(ctx context.Context) error { return nil })

	if m.errs.Load() != 1 {
		t.Fatalf("errors = %d, want 1 drop", m.errs.Load())
	}
}

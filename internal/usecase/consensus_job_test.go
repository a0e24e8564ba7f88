package usecase

import (
	"context"
	"sync"
	"testing"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
}

func (q *fakeQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.Lock()
	q.messages = append(q.messages, msgType)
	q.mu.Unlock()
	return nil
}

func TestSubmitPublishesEvaluationJob(t *testing.T) {
	h := newConsensusHarness(t)
	q := &fakeQueue{}
	h.engine.SetJobQueue(q)
	ctx := context.Background()

	for i, addr := range []string{"node-aaa-1", "node-bbb-1", "node-ccc-1"} {
		h.addStakedNode(t, addr)
		if _, err := h.engine.SubmitFeedEntry(ctx, "sentiment_index", 42.0, addr, "sig"); err != nil {
			t.Fatalf("submit: %v", err)
		}
		// Below quorum nothing is published.
		if i < 2 && len(q.messages) != 0 {
			t.Fatalf("published before quorum: %v", q.messages)
		}
	}
	if len(q.messages) != 1 || q.messages[0] != consensusJobType {
		t.Fatalf("expected one evaluation job, got %v", q.messages)
	}
}

func TestConsensusJobHandle(t *testing.T) {
	h := newConsensusHarness(t)
	ctx := context.Background()
	for _, addr := range []string{"node-aaa-1", "node-bbb-1", "node-ccc-1"} {
		h.addStakedNode(t, addr)
		if _, err := h.engine.SubmitFeedEntry(ctx, "sentiment_index", 42.0, addr, "sig"); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	job := NewConsensusJob(h.engine, testLogger(t))
	if err := job.Handle(ctx, ConsensusJobPayload{FeedID: "sentiment_index"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// Entries evicted before the job ran: skip, do not retry.
	if err := job.Handle(ctx, ConsensusJobPayload{FeedID: "empty_feed"}); err != nil {
		t.Fatalf("missing entries must not error: %v", err)
	}
}

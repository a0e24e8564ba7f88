package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"QuorumFeed/internal/domain/models"
	domrepo "QuorumFeed/internal/domain/repository"
	pkgkafka "QuorumFeed/pkg/kafka"
)

// KafkaSubmissionsHandler consumes node feed submissions from Kafka and feeds
// them into the consensus engine. Policy rejections are terminal: retrying a
// submission the engine refused cannot make it valid, so they consume the
// message instead of bouncing it through the retry/DLQ path.
type KafkaSubmissionsHandler struct {
	topic   string
	engine  *ConsensusEngine
	metrics domrepo.Metrics
}

func NewKafkaSubmissionsHandler(topic string, engine *ConsensusEngine, metrics domrepo.Metrics) *KafkaSubmissionsHandler {
	return &KafkaSubmissionsHandler{topic: topic, engine: engine, metrics: metrics}
}

func (h *KafkaSubmissionsHandler) Topic() string { return h.topic }

// incoming message schema: {feedId, data, nodeAddress, signature, t}
func (h *KafkaSubmissionsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		FeedID      string `json:"feedId"`
		Data        any    `json:"data"`
		NodeAddress string `json:"nodeAddress"`
		Signature   string `json:"signature"`
		T           int64  `json:"t"` // ms
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.T > 0 {
		h.metrics.RecordLatency("submission_e2e_seconds", time.Since(time.UnixMilli(m.T)).Seconds())
	}

	_, err := h.engine.SubmitFeedEntry(ctx, m.FeedID, m.Data, m.NodeAddress, m.Signature)
	if err != nil {
		if isRejection(err) {
			h.metrics.RecordError("consumer_rejected")
			return nil
		}
		h.metrics.RecordError("consumer_submit")
		return err
	}
	return nil
}

func isRejection(err error) bool {
	return errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInsufficientStake) ||
		errors.Is(err, models.ErrMissingProof) ||
		errors.Is(err, models.ErrDataMismatch)
}

var _ pkgkafka.MessageHandler = (*KafkaSubmissionsHandler)(nil)

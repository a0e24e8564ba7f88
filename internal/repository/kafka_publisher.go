package repository

import (
	"context"
	"time"

	"QuorumFeed/internal/domain/models"
	pkgkafka "QuorumFeed/pkg/kafka"
	applogger "QuorumFeed/pkg/logger"
)

// KafkaFeedPublisher implements FeedPublisher over a shared producer. Prices
// are keyed by symbol and consensus outcomes by feed id so downstream
// consumers see per-feed ordering.
type KafkaFeedPublisher struct {
	producer       *pkgkafka.Producer
	priceTopic     string
	consensusTopic string
	l              *applogger.Logger
}

func NewKafkaFeedPublisher(producer *pkgkafka.Producer, priceTopic, consensusTopic string, l *applogger.Logger) *KafkaFeedPublisher {
	return &KafkaFeedPublisher{
		producer:       producer,
		priceTopic:     priceTopic,
		consensusTopic: consensusTopic,
		l:              l,
	}
}

type consensusEvent struct {
	FeedID    string                  `json:"feedId"`
	Result    *models.ConsensusResult `json:"result"`
	Timestamp time.Time               `json:"timestamp"`
}

func (p *KafkaFeedPublisher) PublishPrice(ctx context.Context, feed *models.PriceFeed) error {
	err := p.producer.Publish(ctx, p.priceTopic, []byte(feed.Symbol), feed)
	if err != nil && p.l != nil {
		p.l.Error("publish price failed",
			applogger.String("symbol", feed.Symbol),
			applogger.Error(err),
		)
	}
	return err
}

func (p *KafkaFeedPublisher) PublishConsensus(ctx context.Context, feedID string, res *models.ConsensusResult) error {
	evt := consensusEvent{FeedID: feedID, Result: res, Timestamp: time.Now()}
	err := p.producer.Publish(ctx, p.consensusTopic, []byte(feedID), evt)
	if err != nil && p.l != nil {
		p.l.Error("publish consensus failed",
			applogger.String("feed_id", feedID),
			applogger.Error(err),
		)
	}
	return err
}

func (p *KafkaFeedPublisher) Close() error {
	return p.producer.Close()
}

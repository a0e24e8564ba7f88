package repository

import (
	"context"
	"time"

	"QuorumFeed/internal/domain/models"
)

// SourceAdapter is the uniform interface to one external price provider.
// Adapters share no state; a failing adapter degrades only its own contribution.
type SourceAdapter interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

// PairLister is implemented by adapters that can enumerate tradable symbols.
type PairLister interface {
	ListPairs(ctx context.Context) ([]string, error)
}

// UnsignedTx is an opaque settlement payload. The core never signs it.
type UnsignedTx struct {
	Payload []byte  `json:"payload"`
	Pool    string  `json:"pool"`
	Amount  float64 `json:"amount"`
}

// SettlementBackend is the external system of record for stake transfer.
// The core only requests unsigned payloads and consumes verification results.
type SettlementBackend interface {
	CreateStakeTx(ctx context.Context, nodeAddress string, amount float64, pool string) (*UnsignedTx, error)
	CreateUnstakeTx(ctx context.Context, nodeAddress string, amount float64, pool string) (*UnsignedTx, error)
	VerifyTransaction(ctx context.Context, signature string) (bool, error)
	GetVerifiedStakeBalance(ctx context.Context, nodeAddress, pool string) (float64, error)
	GetBalance(ctx context.Context, nodeAddress string) (float64, error)
	GetPoolAPY(ctx context.Context, pool string) (float64, error)
}

// FeedPublisher pushes aggregated prices and consensus outcomes downstream.
type FeedPublisher interface {
	PublishPrice(ctx context.Context, feed *models.PriceFeed) error
	PublishConsensus(ctx context.Context, feedID string, res *models.ConsensusResult) error
	Close() error
}

// FeedArchive is durable append-only storage for audit history.
type FeedArchive interface {
	Init(ctx context.Context) error
	ArchivePrice(ctx context.Context, feed *models.PriceFeed) error
	ArchiveEntry(ctx context.Context, entry *models.FeedEntry) error
	QueryPrices(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.PriceFeed, error)
	Health(ctx context.Context) error
	Close() error
}

// SnapshotStore persists the node registry between runs.
type SnapshotStore interface {
	SaveNodes(ctx context.Context, nodes []*models.Node) error
	LoadNodes(ctx context.Context) ([]*models.Node, error)
	Close() error
}

// Metrics is the instrumentation sink for the oracle core.
type Metrics interface {
	RecordQuote(source, symbol string, ok bool)
	RecordLastPrice(symbol string, price float64)
	RecordSubmission(feedID, outcome string)
	RecordConsensus(feedID string, reached bool)
	RecordSlash(nodeAddress string, amount float64)
	RecordStakeOp(op string, ok bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"QuorumFeed/internal/domain/models"
	pkgch "QuorumFeed/pkg/clickhouse"
	applogger "QuorumFeed/pkg/logger"
)

// CHFeedArchive implements FeedArchive backed by ClickHouse. Every aggregated
// price and every accepted submission is kept for audit.
type CHFeedArchive struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHFeedArchive(ch *pkgch.Client, database string) *CHFeedArchive {
	return &CHFeedArchive{db: ch.DB(), database: database}
}

// SetLogger injects a structured logger.
func (s *CHFeedArchive) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHFeedArchive) priceTable() string { return s.database + ".oracle_prices" }
func (s *CHFeedArchive) entryTable() string { return s.database + ".oracle_entries" }

func (s *CHFeedArchive) Init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            ts DateTime, symbol String, price Float64, change24h Float64,
            volume24h Float64, sources UInt8
        ) ENGINE=MergeTree ORDER BY (symbol, ts)`, s.priceTable()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            ts DateTime, feed_id String, node_address String, data String,
            signature String, proof_hash String, verified UInt8
        ) ENGINE=MergeTree ORDER BY (feed_id, ts)`, s.entryTable()),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
	}
	return nil
}

func (s *CHFeedArchive) ArchivePrice(ctx context.Context, feed *models.PriceFeed) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, change24h, volume24h, sources) VALUES (?, ?, ?, ?, ?, ?)", s.priceTable())
	_, err := s.db.ExecContext(ctx, q,
		feed.Timestamp,
		feed.Symbol,
		feed.Price,
		feed.Change24h,
		feed.Volume24h,
		uint8(feed.Sources),
	)
	if err != nil && s.l != nil {
		s.l.Error("clickhouse archive_price error",
			applogger.String("symbol", feed.Symbol),
			applogger.Error(err),
		)
	}
	return err
}

func (s *CHFeedArchive) ArchiveEntry(ctx context.Context, entry *models.FeedEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("encode entry data: %w", err)
	}
	verified := uint8(0)
	if entry.Verified {
		verified = 1
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, feed_id, node_address, data, signature, proof_hash, verified) VALUES (?, ?, ?, ?, ?, ?, ?)", s.entryTable())
	_, err = s.db.ExecContext(ctx, q,
		entry.Timestamp,
		entry.FeedID,
		entry.NodeAddress,
		string(data),
		entry.Signature,
		entry.Proof.Hash,
		verified,
	)
	if err != nil && s.l != nil {
		s.l.Error("clickhouse archive_entry error",
			applogger.String("feed_id", entry.FeedID),
			applogger.Error(err),
		)
	}
	return err
}

func (s *CHFeedArchive) QueryPrices(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.PriceFeed, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT ts, symbol, price, change24h, volume24h, sources
        FROM %s
        WHERE symbol = ? AND ts >= ? AND ts <= ?
        ORDER BY ts DESC
        LIMIT ?
    `, s.priceTable())
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	out := make([]*models.PriceFeed, 0, limit)
	for rows.Next() {
		var f models.PriceFeed
		var sources uint8
		if err := rows.Scan(&f.Timestamp, &f.Symbol, &f.Price, &f.Change24h, &f.Volume24h, &sources); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		f.Sources = int(sources)
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse query_prices ok",
			applogger.String("symbol", symbol),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHFeedArchive) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHFeedArchive) Close() error {
	return nil // Managed by pkg
}

package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"QuorumFeed/internal/domain/models"
	drepo "QuorumFeed/internal/domain/repository"
	"QuorumFeed/internal/middleware"
	"QuorumFeed/internal/repository"
	applogger "QuorumFeed/pkg/logger"
	"QuorumFeed/pkg/queue"
)

// consensusJobType is the queue message type for deferred evaluation.
const consensusJobType = "consensus.evaluate"

// ConsensusJobPayload is the queue payload for one evaluation request.
type ConsensusJobPayload struct {
	FeedID string `json:"feed_id"`
}

// ConsensusConfig holds quorum and slashing parameters.
type ConsensusConfig struct {
	MinNodes              int
	VerificationThreshold float64
	MinStake              float64
	SlashThreshold        float64
	SlashFraction         float64
	MaxPriceDeviation     float64
}

// ConsensusEngine accepts node submissions and evaluates majority agreement
// over verified entries. Submission gating, proof construction, reputation
// accounting and slashing all live here.
type ConsensusEngine struct {
	store    *repository.FeedStore
	registry *NodeRegistry
	agg      *PriceAggregator
	pipeline *middleware.EffectsPipeline
	archive  drepo.FeedArchive
	pub      drepo.FeedPublisher
	metrics  drepo.Metrics
	l        *applogger.Logger
	cfg      ConsensusConfig
	jobs     queue.QueueService
}

func NewConsensusEngine(
	store *repository.FeedStore,
	registry *NodeRegistry,
	agg *PriceAggregator,
	pipeline *middleware.EffectsPipeline,
	archive drepo.FeedArchive,
	pub drepo.FeedPublisher,
	metrics drepo.Metrics,
	l *applogger.Logger,
	cfg ConsensusConfig,
) *ConsensusEngine {
	if cfg.MinNodes <= 0 {
		cfg.MinNodes = 3
	}
	if cfg.VerificationThreshold <= 0 {
		cfg.VerificationThreshold = 0.51
	}
	if cfg.MinStake <= 0 {
		cfg.MinStake = 0.1
	}
	if cfg.SlashThreshold <= 0 {
		cfg.SlashThreshold = 0.1
	}
	if cfg.SlashFraction <= 0 {
		cfg.SlashFraction = 0.1
	}
	if cfg.MaxPriceDeviation <= 0 {
		cfg.MaxPriceDeviation = 0.05
	}
	return &ConsensusEngine{
		store:    store,
		registry: registry,
		agg:      agg,
		pipeline: pipeline,
		archive:  archive,
		pub:      pub,
		metrics:  metrics,
		l:        l,
		cfg:      cfg,
	}
}

// proofPayload is the canonical encoding a proof hash commits to. Field order
// is fixed by the struct; timestamps are millisecond epochs so the encoding
// is stable across restarts.
type proofPayload struct {
	FeedID      string `json:"feedId"`
	Data        any    `json:"data"`
	NodeAddress string `json:"nodeAddress"`
	Signature   string `json:"signature"`
	Timestamp   int64  `json:"timestamp"`
}

func proofHash(feedID string, data any, nodeAddress, signature string, ts time.Time) (string, error) {
	b, err := json.Marshal(proofPayload{
		FeedID:      feedID,
		Data:        data,
		NodeAddress: nodeAddress,
		Signature:   signature,
		Timestamp:   ts.UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SetJobQueue enables deferred consensus evaluation: once a feed has enough
// entries, an evaluation job is published instead of blocking the submitter.
func (e *ConsensusEngine) SetJobQueue(q queue.QueueService) { e.jobs = q }

// SubmitFeedEntry gates and records one node submission.
func (e *ConsensusEngine) SubmitFeedEntry(ctx context.Context, feedID string, data any, nodeAddress, signature string) (*models.FeedEntry, error) {
	node, err := e.registry.Get(nodeAddress)
	if err != nil {
		e.metrics.RecordSubmission(feedID, "unknown_node")
		return nil, err
	}
	if !node.Qualified(e.cfg.MinStake) {
		e.metrics.RecordSubmission(feedID, "insufficient_stake")
		return nil, fmt.Errorf("submit %s from %s: stake %.4f below %.4f: %w",
			feedID, nodeAddress, node.Stake, e.cfg.MinStake, models.ErrInsufficientStake)
	}
	if signature == "" {
		e.metrics.RecordSubmission(feedID, "missing_proof")
		return nil, fmt.Errorf("submit %s from %s: no signature: %w", feedID, nodeAddress, models.ErrMissingProof)
	}

	if sym, ok := priceSymbolFor(feedID); ok {
		if v, numeric := numericValue(data); numeric {
			ref, rerr := e.referencePrice(ctx, sym)
			if rerr != nil {
				// No independent reference means the value cannot be
				// cross-checked, so the submission is refused outright.
				e.metrics.RecordSubmission(feedID, "no_reference")
				return nil, fmt.Errorf("submit %s from %s: no reference price for %s: %w",
					feedID, nodeAddress, sym, models.ErrNoDataAvailable)
			}
			deviation := math.Abs(v-ref) / ref
			if deviation > e.cfg.MaxPriceDeviation {
				e.metrics.RecordSubmission(feedID, "data_mismatch")
				return nil, fmt.Errorf("submit %s from %s: %.2f deviates %.1f%% from %.2f: %w",
					feedID, nodeAddress, v, deviation*100, ref, models.ErrDataMismatch)
			}
		}
	}

	ts := time.Now()
	hash, err := proofHash(feedID, data, nodeAddress, signature, ts)
	if err != nil {
		e.metrics.RecordSubmission(feedID, "missing_proof")
		return nil, fmt.Errorf("submit %s from %s: unencodable data: %w", feedID, nodeAddress, models.ErrMissingProof)
	}

	entry := &models.FeedEntry{
		FeedID:      feedID,
		Data:        data,
		NodeAddress: nodeAddress,
		Timestamp:   ts,
		Signature:   signature,
		Proof:       models.Proof{Hash: hash, Timestamp: ts},
	}
	e.store.AppendEntry(entry)
	e.registry.Touch(nodeAddress)
	e.metrics.RecordSubmission(feedID, "accepted")

	if e.archive != nil {
		cp := *entry
		e.pipeline.Enqueue("archive_entry", func(ctx context.Context) error {
			return e.archive.ArchiveEntry(ctx, &cp)
		})
	}

	if e.jobs != nil && len(e.store.Entries(feedID)) >= e.cfg.MinNodes {
		if err := e.jobs.PublishMessage(ctx, consensusJobType, ConsensusJobPayload{FeedID: feedID}); err != nil {
			e.l.Warn("consensus job publish failed", applogger.String("feed_id", feedID), applogger.Error(err))
		}
	}

	cp := *entry
	return &cp, nil
}

// VerifyConsensus evaluates all retained entries for a feed id. Verified
// entries (those whose proof recomputes) are grouped by exact value; the
// largest group wins when it clears the threshold. Reputation moves for every
// entry on a decided round, majority or not.
func (e *ConsensusEngine) VerifyConsensus(ctx context.Context, feedID string) (*models.ConsensusResult, error) {
	entries := e.store.Entries(feedID)
	if len(entries) < e.cfg.MinNodes {
		return nil, fmt.Errorf("consensus %s: %d of %d entries: %w",
			feedID, len(entries), e.cfg.MinNodes, models.ErrNotEnoughEntries)
	}

	type group struct {
		count int
		value any
	}
	groups := make(map[string]*group)
	validProof := make(map[string]bool, len(entries)) // proof hash -> recomputes
	verified := 0

	for _, entry := range entries {
		hash, err := proofHash(entry.FeedID, entry.Data, entry.NodeAddress, entry.Signature, entry.Proof.Timestamp)
		ok := err == nil && hash == entry.Proof.Hash && entry.Proof.Hash != ""
		validProof[entry.Proof.Hash] = ok
		if !ok {
			continue
		}
		verified++
		key := valueKey(entry.Data)
		g, exists := groups[key]
		if !exists {
			g = &group{value: entry.Data}
			groups[key] = g
		}
		g.count++
	}

	var majorityKey string
	agreement := 0
	var majorityValue any
	for key, g := range groups {
		if g.count > agreement {
			agreement = g.count
			majorityKey = key
			majorityValue = g.value
		}
	}

	res := &models.ConsensusResult{
		Total:     len(entries),
		Verified:  verified,
		Agreement: agreement,
	}
	if verified > 0 {
		res.Confidence = float64(agreement) / float64(verified)
		res.Consensus = res.Confidence >= e.cfg.VerificationThreshold
	}
	if res.Consensus {
		res.Value = majorityValue
	}

	if res.Consensus {
		accepted := make(map[string]bool)
		for _, entry := range entries {
			inMajority := validProof[entry.Proof.Hash] && valueKey(entry.Data) == majorityKey
			if inMajority {
				accepted[entry.Proof.Hash] = true
			}
			slashed := e.registry.ApplySubmissionOutcome(entry.NodeAddress, inMajority, e.cfg.SlashThreshold, e.cfg.SlashFraction)
			if slashed > 0 {
				e.metrics.RecordSlash(entry.NodeAddress, slashed)
				e.l.Warn("node slashed",
					applogger.String("address", entry.NodeAddress),
					applogger.Any("amount", slashed),
					applogger.String("feed_id", feedID),
				)
			}
		}
		e.store.MarkVerified(feedID, accepted)
	}

	e.metrics.RecordConsensus(feedID, res.Consensus)
	if e.pub != nil {
		cp := *res
		e.pipeline.Enqueue("publish_consensus", func(ctx context.Context) error {
			return e.pub.PublishConsensus(ctx, feedID, &cp)
		})
	}

	return res, nil
}

// FetchDataForNode resolves a price-like feed id to the aggregator's current
// value, fetching on demand when no sweep has covered the symbol yet. Honest
// reporters use this to source their submissions.
func (e *ConsensusEngine) FetchDataForNode(ctx context.Context, feedID, nodeAddress string) (float64, error) {
	if _, err := e.registry.Get(nodeAddress); err != nil {
		return 0, err
	}
	sym, ok := priceSymbolFor(feedID)
	if !ok {
		return 0, fmt.Errorf("fetch for node: %s is not a price feed: %w", feedID, models.ErrNotFound)
	}
	return e.referencePrice(ctx, sym)
}

// referencePrice returns the aggregator's view of a symbol: the last swept
// value when one exists, otherwise a fresh on-demand fetch.
func (e *ConsensusEngine) referencePrice(ctx context.Context, sym string) (float64, error) {
	if feed := e.store.GetPriceFeed(sym); feed != nil && feed.Price > 0 {
		return feed.Price, nil
	}
	feed, err := e.agg.FetchAggregatedPrice(ctx, sym)
	if err != nil {
		return 0, err
	}
	if feed.Price <= 0 {
		return 0, fmt.Errorf("reference price for %s: %w", sym, models.ErrNoDataAvailable)
	}
	return feed.Price, nil
}

// valueKey canonicalizes a submitted value for grouping. Numeric types encode
// identically regardless of Go type, so 42 and 42.0 land in the same group.
func valueKey(data any) string {
	if v, ok := numericValue(data); ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%#v", data)
	}
	return string(b)
}

func numericValue(data any) (float64, bool) {
	switch v := data.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// priceSymbolFor recognizes price-shaped feed ids: explicit pairs, anything
// mentioning USD, or bare 2-10 letter tickers. Bare tickers normalize to /USD.
func priceSymbolFor(feedID string) (string, bool) {
	id := strings.ToUpper(strings.TrimSpace(feedID))
	id = strings.TrimPrefix(id, "PRICE:")
	if strings.Contains(id, "/") {
		return id, true
	}
	if strings.HasSuffix(id, "USD") && len(id) > 3 {
		return id[:len(id)-3] + "/USD", true
	}
	if isTicker(id) {
		return id + "/USD", true
	}
	return "", false
}

func isTicker(s string) bool {
	if len(s) < 2 || len(s) > 10 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

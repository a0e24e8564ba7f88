package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"QuorumFeed/internal/domain/models"
	drepo "QuorumFeed/internal/domain/repository"
	"QuorumFeed/internal/middleware"
	"QuorumFeed/internal/repository"
	pkghttp "QuorumFeed/pkg/http"
	applogger "QuorumFeed/pkg/logger"
)

// stubMetrics counts calls; assertions only need the totals.
type stubMetrics struct {
	mu          sync.Mutex
	submissions map[string]int
	slashes     int
	errs        int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{submissions: make(map[string]int)}
}

func (m *stubMetrics) RecordQuote(source, symbol string, ok bool) {}
func (m *stubMetrics) RecordLastPrice(symbol string, price float64) {}
func (m *stubMetrics) RecordSubmission(feedID, outcome string) {
	m.mu.Lock()
	m.submissions[outcome]++
	m.mu.Unlock()
}
func (m *stubMetrics) RecordConsensus(feedID string, reached bool) {}
func (m *stubMetrics) RecordSlash(nodeAddress string, amount float64) {
	m.mu.Lock()
	m.slashes++
	m.mu.Unlock()
}
func (m *stubMetrics) RecordStakeOp(op string, ok bool) {}
func (m *stubMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errs++
	m.mu.Unlock()
}
func (m *stubMetrics) RecordLatency(op string, seconds float64) {}

// stubSettlement is a scriptable settlement backend.
type stubSettlement struct {
	mu           sync.Mutex
	confirmed    bool
	verifyErr    error
	stakeBalance float64
	stakeErr     error
	balance      float64
	balanceErr   error
	apy          float64
	apyErr       error

	// when balanceGate is set, GetBalance signals balanceEntered and blocks
	// until the gate closes
	balanceGate    chan struct{}
	balanceEntered chan struct{}

	stakeTxs   []float64
	unstakeTxs []float64
}

func (s *stubSettlement) CreateStakeTx(ctx context.Context, addr string, amount float64, pool string) (*drepo.UnsignedTx, error) {
	s.mu.Lock()
	s.stakeTxs = append(s.stakeTxs, amount)
	s.mu.Unlock()
	return &drepo.UnsignedTx{Amount: amount, Pool: pool}, nil
}

func (s *stubSettlement) CreateUnstakeTx(ctx context.Context, addr string, amount float64, pool string) (*drepo.UnsignedTx, error) {
	s.mu.Lock()
	s.unstakeTxs = append(s.unstakeTxs, amount)
	s.mu.Unlock()
	return &drepo.UnsignedTx{Amount: amount, Pool: pool}, nil
}

func (s *stubSettlement) VerifyTransaction(ctx context.Context, signature string) (bool, error) {
	return s.confirmed, s.verifyErr
}

func (s *stubSettlement) GetVerifiedStakeBalance(ctx context.Context, addr, pool string) (float64, error) {
	return s.stakeBalance, s.stakeErr
}

func (s *stubSettlement) GetBalance(ctx context.Context, addr string) (float64, error) {
	if s.balanceGate != nil {
		if s.balanceEntered != nil {
			select {
			case s.balanceEntered <- struct{}{}:
			default:
			}
		}
		select {
		case <-s.balanceGate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.balance, s.balanceErr
}

func (s *stubSettlement) GetPoolAPY(ctx context.Context, pool string) (float64, error) {
	return s.apy, s.apyErr
}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type consensusHarness struct {
	engine     *ConsensusEngine
	registry   *NodeRegistry
	store      *repository.FeedStore
	settlement *stubSettlement
	metrics    *stubMetrics
}

func newConsensusHarness(t *testing.T) *consensusHarness {
	t.Helper()
	l := testLogger(t)
	m := newStubMetrics()
	stl := &stubSettlement{confirmed: true, stakeBalance: 1.0}
	store := repository.NewFeedStore(100)
	pipeline := middleware.NewEffectsPipeline(m)

	reg := NewNodeRegistry(stl, nil, pipeline, pkghttp.NewClient(), m, l, RegistryConfig{
		DefaultPool: "marinade",
		MinStake:    0.1,
	})
	agg := NewPriceAggregator(nil, store, pipeline, nil, nil, m, l, nil, AggregatorConfig{})
	engine := NewConsensusEngine(store, reg, agg, pipeline, nil, nil, m, l, ConsensusConfig{
		MinNodes:              3,
		VerificationThreshold: 0.51,
		MinStake:              0.1,
		SlashThreshold:        0.1,
		SlashFraction:         0.1,
		MaxPriceDeviation:     0.05,
	})
	return &consensusHarness{engine: engine, registry: reg, store: store, settlement: stl, metrics: m}
}

// addStakedNode registers a node and walks it through a verified stake update.
func (h *consensusHarness) addStakedNode(t *testing.T, address string) {
	t.Helper()
	if _, err := h.registry.Register(address, models.NodeMetadata{Name: address}); err != nil {
		t.Fatalf("register %s: %v", address, err)
	}
	if _, err := h.registry.UpdateStake(context.Background(), address, "sig-"+address, ""); err != nil {
		t.Fatalf("stake %s: %v", address, err)
	}
}

func TestSubmitFeedEntryAccepted(t *testing.T) {
	h := newConsensusHarness(t)
	h.addStakedNode(t, "node-alpha-1")

	entry, err := h.engine.SubmitFeedEntry(context.Background(), "sentiment_index", 0.8, "node-alpha-1", "sig")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if entry.Proof.Hash == "" {
		t.Fatalf("expected proof hash")
	}
	if got := h.store.EntryCount("sentiment_index"); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
	node, _ := h.registry.Get("node-alpha-1")
	if node.LastSeen.IsZero() {
		t.Fatalf("expected LastSeen updated")
	}
}

func TestSubmitFeedEntryGates(t *testing.T) {
	h := newConsensusHarness(t)
	h.addStakedNode(t, "node-staked-1")
	if _, err := h.registry.Register("node-poor-1", models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	tests := []struct {
		name      string
		node      string
		signature string
		want      error
	}{
		{"unknown node", "node-ghost-1", "sig", models.ErrNotFound},
		{"no stake", "node-poor-1", "sig", models.ErrInsufficientStake},
		{"missing signature", "node-staked-1", "", models.ErrMissingProof},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.SubmitFeedEntry(context.Background(), "sentiment_index", 1.0, tc.node, tc.signature)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmitFeedEntryPriceCrossCheck(t *testing.T) {
	h := newConsensusHarness(t)
	h.addStakedNode(t, "node-alpha-1")
	h.store.SetPriceFeed(&models.PriceFeed{Symbol: "BTC/USD", Price: 100, Timestamp: time.Now()})

	// 4% off passes, 10% off is rejected.
	if _, err := h.engine.SubmitFeedEntry(context.Background(), "BTC/USD", 104.0, "node-alpha-1", "sig"); err != nil {
		t.Fatalf("4%% deviation should pass: %v", err)
	}
	_, err := h.engine.SubmitFeedEntry(context.Background(), "BTC/USD", 110.0, "node-alpha-1", "sig")
	if !errors.Is(err, models.ErrDataMismatch) {
		t.Fatalf("expected ErrDataMismatch, got %v", err)
	}
}

func TestSubmitFeedEntryNoReferenceRejected(t *testing.T) {
	h := newConsensusHarness(t)
	h.addStakedNode(t, "node-alpha-1")

	// No sweep has run and the harness has no source adapters, so there is
	// no reference price to check the value against.
	_, err := h.engine.SubmitFeedEntry(context.Background(), "BTC/USD", 999999.0, "node-alpha-1", "sig")
	if !errors.Is(err, models.ErrNoDataAvailable) {
		t.Fatalf("expected ErrNoDataAvailable, got %v", err)
	}
	if got := h.store.EntryCount("BTC/USD"); got != 0 {
		t.Fatalf("rejected submission must not be stored, got %d entries", got)
	}
}

func TestVerifyConsensusMajority(t *testing.T) {
	h := newConsensusHarness(t)
	for _, addr := range []string{"node-aaa-1", "node-bbb-1", "node-ccc-1"} {
		h.addStakedNode(t, addr)
	}
	ctx := context.Background()
	for _, addr := range []string{"node-aaa-1", "node-bbb-1"} {
		if _, err := h.engine.SubmitFeedEntry(ctx, "sentiment_index", 42.0, addr, "sig"); err != nil {
			t.Fatalf("submit %s: %v", addr, err)
		}
	}
	if _, err := h.engine.SubmitFeedEntry(ctx, "sentiment_index", 43.0, "node-ccc-1", "sig"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := h.engine.VerifyConsensus(ctx, "sentiment_index")
	if err != nil {
		t.Fatalf("consensus: %v", err)
	}
	if !res.Consensus {
		t.Fatalf("expected consensus, got %+v", res)
	}
	if res.Agreement != 2 || res.Verified != 3 || res.Total != 3 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if v, ok := numericValue(res.Value); !ok || v != 42 {
		t.Fatalf("expected value 42, got %v", res.Value)
	}

	// Majority nodes keep full reputation; the dissenter drops to zero and is
	// slashed 10% of its stake.
	maj, _ := h.registry.Get("node-aaa-1")
	if maj.Reputation != 100 || maj.CorrectSubmissions != 1 {
		t.Fatalf("majority node: %+v", maj)
	}
	min, _ := h.registry.Get("node-ccc-1")
	if min.Reputation != 0 {
		t.Fatalf("expected reputation 0, got %v", min.Reputation)
	}
	if min.Stake != 0.9 {
		t.Fatalf("expected stake 0.9 after slash, got %v", min.Stake)
	}
	if h.metrics.slashes != 1 {
		t.Fatalf("expected 1 slash recorded, got %d", h.metrics.slashes)
	}
}

func TestVerifyConsensusSplit(t *testing.T) {
	h := newConsensusHarness(t)
	ctx := context.Background()
	values := []float64{41, 42, 43}
	addrs := []string{"node-aaa-1", "node-bbb-1", "node-ccc-1"}
	for i, addr := range addrs {
		h.addStakedNode(t, addr)
		if _, err := h.engine.SubmitFeedEntry(ctx, "sentiment_index", values[i], addr, "sig"); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	res, err := h.engine.VerifyConsensus(ctx, "sentiment_index")
	if err != nil {
		t.Fatalf("consensus: %v", err)
	}
	if res.Consensus {
		t.Fatalf("three-way split must not reach consensus: %+v", res)
	}
	// An undecided round moves no counters.
	for _, addr := range addrs {
		node, _ := h.registry.Get(addr)
		if node.TotalSubmissions != 0 {
			t.Fatalf("undecided round must not count submissions: %+v", node)
		}
	}
}

func TestVerifyConsensusNotEnoughEntries(t *testing.T) {
	h := newConsensusHarness(t)
	h.addStakedNode(t, "node-aaa-1")
	if _, err := h.engine.SubmitFeedEntry(context.Background(), "sentiment_index", 42.0, "node-aaa-1", "sig"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := h.engine.VerifyConsensus(context.Background(), "sentiment_index")
	if !errors.Is(err, models.ErrNotEnoughEntries) {
		t.Fatalf("expected ErrNotEnoughEntries, got %v", err)
	}
}

func TestProofHashStability(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	a, err := proofHash("BTC/USD", 42.0, "node-aaa-1", "sig", ts)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, _ := proofHash("BTC/USD", 42.0, "node-aaa-1", "sig", ts)
	if a != b {
		t.Fatalf("hash must be deterministic")
	}
	c, _ := proofHash("BTC/USD", 42.1, "node-aaa-1", "sig", ts)
	if a == c {
		t.Fatalf("different data must change the hash")
	}
}

func TestPriceSymbolFor(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"BTC/USD", "BTC/USD", true},
		{"PRICE:eth/usd", "ETH/USD", true},
		{"SOLUSD", "SOL/USD", true},
		{"BTC", "BTC/USD", true},
		{"sentiment_index", "", false},
		{"x", "", false},
	}
	for _, tc := range tests {
		got, ok := priceSymbolFor(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("priceSymbolFor(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFetchDataForNode(t *testing.T) {
	h := newConsensusHarness(t)
	h.addStakedNode(t, "node-alpha-1")
	h.store.SetPriceFeed(&models.PriceFeed{Symbol: "BTC/USD", Price: 65000})

	price, err := h.engine.FetchDataForNode(context.Background(), "PRICE:BTC/USD", "node-alpha-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if price != 65000 {
		t.Fatalf("expected the stored aggregate, got %v", price)
	}

	if _, err := h.engine.FetchDataForNode(context.Background(), "PRICE:BTC/USD", "node-ghost-1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown node must be rejected, got %v", err)
	}
	if _, err := h.engine.FetchDataForNode(context.Background(), "sentiment_index", "node-alpha-1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("non-price feed has no reference value, got %v", err)
	}
}

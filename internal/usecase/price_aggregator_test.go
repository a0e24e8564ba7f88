package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"QuorumFeed/internal/domain/models"
	drepo "QuorumFeed/internal/domain/repository"
	"QuorumFeed/internal/middleware"
	"QuorumFeed/internal/repository"
)

type fakeAdapter struct {
	name  string
	quote models.Quote
	err   error
	pairs []string
	pErr  error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	q := f.quote
	q.Source = f.name
	q.Timestamp = time.Now()
	return &q, nil
}

func (f *fakeAdapter) ListPairs(ctx context.Context) ([]string, error) {
	return f.pairs, f.pErr
}

func newTestAggregator(t *testing.T, adapters []drepo.SourceAdapter, symbols []string, cfg AggregatorConfig) (*PriceAggregator, *repository.FeedStore) {
	t.Helper()
	store := repository.NewFeedStore(100)
	m := newStubMetrics()
	pipeline := middleware.NewEffectsPipeline(m)
	agg := NewPriceAggregator(adapters, store, pipeline, nil, nil, m, testLogger(t), symbols, cfg)
	return agg, store
}

func TestAggregatePrices(t *testing.T) {
	tests := []struct {
		name   string
		cfg    AggregatorConfig
		prices []float64
		want   float64
	}{
		{
			name:   "single quote rounds",
			prices: []float64{100.456},
			want:   100.46,
		},
		{
			name:   "tight spread takes mean",
			prices: []float64{100, 100.5, 99.8},
			want:   100.1,
		},
		{
			name: "far outlier dropped then median",
			// 700 sits beyond two sigmas of the mean; the five honest quotes remain.
			prices: []float64{100, 100, 100, 100, 100, 700},
			want:   100,
		},
		{
			name: "filter discarding the majority keeps everything",
			cfg:  AggregatorConfig{OutlierStdDevs: 0.2},
			// with a 0.2 sigma band only 30 survives; that says the spread is
			// wide, not that four quotes are wrong, so all five stand.
			prices: []float64{10, 20, 25, 30, 90},
			want:   25,
		},
		{
			name: "even count averages the middle pair",
			cfg:  AggregatorConfig{OutlierStdDevs: 0.5},
			prices: []float64{10, 20, 30, 40},
			want:   25,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			agg, _ := newTestAggregator(t, nil, nil, tc.cfg)
			if got := agg.aggregatePrices(tc.prices); got != tc.want {
				t.Fatalf("aggregatePrices(%v) = %v, want %v", tc.prices, got, tc.want)
			}
		})
	}
}

func TestFetchAggregatedPriceReducesQuotes(t *testing.T) {
	adapters := []drepo.SourceAdapter{
		&fakeAdapter{name: "a", quote: models.Quote{Price: 100, Change24h: 2, HasChange: true, Volume24h: 10}},
		&fakeAdapter{name: "b", quote: models.Quote{Price: 101, Change24h: 4, HasChange: true, Volume24h: 20}},
		&fakeAdapter{name: "c", quote: models.Quote{Price: 100.5, Volume24h: 5}},
	}
	agg, store := newTestAggregator(t, adapters, []string{"BTC/USD"}, AggregatorConfig{})

	feed, err := agg.FetchAggregatedPrice(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if feed.Sources != 3 {
		t.Fatalf("expected 3 sources, got %d", feed.Sources)
	}
	// change24h averages only reporters that carry one; volume sums all.
	if feed.Change24h != 3 {
		t.Fatalf("expected change 3, got %v", feed.Change24h)
	}
	if feed.Volume24h != 35 {
		t.Fatalf("expected volume 35, got %v", feed.Volume24h)
	}
	if got := store.GetPriceFeed("BTC/USD"); got == nil || got.Price != feed.Price {
		t.Fatalf("store not updated: %+v", got)
	}
}

func TestFetchAggregatedPricePartialFailure(t *testing.T) {
	adapters := []drepo.SourceAdapter{
		&fakeAdapter{name: "a", err: errors.New("down")},
		&fakeAdapter{name: "b", quote: models.Quote{Price: 200}},
	}
	agg, _ := newTestAggregator(t, adapters, nil, AggregatorConfig{})

	feed, err := agg.FetchAggregatedPrice(context.Background(), "ETH/USD")
	if err != nil {
		t.Fatalf("one live source should suffice: %v", err)
	}
	if feed.Price != 200 || feed.Sources != 1 {
		t.Fatalf("unexpected feed: %+v", feed)
	}
	total, failed := agg.RequestCounters()
	if total != 2 || failed != 1 {
		t.Fatalf("counters total=%d failed=%d", total, failed)
	}
}

func TestFetchAggregatedPriceBlackout(t *testing.T) {
	adapters := []drepo.SourceAdapter{
		&fakeAdapter{name: "a", err: errors.New("down")},
		&fakeAdapter{name: "b", err: errors.New("down")},
	}
	agg, _ := newTestAggregator(t, adapters, nil, AggregatorConfig{})

	_, err := agg.FetchAggregatedPrice(context.Background(), "ETH/USD")
	if !errors.Is(err, models.ErrNoDataAvailable) {
		t.Fatalf("expected ErrNoDataAvailable, got %v", err)
	}
}

func TestRefreshPairs(t *testing.T) {
	lister := &fakeAdapter{name: "lister", quote: models.Quote{Price: 1}, pairs: []string{"BTC/USD", "DOGE/USD"}}
	agg, _ := newTestAggregator(t, []drepo.SourceAdapter{lister}, []string{"BTC/USD", "ETH/USD"}, AggregatorConfig{})

	agg.RefreshPairs(context.Background())
	got := agg.Symbols()
	if len(got) != 1 || got[0] != "BTC/USD" {
		t.Fatalf("expected delisted pair dropped, got %v", got)
	}

	// ETH/USD relists; the configured set is the source of truth.
	lister.pairs = []string{"BTC/USD", "ETH/USD"}
	agg.RefreshPairs(context.Background())
	if got := agg.Symbols(); len(got) != 2 {
		t.Fatalf("expected relisted pair restored, got %v", got)
	}

	// Enumeration failure keeps the current set.
	lister.pairs = nil
	lister.pErr = errors.New("listing down")
	agg.RefreshPairs(context.Background())
	if got := agg.Symbols(); len(got) != 2 {
		t.Fatalf("listing failure must keep the set, got %v", got)
	}
}

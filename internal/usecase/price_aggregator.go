package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"QuorumFeed/internal/domain/models"
	drepo "QuorumFeed/internal/domain/repository"
	"QuorumFeed/internal/middleware"
	"QuorumFeed/internal/repository"
	applogger "QuorumFeed/pkg/logger"
)

// AggregatorConfig holds the sweep and aggregation tuning knobs.
type AggregatorConfig struct {
	FetchTimeout    time.Duration
	BatchSize       int
	BatchDelay      time.Duration
	OutlierStdDevs  float64
	TightSpreadFrac float64
}

// PriceAggregator polls every source adapter and reduces their quotes into a
// single PriceFeed per symbol. Adapter failures are absorbed; only a total
// blackout for a symbol surfaces as an error.
type PriceAggregator struct {
	adapters []drepo.SourceAdapter
	store    *repository.FeedStore
	pipeline *middleware.EffectsPipeline
	archive  drepo.FeedArchive
	pub      drepo.FeedPublisher
	metrics  drepo.Metrics
	l        *applogger.Logger
	cfg      AggregatorConfig

	mu         sync.RWMutex
	configured []string
	symbols    []string

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
}

func NewPriceAggregator(
	adapters []drepo.SourceAdapter,
	store *repository.FeedStore,
	pipeline *middleware.EffectsPipeline,
	archive drepo.FeedArchive,
	pub drepo.FeedPublisher,
	metrics drepo.Metrics,
	l *applogger.Logger,
	symbols []string,
	cfg AggregatorConfig,
) *PriceAggregator {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 500 * time.Millisecond
	}
	if cfg.OutlierStdDevs <= 0 {
		cfg.OutlierStdDevs = 2
	}
	if cfg.TightSpreadFrac <= 0 {
		cfg.TightSpreadFrac = 0.01
	}
	return &PriceAggregator{
		adapters:   adapters,
		store:      store,
		pipeline:   pipeline,
		archive:    archive,
		pub:        pub,
		metrics:    metrics,
		l:          l,
		cfg:        cfg,
		configured: append([]string(nil), symbols...),
		symbols:    append([]string(nil), symbols...),
	}
}

// Symbols returns the currently tracked symbol set.
func (a *PriceAggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.symbols...)
}

// RequestCounters returns cumulative adapter call counters.
func (a *PriceAggregator) RequestCounters() (total, failed int64) {
	return a.totalRequests.Load(), a.failedRequests.Load()
}

// FetchAggregatedPrice fans out to every adapter for one symbol, joins all
// results, and reduces them. Zero successful quotes yields ErrNoDataAvailable.
func (a *PriceAggregator) FetchAggregatedPrice(ctx context.Context, symbol string) (*models.PriceFeed, error) {
	start := time.Now()

	type result struct {
		quote *models.Quote
		err   error
	}
	results := make([]result, len(a.adapters))
	var wg sync.WaitGroup
	for i, ad := range a.adapters {
		wg.Add(1)
		go func(i int, ad drepo.SourceAdapter) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
			defer cancel()
			q, err := ad.FetchQuote(cctx, symbol)
			results[i] = result{quote: q, err: err}
		}(i, ad)
	}
	wg.Wait()

	quotes := make([]*models.Quote, 0, len(a.adapters))
	for i, r := range results {
		a.totalRequests.Add(1)
		a.metrics.RecordQuote(a.adapters[i].Name(), symbol, r.err == nil)
		if r.err != nil {
			a.failedRequests.Add(1)
			a.l.Debug("source quote failed",
				applogger.String("source", a.adapters[i].Name()),
				applogger.String("symbol", symbol),
				applogger.Error(r.err),
			)
			continue
		}
		quotes = append(quotes, r.quote)
	}

	if len(quotes) == 0 {
		a.metrics.RecordError("no_data")
		return nil, fmt.Errorf("aggregate %s: %w", symbol, models.ErrNoDataAvailable)
	}

	prices := make([]float64, len(quotes))
	var changeSum, volumeSum float64
	changeCount := 0
	for i, q := range quotes {
		prices[i] = q.Price
		if q.HasChange {
			changeSum += q.Change24h
			changeCount++
		}
		if q.Volume24h > 0 {
			volumeSum += q.Volume24h
		}
	}

	feed := &models.PriceFeed{
		Symbol:    symbol,
		Price:     a.aggregatePrices(prices),
		Volume24h: volumeSum,
		Sources:   len(quotes),
		Timestamp: time.Now(),
	}
	if changeCount > 0 {
		feed.Change24h = round2(changeSum / float64(changeCount))
	}

	a.store.SetPriceFeed(feed)
	a.metrics.RecordLastPrice(symbol, feed.Price)
	a.metrics.RecordLatency("aggregate", time.Since(start).Seconds())

	if a.archive != nil {
		f := feed
		a.pipeline.Enqueue("archive_price", func(ctx context.Context) error {
			return a.archive.ArchivePrice(ctx, f)
		})
	}
	if a.pub != nil {
		f := feed
		a.pipeline.Enqueue("publish_price", func(ctx context.Context) error {
			return a.pub.PublishPrice(ctx, f)
		})
	}

	return feed, nil
}

// aggregatePrices reduces raw quotes to one price. Tight spreads short-circuit
// to the mean; otherwise quotes beyond the configured sigma band are dropped
// unless that would discard the majority, and the median of what remains wins.
func (a *PriceAggregator) aggregatePrices(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) == 1 {
		return round2(prices[0])
	}

	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))

	var variance float64
	for _, p := range prices {
		d := p - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(prices)))

	if std < a.cfg.TightSpreadFrac*mean {
		return round2(mean)
	}

	retained := make([]float64, 0, len(prices))
	for _, p := range prices {
		if math.Abs(p-mean) <= a.cfg.OutlierStdDevs*std {
			retained = append(retained, p)
		}
	}
	// A filter that discards the majority says more about the spread than
	// about any single quote.
	if len(prices)-len(retained) > len(prices)/2 {
		retained = append(retained[:0], prices...)
	}

	sort.Float64s(retained)
	mid := len(retained) / 2
	if len(retained)%2 == 1 {
		return round2(retained[mid])
	}
	return round2((retained[mid-1] + retained[mid]) / 2)
}

// SweepOnce refreshes every tracked symbol in batches with an inter-batch
// delay, so provider rate limits see a smeared load rather than a burst.
func (a *PriceAggregator) SweepOnce(ctx context.Context) {
	symbols := a.Symbols()
	start := time.Now()
	updated := 0

	for i := 0; i < len(symbols); i += a.cfg.BatchSize {
		end := i + a.cfg.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		for _, sym := range symbols[i:end] {
			if _, err := a.FetchAggregatedPrice(ctx, sym); err == nil {
				updated++
			}
		}
		if end < len(symbols) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.cfg.BatchDelay):
			}
		}
	}

	a.l.Debug("price sweep done",
		applogger.Int("symbols", len(symbols)),
		applogger.Int("updated", updated),
		applogger.Duration("duration_ms", time.Since(start)),
	)
}

// RefreshPairs re-derives the tracked symbol set from adapters that can
// enumerate markets. Configured symbols no longer listed anywhere are dropped
// until they reappear; enumeration failure keeps the current set.
func (a *PriceAggregator) RefreshPairs(ctx context.Context) {
	listed := make(map[string]bool)
	sawLister := false
	for _, ad := range a.adapters {
		lister, ok := ad.(drepo.PairLister)
		if !ok {
			continue
		}
		pairs, err := lister.ListPairs(ctx)
		if err != nil {
			a.l.Warn("pair refresh failed",
				applogger.String("source", ad.Name()),
				applogger.Error(err),
			)
			continue
		}
		sawLister = true
		for _, p := range pairs {
			listed[p] = true
		}
	}
	if !sawLister {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	active := make([]string, 0, len(a.configured))
	for _, sym := range a.configured {
		if listed[sym] {
			active = append(active, sym)
		}
	}
	if len(active) == 0 {
		// Never let a flaky listing wipe the whole sweep.
		return
	}
	if len(active) != len(a.symbols) {
		a.l.Info("tracked pairs refreshed",
			applogger.Int("configured", len(a.configured)),
			applogger.Int("active", len(active)),
		)
	}
	a.symbols = active
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

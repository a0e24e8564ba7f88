package sources

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"QuorumFeed/internal/domain/models"
	"QuorumFeed/internal/service/ratelimit"
	pkghttp "QuorumFeed/pkg/http"
)

// Coinbase fetches product stats from the Coinbase Exchange API.
type Coinbase struct {
	client  *pkghttp.Client
	limiter *ratelimit.Limiter
	baseURL string
	maxRPS  float64
}

func NewCoinbase(client *pkghttp.Client, limiter *ratelimit.Limiter, baseURL string, maxRPS float64) *Coinbase {
	if baseURL == "" {
		baseURL = "https://api.exchange.coinbase.com"
	}
	if maxRPS <= 0 {
		maxRPS = 3
	}
	return &Coinbase{client: client, limiter: limiter, baseURL: baseURL, maxRPS: maxRPS}
}

func (c *Coinbase) Name() string { return "coinbase" }

type cbStats struct {
	Open   string `json:"open"`
	Last   string `json:"last"`
	Volume string `json:"volume"`
}

func (c *Coinbase) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !c.limiter.Allow("coinbase", c.maxRPS*2, c.maxRPS) {
		return nil, fmt.Errorf("coinbase: rate limited")
	}

	base, quote := splitSymbol(symbol)
	product := base + "-" + quote

	start := time.Now()
	var st cbStats
	err := c.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    fmt.Sprintf("%s/products/%s/stats", c.baseURL, product),
	}, &st)
	if err != nil {
		return nil, fmt.Errorf("coinbase fetch %s: %w", symbol, err)
	}

	last, err := strconv.ParseFloat(st.Last, 64)
	if err != nil || last <= 0 {
		return nil, fmt.Errorf("coinbase: bad price %q for %s", st.Last, symbol)
	}

	q := &models.Quote{
		Source:       c.Name(),
		Price:        last,
		Timestamp:    time.Now(),
		ResponseTime: time.Since(start),
	}

	if open, err := strconv.ParseFloat(st.Open, 64); err == nil && open > 0 {
		q.Change24h = (last - open) / open * 100
		q.HasChange = true
	}
	if vol, err := strconv.ParseFloat(st.Volume, 64); err == nil {
		// Stats report base-asset volume; convert to quote terms to line up
		// with the other venues.
		q.Volume24h = vol * last
	}

	return q, nil
}

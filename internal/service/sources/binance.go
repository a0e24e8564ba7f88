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

// Binance fetches 24h ticker statistics from the Binance spot API. USD pairs
// are served from the USDT book, the deepest stable quote on the venue.
type Binance struct {
	client  *pkghttp.Client
	limiter *ratelimit.Limiter
	baseURL string
	maxRPS  float64
}

func NewBinance(client *pkghttp.Client, limiter *ratelimit.Limiter, baseURL string, maxRPS float64) *Binance {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	if maxRPS <= 0 {
		maxRPS = 10
	}
	return &Binance{client: client, limiter: limiter, baseURL: baseURL, maxRPS: maxRPS}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) pairFor(symbol string) (string, error) {
	base, quote := splitSymbol(symbol)
	if quote == "USD" {
		quote = "USDT"
	}
	if base == quote {
		return "", fmt.Errorf("binance: degenerate pair %s", symbol)
	}
	return base + quote, nil
}

type bnTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
}

func (b *Binance) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !b.limiter.Allow("binance", b.maxRPS*2, b.maxRPS) {
		return nil, fmt.Errorf("binance: rate limited")
	}

	pair, err := b.pairFor(symbol)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var t bnTicker
	err = b.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         b.baseURL + "/api/v3/ticker/24hr",
		QueryParams: map[string][]string{"symbol": {pair}},
	}, &t)
	if err != nil {
		return nil, fmt.Errorf("binance fetch %s: %w", symbol, err)
	}

	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("binance: bad price %q for %s", t.LastPrice, symbol)
	}
	change, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
	volume, _ := strconv.ParseFloat(t.QuoteVolume, 64)

	return &models.Quote{
		Source:       b.Name(),
		Price:        price,
		Change24h:    change,
		HasChange:    true,
		Volume24h:    volume,
		Timestamp:    time.Now(),
		ResponseTime: time.Since(start),
	}, nil
}

type bnExchangeInfo struct {
	Symbols []struct {
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// ListPairs enumerates active USDT-quoted markets as BASE/USD pairs.
func (b *Binance) ListPairs(ctx context.Context) ([]string, error) {
	if !b.limiter.Allow("binance", b.maxRPS*2, b.maxRPS) {
		return nil, fmt.Errorf("binance: rate limited")
	}

	var info bnExchangeInfo
	err := b.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    b.baseURL + "/api/v3/exchangeInfo",
	}, &info)
	if err != nil {
		return nil, fmt.Errorf("binance exchange info: %w", err)
	}

	pairs := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != "USDT" {
			continue
		}
		pairs = append(pairs, s.BaseAsset+"/USD")
	}
	return pairs, nil
}

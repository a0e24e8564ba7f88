package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"QuorumFeed/internal/domain/models"
	"QuorumFeed/internal/service/ratelimit"
	pkghttp "QuorumFeed/pkg/http"
)

// coinGeckoIDs maps ticker symbols to CoinGecko asset ids. Unknown tickers
// fall back to the lowercased symbol, which covers assets whose id equals
// their ticker.
var coinGeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"BONK":  "bonk",
	"JUP":   "jupiter-exchange-solana",
	"RAY":   "raydium",
	"ORCA":  "orca",
	"MSOL":  "msol",
	"JITO":  "jito-governance-token",
	"PYTH":  "pyth-network",
	"WIF":   "dogwifcoin",
	"RNDR":  "render-token",
	"MATIC": "matic-network",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"DOT":   "polkadot",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
}

// CoinGecko fetches spot quotes from the CoinGecko simple price API.
type CoinGecko struct {
	client  *pkghttp.Client
	limiter *ratelimit.Limiter
	baseURL string
	apiKey  string
	maxRPS  float64
}

func NewCoinGecko(client *pkghttp.Client, limiter *ratelimit.Limiter, baseURL, apiKey string, maxRPS float64) *CoinGecko {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if maxRPS <= 0 {
		maxRPS = 0.5 // free tier is roughly 30 calls/minute
	}
	return &CoinGecko{client: client, limiter: limiter, baseURL: baseURL, apiKey: apiKey, maxRPS: maxRPS}
}

func (c *CoinGecko) Name() string { return "coingecko" }

type cgQuote struct {
	Price     float64 `json:"usd"`
	Change24h float64 `json:"usd_24h_change"`
	Volume24h float64 `json:"usd_24h_vol"`
}

func (c *CoinGecko) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !c.limiter.Allow("coingecko", c.maxRPS*2, c.maxRPS) {
		return nil, fmt.Errorf("coingecko: rate limited")
	}

	base, quote := splitSymbol(symbol)
	if quote != "USD" {
		return nil, fmt.Errorf("coingecko: unsupported quote currency %s", quote)
	}
	id, ok := coinGeckoIDs[base]
	if !ok {
		id = strings.ToLower(base)
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["x-cg-demo-api-key"] = c.apiKey
	}

	start := time.Now()
	var out map[string]cgQuote
	err := c.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     c.baseURL + "/simple/price",
		Headers: headers,
		QueryParams: map[string][]string{
			"ids":                 {id},
			"vs_currencies":       {"usd"},
			"include_24hr_change": {"true"},
			"include_24hr_vol":    {"true"},
		},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("coingecko fetch %s: %w", symbol, err)
	}

	q, ok := out[id]
	if !ok || q.Price <= 0 {
		return nil, fmt.Errorf("coingecko: no price for %s", symbol)
	}

	return &models.Quote{
		Source:       c.Name(),
		Price:        q.Price,
		Change24h:    q.Change24h,
		HasChange:    true,
		Volume24h:    q.Volume24h,
		Timestamp:    time.Now(),
		ResponseTime: time.Since(start),
	}, nil
}

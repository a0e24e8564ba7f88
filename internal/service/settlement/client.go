package settlement

import (
	"context"
	"fmt"
	"strconv"

	drepo "QuorumFeed/internal/domain/repository"
	pkghttp "QuorumFeed/pkg/http"
	applogger "QuorumFeed/pkg/logger"
)

// Client talks to the settlement gateway, the external system of record for
// balances and stake transfer. The engine never signs transactions itself;
// it requests unsigned payloads and later verifies the submitted signature.
type Client struct {
	http    *pkghttp.Client
	baseURL string
	l       *applogger.Logger
}

func New(http *pkghttp.Client, baseURL string, l *applogger.Logger) *Client {
	return &Client{http: http, baseURL: baseURL, l: l}
}

var _ drepo.SettlementBackend = (*Client)(nil)

type txRequest struct {
	NodeAddress string  `json:"nodeAddress"`
	Amount      float64 `json:"amount"`
	Pool        string  `json:"pool"`
}

type txResponse struct {
	Payload []byte `json:"payload"`
}

func (c *Client) CreateStakeTx(ctx context.Context, nodeAddress string, amount float64, pool string) (*drepo.UnsignedTx, error) {
	return c.createTx(ctx, "/v1/tx/stake", nodeAddress, amount, pool)
}

func (c *Client) CreateUnstakeTx(ctx context.Context, nodeAddress string, amount float64, pool string) (*drepo.UnsignedTx, error) {
	return c.createTx(ctx, "/v1/tx/unstake", nodeAddress, amount, pool)
}

func (c *Client) createTx(ctx context.Context, path, nodeAddress string, amount float64, pool string) (*drepo.UnsignedTx, error) {
	var resp txResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodPost,
		URL:    c.baseURL + path,
		Body:   txRequest{NodeAddress: nodeAddress, Amount: amount, Pool: pool},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("settlement %s: %w", path, err)
	}
	return &drepo.UnsignedTx{Payload: resp.Payload, Pool: pool, Amount: amount}, nil
}

type verifyResponse struct {
	Confirmed bool `json:"confirmed"`
}

func (c *Client) VerifyTransaction(ctx context.Context, signature string) (bool, error) {
	var resp verifyResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.baseURL + "/v1/tx/verify",
		QueryParams: map[string][]string{"signature": {signature}},
	}, &resp)
	if err != nil {
		return false, fmt.Errorf("settlement verify: %w", err)
	}
	return resp.Confirmed, nil
}

type balanceResponse struct {
	Amount string `json:"amount"`
}

func (c *Client) GetVerifiedStakeBalance(ctx context.Context, nodeAddress, pool string) (float64, error) {
	var resp balanceResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    fmt.Sprintf("%s/v1/stake/%s", c.baseURL, nodeAddress),
		QueryParams: map[string][]string{
			"pool": {pool},
		},
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("settlement stake balance: %w", err)
	}
	return parseAmount(resp.Amount)
}

func (c *Client) GetBalance(ctx context.Context, nodeAddress string) (float64, error) {
	var resp balanceResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    fmt.Sprintf("%s/v1/balance/%s", c.baseURL, nodeAddress),
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("settlement balance: %w", err)
	}
	return parseAmount(resp.Amount)
}

type apyResponse struct {
	APY float64 `json:"apy"`
}

func (c *Client) GetPoolAPY(ctx context.Context, pool string) (float64, error) {
	var resp apyResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    fmt.Sprintf("%s/v1/pool/%s/apy", c.baseURL, pool),
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("settlement pool apy: %w", err)
	}
	return resp.APY, nil
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("settlement: bad amount %q: %w", s, err)
	}
	return v, nil
}

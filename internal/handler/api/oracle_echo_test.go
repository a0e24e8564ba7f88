package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QuorumFeed/internal/domain/models"
	drepo "QuorumFeed/internal/domain/repository"
	"QuorumFeed/internal/middleware"
	"QuorumFeed/internal/repository"
	"QuorumFeed/internal/usecase"
	pkghttp "QuorumFeed/pkg/http"
	applogger "QuorumFeed/pkg/logger"

	"github.com/labstack/echo/v4"
)

type nopMetrics struct{}

func (nopMetrics) RecordQuote(source, symbol string, ok bool)     {}
func (nopMetrics) RecordLastPrice(symbol string, price float64)   {}
func (nopMetrics) RecordSubmission(feedID, outcome string)        {}
func (nopMetrics) RecordConsensus(feedID string, reached bool)    {}
func (nopMetrics) RecordSlash(nodeAddress string, amount float64) {}
func (nopMetrics) RecordStakeOp(op string, ok bool)               {}
func (nopMetrics) RecordError(kind string)                        {}
func (nopMetrics) RecordLatency(op string, seconds float64)       {}

type nopSettlement struct{}

func (nopSettlement) CreateStakeTx(ctx context.Context, addr string, amount float64, pool string) (*drepo.UnsignedTx, error) {
	return &drepo.UnsignedTx{Amount: amount, Pool: pool}, nil
}

func (nopSettlement) CreateUnstakeTx(ctx context.Context, addr string, amount float64, pool string) (*drepo.UnsignedTx, error) {
	return &drepo.UnsignedTx{Amount: amount, Pool: pool}, nil
}

func (nopSettlement) VerifyTransaction(ctx context.Context, signature string) (bool, error) {
	return true, nil
}

func (nopSettlement) GetVerifiedStakeBalance(ctx context.Context, addr, pool string) (float64, error) {
	return 1, nil
}

func (nopSettlement) GetBalance(ctx context.Context, addr string) (float64, error) {
	return 0, nil
}

func (nopSettlement) GetPoolAPY(ctx context.Context, pool string) (float64, error) {
	return 0.05, nil
}

func newHandlerHarness(t *testing.T) (*echo.Echo, *usecase.NodeRegistry) {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	m := nopMetrics{}
	store := repository.NewFeedStore(100)
	pipeline := middleware.NewEffectsPipeline(m)
	reg := usecase.NewNodeRegistry(nopSettlement{}, nil, pipeline, pkghttp.NewClient(), m, l, usecase.RegistryConfig{
		DefaultPool: "marinade",
		MinStake:    0.1,
	})
	agg := usecase.NewPriceAggregator(nil, store, pipeline, nil, nil, m, l, nil, usecase.AggregatorConfig{})
	engine := usecase.NewConsensusEngine(store, reg, agg, pipeline, nil, nil, m, l, usecase.ConsensusConfig{})

	h := NewOracleHandler(l, agg, engine, reg, store)
	e := echo.New()
	h.RegisterRoutes(e)
	return e, reg
}

func TestSetAutoStakingMapsUnstakeConditions(t *testing.T) {
	e, reg := newHandlerHarness(t)
	if _, err := reg.Register("node-alpha-1", models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	body := `{"enabled":true,"threshold":0.2,"auto_compound":false,"min_apy":0.04,"max_stake_days":30,"emergency_unstake":true}`
	req := httptest.NewRequest(http.MethodPut, "/api/nodes/node-alpha-1/autostaking", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	node, err := reg.Get("node-alpha-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	auto := node.AutoStaking
	if !auto.Enabled || auto.Threshold != 0.2 || auto.AutoCompound {
		t.Fatalf("policy not applied: %+v", auto)
	}
	if !auto.Unstake.Emergency {
		t.Fatalf("emergency trigger lost in mapping: %+v", auto.Unstake)
	}
	if auto.Unstake.MinAPY != 0.04 {
		t.Fatalf("expected min APY 0.04, got %v", auto.Unstake.MinAPY)
	}
	if auto.Unstake.MaxStakeDuration != 30*24*time.Hour {
		t.Fatalf("expected 30-day max duration, got %v", auto.Unstake.MaxStakeDuration)
	}
}

package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"QuorumFeed/internal/domain/models"
)

type stakingHarness struct {
	controller *StakingController
	registry   *NodeRegistry
	settlement *stubSettlement
}

func newStakingHarness(t *testing.T, stl *stubSettlement, snaps *memorySnapshots) *stakingHarness {
	t.Helper()
	reg := newTestRegistry(t, stl, snaps)
	ctrl := NewStakingController(reg, stl, newStubMetrics(), testLogger(t), StakingConfig{
		NodeTimeout:       5 * time.Second,
		Threshold:         0.1,
		FeeReserve:        0.01,
		CompoundEnabled:   true,
		CompoundThreshold: 0.01,
		UnstakeEnabled:    true,
		MinAPY:            0.03,
		DefaultPool:       "marinade",
	})
	return &stakingHarness{controller: ctrl, registry: reg, settlement: stl}
}

func (h *stakingHarness) addAutoNode(t *testing.T, address string, cfg models.AutoStakingConfig) {
	t.Helper()
	if _, err := h.registry.Register(address, models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.registry.SetAutoStaking(address, cfg); err != nil {
		t.Fatalf("autostaking: %v", err)
	}
}

func TestEvaluateNodeStakesFreeBalance(t *testing.T) {
	stl := &stubSettlement{balance: 0.5, stakeBalance: 0.49, apy: 0.05}
	h := newStakingHarness(t, stl, nil)
	h.addAutoNode(t, "node-aaa-1", models.AutoStakingConfig{Enabled: true})

	if err := h.controller.EvaluateNode(context.Background(), "node-aaa-1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(stl.stakeTxs) != 1 {
		t.Fatalf("expected one stake tx, got %d", len(stl.stakeTxs))
	}
	// Everything above the fee reserve is committed.
	if math.Abs(stl.stakeTxs[0]-0.49) > 1e-9 {
		t.Fatalf("expected stake of 0.49, got %v", stl.stakeTxs[0])
	}
	node, _ := h.registry.Get("node-aaa-1")
	if node.Stake != 0.49 || !node.StakeVerified {
		t.Fatalf("ledger must carry the verified balance: %+v", node)
	}
}

func TestEvaluateNodeStakesAtExactThreshold(t *testing.T) {
	stl := &stubSettlement{balance: 0.1, stakeBalance: 0.09, apy: 0.05}
	h := newStakingHarness(t, stl, nil)
	h.addAutoNode(t, "node-aaa-1", models.AutoStakingConfig{Enabled: true})

	if err := h.controller.EvaluateNode(context.Background(), "node-aaa-1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// A balance right at the threshold still stakes; only the fee reserve is
	// held back.
	if len(stl.stakeTxs) != 1 {
		t.Fatalf("expected one stake tx, got %d", len(stl.stakeTxs))
	}
	if math.Abs(stl.stakeTxs[0]-0.09) > 1e-9 {
		t.Fatalf("expected stake of 0.09, got %v", stl.stakeTxs[0])
	}
}

func TestEvaluateNodeBelowThreshold(t *testing.T) {
	stl := &stubSettlement{balance: 0.05, apy: 0.05}
	h := newStakingHarness(t, stl, nil)
	h.addAutoNode(t, "node-aaa-1", models.AutoStakingConfig{Enabled: true})

	if err := h.controller.EvaluateNode(context.Background(), "node-aaa-1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(stl.stakeTxs) != 0 {
		t.Fatalf("balance below threshold must not stake, got %v", stl.stakeTxs)
	}
}

// seedStakedNode puts a staked node with a backdated accrual clock into the
// registry by restoring a snapshot, the only path that accepts a past StakedAt.
func seedStakedNode(t *testing.T, snaps *memorySnapshots, address string, stake float64, stakedAgo time.Duration, auto models.AutoStakingConfig) {
	t.Helper()
	snaps.nodes = append(snaps.nodes, &models.Node{
		Address:        address,
		Stake:          stake,
		StakeVerified:  true,
		StakeSignature: "sig",
		Reputation:     100,
		StakedAt:       time.Now().Add(-stakedAgo),
		AutoStaking:    auto,
	})
}

func TestEvaluateNodeEmergencyUnstake(t *testing.T) {
	stl := &stubSettlement{balance: 0.001, stakeBalance: 0, apy: 0.05}
	snaps := &memorySnapshots{}
	seedStakedNode(t, snaps, "node-aaa-1", 5, 24*time.Hour, models.AutoStakingConfig{
		Enabled: true,
		Unstake: models.UnstakeConditions{Emergency: true},
	})
	h := newStakingHarness(t, stl, snaps)
	if err := h.registry.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if err := h.controller.EvaluateNode(context.Background(), "node-aaa-1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(stl.unstakeTxs) != 1 || stl.unstakeTxs[0] != 5 {
		t.Fatalf("expected full unstake of 5, got %v", stl.unstakeTxs)
	}
	node, _ := h.registry.Get("node-aaa-1")
	if node.Stake != 0 {
		t.Fatalf("expected stake zeroed after unstake, got %v", node.Stake)
	}
}

func TestEvaluateNodeLowAPYUnstake(t *testing.T) {
	stl := &stubSettlement{balance: 0.001, stakeBalance: 0, apy: 0.01}
	snaps := &memorySnapshots{}
	seedStakedNode(t, snaps, "node-aaa-1", 5, 24*time.Hour, models.AutoStakingConfig{Enabled: true})
	h := newStakingHarness(t, stl, snaps)
	if err := h.registry.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if err := h.controller.EvaluateNode(context.Background(), "node-aaa-1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(stl.unstakeTxs) != 1 {
		t.Fatalf("APY below floor must unstake, got %v", stl.unstakeTxs)
	}
}

func TestEvaluateNodeAPYFetchFailureHolds(t *testing.T) {
	stl := &stubSettlement{balance: 0.001, apyErr: errors.New("pool api down")}
	snaps := &memorySnapshots{}
	seedStakedNode(t, snaps, "node-aaa-1", 5, time.Hour, models.AutoStakingConfig{Enabled: true})
	h := newStakingHarness(t, stl, snaps)
	if err := h.registry.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if err := h.controller.EvaluateNode(context.Background(), "node-aaa-1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// No APY signal is not a reason to exit a position.
	if len(stl.unstakeTxs) != 0 {
		t.Fatalf("unstake on missing APY data: %v", stl.unstakeTxs)
	}
}

func TestEvaluateNodeCompoundsRewards(t *testing.T) {
	stl := &stubSettlement{balance: 0.001, stakeBalance: 10.05, apy: 0.05}
	snaps := &memorySnapshots{}
	seedStakedNode(t, snaps, "node-aaa-1", 10, 30*24*time.Hour, models.AutoStakingConfig{
		Enabled:      true,
		AutoCompound: true,
	})
	h := newStakingHarness(t, stl, snaps)
	if err := h.registry.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if err := h.controller.EvaluateNode(context.Background(), "node-aaa-1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(stl.stakeTxs) != 1 {
		t.Fatalf("expected one compound tx, got %d", len(stl.stakeTxs))
	}
	// 10 staked for 30 days at 5% APY with the top reputation tier.
	want := 10 * 0.05 / 365 * 1.1 * 30
	if math.Abs(stl.stakeTxs[0]-want) > want*0.05 {
		t.Fatalf("compound amount %v, want about %v", stl.stakeTxs[0], want)
	}
	node, _ := h.registry.Get("node-aaa-1")
	if time.Since(node.StakedAt) > time.Minute {
		t.Fatalf("compounding must restart the accrual clock: %v", node.StakedAt)
	}
}

func TestEvaluateNodeInProgress(t *testing.T) {
	gate := make(chan struct{})
	stl := &stubSettlement{
		balance:        0.5,
		stakeBalance:   0.49,
		apy:            0.05,
		balanceGate:    gate,
		balanceEntered: make(chan struct{}, 1),
	}
	h := newStakingHarness(t, stl, nil)
	h.addAutoNode(t, "node-aaa-1", models.AutoStakingConfig{Enabled: true})

	done := make(chan error, 1)
	go func() { done <- h.controller.EvaluateNode(context.Background(), "node-aaa-1") }()

	// Wait until the first evaluation is inside the settlement call, then
	// collide with it.
	<-stl.balanceEntered
	second := h.controller.EvaluateNode(context.Background(), "node-aaa-1")
	if !errors.Is(second, models.ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", second)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first evaluation: %v", err)
	}
}

func TestRunScanSkipsDisabledNodes(t *testing.T) {
	stl := &stubSettlement{balance: 0.5, stakeBalance: 0.49, apy: 0.05}
	h := newStakingHarness(t, stl, nil)
	h.addAutoNode(t, "node-auto-1", models.AutoStakingConfig{Enabled: true})
	if _, err := h.registry.Register("node-manual-1", models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	h.controller.RunScan(context.Background())
	if len(stl.stakeTxs) != 1 {
		t.Fatalf("only the automation-enabled node stakes, got %d txs", len(stl.stakeTxs))
	}
}

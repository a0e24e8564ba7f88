package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"QuorumFeed/internal/domain/models"
	drepo "QuorumFeed/internal/domain/repository"
	"QuorumFeed/internal/middleware"
	pkghttp "QuorumFeed/pkg/http"
)

type memorySnapshots struct {
	nodes []*models.Node
	err   error
	saves int
}

func (m *memorySnapshots) SaveNodes(ctx context.Context, nodes []*models.Node) error {
	m.saves++
	m.nodes = nodes
	return m.err
}

func (m *memorySnapshots) LoadNodes(ctx context.Context) ([]*models.Node, error) {
	return m.nodes, m.err
}

func (m *memorySnapshots) Close() error { return nil }

func newTestRegistry(t *testing.T, stl *stubSettlement, snaps *memorySnapshots) *NodeRegistry {
	t.Helper()
	m := newStubMetrics()
	var store drepo.SnapshotStore
	if snaps != nil {
		store = snaps
	}
	return NewNodeRegistry(stl, store, middleware.NewEffectsPipeline(m), pkghttp.NewClient(), m, testLogger(t), RegistryConfig{
		DefaultPool: "marinade",
		MinStake:    0.1,
		RewardRate:  0.05,
	})
}

func TestRegisterDuplicate(t *testing.T) {
	reg := newTestRegistry(t, &stubSettlement{}, nil)
	if _, err := reg.Register("node-aaa-1", models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := reg.Register("node-aaa-1", models.NodeMetadata{})
	if !errors.Is(err, models.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterDefaults(t *testing.T) {
	reg := newTestRegistry(t, &stubSettlement{}, nil)
	node, err := reg.Register("node-aaa-1", models.NodeMetadata{Name: "alpha"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if node.Reputation != 100 || node.Stake != 0 {
		t.Fatalf("unexpected defaults: %+v", node)
	}
	if node.AutoStaking.Pool != "marinade" {
		t.Fatalf("expected default pool, got %q", node.AutoStaking.Pool)
	}
}

func TestUpdateStakeSuccess(t *testing.T) {
	stl := &stubSettlement{confirmed: true, stakeBalance: 2.5}
	reg := newTestRegistry(t, stl, nil)
	if _, err := reg.Register("node-aaa-1", models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	node, err := reg.UpdateStake(context.Background(), "node-aaa-1", "tx-sig", "")
	if err != nil {
		t.Fatalf("update stake: %v", err)
	}
	if node.Stake != 2.5 || !node.StakeVerified || node.StakePool != "marinade" {
		t.Fatalf("unexpected node: %+v", node)
	}
	if node.StakedAt.IsZero() {
		t.Fatalf("expected StakedAt set on first stake")
	}
}

func TestUpdateStakeNeverTrustsTheClaim(t *testing.T) {
	stl := &stubSettlement{confirmed: true, stakeBalance: 2.5}
	reg := newTestRegistry(t, stl, nil)
	if _, err := reg.Register("node-aaa-1", models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.UpdateStake(context.Background(), "node-aaa-1", "tx-sig", ""); err != nil {
		t.Fatalf("seed stake: %v", err)
	}

	tests := []struct {
		name string
		prep func()
	}{
		{"verify error", func() { stl.verifyErr = errors.New("rpc down") }},
		{"unconfirmed tx", func() { stl.verifyErr = nil; stl.confirmed = false }},
		{"balance error", func() { stl.confirmed = true; stl.stakeErr = errors.New("rpc down") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.prep()
			_, err := reg.UpdateStake(context.Background(), "node-aaa-1", "tx-sig-2", "")
			if !errors.Is(err, models.ErrVerificationFailed) {
				t.Fatalf("expected ErrVerificationFailed, got %v", err)
			}
			node, _ := reg.Get("node-aaa-1")
			if node.Stake != 2.5 {
				t.Fatalf("failed update must keep the ledger value, got %v", node.Stake)
			}
		})
	}
}

func TestRefreshVerifiedStakeFailureZeroes(t *testing.T) {
	stl := &stubSettlement{confirmed: true, stakeBalance: 2.5}
	reg := newTestRegistry(t, stl, nil)
	if _, err := reg.Register("node-aaa-1", models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.UpdateStake(context.Background(), "node-aaa-1", "tx-sig", ""); err != nil {
		t.Fatalf("seed stake: %v", err)
	}

	stl.stakeErr = errors.New("rpc down")
	_, err := reg.RefreshVerifiedStake(context.Background(), "node-aaa-1", "marinade")
	if !errors.Is(err, models.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	node, _ := reg.Get("node-aaa-1")
	if node.Stake != 0 || node.StakeVerified {
		t.Fatalf("unverifiable stake must fall to zero: %+v", node)
	}
}

func TestRestoreDiscardsUnverifiableStake(t *testing.T) {
	snaps := &memorySnapshots{nodes: []*models.Node{
		{Address: "node-good-1", Stake: 5, StakeVerified: true, StakeSignature: "sig", Reputation: 90},
		{Address: "node-bad-1", Stake: 5, StakeVerified: false, Reputation: 100},
		{Address: "node-nosig-1", Stake: 5, StakeVerified: true, StakeSignature: "", Reputation: 100},
		{Address: "node-zero-1", Stake: 0, Reputation: 80},
	}}
	reg := newTestRegistry(t, &stubSettlement{}, snaps)

	if err := reg.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := reg.Get("node-good-1"); err != nil {
		t.Fatalf("verified record must survive: %v", err)
	}
	if _, err := reg.Get("node-zero-1"); err != nil {
		t.Fatalf("zero-stake record must survive: %v", err)
	}
	for _, addr := range []string{"node-bad-1", "node-nosig-1"} {
		if _, err := reg.Get(addr); !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("record %s claiming stake without proof must be discarded", addr)
		}
	}
}

func TestApplySubmissionOutcomeSlash(t *testing.T) {
	stl := &stubSettlement{confirmed: true, stakeBalance: 10}
	reg := newTestRegistry(t, stl, nil)
	if _, err := reg.Register("node-aaa-1", models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.UpdateStake(context.Background(), "node-aaa-1", "tx-sig", ""); err != nil {
		t.Fatalf("seed stake: %v", err)
	}

	slashed := reg.ApplySubmissionOutcome("node-aaa-1", false, 0.1, 0.1)
	if slashed != 1 {
		t.Fatalf("expected slash of 1, got %v", slashed)
	}
	node, _ := reg.Get("node-aaa-1")
	if node.Stake != 9 || node.Reputation != 0 {
		t.Fatalf("unexpected node after slash: %+v", node)
	}

	// A correct streak rebuilds reputation from the counters.
	for i := 0; i < 9; i++ {
		reg.ApplySubmissionOutcome("node-aaa-1", true, 0.1, 0.1)
	}
	node, _ = reg.Get("node-aaa-1")
	if node.Reputation != 90 {
		t.Fatalf("expected reputation 90, got %v", node.Reputation)
	}
}

func TestRewardsTiers(t *testing.T) {
	reg := newTestRegistry(t, &stubSettlement{}, nil)
	stakedAt := time.Now().Add(-10 * 24 * time.Hour)

	tests := []struct {
		reputation float64
		bonus      float64
	}{
		{95, 1.1},
		{80, 1.05},
		{50, 1.0},
	}
	for _, tc := range tests {
		node := &models.Node{Address: "node-x-1", Stake: 100, Reputation: tc.reputation, StakedAt: stakedAt}
		acc := reg.Rewards(node)
		if acc.AccuracyBonus != tc.bonus {
			t.Fatalf("reputation %v: expected bonus %v, got %v", tc.reputation, tc.bonus, acc.AccuracyBonus)
		}
		wantDaily := 100 * 0.05 / 365 * tc.bonus
		if math.Abs(acc.Daily-wantDaily) > 1e-9 {
			t.Fatalf("reputation %v: daily %v, want %v", tc.reputation, acc.Daily, wantDaily)
		}
		if acc.APY != 0.05*tc.bonus {
			t.Fatalf("unexpected APY %v", acc.APY)
		}
		if math.Abs(acc.DaysStaked-10) > 0.01 {
			t.Fatalf("expected ~10 days staked, got %v", acc.DaysStaked)
		}
	}
}

func TestRewardsUnstaked(t *testing.T) {
	reg := newTestRegistry(t, &stubSettlement{}, nil)
	acc := reg.Rewards(&models.Node{Address: "node-x-1", Reputation: 100})
	if acc.Total != 0 || acc.Daily != 0 {
		t.Fatalf("no stake accrues nothing: %+v", acc)
	}
	if math.Abs(acc.APY-0.05*1.1) > 1e-9 {
		t.Fatalf("APY view still reflects the tier: %v", acc.APY)
	}
}

func TestStatsAggregates(t *testing.T) {
	stl := &stubSettlement{confirmed: true, stakeBalance: 3}
	reg := newTestRegistry(t, stl, nil)
	for _, addr := range []string{"node-aaa-1", "node-bbb-1"} {
		if _, err := reg.Register(addr, models.NodeMetadata{}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if _, err := reg.UpdateStake(context.Background(), "node-aaa-1", "tx-sig", ""); err != nil {
		t.Fatalf("stake: %v", err)
	}

	st := reg.Stats(4, 2, 100, 10)
	if st.TotalNodes != 2 || st.ActiveNodes != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.TotalStaked != 3 || st.PriceFeeds != 4 || st.CustomFeeds != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.SuccessRate != 0.9 {
		t.Fatalf("expected success rate 0.9, got %v", st.SuccessRate)
	}
}

func TestHealthPassUptimeClamped(t *testing.T) {
	reg := newTestRegistry(t, &stubSettlement{}, nil)
	if _, err := reg.Register("node-aaa-1", models.NodeMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.Touch("node-aaa-1")
	base := time.Now()

	// One pass while the node was seen inside the online window.
	reg.checkNode(context.Background(), "node-aaa-1", base.Add(time.Minute))
	node, _ := reg.Get("node-aaa-1")
	if node.Uptime != 100 {
		t.Fatalf("expected full uptime after an online pass, got %v", node.Uptime)
	}

	// The next pass lands far outside the window: 1 online minute out of 20.
	reg.checkNode(context.Background(), "node-aaa-1", base.Add(20*time.Minute))
	node, _ = reg.Get("node-aaa-1")
	if math.Abs(node.Uptime-5) > 0.01 {
		t.Fatalf("expected uptime ~5%%, got %v", node.Uptime)
	}

	// A clock jump backwards must not move the accounting at all.
	reg.checkNode(context.Background(), "node-aaa-1", base.Add(10*time.Minute))
	node, _ = reg.Get("node-aaa-1")
	if math.Abs(node.Uptime-5) > 0.01 || node.Uptime > 100 {
		t.Fatalf("backwards clock changed uptime: %v", node.Uptime)
	}
}

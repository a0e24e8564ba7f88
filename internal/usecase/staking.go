package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"QuorumFeed/internal/domain/models"
	drepo "QuorumFeed/internal/domain/repository"
	applogger "QuorumFeed/pkg/logger"
)

// StakingConfig holds the autonomous staking policy defaults. Per-node
// AutoStakingConfig values override the thresholds where set.
type StakingConfig struct {
	ScanInterval      time.Duration
	NodeTimeout       time.Duration
	Threshold         float64
	FeeReserve        float64
	CompoundEnabled   bool
	CompoundThreshold float64
	UnstakeEnabled    bool
	MinAPY            float64
	MaxStakeDuration  time.Duration
	DefaultPool       string
}

// StakingController runs the autonomous stake/compound/unstake loop. Every
// decision is re-derived from settlement-backed balances; nothing is trusted
// from the last cycle. At most one operation is in flight per node.
type StakingController struct {
	registry   *NodeRegistry
	settlement drepo.SettlementBackend
	metrics    drepo.Metrics
	l          *applogger.Logger
	cfg        StakingConfig

	inflight sync.Map // address -> struct{}
}

func NewStakingController(
	registry *NodeRegistry,
	settlement drepo.SettlementBackend,
	metrics drepo.Metrics,
	l *applogger.Logger,
	cfg StakingConfig,
) *StakingController {
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = 30 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.1
	}
	if cfg.FeeReserve <= 0 {
		cfg.FeeReserve = 0.01
	}
	if cfg.CompoundThreshold <= 0 {
		cfg.CompoundThreshold = 0.01
	}
	if cfg.MinAPY <= 0 {
		cfg.MinAPY = 0.03
	}
	return &StakingController{
		registry:   registry,
		settlement: settlement,
		metrics:    metrics,
		l:          l,
		cfg:        cfg,
	}
}

// RunScan walks every automation-enabled node. A failing or slow node only
// costs its own slot in the cycle; the loop itself never dies.
func (s *StakingController) RunScan(ctx context.Context) {
	for _, node := range s.registry.List() {
		if !node.AutoStaking.Enabled {
			continue
		}
		if err := s.EvaluateNode(ctx, node.Address); err != nil {
			s.l.Warn("staking evaluation failed",
				applogger.String("address", node.Address),
				applogger.Error(err),
			)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// EvaluateNode runs one staking decision for one node under the per-node
// in-flight guard and timeout. A second concurrent call for the same address
// returns ErrOperationInProgress.
func (s *StakingController) EvaluateNode(ctx context.Context, address string) error {
	if _, busy := s.inflight.LoadOrStore(address, struct{}{}); busy {
		return fmt.Errorf("staking %s: %w", address, models.ErrOperationInProgress)
	}
	defer s.inflight.Delete(address)

	nctx, cancel := context.WithTimeout(ctx, s.cfg.NodeTimeout)
	defer cancel()

	node, err := s.registry.Get(address)
	if err != nil {
		return err
	}

	pool := node.AutoStaking.Pool
	if pool == "" {
		pool = s.cfg.DefaultPool
	}

	if node.Stake > 0 {
		if s.cfg.UnstakeEnabled {
			if reason := s.unstakeReason(nctx, node, pool); reason != "" {
				return s.unstake(nctx, node, pool, reason)
			}
		}
		if s.cfg.CompoundEnabled && node.AutoStaking.AutoCompound {
			if done, err := s.maybeCompound(nctx, node, pool); done || err != nil {
				return err
			}
		}
	}

	// Free balance above the threshold gets staked whether or not a position
	// already exists.
	return s.maybeStake(nctx, node, pool)
}

// unstakeReason evaluates the exit triggers. Any single one suffices.
func (s *StakingController) unstakeReason(ctx context.Context, node *models.Node, pool string) string {
	cond := node.AutoStaking.Unstake
	if cond.Emergency {
		return "emergency"
	}
	maxDur := cond.MaxStakeDuration
	if maxDur <= 0 {
		maxDur = s.cfg.MaxStakeDuration
	}
	if maxDur > 0 && !node.StakedAt.IsZero() && time.Since(node.StakedAt) > maxDur {
		return "max_duration"
	}
	minAPY := cond.MinAPY
	if minAPY <= 0 {
		minAPY = s.cfg.MinAPY
	}
	apy, err := s.settlement.GetPoolAPY(ctx, pool)
	if err != nil {
		s.l.Warn("pool apy unavailable",
			applogger.String("pool", pool),
			applogger.Error(err),
		)
		return ""
	}
	if apy < minAPY {
		return "low_apy"
	}
	return ""
}

func (s *StakingController) maybeStake(ctx context.Context, node *models.Node, pool string) error {
	balance, err := s.settlement.GetBalance(ctx, node.Address)
	if err != nil {
		s.metrics.RecordStakeOp("stake", false)
		return fmt.Errorf("staking %s: balance: %w", node.Address, wrapTimeout(err, ctx))
	}

	threshold := node.AutoStaking.Threshold
	if threshold <= 0 {
		threshold = s.cfg.Threshold
	}
	// The threshold gates on the free balance itself; the fee reserve only
	// reduces the committed amount.
	if balance < threshold {
		return nil
	}
	available := balance - s.cfg.FeeReserve
	if available <= 0 {
		return nil
	}

	if _, err := s.settlement.CreateStakeTx(ctx, node.Address, available, pool); err != nil {
		s.metrics.RecordStakeOp("stake", false)
		return fmt.Errorf("staking %s: create tx: %w", node.Address, wrapTimeout(err, ctx))
	}
	if _, err := s.registry.RefreshVerifiedStake(ctx, node.Address, pool); err != nil {
		s.metrics.RecordStakeOp("stake", false)
		return err
	}

	s.metrics.RecordStakeOp("stake", true)
	s.l.Info("auto-staked",
		applogger.String("address", node.Address),
		applogger.Any("amount", available),
		applogger.String("pool", pool),
	)
	return nil
}

func (s *StakingController) maybeCompound(ctx context.Context, node *models.Node, pool string) (bool, error) {
	rewards := s.registry.Rewards(node)
	if rewards.Total < s.cfg.CompoundThreshold {
		return false, nil
	}

	if _, err := s.settlement.CreateStakeTx(ctx, node.Address, rewards.Total, pool); err != nil {
		s.metrics.RecordStakeOp("compound", false)
		return true, fmt.Errorf("compound %s: create tx: %w", node.Address, wrapTimeout(err, ctx))
	}
	if _, err := s.registry.RefreshVerifiedStake(ctx, node.Address, pool); err != nil {
		s.metrics.RecordStakeOp("compound", false)
		return true, err
	}
	s.registry.ResetStakedAt(node.Address)

	s.metrics.RecordStakeOp("compound", true)
	s.l.Info("rewards compounded",
		applogger.String("address", node.Address),
		applogger.Any("amount", rewards.Total),
	)
	return true, nil
}

func (s *StakingController) unstake(ctx context.Context, node *models.Node, pool, reason string) error {
	if _, err := s.settlement.CreateUnstakeTx(ctx, node.Address, node.Stake, pool); err != nil {
		s.metrics.RecordStakeOp("unstake", false)
		return fmt.Errorf("unstake %s: create tx: %w", node.Address, wrapTimeout(err, ctx))
	}
	if _, err := s.registry.RefreshVerifiedStake(ctx, node.Address, pool); err != nil {
		s.metrics.RecordStakeOp("unstake", false)
		return err
	}

	s.metrics.RecordStakeOp("unstake", true)
	s.l.Info("auto-unstaked",
		applogger.String("address", node.Address),
		applogger.String("reason", reason),
		applogger.String("pool", pool),
	)
	return nil
}

func wrapTimeout(err error, ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%v: %w", err, models.ErrTimeout)
	}
	return err
}

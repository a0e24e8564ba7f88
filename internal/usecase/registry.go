package usecase

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"QuorumFeed/internal/domain/models"
	drepo "QuorumFeed/internal/domain/repository"
	"QuorumFeed/internal/middleware"
	pkghttp "QuorumFeed/pkg/http"
	applogger "QuorumFeed/pkg/logger"
)

const (
	registryStripes = 64
	healthEventCap  = 1000
	degradedProbe   = time.Second
)

// RegistryConfig holds uptime and probe tuning.
type RegistryConfig struct {
	OnlineWindow time.Duration
	ProbeTimeout time.Duration
	RewardRate   float64
	DefaultPool  string
	MinStake     float64
}

type uptimeAccount struct {
	online   time.Duration
	total    time.Duration
	lastPass time.Time
}

// NodeRegistry is the authoritative node ledger. Reads take the registry
// read lock; per-address mutations serialize on striped locks so operations
// on different nodes run in parallel.
type NodeRegistry struct {
	mu      sync.RWMutex
	nodes   map[string]*models.Node
	health  map[string]*models.NodeHealth
	uptime  map[string]*uptimeAccount
	stripes [registryStripes]sync.Mutex

	settlement drepo.SettlementBackend
	snapshots  drepo.SnapshotStore
	pipeline   *middleware.EffectsPipeline
	probe      *pkghttp.Client
	metrics    drepo.Metrics
	l          *applogger.Logger
	cfg        RegistryConfig
}

func NewNodeRegistry(
	settlement drepo.SettlementBackend,
	snapshots drepo.SnapshotStore,
	pipeline *middleware.EffectsPipeline,
	probe *pkghttp.Client,
	metrics drepo.Metrics,
	l *applogger.Logger,
	cfg RegistryConfig,
) *NodeRegistry {
	if cfg.OnlineWindow <= 0 {
		cfg.OnlineWindow = 5 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.RewardRate <= 0 {
		cfg.RewardRate = 0.05
	}
	return &NodeRegistry{
		nodes:      make(map[string]*models.Node),
		health:     make(map[string]*models.NodeHealth),
		uptime:     make(map[string]*uptimeAccount),
		settlement: settlement,
		snapshots:  snapshots,
		pipeline:   pipeline,
		probe:      probe,
		metrics:    metrics,
		l:          l,
		cfg:        cfg,
	}
}

func (r *NodeRegistry) stripe(address string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(address))
	return &r.stripes[h.Sum32()%registryStripes]
}

// Register adds a new node with full starting reputation and zero stake.
func (r *NodeRegistry) Register(address string, metadata models.NodeMetadata) (*models.Node, error) {
	if address == "" {
		return nil, fmt.Errorf("register: empty address")
	}

	r.mu.Lock()
	if _, ok := r.nodes[address]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("register %s: %w", address, models.ErrAlreadyRegistered)
	}
	node := &models.Node{
		Address:      address,
		Reputation:   100,
		Metadata:     metadata,
		RegisteredAt: time.Now(),
		AutoStaking: models.AutoStakingConfig{
			Pool: r.cfg.DefaultPool,
		},
	}
	r.nodes[address] = node
	r.health[address] = &models.NodeHealth{Status: models.HealthUnknown}
	r.uptime[address] = &uptimeAccount{lastPass: time.Now()}
	r.mu.Unlock()

	r.l.Info("node registered",
		applogger.String("address", address),
		applogger.String("name", metadata.Name),
	)
	r.enqueueSnapshot()
	cp := *node
	return &cp, nil
}

// Get returns a copy of the node.
func (r *NodeRegistry) Get(address string) (*models.Node, error) {
	r.mu.RLock()
	node, ok := r.nodes[address]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("node %s: %w", address, models.ErrNotFound)
	}
	mu := r.stripe(address)
	mu.Lock()
	cp := *node
	mu.Unlock()
	return &cp, nil
}

// List returns copies of every node, ordered by address. Copies are taken
// under the same stripe locks mutations use.
func (r *NodeRegistry) List() []*models.Node {
	r.mu.RLock()
	out := make([]*models.Node, 0, len(r.nodes))
	for addr, n := range r.nodes {
		mu := r.stripe(addr)
		mu.Lock()
		cp := *n
		mu.Unlock()
		out = append(out, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Touch marks a node as recently seen.
func (r *NodeRegistry) Touch(address string) {
	r.mu.RLock()
	node, ok := r.nodes[address]
	r.mu.RUnlock()
	if ok {
		mu := r.stripe(address)
		mu.Lock()
		node.LastSeen = time.Now()
		mu.Unlock()
	}
}

// UpdateStake applies a stake change claimed by a node. The claim is never
// trusted: the settlement backend must confirm the transaction and report the
// resulting balance, otherwise the previous ledger value is kept.
func (r *NodeRegistry) UpdateStake(ctx context.Context, address, signature, pool string) (*models.Node, error) {
	r.mu.RLock()
	node, ok := r.nodes[address]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("update stake %s: %w", address, models.ErrNotFound)
	}
	if signature == "" {
		return nil, fmt.Errorf("update stake %s: %w", address, models.ErrVerificationFailed)
	}
	if pool == "" {
		pool = r.cfg.DefaultPool
	}

	confirmed, err := r.settlement.VerifyTransaction(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("update stake %s: %v: %w", address, err, models.ErrVerificationFailed)
	}
	if !confirmed {
		return nil, fmt.Errorf("update stake %s: tx not confirmed: %w", address, models.ErrVerificationFailed)
	}

	balance, err := r.settlement.GetVerifiedStakeBalance(ctx, address, pool)
	if err != nil {
		return nil, fmt.Errorf("update stake %s: %v: %w", address, err, models.ErrVerificationFailed)
	}

	mu := r.stripe(address)
	mu.Lock()
	prev := node.Stake
	node.Stake = balance
	node.StakeVerified = true
	node.StakeSignature = signature
	node.StakePool = pool
	if prev == 0 && balance > 0 {
		node.StakedAt = time.Now()
	}
	cp := *node
	mu.Unlock()

	r.l.Info("stake updated",
		applogger.String("address", address),
		applogger.Any("stake", balance),
		applogger.String("pool", pool),
	)
	r.enqueueSnapshot()
	return &cp, nil
}

// RefreshVerifiedStake re-reads the settlement balance after a stake
// operation. On verification failure the ledger falls back to zero rather
// than keeping a number nothing corroborates.
func (r *NodeRegistry) RefreshVerifiedStake(ctx context.Context, address, pool string) (float64, error) {
	r.mu.RLock()
	node, ok := r.nodes[address]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("refresh stake %s: %w", address, models.ErrNotFound)
	}

	balance, verr := r.settlement.GetVerifiedStakeBalance(ctx, address, pool)

	mu := r.stripe(address)
	mu.Lock()
	if verr != nil {
		node.Stake = 0
		node.StakeVerified = false
	} else {
		prev := node.Stake
		node.Stake = balance
		node.StakeVerified = true
		node.StakePool = pool
		if prev == 0 && balance > 0 {
			node.StakedAt = time.Now()
		}
	}
	mu.Unlock()

	r.enqueueSnapshot()
	if verr != nil {
		return 0, fmt.Errorf("refresh stake %s: %v: %w", address, verr, models.ErrVerificationFailed)
	}
	return balance, nil
}

// ResetStakedAt restarts the accrual clock, used after compounding.
func (r *NodeRegistry) ResetStakedAt(address string) {
	r.mu.RLock()
	node, ok := r.nodes[address]
	r.mu.RUnlock()
	if ok {
		mu := r.stripe(address)
		mu.Lock()
		node.StakedAt = time.Now()
		mu.Unlock()
	}
}

// SetAutoStaking replaces a node's automation policy.
func (r *NodeRegistry) SetAutoStaking(address string, cfg models.AutoStakingConfig) (*models.Node, error) {
	r.mu.RLock()
	node, ok := r.nodes[address]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("autostaking %s: %w", address, models.ErrNotFound)
	}
	if cfg.Pool == "" {
		cfg.Pool = r.cfg.DefaultPool
	}

	mu := r.stripe(address)
	mu.Lock()
	node.AutoStaking = cfg
	cp := *node
	mu.Unlock()

	r.enqueueSnapshot()
	return &cp, nil
}

// ApplySubmissionOutcome updates the counters after a consensus round and
// returns the slashed amount, zero when no slash fired. Reputation is always
// recomputed from the counters, never adjusted incrementally.
func (r *NodeRegistry) ApplySubmissionOutcome(address string, correct bool, slashThreshold, slashFraction float64) float64 {
	r.mu.RLock()
	node, ok := r.nodes[address]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	mu := r.stripe(address)
	mu.Lock()
	defer mu.Unlock()

	node.TotalSubmissions++
	if correct {
		node.CorrectSubmissions++
	}
	rep := 100 * float64(node.CorrectSubmissions) / float64(node.TotalSubmissions)
	if rep < 0 {
		rep = 0
	}
	if rep > 100 {
		rep = 100
	}
	node.Reputation = rep

	accuracy := float64(node.CorrectSubmissions) / float64(node.TotalSubmissions)
	if accuracy < 1-slashThreshold && node.Stake > 0 {
		slash := node.Stake * slashFraction
		if slash > node.Stake {
			slash = node.Stake
		}
		node.Stake -= slash
		return slash
	}
	return 0
}

// Rewards computes the accrual view for a node. Pure arithmetic over stake,
// time staked and the reputation bonus tier.
func (r *NodeRegistry) Rewards(node *models.Node) models.RewardAccrual {
	bonus := models.AccuracyBonusFor(node.Reputation)
	acc := models.RewardAccrual{
		APY:           r.cfg.RewardRate * bonus,
		AccuracyBonus: bonus,
	}
	if node.Stake <= 0 || node.StakedAt.IsZero() {
		return acc
	}
	days := time.Since(node.StakedAt).Hours() / 24
	acc.DaysStaked = days
	daily := node.Stake * r.cfg.RewardRate / 365 * bonus
	acc.Daily = daily
	acc.Weekly = daily * 7
	acc.Monthly = daily * 30
	acc.Yearly = node.Stake * r.cfg.RewardRate * bonus
	acc.Total = daily * days
	return acc
}

// RunHealthPass probes every node and advances the uptime accounting. Online
// time accrues incrementally per pass and is capped by total time, so a clock
// jump can never push uptime over 100%.
func (r *NodeRegistry) RunHealthPass(ctx context.Context) {
	r.mu.RLock()
	addresses := make([]string, 0, len(r.nodes))
	for addr := range r.nodes {
		addresses = append(addresses, addr)
	}
	r.mu.RUnlock()

	now := time.Now()
	for _, addr := range addresses {
		r.checkNode(ctx, addr, now)
	}
}

func (r *NodeRegistry) checkNode(ctx context.Context, address string, now time.Time) {
	r.mu.RLock()
	node := r.nodes[address]
	health := r.health[address]
	acct := r.uptime[address]
	r.mu.RUnlock()
	if node == nil || health == nil || acct == nil {
		return
	}

	status, respTime := r.probeNode(ctx, node.Metadata.URL)

	mu := r.stripe(address)
	mu.Lock()
	defer mu.Unlock()

	seenRecently := !node.LastSeen.IsZero() && now.Sub(node.LastSeen) <= r.cfg.OnlineWindow
	online := seenRecently && status != models.HealthOffline

	delta := now.Sub(acct.lastPass)
	if delta > 0 {
		acct.total += delta
		if online {
			acct.online += delta
		}
		if acct.online > acct.total {
			acct.online = acct.total
		}
		acct.lastPass = now
	}
	if acct.total > 0 {
		node.Uptime = float64(acct.online) / float64(acct.total) * 100
	}

	if !online && status == models.HealthUnknown {
		status = models.HealthOffline
	}
	if status != health.Status {
		health.Events = append(health.Events, models.HealthEvent{
			Type:      string(status),
			Timestamp: now,
		})
		if len(health.Events) > healthEventCap {
			health.Events = health.Events[len(health.Events)-healthEventCap:]
		}
	}
	health.Status = status
	health.LastCheck = now
	if respTime > 0 {
		health.ResponseTime = respTime
		// EWMA so one slow probe does not swamp the signal
		if node.AvgResponseTime == 0 {
			node.AvgResponseTime = respTime
		} else {
			node.AvgResponseTime = (node.AvgResponseTime*4 + respTime) / 5
		}
	}
}

// probeNode hits the operator-supplied URL. No URL means probing cannot
// contribute either way.
func (r *NodeRegistry) probeNode(ctx context.Context, url string) (models.HealthStatus, time.Duration) {
	if url == "" {
		return models.HealthUnknown, 0
	}
	cctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.probe.SendRequest(cctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    url,
	})
	elapsed := time.Since(start)
	if err != nil {
		return models.HealthOffline, 0
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return models.HealthOffline, elapsed
	}
	if elapsed > degradedProbe || resp.StatusCode >= 400 {
		return models.HealthDegraded, elapsed
	}
	return models.HealthHealthy, elapsed
}

// HealthReport assembles the full per-node query view.
func (r *NodeRegistry) HealthReport(address string) (*models.NodeHealthReport, error) {
	node, err := r.Get(address)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	health := r.health[address]
	r.mu.RUnlock()

	var hcp models.NodeHealth
	if health != nil {
		mu := r.stripe(address)
		mu.Lock()
		hcp = *health
		hcp.Events = append([]models.HealthEvent(nil), health.Events...)
		mu.Unlock()
	} else {
		hcp.Status = models.HealthUnknown
	}

	return &models.NodeHealthReport{
		Node:      node,
		Health:    hcp,
		Accuracy:  node.Accuracy(),
		Rewards:   r.Rewards(node),
		Qualified: node.Qualified(r.cfg.MinStake),
	}, nil
}

// Stats aggregates the network view over the ledger plus externally supplied
// feed and request counters.
func (r *NodeRegistry) Stats(priceFeeds, customFeeds int, totalRequests, failedRequests int64) *models.Stats {
	nodes := r.List()
	st := &models.Stats{
		TotalNodes:     len(nodes),
		PriceFeeds:     priceFeeds,
		CustomFeeds:    customFeeds,
		TotalRequests:  totalRequests,
		FailedRequests: failedRequests,
	}
	var repSum, upSum float64
	for _, n := range nodes {
		st.TotalStaked += n.Stake
		repSum += n.Reputation
		upSum += n.Uptime
		if n.Qualified(r.cfg.MinStake) {
			st.ActiveNodes++
		}
	}
	if len(nodes) > 0 {
		st.AvgReputation = repSum / float64(len(nodes))
		st.AvgUptime = upSum / float64(len(nodes))
	}
	if totalRequests > 0 {
		st.SuccessRate = float64(totalRequests-failedRequests) / float64(totalRequests)
	}
	return st
}

// Snapshot persists the ledger now, bypassing the background queue.
func (r *NodeRegistry) Snapshot(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	return r.snapshots.SaveNodes(ctx, r.List())
}

// Restore loads the persisted ledger. A record claiming stake without a
// settlement proof is discarded outright; trusting it would let a corrupted
// or tampered snapshot mint stake.
func (r *NodeRegistry) Restore(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	nodes, err := r.snapshots.LoadNodes(ctx)
	if err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	restored, discarded := 0, 0
	for _, n := range nodes {
		if n == nil || n.Address == "" {
			continue
		}
		if n.Stake > 0 && (!n.StakeVerified || n.StakeSignature == "") {
			discarded++
			r.l.Warn("discarding unverifiable snapshot record",
				applogger.String("address", n.Address),
				applogger.Any("claimed_stake", n.Stake),
			)
			continue
		}
		cp := *n
		r.nodes[n.Address] = &cp
		r.health[n.Address] = &models.NodeHealth{Status: models.HealthUnknown}
		r.uptime[n.Address] = &uptimeAccount{lastPass: time.Now()}
		restored++
	}
	r.l.Info("registry restored",
		applogger.Int("nodes", restored),
		applogger.Int("discarded", discarded),
	)
	return nil
}

func (r *NodeRegistry) enqueueSnapshot() {
	if r.snapshots == nil || r.pipeline == nil {
		return
	}
	r.pipeline.Enqueue("snapshot", func(ctx context.Context) error {
		return r.snapshots.SaveNodes(ctx, r.List())
	})
}

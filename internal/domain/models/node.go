package models

import "time"

// NodeMetadata is operator-supplied descriptive data.
type NodeMetadata struct {
	Name         string   `json:"name"`
	URL          string   `json:"url,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// UnstakeConditions are the triggers for automatic unstaking. Any single
// condition is sufficient.
type UnstakeConditions struct {
	MinAPY           float64       `json:"min_apy"`
	MaxStakeDuration time.Duration `json:"max_stake_duration"`
	Emergency        bool          `json:"emergency"`
}

// AutoStakingConfig is the per-node automation policy.
type AutoStakingConfig struct {
	Enabled      bool              `json:"enabled"`
	Threshold    float64           `json:"threshold"`
	AutoCompound bool              `json:"auto_compound"`
	Pool         string            `json:"pool,omitempty"`
	Unstake      UnstakeConditions `json:"unstake"`
}

// Node is a registered reporting identity. Address is immutable; stake is
// mutated only through verified settlement updates and slashing; reputation
// is a pure function of the submission counters.
type Node struct {
	Address            string            `json:"address"`
	Stake              float64           `json:"stake"`
	Reputation         float64           `json:"reputation"`
	TotalSubmissions   int64             `json:"total_submissions"`
	CorrectSubmissions int64             `json:"correct_submissions"`
	Uptime             float64           `json:"uptime"`
	StakePool          string            `json:"stake_pool,omitempty"`
	StakeVerified      bool              `json:"stake_verified"`
	StakeSignature     string            `json:"stake_signature,omitempty"`
	AutoStaking        AutoStakingConfig `json:"auto_staking"`
	Metadata           NodeMetadata      `json:"metadata"`
	AvgResponseTime    time.Duration     `json:"avg_response_time"`
	RegisteredAt       time.Time         `json:"registered_at"`
	StakedAt           time.Time         `json:"staked_at,omitempty"`
	LastSeen           time.Time         `json:"last_seen,omitempty"`
}

// Accuracy returns correct/total in [0,1]; nodes with no submissions count as fully accurate.
func (n *Node) Accuracy() float64 {
	if n.TotalSubmissions == 0 {
		return 1
	}
	return float64(n.CorrectSubmissions) / float64(n.TotalSubmissions)
}

// Qualified reports whether the node meets the minimum stake to submit.
func (n *Node) Qualified(minStake float64) bool {
	return n.Stake >= minStake
}

// HealthStatus classifies a node's probe state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthUnknown  HealthStatus = "unknown"
)

// HealthEvent is one observation in a node's bounded health log.
type HealthEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// NodeHealth is the current probe-derived view of a node.
type NodeHealth struct {
	Status       HealthStatus  `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	LastCheck    time.Time     `json:"last_check"`
	Events       []HealthEvent `json:"events,omitempty"`
}

// NodeHealthReport is the full per-node view returned by the query surface.
type NodeHealthReport struct {
	Node      *Node         `json:"node"`
	Health    NodeHealth    `json:"health"`
	Accuracy  float64       `json:"accuracy"`
	Rewards   RewardAccrual `json:"rewards"`
	Qualified bool          `json:"qualified"`
}

// Stats is the aggregate network health view.
type Stats struct {
	TotalNodes     int     `json:"total_nodes"`
	ActiveNodes    int     `json:"active_nodes"`
	TotalStaked    float64 `json:"total_staked"`
	PriceFeeds     int     `json:"price_feeds"`
	CustomFeeds    int     `json:"custom_feeds"`
	AvgReputation  float64 `json:"avg_reputation"`
	AvgUptime      float64 `json:"avg_uptime"`
	SuccessRate    float64 `json:"success_rate"`
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
}

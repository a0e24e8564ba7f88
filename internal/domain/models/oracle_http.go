package models

// Requests for the oracle HTTP endpoints. Defined in domain for consistency and reuse.

type RegisterNodeRequest struct {
	Address      string   `json:"address" validate:"required,min=8"`
	Name         string   `json:"name"`
	URL          string   `json:"url" validate:"omitempty,url"`
	Capabilities []string `json:"capabilities"`
}

type SubmitFeedRequest struct {
	Data        any    `json:"data" validate:"required"`
	NodeAddress string `json:"node_address" validate:"required,min=8"`
	Signature   string `json:"signature" validate:"required"`
}

type UpdateStakeRequest struct {
	Stake     float64 `json:"stake" validate:"gte=0"`
	Pool      string  `json:"pool" default:"marinade"`
	Signature string  `json:"signature" validate:"required"`
}

type AutoStakingRequest struct {
	Enabled      bool    `json:"enabled"`
	Threshold    float64 `json:"threshold" default:"0.1" validate:"gte=0"`
	AutoCompound *bool   `json:"auto_compound"`
	Pool         string  `json:"pool"`

	// Exit triggers; any single one suffices once set.
	MinAPY           float64 `json:"min_apy" validate:"gte=0"`
	MaxStakeDays     float64 `json:"max_stake_days" validate:"gte=0"`
	EmergencyUnstake bool    `json:"emergency_unstake"`
}

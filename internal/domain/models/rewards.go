package models

// RewardAccrual is the derived per-node reward view. Purely computed from
// stake, time staked and the reputation bonus tier; never stored.
type RewardAccrual struct {
	Total         float64 `json:"total"`
	Daily         float64 `json:"daily"`
	Weekly        float64 `json:"weekly"`
	Monthly       float64 `json:"monthly"`
	Yearly        float64 `json:"yearly"`
	APY           float64 `json:"apy"`
	DaysStaked    float64 `json:"days_staked"`
	AccuracyBonus float64 `json:"accuracy_bonus"`
}

// AccuracyBonusFor returns the reward multiplier tier for a reputation score.
func AccuracyBonusFor(reputation float64) float64 {
	switch {
	case reputation > 90:
		return 1.1
	case reputation > 75:
		return 1.05
	default:
		return 1.0
	}
}

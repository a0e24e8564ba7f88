package models

// ConsensusResult is the outcome of evaluating all entries for a feed id at a
// point in time. It is ephemeral: recomputed on demand and never persisted.
type ConsensusResult struct {
	Consensus  bool    `json:"consensus"`
	Value      any     `json:"value,omitempty"`
	Agreement  int     `json:"agreement"`
	Total      int     `json:"total"`
	Verified   int     `json:"verified"`
	Confidence float64 `json:"confidence"`
}

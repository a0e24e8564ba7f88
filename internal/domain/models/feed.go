package models

import "time"

// Quote is a single source adapter's answer for a symbol.
type Quote struct {
	Source       string        `json:"source"`
	Price        float64       `json:"price"`
	Change24h    float64       `json:"change24h,omitempty"`
	HasChange    bool          `json:"-"`
	Volume24h    float64       `json:"volume24h,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
}

// PriceFeed is the aggregated external-source value for a symbol. It is
// derived state: recomputed whole on every poll cycle, never patched.
type PriceFeed struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change24h"`
	Volume24h float64   `json:"volume24h"`
	Sources   int       `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
}

// Proof is a hash-based attestation binding a submission to its content and
// author. It authenticates integrity, not non-repudiation; see DESIGN.md.
type Proof struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedEntry is one node's raw submission for a feed id. Entries are retained
// for audit even when they lose the consensus vote; Verified is set only
// after a consensus round accepts the entry's value.
type FeedEntry struct {
	FeedID      string    `json:"feed_id"`
	Data        any       `json:"data"`
	NodeAddress string    `json:"node_address"`
	Timestamp   time.Time `json:"timestamp"`
	Signature   string    `json:"signature"`
	Proof       Proof     `json:"proof"`
	Verified    bool      `json:"verified"`
}

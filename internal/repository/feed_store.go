package repository

import (
	"sync"

	"QuorumFeed/internal/domain/models"
)

// ring is a fixed-capacity buffer with O(1) oldest-first eviction.
type ring[T any] struct {
	buf  []T
	head int
	size int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	// full: overwrite oldest
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring[T]) len() int { return r.size }

// items returns oldest-first copies.
func (r *ring[T]) items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

type priceFeedState struct {
	mu      sync.Mutex
	current *models.PriceFeed
	history *ring[*models.PriceFeed]
}

type customFeedState struct {
	mu      sync.Mutex
	entries *ring[*models.FeedEntry]
}

// FeedStore owns all feed state: the current aggregated price per symbol with
// bounded history, and the raw submission log per custom feed id. Writers
// append under a per-feed lock so the majority-group computation never sees
// an interleaved log.
type FeedStore struct {
	mu         sync.RWMutex
	prices     map[string]*priceFeedState
	customs    map[string]*customFeedState
	historyCap int
}

// NewFeedStore creates a store whose per-feed history is capped at historyCap
// entries (oldest evicted first).
func NewFeedStore(historyCap int) *FeedStore {
	if historyCap <= 0 {
		historyCap = 10000
	}
	return &FeedStore{
		prices:     make(map[string]*priceFeedState),
		customs:    make(map[string]*customFeedState),
		historyCap: historyCap,
	}
}

func (s *FeedStore) priceState(symbol string) *priceFeedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.prices[symbol]
	if !ok {
		st = &priceFeedState{history: newRing[*models.PriceFeed](s.historyCap)}
		s.prices[symbol] = st
	}
	return st
}

func (s *FeedStore) customState(feedID string) *customFeedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.customs[feedID]
	if !ok {
		st = &customFeedState{entries: newRing[*models.FeedEntry](s.historyCap)}
		s.customs[feedID] = st
	}
	return st
}

// SetPriceFeed replaces the current aggregated value for a symbol and appends
// it to the bounded history.
func (s *FeedStore) SetPriceFeed(feed *models.PriceFeed) {
	st := s.priceState(feed.Symbol)
	st.mu.Lock()
	st.current = feed
	st.history.push(feed)
	st.mu.Unlock()
}

// GetPriceFeed returns the current aggregated value for a symbol, or nil.
func (s *FeedStore) GetPriceFeed(symbol string) *models.PriceFeed {
	s.mu.RLock()
	st, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// PriceHistory returns the bounded history for a symbol, oldest first.
func (s *FeedStore) PriceHistory(symbol string) []*models.PriceFeed {
	s.mu.RLock()
	st, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.items()
}

// AppendEntry stores one node submission for a feed id.
func (s *FeedStore) AppendEntry(entry *models.FeedEntry) {
	st := s.customState(entry.FeedID)
	st.mu.Lock()
	st.entries.push(entry)
	st.mu.Unlock()
}

// Entries returns copies of all retained submissions for a feed id, oldest
// first, so callers never share mutable state with the store.
func (s *FeedStore) Entries(feedID string) []*models.FeedEntry {
	s.mu.RLock()
	st, ok := s.customs[feedID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	items := st.entries.items()
	out := make([]*models.FeedEntry, 0, len(items))
	for _, e := range items {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// MarkVerified flags retained entries whose proof hash is in the accepted set.
func (s *FeedStore) MarkVerified(feedID string, proofHashes map[string]bool) {
	s.mu.RLock()
	st, ok := s.customs[feedID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, e := range st.entries.items() {
		if proofHashes[e.Proof.Hash] {
			e.Verified = true
		}
	}
}

// EntryCount returns the number of retained submissions for a feed id.
func (s *FeedStore) EntryCount(feedID string) int {
	s.mu.RLock()
	st, ok := s.customs[feedID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.entries.len()
}

// PriceFeedCount returns the number of symbols with an aggregated value.
func (s *FeedStore) PriceFeedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prices)
}

// CustomFeedCount returns the number of feed ids with submissions.
func (s *FeedStore) CustomFeedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.customs)
}

// Symbols returns every symbol with an aggregated value.
func (s *FeedStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.prices))
	for sym := range s.prices {
		out = append(out, sym)
	}
	return out
}

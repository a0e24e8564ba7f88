package repository

import (
	"fmt"
	"testing"
	"time"

	"QuorumFeed/internal/domain/models"
)

func TestFeedStoreCurrentAndHistory(t *testing.T) {
	s := NewFeedStore(100)

	if got := s.GetPriceFeed("SOL/USD"); got != nil {
		t.Fatalf("expected nil for unknown symbol, got %+v", got)
	}

	first := &models.PriceFeed{Symbol: "SOL/USD", Price: 150.25, Timestamp: time.Now()}
	second := &models.PriceFeed{Symbol: "SOL/USD", Price: 151.00, Timestamp: time.Now()}
	s.SetPriceFeed(first)
	s.SetPriceFeed(second)

	cur := s.GetPriceFeed("SOL/USD")
	if cur == nil || cur.Price != 151.00 {
		t.Fatalf("expected current price 151.00, got %+v", cur)
	}

	hist := s.PriceHistory("SOL/USD")
	if len(hist) != 2 {
		t.Fatalf("expected history of 2, got %d", len(hist))
	}
	if hist[0].Price != 150.25 || hist[1].Price != 151.00 {
		t.Fatalf("history not oldest-first: %v, %v", hist[0].Price, hist[1].Price)
	}

	if n := s.PriceFeedCount(); n != 1 {
		t.Fatalf("expected 1 price feed, got %d", n)
	}
}

func TestFeedStoreHistoryEviction(t *testing.T) {
	s := NewFeedStore(3)

	for i := 1; i <= 5; i++ {
		s.SetPriceFeed(&models.PriceFeed{Symbol: "BTC/USD", Price: float64(i)})
	}

	hist := s.PriceHistory("BTC/USD")
	if len(hist) != 3 {
		t.Fatalf("expected capped history of 3, got %d", len(hist))
	}
	// oldest two evicted, 3..5 remain in order
	for i, want := range []float64{3, 4, 5} {
		if hist[i].Price != want {
			t.Fatalf("history[%d] = %v, want %v", i, hist[i].Price, want)
		}
	}
}

func TestFeedStoreEntries(t *testing.T) {
	s := NewFeedStore(10)

	if got := s.Entries("weather-nyc"); got != nil {
		t.Fatalf("expected nil entries for unknown feed, got %v", got)
	}

	for i := 0; i < 4; i++ {
		s.AppendEntry(&models.FeedEntry{
			FeedID:      "weather-nyc",
			NodeAddress: fmt.Sprintf("node%d", i),
			Data:        map[string]any{"temp": 20 + i},
			Timestamp:   time.Now(),
		})
	}

	if n := s.EntryCount("weather-nyc"); n != 4 {
		t.Fatalf("expected 4 entries, got %d", n)
	}
	entries := s.Entries("weather-nyc")
	if entries[0].NodeAddress != "node0" || entries[3].NodeAddress != "node3" {
		t.Fatalf("entries not oldest-first: %s .. %s", entries[0].NodeAddress, entries[3].NodeAddress)
	}

	if n := s.CustomFeedCount(); n != 1 {
		t.Fatalf("expected 1 custom feed, got %d", n)
	}
}

func TestFeedStoreSymbols(t *testing.T) {
	s := NewFeedStore(10)
	s.SetPriceFeed(&models.PriceFeed{Symbol: "SOL/USD", Price: 1})
	s.SetPriceFeed(&models.PriceFeed{Symbol: "ETH/USD", Price: 2})

	syms := s.Symbols()
	if len(syms) != 2 {
		t.Fatalf("expected 2 symbols, got %v", syms)
	}
	seen := map[string]bool{}
	for _, sym := range syms {
		seen[sym] = true
	}
	if !seen["SOL/USD"] || !seen["ETH/USD"] {
		t.Fatalf("missing symbols: %v", syms)
	}
}

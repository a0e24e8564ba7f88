package sources

import "testing"

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		in    string
		base  string
		quote string
	}{
		{"SOL/USD", "SOL", "USD"},
		{"btc/usdt", "BTC", "USDT"},
		{"ETH", "ETH", "USD"},
		{"wif/", "WIF", "USD"},
	}
	for _, tt := range tests {
		base, quote := splitSymbol(tt.in)
		if base != tt.base || quote != tt.quote {
			t.Fatalf("splitSymbol(%q) = %s/%s, want %s/%s", tt.in, base, quote, tt.base, tt.quote)
		}
	}
}

func TestBinancePairFor(t *testing.T) {
	b := NewBinance(nil, nil, "", 10)

	pair, err := b.pairFor("SOL/USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair != "SOLUSDT" {
		t.Fatalf("pair = %s, want SOLUSDT", pair)
	}

	if _, err := b.pairFor("USDT/USD"); err == nil {
		t.Fatal("expected error for degenerate pair")
	}
}

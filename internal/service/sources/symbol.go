package sources

import "strings"

// splitSymbol breaks a "BASE/QUOTE" pair. Quote defaults to USD when the
// separator is absent.
func splitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	base = strings.ToUpper(parts[0])
	quote = "USD"
	if len(parts) == 2 && parts[1] != "" {
		quote = strings.ToUpper(parts[1])
	}
	return base, quote
}

package domain

import "strings"

// NormalizeSymbol trims and upper-cases a symbol. Every boundary that
// accepts a symbol goes through it.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

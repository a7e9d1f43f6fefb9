package domain

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"aapl", "AAPL"},
		{"  goog ", "GOOG"},
		{"MsFt", "MSFT"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHoldings_PositionNeverHeld(t *testing.T) {
	h := Holdings{Positions: map[string]int64{"AAPL": 3}}
	if got := h.Position("aapl"); got != 3 {
		t.Errorf("Position(aapl) = %d, want 3", got)
	}
	if got := h.Position("GOOG"); got != 0 {
		t.Errorf("Position(GOOG) = %d, want 0", got)
	}
}

func TestKey_String(t *testing.T) {
	k := Key{Kind: KindAgent, ID: 3}
	if k.String() != "agent3" {
		t.Errorf("String() = %q, want agent3", k.String())
	}
	if !(Key{}).IsZero() || k.IsZero() {
		t.Error("IsZero mismatch")
	}
}

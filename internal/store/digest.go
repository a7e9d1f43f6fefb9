package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/efreitasn/marketsim/internal/domain"
)

// Digest returns the hex SHA-256 of trades encoded as JSON lines. Two
// runs with the same seed and configuration produce the same digest.
func Digest(trades []domain.Trade) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for i, t := range trades {
		if err := enc.Encode(t); err != nil {
			return "", fmt.Errorf("encode trade %d: %w", i, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

package domain

import "fmt"

// Tick is a unit of simulated time.
type Tick int64

// Kind names a concrete entity type. IDs are unique per kind.
type Kind string

const (
	KindExchange  Kind = "exchange"
	KindOrderBook Kind = "orderbook"
	KindProduct   Kind = "product"
	KindOrder     Kind = "order"
	KindAgent     Kind = "agent"
	KindObserver  Kind = "observer"
)

// Key identifies an entity inside a simulation. It is the only form in
// which entities reference each other.
type Key struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

// String renders the key as kind followed by id, e.g. "agent3".
func (k Key) String() string {
	return fmt.Sprintf("%s%d", k.Kind, k.ID)
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k.Kind == "" && k.ID == 0
}

package sim

import (
	"sync/atomic"

	"github.com/efreitasn/marketsim/internal/domain"
)

// Clock is the simulation's discrete time counter. Only the Scheduler
// advances it; anyone may read it.
type Clock struct {
	now atomic.Int64
}

// Now returns the current tick.
func (c *Clock) Now() domain.Tick {
	return domain.Tick(c.now.Load())
}

func (c *Clock) advance() domain.Tick {
	return domain.Tick(c.now.Add(1))
}

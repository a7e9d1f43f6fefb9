package sim

import "github.com/efreitasn/marketsim/internal/domain"

// Entity is anything the Scheduler updates once per tick.
type Entity interface {
	Key() domain.Key
	Tier() int
	Update()
}

// Starter is implemented by entities with an on-start hook.
type Starter interface {
	OnStart()
}

// Finisher is implemented by entities with an on-finish hook.
type Finisher interface {
	OnFinish()
}

// Parent is implemented by entities that own dependents. Dependents are
// registered into the same Scheduler as their parent.
type Parent interface {
	Dependents() []Entity
}

// Attacher is implemented by entities that keep a back-reference to the
// Scheduler they were added to.
type Attacher interface {
	Attach(s *Scheduler)
}

// Meta is the identity block shared by all entities. Embed it to get
// Key, CreatedAt, Tier and SetTier.
type Meta struct {
	key       domain.Key
	createdAt domain.Tick
	tier      int
}

// Key returns the entity key.
func (m Meta) Key() domain.Key { return m.key }

// CreatedAt returns the tick the entity was stamped at.
func (m Meta) CreatedAt() domain.Tick { return m.createdAt }

// Tier returns the update priority tier. Lower tiers update first.
func (m Meta) Tier() int { return m.tier }

// SetTier changes the tier. It only has an effect before the entity is
// added to a Scheduler.
func (m *Meta) SetTier(tier int) { m.tier = tier }

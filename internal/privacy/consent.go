package privacy

import (
	"sync"
	"time"
)

type ConsentState int

const (
	ConsentPending ConsentState = iota
	ConsentAccepted
	ConsentDeclined
	ConsentNotRequired
)

// ConsentGate blocks recording until consent is resolved. A decision, once
// given, is cached with an expiry and is revocable.
type ConsentGate struct {
	mu        sync.Mutex
	required  bool
	state     ConsentState
	decidedAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewConsentGate(required bool, ttl time.Duration) *ConsentGate {
	g := &ConsentGate{
		required: required,
		ttl:      ttl,
		now:      time.Now,
	}
	if !required {
		g.state = ConsentNotRequired
	}
	return g
}

func (g *ConsentGate) Accept() { g.decide(ConsentAccepted) }

func (g *ConsentGate) Decline() { g.decide(ConsentDeclined) }

func (g *ConsentGate) decide(state ConsentState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.required {
		return
	}
	g.state = state
	g.decidedAt = g.now()
}

// Revoke clears a cached decision; recording must stop until consent is
// resolved again.
func (g *ConsentGate) Revoke() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.required {
		return
	}
	g.state = ConsentPending
	g.decidedAt = time.Time{}
}

// Allowed reports whether capture may run right now. Expired decisions fall
// back to pending.
func (g *ConsentGate) Allowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case ConsentNotRequired:
		return true
	case ConsentAccepted:
		if g.ttl > 0 && g.now().Sub(g.decidedAt) > g.ttl {
			g.state = ConsentPending
			return false
		}
		return true
	default:
		return false
	}
}

package hub

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// DriverBinding is what a driver connection is currently driving.
type DriverBinding struct {
	DriverID     string
	VehicleID    string
	Registration string
	TripID       string
}

type bindingTable struct {
	mu     sync.RWMutex
	byConn map[string]DriverBinding
}

func newBindingTable() *bindingTable {
	return &bindingTable{byConn: make(map[string]DriverBinding)}
}

func (t *bindingTable) get(connID string) (DriverBinding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.byConn[connID]
	return b, ok
}

func (t *bindingTable) set(connID string, b DriverBinding) {
	t.mu.Lock()
	t.byConn[connID] = b
	t.mu.Unlock()
}

func (t *bindingTable) remove(connID string) (DriverBinding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.byConn[connID]
	delete(t.byConn, connID)
	return b, ok
}

// limiterTable holds one token bucket per connection for location updates.
type limiterTable struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	byConn map[string]*rate.Limiter
}

// newLimiterTable allows perSecond events per connection; zero or less disables limiting.
func newLimiterTable(perSecond float64) *limiterTable {
	t := &limiterTable{limit: rate.Inf, burst: 1, byConn: make(map[string]*rate.Limiter)}
	if perSecond > 0 {
		t.limit = rate.Limit(perSecond)
		t.burst = int(math.Max(1, math.Ceil(perSecond)))
	}
	return t
}

func (t *limiterTable) allow(connID string) bool {
	if t.limit == rate.Inf {
		return true
	}
	t.mu.Lock()
	l, ok := t.byConn[connID]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.byConn[connID] = l
	}
	t.mu.Unlock()
	return l.Allow()
}

func (t *limiterTable) remove(connID string) {
	t.mu.Lock()
	delete(t.byConn, connID)
	t.mu.Unlock()
}

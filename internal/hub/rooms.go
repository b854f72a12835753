package hub

import "sync"

const (
	GroupObservers = "observers"
	GroupAdmin     = "admin"
)

func VehicleGroup(vehicleID string) string { return "vehicle:" + vehicleID }

func RouteGroup(routeID string) string { return "route:" + routeID }

// Rooms tracks fan-out group membership for the connections of this
// instance. Nothing is persisted; a connection's memberships end with it.
type Rooms struct {
	mu       sync.RWMutex
	groups   map[string]map[string]*Conn    // group -> conn id -> conn
	memberOf map[string]map[string]struct{} // conn id -> groups
}

func NewRooms() *Rooms {
	return &Rooms{
		groups:   make(map[string]map[string]*Conn),
		memberOf: make(map[string]map[string]struct{}),
	}
}

func (r *Rooms) Join(c *Conn, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]*Conn)
		r.groups[group] = members
	}
	members[c.ID] = c
	joined, ok := r.memberOf[c.ID]
	if !ok {
		joined = make(map[string]struct{})
		r.memberOf[c.ID] = joined
	}
	joined[group] = struct{}{}
}

func (r *Rooms) Leave(c *Conn, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c.ID, group)
}

// LeaveAll removes c from every group it joined.
func (r *Rooms) LeaveAll(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for group := range r.memberOf[c.ID] {
		r.leaveLocked(c.ID, group)
	}
	delete(r.memberOf, c.ID)
}

func (r *Rooms) leaveLocked(connID, group string) {
	if members, ok := r.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	if joined, ok := r.memberOf[connID]; ok {
		delete(joined, group)
		if len(joined) == 0 {
			delete(r.memberOf, connID)
		}
	}
}

// Publish sends event to every member of group except the given connection
// (nil excludes nobody) and returns the number of successful sends.
func (r *Rooms) Publish(group, event string, data any, except *Conn) int {
	r.mu.RLock()
	members := make([]*Conn, 0, len(r.groups[group]))
	for _, c := range r.groups[group] {
		if except != nil && c.ID == except.ID {
			continue
		}
		members = append(members, c)
	}
	r.mu.RUnlock()
	if len(members) == 0 {
		return 0
	}

	msg, err := newMessage(event, data)
	if err != nil {
		return 0
	}
	sent := 0
	for _, c := range members {
		if err := c.sender.Send(msg); err == nil {
			sent++
		}
	}
	return sent
}

func (r *Rooms) Size(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

func (r *Rooms) IsMember(c *Conn, group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[group][c.ID]
	return ok
}

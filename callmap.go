package tinysip

import "sync"

// CallMap is the fixed pool of call slots, looked up by either leg's
// Call-ID. The map mutex only guards allocation, lookup and release; the
// per-call mutex serializes message handling on a slot.
type CallMap struct {
	mu    sync.Mutex
	calls [MaxCalls]*Call
	size  int
}

func NewCallMap() *CallMap {
	m := &CallMap{}
	for i := range m.calls {
		m.calls[i] = newCall(i)
	}
	return m
}

// Allocate claims the first inactive slot for callID and derives the
// B-leg Call-ID, all under the map lock so a concurrent lookup never sees
// a half-populated slot. Returns nil when every slot is busy or the
// Call-ID already belongs to an active call.
func (m *CallMap) Allocate(callID string) *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var free *Call
	for _, c := range m.calls {
		if !c.active {
			if free == nil {
				free = c
			}
			continue
		}
		if callID != "" && (c.ALegUUID == callID || c.BLegUUID == callID) {
			return nil
		}
	}
	if free == nil {
		return nil
	}
	free.active = true
	free.ALegUUID = callID
	free.BLegUUID = bLegUUID(callID)
	m.size++
	return free
}

// FindByCallID resolves a Call-ID to its call and leg. An empty ID never
// matches, even against an unused slot.
func (m *CallMap) FindByCallID(id string) (*Call, Leg) {
	if id == "" {
		return nil, LegNone
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if !c.active {
			continue
		}
		if c.ALegUUID == id {
			return c, LegA
		}
		if c.BLegUUID == id {
			return c, LegB
		}
	}
	return nil, LegNone
}

// Release resets a slot back to the pool.
func (m *CallMap) Release(c *Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !c.active {
		return
	}
	c.reset()
	m.size--
}

// Active returns the number of allocated slots.
func (m *CallMap) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

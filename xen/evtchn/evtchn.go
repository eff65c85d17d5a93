//go:build linux

// Package evtchn implements the event-channel control block the shim
// delegates EVTCHNOP_* hypercalls to (spec.md: "event_channel_op:
// Delegate to evtchn sub-service"). It models the classic two-level
// port/pending/mask scheme; the newer FIFO-based control-block ABI
// (init_control/expand_array/set_priority) is accepted but not actually
// backed by a ring, since this shim serves a single guest vCPU with no
// need for FIFO priority ordering.
package evtchn

import "sync"

// Port states.
const (
	portFree = iota
	portVIRQ
	portInterdomain
	portUnbound
)

const maxPorts = 1024

// Control is the per-domain event-channel table. One Control instance is
// owned by exactly one xen.Shim (spec.md "Cyclic references": sub-services
// hold a non-owning handle dominated by the shim's lifetime).
type Control struct {
	mu sync.Mutex

	domID uint32

	ports     [maxPorts]int
	virqPort  map[uint32]int
	callbackV uint8

	pending [maxPorts]bool

	fifoControl bool
}

// New returns an empty event-channel table for the given domain.
func New(domID uint32) *Control {
	return &Control{
		domID:    domID,
		virqPort: make(map[uint32]int),
	}
}

func (c *Control) allocPort(state int) int {
	for p := 1; p < maxPorts; p++ {
		if c.ports[p] == portFree {
			c.ports[p] = state
			return p
		}
	}
	return -1
}

// InitControl accepts the FIFO control-block setup call. No ring is
// actually modeled; ports still raise via the legacy pending bitmap.
func (c *Control) InitControl() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fifoControl = true
}

// SetPriority is a no-op: without a FIFO ring there is no priority queue
// to reorder.
func (c *Control) SetPriority(_ uint32, _ uint32) {}

// ExpandArray is a no-op for the same reason as InitControl.
func (c *Control) ExpandArray() {}

// AllocUnbound reserves a free port for later binding (EVTCHNOP_alloc_unbound).
func (c *Control) AllocUnbound() (port int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.allocPort(portUnbound)
	return p, p >= 0
}

// BindVIRQ binds virq to a fresh port for this (single) vCPU
// (EVTCHNOP_bind_virq).
func (c *Control) BindVIRQ(virq uint32) (port int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, bound := c.virqPort[virq]; bound {
		return p, true
	}

	p := c.allocPort(portVIRQ)
	if p < 0 {
		return 0, false
	}

	c.virqPort[virq] = p
	return p, true
}

// BindInterdomain binds a remote domain's offered port to a local one
// (EVTCHNOP_bind_interdomain). The remote side is not modeled; this
// simply hands out a local port in the interdomain state.
func (c *Control) BindInterdomain() (port int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.allocPort(portInterdomain)
	return p, p >= 0
}

// BindVCPU validates the target vcpu for port (EVTCHNOP_bind_vcpu). This
// shim only ever services vcpu 0.
func (c *Control) BindVCPU(port int, vcpuid uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if port <= 0 || port >= maxPorts || c.ports[port] == portFree {
		return false
	}
	return vcpuid == 0
}

// Close releases port (EVTCHNOP_close).
func (c *Control) Close(port int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if port <= 0 || port >= maxPorts || c.ports[port] == portFree {
		return false
	}
	c.ports[port] = portFree
	c.pending[port] = false
	for virq, p := range c.virqPort {
		if p == port {
			delete(c.virqPort, virq)
		}
	}
	return true
}

// Send marks port pending, the local-port half of EVTCHNOP_send.
func (c *Control) Send(port int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if port <= 0 || port >= maxPorts || c.ports[port] == portFree {
		return false
	}
	c.pending[port] = true
	return true
}

// SetCallbackVia records the HVM_PARAM_CALLBACK_IRQ vector, which the
// parent interrupt-injection path consults to raise the upcall.
func (c *Control) SetCallbackVia(vector uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbackV = vector
}

// CallbackVector returns the vector registered by SetCallbackVia, or 0.
func (c *Control) CallbackVector() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbackV
}

// QueueVIRQ marks virq's bound port pending, binding one lazily on first
// use. It reports whether a port was actually raised, so the caller can
// skip setting the guest's upcall-pending byte when nothing changed.
func (c *Control) QueueVIRQ(virq uint32) bool {
	c.mu.Lock()
	p, ok := c.virqPort[virq]
	if !ok {
		p = c.allocPort(portVIRQ)
		if p < 0 {
			c.mu.Unlock()
			return false
		}
		c.virqPort[virq] = p
	}
	c.pending[p] = true
	c.mu.Unlock()
	return true
}

// Pending reports whether port has a raised-but-unconsumed event.
func (c *Control) Pending(port int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if port <= 0 || port >= maxPorts {
		return false
	}
	return c.pending[port]
}

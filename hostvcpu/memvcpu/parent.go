//go:build linux

package memvcpu

import "github.com/SeanTBooker/MicroV/hostvcpu"

// Parent is a plain-memory-backed simulated parent vCPU. It records the
// actions the xen shim takes on it (loads, queued/pushed interrupts,
// yields, resumes) so tests can assert on them.
type Parent struct {
	loads     int
	queued    []uint32
	pushed    []uint32
	resumes   int
	yields    []uint64
	msiByVec  map[uint32]msi
	pciAdds   [][]byte
}

type msi struct {
	vector  uint32
	vcpuid  uint32
}

func (m msi) Vector() uint32      { return m.vector }
func (m msi) GuestVCPUID() uint32 { return m.vcpuid }

// NewParent creates a Parent with no guest MSI mappings.
func NewParent() *Parent {
	return &Parent{msiByVec: make(map[uint32]msi)}
}

// SetGuestMSI registers a guest MSI mapping for vector, owned by the vCPU
// identified by vcpuid.
func (p *Parent) SetGuestMSI(vector uint32, vcpuid uint32) {
	p.msiByVec[vector] = msi{vector: vector, vcpuid: vcpuid}
}

func (p *Parent) Load()                                { p.loads++ }
func (p *Parent) QueueExternalInterrupt(vector uint32)  { p.queued = append(p.queued, vector) }
func (p *Parent) PushExternalInterrupt(vector uint32)   { p.pushed = append(p.pushed, vector) }
func (p *Parent) ReturnResumeAfterInterrupt()           { p.resumes++ }
func (p *Parent) ReturnYield(us uint64)                 { p.yields = append(p.yields, us) }

func (p *Parent) FindGuestMSI(vector uint32) (hostvcpu.GuestMSI, bool) {
	m, ok := p.msiByVec[vector]
	if !ok {
		return nil, false
	}

	return m, true
}

func (p *Parent) AddPCIDevice(raw []byte) error {
	p.pciAdds = append(p.pciAdds, raw)
	return nil
}

// Loads reports how many times Load was called.
func (p *Parent) Loads() int { return p.loads }

// QueuedInterrupts returns the vectors queued directly on the parent.
func (p *Parent) QueuedInterrupts() []uint32 { return p.queued }

// PushedInterrupts returns the vectors pushed to the parent from a sibling
// vCPU.
func (p *Parent) PushedInterrupts() []uint32 { return p.pushed }

// Resumes reports how many times ReturnResumeAfterInterrupt was called.
func (p *Parent) Resumes() int { return p.resumes }

// Yields returns the microsecond budgets passed to ReturnYield, in order.
func (p *Parent) Yields() []uint64 { return p.yields }

// PCIDevicesAdded returns the raw physdev_op payloads passed to
// AddPCIDevice.
func (p *Parent) PCIDevicesAdded() [][]byte { return p.pciAdds }

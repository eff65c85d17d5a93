//go:build linux

package xen

import (
	"math/rand"
	"sync"

	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

// domidAllocator is the only process-wide mutable state the shim owns
// (spec.md §5, §9 "Global state"): a mutex-guarded monotonically
// increasing domain-id counter.
type domidAllocator struct {
	mu   sync.Mutex
	next uint32
}

func (a *domidAllocator) allocate() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	return a.next
}

var globalDomidAllocator domidAllocator

// Identity holds the four guest-visible ID scalars. vcpuid/apicid/acpiid
// are always pinned to 0 (spec.md §9 "Pinned identity"): the impersonated
// guest kernel hard-codes vcpu_info[0] for TSC calibration, so any other
// vcpuid divides by zero during early boot.
type Identity struct {
	DomID   uint32
	VCPUID  uint32
	APICID  uint32
	ACPIID  uint32
}

func newIdentity(dom hostvcpu.Domain) Identity {
	var id Identity

	if dom.InitDomain() {
		return id
	}

	id.DomID = globalDomidAllocator.allocate()

	if id.VCPUID >= abi.LegacyMaxVCPUs {
		panic("xen: vcpuid must stay below LegacyMaxVCPUs")
	}

	return id
}

// domainHandle seeds a 32-byte opaque handle from a domain id, the way
// the original seeds srand(dom->id()). Its consumer is out of scope here
// (spec.md §9, open question 2); this shim only needs to produce it.
func domainHandle(domID uint32) [32]byte {
	var h [32]byte

	r := rand.New(rand.NewSource(int64(domID)))
	for i := range h {
		h[i] = byte(r.Intn(256))
	}

	return h
}

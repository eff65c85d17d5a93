//go:build linux

// Package xen answers a PV-on-HVM guest's probing and hypercalls well
// enough that an unmodified guest kernel built against the impersonated
// ABI boots and runs on a host that is not that hypervisor. One Shim
// services exactly one guest vCPU (spec.md §1).
package xen

import (
	"log/slog"

	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
	"github.com/SeanTBooker/MicroV/xen/evtchn"
	"github.com/SeanTBooker/MicroV/xen/memops"
)

// initialReservationPages seeds the memops accounting counter
// XENMEM_decrease_reservation deducts from. No real allocator backs it;
// the number only has to be plausible enough that a guest balloon driver
// doesn't immediately see a negative reservation.
const initialReservationPages = 1 << 20

// Shim is the per-guest-vCPU hypercall and CPUID/MSR emulation state. It
// is grounded on the xen class in xen.cpp, with member fields translated
// to Go naming and the free functions it closed over folded into methods.
type Shim struct {
	vcpu hostvcpu.VCPU
	dom  hostvcpu.Domain
	id   Identity

	log *slog.Logger

	evtchn  *evtchn.Control
	memops  *memops.Service

	tscKHz   uint64
	tscMul   uint32
	tscShift int8
	petShift uint64

	shinfo     *abi.SharedInfo
	shinfoGPFN uint64
	userVTI    *abi.VCPUTimeInfo
	runstate   *abi.VCPURunstateInfo

	runstateAssist bool

	petEnabled  bool
	petHdlrsSet bool
	tscAtExit   uint64

	xdh [32]byte
}

// Config carries construction-time parameters that the host VM-exit
// framework supplies but that hostvcpu.VCPU has no getter for.
type Config struct {
	// Log receives structured diagnostics; a discarding logger is used
	// if nil.
	Log *slog.Logger
}

// New builds a Shim bound to vcpu and its owning domain, and registers
// all of the CPUID/MSR/VMCALL/exception handlers the guest needs to
// begin probing (spec.md §4.1-§4.2). It is grounded on xen::xen's
// constructor body in xen.cpp.
func New(vcpu hostvcpu.VCPU, dom hostvcpu.Domain, cfg Config) *Shim {
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}

	x := &Shim{
		vcpu:     vcpu,
		dom:      dom,
		id:       newIdentity(dom),
		log:      log,
		evtchn:   evtchn.New(dom.ID()),
		memops:   memops.New(initialReservationPages),
		tscKHz:   vcpu.TSCFreqKHz(),
		petShift: vcpu.PETShift(),
	}

	x.tscMul = tscMulFor(x.tscKHz)
	x.tscShift = 0
	x.xdh = domainHandle(dom.ID())

	vcpu.AddCPUIDHandler(leaf(0), x.cpuidLeaf0)
	vcpu.AddCPUIDHandler(leaf(2), x.cpuidLeaf2)
	vcpu.EmulateWRMSR(abi.HCallPageMSR, x.wrmsrHCallPage)
	vcpu.AddVMCallHandler(x.hypercall)
	vcpu.AddCPUIDHandler(leaf(1), x.cpuidLeaf1)
	vcpu.AddCPUIDHandler(leaf(4), x.cpuidLeaf4)
	vcpu.AddExceptionHandler(0, x.handleException)
	vcpu.EmulateWRMSR(abi.SelfIPIMSR, x.wrmsrSelfIPI)
	vcpu.AddInterruptHandler(x.handleInterrupt)

	return x
}

// leaf maps a zero-based PV CPUID leaf index to its absolute leaf number.
func leaf(i uint32) uint32 {
	return abi.LeafBase + i
}

// DomainHandle returns the opaque per-domain handle seeded at
// construction time.
func (x *Shim) DomainHandle() [32]byte {
	return x.xdh
}

// queueVIRQ raises virq on this shim's guest vCPU via the event-channel
// control block (spec.md §4.6, xen::queue_virq). Once shared_info is
// bound it also sets the port's bit in EvtchnPending and, unless the port
// is masked, the selector bit and upcall_pending of this vCPU.
func (x *Shim) queueVIRQ(virq uint32) {
	if !x.evtchn.QueueVIRQ(virq) || x.shinfo == nil {
		return
	}

	port, _ := x.evtchn.BindVIRQ(virq)
	word, bit := port/64, uint64(1)<<(port%64)
	x.shinfo.EvtchnPending[word] |= bit
	if x.shinfo.EvtchnMask[word]&bit != 0 {
		return
	}

	vi := &x.shinfo.VCPUInfo[x.id.VCPUID]
	vi.EvtchnPendingSel |= uint64(1) << word
	vi.EvtchnUpcallPending = 1
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

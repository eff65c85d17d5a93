//go:build linux

// Package hostvcpu declares the narrow interfaces the PV shim (package xen)
// consumes from the enclosing host VM-exit framework. The framework itself
// -- register access, GPA/GVA mapping, and MSR/CPUID/VMCALL/HLT/interrupt/
// preemption-timer handler registration -- is out of scope for the shim;
// this package only pins down the contract. See hostvcpu/memvcpu for a
// concrete, memory-backed implementation used by tests and the demo cmd.
package hostvcpu

// Regs gives the shim access to the general-purpose registers a VM-exit
// handler needs. The names match the teacher's kvm.Regs fields.
type Regs interface {
	RAX() uint64
	RBX() uint64
	RCX() uint64
	RDX() uint64
	RDI() uint64
	RSI() uint64
	R8() uint64
	R9() uint64
	RIP() uint64

	SetRAX(uint64)
	SetRBX(uint64)
	SetRCX(uint64)
	SetRDX(uint64)
	SetRDI(uint64)
	SetRSI(uint64)
	SetR8(uint64)
	SetR9(uint64)
	SetRIP(uint64)
}

// Mapping is a scoped view of guest memory obtained via MapGPA4K or
// MapGVA4K. It stays valid for the duration of the call that requested it.
type Mapping interface {
	Bytes() []byte
}

// CPUIDResult is what a CPUID leaf handler returns to be loaded into
// EAX/EBX/ECX/EDX.
type CPUIDResult struct {
	EAX, EBX, ECX, EDX uint32
}

type (
	CPUIDHandlerFunc     func(vcpu VCPU) CPUIDResult
	WRMSRHandlerFunc     func(vcpu VCPU, value uint64) bool
	VMCallHandlerFunc    func(vcpu VCPU) bool
	HLTHandlerFunc       func(vcpu VCPU) bool
	ExitHandlerFunc      func(vcpu VCPU) bool
	ExceptionHandlerFunc func(vcpu VCPU, vector uint32) bool
	InterruptHandlerFunc func(vcpu VCPU, vector uint32) bool
	ResumeDelegateFunc   func(vcpu VCPU)
	PETHandlerFunc       func(vcpu VCPU) bool
)

// VCPU is the per-guest-vCPU handle the shim registers itself against and
// drives hypercalls, interrupts, and timer events through.
type VCPU interface {
	Regs() Regs
	Advance()

	// RFlagsIF reports the guest's current IF (interrupt enable) flag.
	RFlagsIF() bool

	// ClearSTIBlocking clears the "blocking by STI" interruptibility bit,
	// as done right after a HLT that will yield to the parent.
	ClearSTIBlocking()

	MapGPA4K(addr uint64) (Mapping, error)
	MapGVA4K(addr uint64, length int) (Mapping, error)

	AddCPUIDHandler(leaf uint32, fn CPUIDHandlerFunc)
	EmulateWRMSR(msr uint32, fn WRMSRHandlerFunc)
	AddVMCallHandler(fn VMCallHandlerFunc)
	AddHLTHandler(fn HLTHandlerFunc)
	AddPreemptionTimerHandler(fn PETHandlerFunc)
	AddExitHandler(fn ExitHandlerFunc)
	AddExceptionHandler(vector uint32, fn ExceptionHandlerFunc)
	AddInterruptHandler(fn InterruptHandlerFunc)
	AddResumeDelegate(fn ResumeDelegateFunc)

	SetPreemptionTimer(ticks uint64)
	GetPreemptionTimer() uint64
	EnablePreemptionTimer()
	DisablePreemptionTimer()

	SaveXSTATE()

	QueueExternalInterrupt(vector uint32)
	PushExternalInterrupt(vector uint32)

	ParentVCPU() ParentVCPU

	// TSCFreqKHz and PETShift report the host-calibrated TSC frequency and
	// the shift applied to convert TSC ticks to preemption-timer ticks.
	TSCFreqKHz() uint64
	PETShift() uint64

	// ReadTSC returns the current value of the timestamp counter.
	ReadTSC() uint64
}

// GuestMSI describes a guest-owned MSI vector as resolved by the parent
// vCPU's PCI/MSI tables.
type GuestMSI interface {
	Vector() uint32
	GuestVCPUID() uint32
}

// ParentVCPU is the host-side vCPU backing this guest vCPU. It owns
// physical interrupt delivery and the yield-on-HLT contract.
type ParentVCPU interface {
	Load()
	QueueExternalInterrupt(vector uint32)
	PushExternalInterrupt(vector uint32)
	ReturnResumeAfterInterrupt()
	ReturnYield(microseconds uint64)
	FindGuestMSI(vector uint32) (GuestMSI, bool)
	AddPCIDevice(raw []byte) error
}

// StartOfDayInfo is the domain's boot-time TSC/wall-clock sample, used to
// derive the guest's wall clock in init_shared_info.
type StartOfDayInfo struct {
	TSC    uint64
	WCSec  uint64
	WCNsec uint64
}

// Domain is the enclosing domain object, supplying identity, start-of-day
// wall clock, and console rings.
type Domain interface {
	InitDomain() bool
	ID() uint32
	StartOfDay() StartOfDayInfo
	HVCRxGet(buf []byte) int
	HVCTxPut(buf []byte) int
}

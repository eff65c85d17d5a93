//go:build linux

// Package memvcpu is a plain-memory-backed implementation of the
// hostvcpu.VCPU contract. It plays the role the teacher's kvm package
// plays for a real KVM vCPU -- register storage and guest-memory access --
// but without the ioctls, so it can back both the demo cmd and the xen
// package's tests. Register layout is the teacher's kvm.Regs, reused
// directly rather than re-declared.
package memvcpu

import (
	"fmt"
	"time"

	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/kvm"
)

// Clock supplies the current TSC tick count.
type Clock func() uint64

// VCPU is a single guest vCPU backed by a flat slice of guest physical
// memory. It is not safe for concurrent use by multiple goroutines, which
// matches the real constraint: a vCPU's exits run on a single host thread
// (spec.md "SCHEDULING MODEL").
type VCPU struct {
	mem  []byte
	regs kvm.Regs
	rip  uint64

	ifFlag      bool
	stiBlocking bool

	cpuidHandlers     map[uint32]hostvcpu.CPUIDHandlerFunc
	msrHandlers       map[uint32]hostvcpu.WRMSRHandlerFunc
	vmcallHandlers    []hostvcpu.VMCallHandlerFunc
	hltHandlers       []hostvcpu.HLTHandlerFunc
	petHandlers       []hostvcpu.PETHandlerFunc
	exitHandlers      []hostvcpu.ExitHandlerFunc
	exceptionHandlers map[uint32]hostvcpu.ExceptionHandlerFunc
	interruptHandlers []hostvcpu.InterruptHandlerFunc
	resumeDelegates   []hostvcpu.ResumeDelegateFunc

	pet        uint64
	petEnabled bool
	tscKHz     uint64
	petShift   uint64
	clock      Clock

	parent *Parent

	xstateSaved int
	queuedExtIR []uint32
	pushedExtIR []uint32
}

// New creates a VCPU over mem with the given TSC frequency (kHz) and
// preemption-timer shift. If clock is nil, a wall-clock-derived Clock is
// used.
func New(mem []byte, tscKHz uint64, petShift uint64, clock Clock) *VCPU {
	if clock == nil {
		start := time.Now()
		clock = func() uint64 {
			ns := uint64(time.Since(start).Nanoseconds())
			return ns * tscKHz / 1_000_000
		}
	}

	return &VCPU{
		mem:               mem,
		ifFlag:            true,
		cpuidHandlers:     make(map[uint32]hostvcpu.CPUIDHandlerFunc),
		msrHandlers:       make(map[uint32]hostvcpu.WRMSRHandlerFunc),
		exceptionHandlers: make(map[uint32]hostvcpu.ExceptionHandlerFunc),
		tscKHz:            tscKHz,
		petShift:          petShift,
		clock:             clock,
	}
}

// SetParent attaches the simulated parent vCPU this guest vCPU defers to.
func (v *VCPU) SetParent(p *Parent) { v.parent = p }

// SetIF sets the guest's simulated RFLAGS.IF, for HLT-handling tests.
func (v *VCPU) SetIF(on bool) { v.ifFlag = on }

// mem1 is a Mapping over a []byte slice of guest memory.
type mem1 struct{ b []byte }

func (m mem1) Bytes() []byte { return m.b }

func (v *VCPU) Regs() hostvcpu.Regs { return (*regsView)(v) }

func (v *VCPU) Advance() { v.rip += 1 }

func (v *VCPU) RFlagsIF() bool { return v.ifFlag }

func (v *VCPU) ClearSTIBlocking() { v.stiBlocking = false }

func (v *VCPU) MapGPA4K(addr uint64) (hostvcpu.Mapping, error) {
	return v.mapRange(addr, 0x1000)
}

func (v *VCPU) MapGVA4K(addr uint64, length int) (hostvcpu.Mapping, error) {
	return v.mapRange(addr, length)
}

func (v *VCPU) mapRange(addr uint64, length int) (hostvcpu.Mapping, error) {
	end := addr + uint64(length)
	if end > uint64(len(v.mem)) || end < addr {
		return nil, fmt.Errorf("memvcpu: map [%#x, %#x) out of range (mem size %#x)", addr, end, len(v.mem))
	}

	return mem1{b: v.mem[addr:end]}, nil
}

func (v *VCPU) AddCPUIDHandler(leaf uint32, fn hostvcpu.CPUIDHandlerFunc) {
	v.cpuidHandlers[leaf] = fn
}

func (v *VCPU) EmulateWRMSR(msr uint32, fn hostvcpu.WRMSRHandlerFunc) {
	v.msrHandlers[msr] = fn
}

func (v *VCPU) AddVMCallHandler(fn hostvcpu.VMCallHandlerFunc) {
	v.vmcallHandlers = append(v.vmcallHandlers, fn)
}

func (v *VCPU) AddHLTHandler(fn hostvcpu.HLTHandlerFunc) {
	v.hltHandlers = append(v.hltHandlers, fn)
}

func (v *VCPU) AddPreemptionTimerHandler(fn hostvcpu.PETHandlerFunc) {
	v.petHandlers = append(v.petHandlers, fn)
}

func (v *VCPU) AddExitHandler(fn hostvcpu.ExitHandlerFunc) {
	v.exitHandlers = append(v.exitHandlers, fn)
}

func (v *VCPU) AddExceptionHandler(vector uint32, fn hostvcpu.ExceptionHandlerFunc) {
	v.exceptionHandlers[vector] = fn
}

func (v *VCPU) AddInterruptHandler(fn hostvcpu.InterruptHandlerFunc) {
	v.interruptHandlers = append(v.interruptHandlers, fn)
}

func (v *VCPU) AddResumeDelegate(fn hostvcpu.ResumeDelegateFunc) {
	v.resumeDelegates = append(v.resumeDelegates, fn)
}

func (v *VCPU) SetPreemptionTimer(ticks uint64) { v.pet = ticks }
func (v *VCPU) GetPreemptionTimer() uint64       { return v.pet }
func (v *VCPU) EnablePreemptionTimer()           { v.petEnabled = true }
func (v *VCPU) DisablePreemptionTimer()          { v.petEnabled = false }

func (v *VCPU) SaveXSTATE() { v.xstateSaved++ }

func (v *VCPU) QueueExternalInterrupt(vector uint32) {
	v.queuedExtIR = append(v.queuedExtIR, vector)
}

func (v *VCPU) PushExternalInterrupt(vector uint32) {
	v.pushedExtIR = append(v.pushedExtIR, vector)
}

func (v *VCPU) ParentVCPU() hostvcpu.ParentVCPU {
	if v.parent == nil {
		return nil
	}
	return v.parent
}

func (v *VCPU) TSCFreqKHz() uint64 { return v.tscKHz }
func (v *VCPU) PETShift() uint64   { return v.petShift }
func (v *VCPU) ReadTSC() uint64    { return v.clock() }

// Exit runs every registered exit handler, mimicking a host VM-exit
// framework dispatching its general exit hook (used for the save-TSC
// handler added once a single-shot timer has been armed).
func (v *VCPU) Exit() {
	for _, fn := range v.exitHandlers {
		fn(v)
	}
}

// Resume runs every registered resume delegate, mimicking the host
// framework's post-exit resume hook.
func (v *VCPU) Resume() {
	for _, fn := range v.resumeDelegates {
		fn(v)
	}
}

// FirePET invokes every registered preemption-timer handler, as the host
// framework would on a PET vmexit.
func (v *VCPU) FirePET() bool {
	handled := false
	for _, fn := range v.petHandlers {
		if fn(v) {
			handled = true
		}
	}

	return handled
}

// CPUID simulates the guest executing the CPUID instruction for leaf.
func (v *VCPU) CPUID(leaf uint32) (hostvcpu.CPUIDResult, bool) {
	fn, ok := v.cpuidHandlers[leaf]
	if !ok {
		return hostvcpu.CPUIDResult{}, false
	}

	return fn(v), true
}

// WRMSR simulates the guest writing value to msr.
func (v *VCPU) WRMSR(msr uint32, value uint64) bool {
	fn, ok := v.msrHandlers[msr]
	if !ok {
		return false
	}

	return fn(v, value)
}

// VMCall simulates the guest executing a hypercall vmcall instruction.
func (v *VCPU) VMCall() bool {
	for _, fn := range v.vmcallHandlers {
		if fn(v) {
			return true
		}
	}

	return false
}

// HLT simulates the guest executing HLT.
func (v *VCPU) HLT() bool {
	for _, fn := range v.hltHandlers {
		if fn(v) {
			return true
		}
	}

	return false
}

// Interrupt simulates an external interrupt VM-exit for vector.
func (v *VCPU) Interrupt(vector uint32) bool {
	for _, fn := range v.interruptHandlers {
		if fn(v, vector) {
			return true
		}
	}

	return false
}

// Exception simulates an exception VM-exit for vector.
func (v *VCPU) Exception(vector uint32) bool {
	fn, ok := v.exceptionHandlers[vector]
	if !ok {
		return false
	}

	return fn(v, vector)
}

// QueuedExternalInterrupts returns the vectors queued locally via
// QueueExternalInterrupt, in order, for test assertions.
func (v *VCPU) QueuedExternalInterrupts() []uint32 { return v.queuedExtIR }

// PushedExternalInterrupts returns the vectors pushed to another vCPU via
// PushExternalInterrupt, in order, for test assertions.
func (v *VCPU) PushedExternalInterrupts() []uint32 { return v.pushedExtIR }

// XSTATESaveCount reports how many times SaveXSTATE was called.
func (v *VCPU) XSTATESaveCount() int { return v.xstateSaved }

// regsView adapts *VCPU to hostvcpu.Regs over the embedded kvm.Regs.
type regsView VCPU

func (r *regsView) RAX() uint64 { return r.regs.RAX }
func (r *regsView) RBX() uint64 { return r.regs.RBX }
func (r *regsView) RCX() uint64 { return r.regs.RCX }
func (r *regsView) RDX() uint64 { return r.regs.RDX }
func (r *regsView) RDI() uint64 { return r.regs.RDI }
func (r *regsView) RSI() uint64 { return r.regs.RSI }
func (r *regsView) R8() uint64  { return r.regs.R8 }
func (r *regsView) R9() uint64  { return r.regs.R9 }
func (r *regsView) RIP() uint64 { return r.rip }

func (r *regsView) SetRAX(v uint64) { r.regs.RAX = v }
func (r *regsView) SetRBX(v uint64) { r.regs.RBX = v }
func (r *regsView) SetRCX(v uint64) { r.regs.RCX = v }
func (r *regsView) SetRDX(v uint64) { r.regs.RDX = v }
func (r *regsView) SetRDI(v uint64) { r.regs.RDI = v }
func (r *regsView) SetRSI(v uint64) { r.regs.RSI = v }
func (r *regsView) SetR8(v uint64)  { r.regs.R8 = v }
func (r *regsView) SetR9(v uint64)  { r.regs.R9 = v }
func (r *regsView) SetRIP(v uint64) { r.rip = v }

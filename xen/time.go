//go:build linux

package xen

import (
	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

// tscToNS converts a tick count to nanoseconds:
// ns = ((ticks << shift) * mul) >> 32 (spec.md §3).
func tscToNS(ticks uint64, shift int8, mul uint32) uint64 {
	return ((ticks << uint(shift)) * uint64(mul)) >> 32
}

// nsToTSC converts nanoseconds back to a tick count:
// ticks = ((ns << 32) / mul) >> shift (spec.md §3).
func nsToTSC(ns uint64, shift int8, mul uint32) uint64 {
	return ((ns << 32) / uint64(mul)) >> uint(shift)
}

// tscToPET converts a raw TSC delta into preemption-timer ticks.
func tscToPET(tsc uint64, petShift uint64) uint64 {
	return tsc >> petShift
}

// tscMulFor computes the tsc_to_system_mul for a TSC running at tscKHz:
// mul = (10^9 << 32) / (tscKHz * 1000). With tsc_shift fixed at 0 the
// result only fits in 32 bits for a TSC faster than 1 GHz; at or below
// 1 GHz it saturates at the largest 32-bit value instead of wrapping.
func tscMulFor(tscKHz uint64) uint32 {
	mul := (uint64(1_000_000_000) << 32) / (tscKHz * 1000)
	if mul > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(mul)
}

// vcpuTime returns the kernel vcpu_time_info slot for this shim's (pinned
// to zero) vcpuid.
func (x *Shim) vcpuTime() *abi.VCPUTimeInfo {
	return &x.shinfo.VCPUInfo[x.id.VCPUID].Time
}

// initSharedInfo binds the guest's shared_info page, seeds the kernel
// vcpu_time_info, derives the wall clock from the domain's start-of-day
// sample, and registers the resume delegate that keeps runstate and the
// preemption timer current across VM-exits (spec.md §4.4).
func (x *Shim) initSharedInfo(gpfn uint64) {
	mapping, err := x.vcpu.MapGPA4K(gpfn << 12)
	if err != nil {
		panic(err)
	}

	x.shinfo = hostvcpu.As[abi.SharedInfo](mapping)
	x.shinfoGPFN = gpfn

	vti := x.vcpuTime()
	vti.Flags |= abi.TSCStableBit
	vti.TSCShift = x.tscShift
	vti.TSCToSystemMul = x.tscMul

	sod := x.dom.StartOfDay()
	now := x.vcpu.ReadTSC()

	wcNsec := tscToNS(now-sod.TSC, x.tscShift, x.tscMul)
	wcSec := wcNsec / 1_000_000_000
	wcNsec %= 1_000_000_000

	wcNsec += sod.WCNsec
	wcSec += sod.WCSec
	if wcNsec >= 1_000_000_000 {
		wcNsec -= 1_000_000_000
		wcSec++
	}

	abi.BeginSeqWrite32(&x.shinfo.WCVersion)
	x.shinfo.WCNsec = uint32(wcNsec)
	x.shinfo.WCSec = uint32(wcSec)
	x.shinfo.WCSecHi = uint32(wcSec >> 32)
	abi.EndSeqWrite32(&x.shinfo.WCVersion)
	vti.TSCTimestamp = now

	x.vcpu.AddResumeDelegate(x.resumeUpdate)
}

// resumeUpdate is the per-exit resume delegate: it advances runstate to
// RUNNING and, if the preemption timer is armed, steals the ticks spent
// handling the exit (spec.md §4.4, §4.5).
func (x *Shim) resumeUpdate(_ hostvcpu.VCPU) {
	x.updateRunstate(abi.RunstateRunning)

	if x.petEnabled {
		x.stealPETTicks()
	}
}

// updateRunstate advances the kernel vcpu_time_info to "now", mirrors it
// into the user copy if registered, and moves the runstate machine to
// newState, accumulating elapsed time in the outgoing state (spec.md
// §4.4).
func (x *Shim) updateRunstate(newState uint32) {
	if x.shinfo == nil {
		return
	}

	kvti := x.vcpuTime()
	mult := kvti.TSCToSystemMul
	shift := kvti.TSCShift
	prev := kvti.TSCTimestamp

	abi.BeginSeqWrite32(&kvti.Version)
	next := x.vcpu.ReadTSC()
	kvti.SystemTime += tscToNS(next-prev, shift, mult)
	kvti.TSCTimestamp = next
	abi.EndSeqWrite32(&kvti.Version)

	if x.userVTI != nil {
		abi.BeginSeqWrite32(&x.userVTI.Version)
		x.userVTI.SystemTime = kvti.SystemTime
		x.userVTI.TSCTimestamp = next
		abi.EndSeqWrite32(&x.userVTI.Version)
	}

	if x.runstate == nil {
		return
	}

	oldState := x.runstate.State
	oldEntry := x.runstate.StateEntryTime

	x.runstate.Time[oldState] += kvti.SystemTime - oldEntry
	x.runstate.State = newState

	abi.WriteRunstateEntryTime(&x.runstate.StateEntryTime, kvti.SystemTime, x.runstateAssist)
}

// updateWallclock recomputes the shared-info wall clock from a
// platform_op(settime64) request (spec.md §4.4).
func (x *Shim) updateWallclock(t *abi.Settime64) {
	abi.BeginSeqWrite32(&x.shinfo.WCVersion)

	secNs := uint64(t.Secs)*1_000_000_000 + uint64(t.Nsecs)
	rem := secNs - t.SystemTime
	nsec := uint32(rem % 1_000_000_000)
	sec := rem / 1_000_000_000

	x.shinfo.WCSec = uint32(sec)
	x.shinfo.WCSecHi = uint32(sec >> 32)
	x.shinfo.WCNsec = nsec

	abi.EndSeqWrite32(&x.shinfo.WCVersion)
}

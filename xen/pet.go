//go:build linux

package xen

import (
	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

// stopTimer disarms the preemption timer (spec.md §4.5).
func (x *Shim) stopTimer() {
	x.vcpu.DisablePreemptionTimer()
	x.petEnabled = false
}

// setTimer arms the preemption timer to fire at sst.TimeoutAbsNs, or
// fails with ETIME if the deadline has already passed and the FUTURE
// flag was given (spec.md §4.3 "set_singleshot_timer").
func (x *Shim) setTimer(sst *abi.SetSingleshotTimer) int64 {
	var pet uint64

	vti := x.vcpuTime()

	if vti.SystemTime >= sst.TimeoutAbsNs {
		if sst.Flags&abi.VCPUSSHOTTMRFuture != 0 {
			return -abi.ETIME
		}

		pet = 0
	} else {
		ns := sst.TimeoutAbsNs - vti.SystemTime
		tsc := nsToTSC(ns, vti.TSCShift, vti.TSCToSystemMul)
		pet = tscToPET(tsc, x.petShift)
	}

	x.vcpu.SetPreemptionTimer(pet)
	x.vcpu.EnablePreemptionTimer()
	x.petEnabled = true

	return 0
}

// stealPETTicks reduces the remaining preemption-timer count by the
// ticks spent outside the guest between the last exit and this resume
// (spec.md §4.5). tscAtExit == 0 disables stealing, which guards the
// first resume before any exit has captured a baseline.
func (x *Shim) stealPETTicks() {
	if x.tscAtExit == 0 {
		return
	}

	pet := x.vcpu.GetPreemptionTimer()
	tsc := x.vcpuTime().TSCTimestamp
	stolenTSC := tsc - x.tscAtExit
	stolenPET := stolenTSC >> x.petShift

	if stolenPET >= pet {
		pet = 0
	} else {
		pet -= stolenPET
	}

	x.vcpu.SetPreemptionTimer(pet)
}

// vmexitSaveTSC is the general exit handler installed alongside the
// first single-shot timer: it captures the TSC value at VM-exit so the
// next resume can compute how much was stolen.
func (x *Shim) vmexitSaveTSC(vcpu hostvcpu.VCPU) bool {
	if x.petEnabled {
		x.tscAtExit = vcpu.ReadTSC()
	}

	return true
}

// handlePET is the preemption-timer fire handler: it disarms the timer
// and queues the TIMER VIRQ (spec.md §4.5).
func (x *Shim) handlePET(_ hostvcpu.VCPU) bool {
	x.stopTimer()
	x.queueVIRQ(abi.VIRQTimer)

	return true
}

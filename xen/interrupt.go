//go:build linux

package xen

import (
	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

// handleInterrupt reflects a host interrupt either to this guest vCPU, if
// it owns the resolved MSI, or to the parent vCPU (spec.md §4.6 "External
// interrupt"). The shim services exactly one guest vCPU (spec.md §1), so
// any MSI not addressed to it is pushed back to the parent rather than
// routed to a sibling.
func (x *Shim) handleInterrupt(vcpu hostvcpu.VCPU, vector uint32) bool {
	parent := vcpu.ParentVCPU()

	if msi, ok := parent.FindGuestMSI(vector); ok {
		if msi.GuestVCPUID() == x.id.VCPUID {
			vcpu.QueueExternalInterrupt(msi.Vector())
		} else {
			parent.PushExternalInterrupt(msi.Vector())
		}

		return true
	}

	vcpu.SaveXSTATE()
	x.updateRunstate(abi.RunstateRunnable)

	parent.Load()
	parent.QueueExternalInterrupt(vector)
	parent.ReturnResumeAfterInterrupt()

	return true
}

// handleHLT implements the guest HLT VM-exit (spec.md §4.6 "HLT"). If the
// guest has interrupts masked (IF=0), the exit is left to the host's
// default handling.
func (x *Shim) handleHLT(vcpu hostvcpu.VCPU) bool {
	if !vcpu.RFlagsIF() {
		return false
	}

	vcpu.Advance()
	x.queueVIRQ(abi.VIRQTimer)
	x.updateRunstate(abi.RunstateBlocked)
	vcpu.ClearSTIBlocking()

	pet := vcpu.GetPreemptionTimer()
	yieldUs := (pet << x.petShift) * 1000 / vcpu.TSCFreqKHz()

	vcpu.SaveXSTATE()

	parent := vcpu.ParentVCPU()
	parent.Load()
	parent.ReturnYield(yieldUs)

	return true
}

//go:build linux

package xen

import (
	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

// registerVCPUTimeMemoryArea maps the guest's user vcpu_time_info copy
// and seeds it from the kernel copy (spec.md §4.3
// "register_vcpu_time_memory_area"). It requires shared_info to already
// be bound; ordering is an explicit guard here rather than left unguarded
// (spec.md §9, open question 3).
func (x *Shim) registerVCPUTimeMemoryArea(addr uint64) {
	if x.shinfo == nil {
		panic("xen: register_vcpu_time_memory_area before init_shared_info")
	}

	mapping, err := x.vcpu.MapGVA4K(addr, pageSize)
	if err != nil {
		panic(err)
	}

	x.userVTI = hostvcpu.As[abi.VCPUTimeInfo](mapping)
	*x.userVTI = *x.vcpuTime()
}

// registerRunstateMemoryArea maps the guest's runstate accounting area
// and initializes it to RUNNING with state_entry_time at the current
// system time (spec.md §4.3 "register_runstate_memory_area").
func (x *Shim) registerRunstateMemoryArea(addr uint64) {
	mapping, err := x.vcpu.MapGVA4K(addr, pageSize)
	if err != nil {
		panic(err)
	}

	x.runstate = hostvcpu.As[abi.VCPURunstateInfo](mapping)
	x.runstate.State = abi.RunstateRunning
	x.runstate.StateEntryTime = x.vcpuTime().SystemTime
	x.runstate.Time[abi.RunstateRunning] = x.runstate.StateEntryTime
}

const pageSize = 0x1000

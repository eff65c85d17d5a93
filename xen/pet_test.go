//go:build linux

package xen

import (
	"testing"

	"github.com/SeanTBooker/MicroV/hostvcpu/memvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

func TestSetTimerFuturePastDeadline(t *testing.T) {
	const tscKHz = 1_000_000
	tick := uint64(1_000_000_000) // system_time will already be well past this

	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, tscKHz, 4, func() uint64 { return tick })
	x := New(v, &fakeDomain{}, Config{})
	x.initSharedInfo(4)

	vti := x.vcpuTime()
	vti.SystemTime = 10_000

	sst := &abi.SetSingleshotTimer{TimeoutAbsNs: 1, Flags: abi.VCPUSSHOTTMRFuture}
	if got := x.setTimer(sst); got != -abi.ETIME {
		t.Fatalf("setTimer = %d, want -ETIME", got)
	}
}

func TestSetTimerArmsPETTicks(t *testing.T) {
	const tscKHz = 1_000_000
	tick := uint64(0)

	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, tscKHz, 4, func() uint64 { return tick })
	x := New(v, &fakeDomain{}, Config{})
	x.initSharedInfo(4)

	vti := x.vcpuTime()
	vti.SystemTime = 0

	// One millisecond deadline.
	sst := &abi.SetSingleshotTimer{TimeoutAbsNs: 1_000_000}
	if got := x.setTimer(sst); got != 0 {
		t.Fatalf("setTimer = %d, want 0", got)
	}

	if !x.petEnabled {
		t.Error("petEnabled not set after arming")
	}
	if v.GetPreemptionTimer() == 0 {
		t.Error("preemption timer not armed with nonzero ticks")
	}
}

func TestHandlePETQueuesTimerVIRQ(t *testing.T) {
	const tscKHz = 1_000_000

	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, tscKHz, 4, func() uint64 { return 0 })
	x := New(v, &fakeDomain{}, Config{})
	x.initSharedInfo(4)

	v.AddPreemptionTimerHandler(x.handlePET)
	v.SetPreemptionTimer(10)
	v.EnablePreemptionTimer()
	x.petEnabled = true

	if !v.FirePET() {
		t.Fatal("no PET handler fired")
	}
	if x.petEnabled {
		t.Error("petEnabled still set after fire")
	}

	pending := x.shinfo.VCPUInfo[x.id.VCPUID].EvtchnUpcallPending
	if pending == 0 {
		t.Error("upcall_pending not raised for the queued TIMER VIRQ")
	}
}

func TestStealPETTicksReducesRemaining(t *testing.T) {
	const tscKHz = 1_000_000
	const petShift = 4
	tick := uint64(0)

	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, tscKHz, petShift, func() uint64 { return tick })
	x := New(v, &fakeDomain{}, Config{})
	x.initSharedInfo(4)

	x.tscAtExit = 1000
	v.SetPreemptionTimer(100)

	vti := x.vcpuTime()
	vti.TSCTimestamp = 1000 + (50 << petShift)

	x.stealPETTicks()

	if got := v.GetPreemptionTimer(); got != 50 {
		t.Errorf("remaining PET = %d, want 50", got)
	}
}

func TestStealPETTicksFloorsAtZero(t *testing.T) {
	const tscKHz = 1_000_000
	const petShift = 4

	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, tscKHz, petShift, func() uint64 { return 0 })
	x := New(v, &fakeDomain{}, Config{})
	x.initSharedInfo(4)

	x.tscAtExit = 1000
	v.SetPreemptionTimer(5)

	vti := x.vcpuTime()
	vti.TSCTimestamp = 1000 + (50 << petShift)

	x.stealPETTicks()

	if got := v.GetPreemptionTimer(); got != 0 {
		t.Errorf("remaining PET = %d, want floored to 0", got)
	}
}

func TestStealPETTicksDisabledBeforeFirstExit(t *testing.T) {
	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, 1_000_000, 4, func() uint64 { return 0 })
	x := New(v, &fakeDomain{}, Config{})
	x.initSharedInfo(4)

	v.SetPreemptionTimer(42)
	x.stealPETTicks() // tscAtExit == 0: no-op

	if got := v.GetPreemptionTimer(); got != 42 {
		t.Errorf("remaining PET = %d, want unchanged 42", got)
	}
}

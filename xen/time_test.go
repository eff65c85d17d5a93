//go:build linux

package xen

import (
	"testing"

	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/hostvcpu/memvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

func TestTSCRoundTrip(t *testing.T) {
	const shift = int8(0)
	mul := tscMulFor(2_000_000) // 2 GHz

	ticks := uint64(3_500_000_000)
	ns := tscToNS(ticks, shift, mul)
	back := nsToTSC(ns, shift, mul)

	// Integer division loses at most a handful of ticks; require close
	// agreement rather than bit-exactness.
	diff := int64(ticks) - int64(back)
	if diff < -2 || diff > 2 {
		t.Fatalf("round trip drifted: ticks=%d back=%d", ticks, back)
	}
}

// TestInitSharedInfoWallclock exercises the worked example from the
// clock model: start-of-day {tsc:0, wc_sec:1_700_000_000, wc_nsec:0},
// current TSC = 2 seconds worth of ticks, so wc_sec should read
// 1_700_000_002 after init_shared_info and wc_version should be even.
func TestInitSharedInfoWallclock(t *testing.T) {
	const tscKHz = 2_000_000 // 2 GHz, keeps tsc_mul << 2^32

	now := uint64(2) * tscKHz * 1000

	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, tscKHz, 8, func() uint64 { return now })

	dom := &fakeDomain{
		sod: hostvcpu.StartOfDayInfo{TSC: 0, WCSec: 1_700_000_000, WCNsec: 0},
	}

	x := New(v, dom, Config{})
	x.initSharedInfo(3) // gpfn 3 -> gpa 0x3000

	if x.shinfo.WCSec != 1_700_000_002 {
		t.Errorf("wc_sec = %d, want 1700000002", x.shinfo.WCSec)
	}
	if x.shinfo.WCVersion%2 != 0 {
		t.Errorf("wc_version = %d, want even", x.shinfo.WCVersion)
	}

	vti := x.vcpuTime()
	if vti.Flags&abi.TSCStableBit == 0 {
		t.Error("TSC_STABLE_BIT not set")
	}
	if vti.TSCTimestamp != now {
		t.Errorf("tsc_timestamp = %d, want %d", vti.TSCTimestamp, now)
	}
}

func TestUpdateRunstateAccumulatesTime(t *testing.T) {
	const tscKHz = 1_000_000
	tick := uint64(0)
	clock := func() uint64 { return tick }

	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, tscKHz, 8, clock)
	dom := &fakeDomain{}

	x := New(v, dom, Config{})
	x.initSharedInfo(4)
	x.registerRunstateMemoryArea(0x10000)

	if x.runstate.State != abi.RunstateRunning {
		t.Fatalf("initial state = %d, want RUNNING", x.runstate.State)
	}

	tick = tscKHz * 1000 // advance one second
	x.updateRunstate(abi.RunstateBlocked)

	if x.runstate.State != abi.RunstateBlocked {
		t.Errorf("state = %d, want BLOCKED", x.runstate.State)
	}
	if x.runstate.Time[abi.RunstateRunning] == 0 {
		t.Error("no time accrued in RUNNING before the transition")
	}

	total := uint64(0)
	for _, ns := range x.runstate.Time {
		total += ns
	}
	if total == 0 {
		t.Error("runstate.Time sums to zero after a transition")
	}
}

func TestUpdateRunstateAssistProtocol(t *testing.T) {
	const tscKHz = 1_000_000
	tick := uint64(0)
	clock := func() uint64 { return tick }

	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, tscKHz, 8, clock)
	dom := &fakeDomain{}

	x := New(v, dom, Config{})
	x.initSharedInfo(4)
	x.registerRunstateMemoryArea(0x10000)
	x.runstateAssist = true

	tick = tscKHz * 1000
	x.updateRunstate(abi.RunstateRunnable)

	if x.runstate.StateEntryTime&abi.XenRunstateUpdate != 0 {
		t.Error("state_entry_time left with the update bit set after the write completed")
	}
}

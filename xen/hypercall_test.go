//go:build linux

package xen

import (
	"testing"

	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/hostvcpu/memvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

func newHypercallShim(t *testing.T) (*Shim, *memvcpu.VCPU) {
	t.Helper()
	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, 1_000_000, 4, func() uint64 { return 0 })
	p := memvcpu.NewParent()
	v.SetParent(p)
	x := New(v, &fakeDomain{}, Config{})
	x.initSharedInfo(4)
	return x, v
}

func TestHypercallVMAssistRunstateUpdateFlag(t *testing.T) {
	_, v := newHypercallShim(t)
	regs := v.Regs()

	regs.SetRAX(abi.HypercallVMAssist)
	regs.SetRDI(abi.VMAssistCmdEnable)
	regs.SetRSI(abi.VMAssistTypeRunstateUpdateFlag)

	if !v.VMCall() {
		t.Fatal("vm_assist not handled")
	}
	if regs.RAX() != 0 {
		t.Errorf("RAX = %d, want 0", regs.RAX())
	}
}

func TestHypercallEventChannelAllocAndSend(t *testing.T) {
	_, v := newHypercallShim(t)
	regs := v.Regs()

	regs.SetRAX(abi.HypercallEventChannelOp)
	regs.SetRDI(abi.EvtchnOpAllocUnbound)
	if !v.VMCall() {
		t.Fatal("alloc_unbound not handled")
	}
	port := regs.RAX()
	if port == 0 {
		t.Fatal("alloc_unbound returned port 0")
	}

	regs.SetRAX(abi.HypercallEventChannelOp)
	regs.SetRDI(abi.EvtchnOpSend)
	regs.SetRDX(port)
	if !v.VMCall() {
		t.Fatal("send not handled")
	}
	if regs.RAX() != 0 {
		t.Errorf("send RAX = %d, want 0", regs.RAX())
	}
}

func TestHypercallEventChannelBindVIRQIsIdempotent(t *testing.T) {
	_, v := newHypercallShim(t)
	regs := v.Regs()

	regs.SetRAX(abi.HypercallEventChannelOp)
	regs.SetRDI(abi.EvtchnOpBindVIRQ)
	regs.SetRDX(abi.VIRQTimer)
	if !v.VMCall() {
		t.Fatal("bind_virq not handled")
	}
	first := regs.RAX()

	regs.SetRAX(abi.HypercallEventChannelOp)
	regs.SetRDI(abi.EvtchnOpBindVIRQ)
	regs.SetRDX(abi.VIRQTimer)
	if !v.VMCall() {
		t.Fatal("bind_virq (2nd) not handled")
	}
	if regs.RAX() != first {
		t.Errorf("second bind_virq returned a different port: %d != %d", regs.RAX(), first)
	}
}

func TestHypercallPlatformOpSettime64(t *testing.T) {
	x, v := newHypercallShim(t)
	regs := v.Regs()

	const argAddr = 0x20000

	header, err := v.MapGVA4K(argAddr, 80)
	if err != nil {
		t.Fatal(err)
	}
	xpf := hostvcpu.As[abi.PlatformOp](header)
	xpf.InterfaceVersion = abi.PlatformInterfaceVersion
	xpf.Cmd = abi.XENPFSettime64

	// The settime64 union member starts 8 bytes into xen_platform_op_t.
	body, err := v.MapGVA4K(argAddr+8, 24)
	if err != nil {
		t.Fatal(err)
	}
	*hostvcpu.As[abi.Settime64](body) = abi.Settime64{Secs: 1700, Nsecs: 0, SystemTime: 0}

	regs.SetRAX(abi.HypercallPlatformOp)
	regs.SetRDI(argAddr)
	if !v.VMCall() {
		t.Fatal("platform_op settime64 not handled")
	}
	if regs.RAX() != 0 {
		t.Errorf("RAX = %d, want 0", regs.RAX())
	}
	if x.shinfo.WCSec != 1700 {
		t.Errorf("wc_sec = %d, want 1700", x.shinfo.WCSec)
	}
}

func TestHypercallConsoleIORestrictedToInitDomain(t *testing.T) {
	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, 1_000_000, 4, func() uint64 { return 0 })
	x := New(v, &fakeDomain{initdom: false}, Config{})
	_ = x

	regs := v.Regs()
	regs.SetRAX(abi.HypercallConsoleIO)
	regs.SetRDI(abi.ConsoleIOWrite)
	regs.SetRSI(0)
	regs.SetRDX(0)

	if v.VMCall() {
		t.Fatal("console_io should be refused for a non-init domain")
	}
}

func TestHypercallAddToPhysmapBindsSharedInfo(t *testing.T) {
	mem := make([]byte, 1<<20)
	v := memvcpu.New(mem, 1_000_000, 4, func() uint64 { return 0 })
	x := New(v, &fakeDomain{}, Config{})

	const argAddr = 0x30000
	arg, err := func() (*abi.AddToPhysmap, error) {
		m, err := v.MapGVA4K(argAddr, 24)
		if err != nil {
			return nil, err
		}
		return hostvcpu.As[abi.AddToPhysmap](m), nil
	}()
	if err != nil {
		t.Fatal(err)
	}
	arg.Space = abi.XenmapspaceSharedInfo
	arg.GPFN = 5

	regs := v.Regs()
	regs.SetRAX(abi.HypercallMemoryOp)
	regs.SetRDI(abi.XenmemAddToPhysmap)
	regs.SetRSI(argAddr)

	if !v.VMCall() {
		t.Fatal("add_to_physmap(shared_info) not handled")
	}
	if x.shinfo == nil {
		t.Fatal("shared_info not bound after add_to_physmap")
	}
}

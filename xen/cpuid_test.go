//go:build linux

package xen

import (
	"testing"

	"github.com/SeanTBooker/MicroV/xen/abi"
)

func TestCPUIDLeaf0Signature(t *testing.T) {
	x, v, _, _ := newTestShim(t, 1_000_000, 8, func() uint64 { return 0 })

	res, ok := v.CPUID(leaf(0))
	if !ok {
		t.Fatal("leaf0 not handled")
	}

	if res.EAX != leaf(5) {
		t.Errorf("EAX = %#x, want highest leaf %#x", res.EAX, leaf(5))
	}
	if res.EBX != abi.SignatureEBX || res.ECX != abi.SignatureECX || res.EDX != abi.SignatureEDX {
		t.Errorf("signature mismatch: %#x %#x %#x", res.EBX, res.ECX, res.EDX)
	}

	_ = x
}

func TestCPUIDLeaf4ReportsIdentity(t *testing.T) {
	x, v, _, _ := newTestShim(t, 1_000_000, 8, func() uint64 { return 0 })

	res, ok := v.CPUID(leaf(4))
	if !ok {
		t.Fatal("leaf4 not handled")
	}

	if res.EAX&abi.FeatureVCPUIDPresent == 0 || res.EAX&abi.FeatureDomIDPresent == 0 {
		t.Errorf("leaf4 EAX missing vcpuid/domid-present bits: %#x", res.EAX)
	}
	if res.EBX != x.id.VCPUID {
		t.Errorf("EBX = %d, want vcpuid %d", res.EBX, x.id.VCPUID)
	}
	if res.ECX != x.id.DomID {
		t.Errorf("ECX = %d, want domid %d", res.ECX, x.id.DomID)
	}
}

func TestCPUIDLeaf2ReportsHCallPageMSR(t *testing.T) {
	_, v, _, _ := newTestShim(t, 1_000_000, 8, func() uint64 { return 0 })

	res, ok := v.CPUID(leaf(2))
	if !ok {
		t.Fatal("leaf2 not handled")
	}
	if res.EAX != 1 {
		t.Errorf("EAX = %d, want 1 hypercall page", res.EAX)
	}
	if res.EBX != abi.HCallPageMSR {
		t.Errorf("EBX = %#x, want %#x", res.EBX, abi.HCallPageMSR)
	}
}

func TestWRMSRHCallPageInstallsTrampolines(t *testing.T) {
	_, v, _, _ := newTestShim(t, 1_000_000, 8, func() uint64 { return 0 })

	const gpa = 0x2000
	if !v.WRMSR(abi.HCallPageMSR, gpa) {
		t.Fatal("hcall page MSR write not handled")
	}

	m, err := v.MapGPA4K(gpa)
	if err != nil {
		t.Fatal(err)
	}
	buf := m.Bytes()

	for i := 0; i < 55; i++ {
		entry := buf[i*32 : i*32+32]
		want := []byte{0xB8, byte(i), 0, 0, 0, 0x0F, 0x01, 0xC1, 0xC3}
		for j, b := range want {
			if entry[j] != b {
				t.Fatalf("entry %d byte %d = %#x, want %#x", i, j, entry[j], b)
			}
		}
	}
}

func TestWRMSRSelfIPIQueuesInterrupt(t *testing.T) {
	_, v, _, _ := newTestShim(t, 1_000_000, 8, func() uint64 { return 0 })

	if !v.WRMSR(abi.SelfIPIMSR, 0x30) {
		t.Fatal("self-IPI MSR write not handled")
	}

	got := v.QueuedExternalInterrupts()
	if len(got) != 1 || got[0] != 0x30 {
		t.Fatalf("queued interrupts = %v, want [0x30]", got)
	}
}

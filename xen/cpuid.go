//go:build linux

package xen

import (
	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

// cpuidLeaf0 answers the signature leaf (spec.md §4.2): EAX reports base+5
// as the top of the PV leaf range (only base+0/1/2/4 have handlers),
// EBX/ECX/EDX carry the ASCII signature.
func (x *Shim) cpuidLeaf0(vcpu hostvcpu.VCPU) hostvcpu.CPUIDResult {
	vcpu.Advance()
	return hostvcpu.CPUIDResult{
		EAX: leaf(5),
		EBX: abi.SignatureEBX,
		ECX: abi.SignatureECX,
		EDX: abi.SignatureEDX,
	}
}

// cpuidLeaf1 answers the version leaf: EAX is (major<<16)|minor.
func (x *Shim) cpuidLeaf1(vcpu hostvcpu.VCPU) hostvcpu.CPUIDResult {
	vcpu.Advance()
	return hostvcpu.CPUIDResult{
		EAX: abi.VersionMajor<<16 | abi.VersionMinor,
	}
}

// cpuidLeaf2 answers the hypercall-transfer-page leaf: EAX is the number
// of pages (always 1 here), EBX the MSR the guest must write with a GPA
// to receive the trampoline.
func (x *Shim) cpuidLeaf2(vcpu hostvcpu.VCPU) hostvcpu.CPUIDResult {
	vcpu.Advance()
	return hostvcpu.CPUIDResult{
		EAX: 1,
		EBX: abi.HCallPageMSR,
	}
}

// cpuidLeaf4 answers the HVM feature leaf, reporting x2APIC virtualization
// plus the vcpuid/domid-present extensions this shim backs.
func (x *Shim) cpuidLeaf4(vcpu hostvcpu.VCPU) hostvcpu.CPUIDResult {
	eax := uint32(abi.FeatureX2APICVirt | abi.FeatureVCPUIDPresent | abi.FeatureDomIDPresent)

	vcpu.Advance()
	return hostvcpu.CPUIDResult{
		EAX: eax,
		EBX: x.id.VCPUID,
		ECX: x.id.DomID,
	}
}

// wrmsrHCallPage installs the 55-entry hypercall trampoline at the GPA
// the guest just wrote into HCallPageMSR (spec.md §4.2). Each 32-byte
// entry is `mov eax, i; vmcall; ret`.
func (x *Shim) wrmsrHCallPage(vcpu hostvcpu.VCPU, value uint64) bool {
	mapping, err := vcpu.MapGPA4K(value)
	if err != nil {
		x.log.Error("map hypercall page", "error", err)
		return false
	}

	buf := mapping.Bytes()

	for i := 0; i < 55; i++ {
		entry := buf[i*32 : i*32+32]
		entry[0] = 0xB8
		entry[1] = byte(i)
		entry[2] = 0
		entry[3] = 0
		entry[4] = 0
		entry[5] = 0x0F
		entry[6] = 0x01
		entry[7] = 0xC1
		entry[8] = 0xC3
	}

	return true
}

// wrmsrSelfIPI delivers a self-directed IPI at the written vector
// (spec.md §4.2).
func (x *Shim) wrmsrSelfIPI(vcpu hostvcpu.VCPU, value uint64) bool {
	vcpu.QueueExternalInterrupt(uint32(value))
	return true
}

// handleTSCDeadline swallows APIC TSC-deadline writes once the guest has
// armed a PV single-shot timer, matching handle_tsc_deadline in the
// original: the guest is expected to use VCPUOP_set_singleshot_timer
// instead.
func (x *Shim) handleTSCDeadline(_ hostvcpu.VCPU, _ uint64) bool {
	x.log.Warn("TSC deadline write after single-shot timer armed")
	return true
}

// handleException logs the guest exception vector and the 32 bytes at
// its RIP, then reports the vector bitmap entry as handled (spec.md
// §4.2 diagnostic path). Non-maskable interrupts are left to the default
// handler.
func (x *Shim) handleException(vcpu hostvcpu.VCPU, vector uint32) bool {
	const nmiVector = 2
	if vector == nmiVector {
		return false
	}

	regs := vcpu.Regs()
	x.log.Info("guest exception", "vector", vector, "rip", regs.RIP())

	mapping, err := vcpu.MapGVA4K(regs.RIP(), 32)
	if err == nil {
		x.log.Debug("exception bytes", "bytes", mapping.Bytes())
	}

	return true
}

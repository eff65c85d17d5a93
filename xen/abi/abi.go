//go:build linux

// Package abi holds the wire-format structures, hypercall numbers, and
// constants of the impersonated PV-on-HVM ABI: shared_info,
// vcpu_time_info, vcpu_runstate_info, xenpf_settime64, xen_hvm_param_t,
// the hypercall number table, and the handful of CPUID/MSR/errno/VIRQ
// constants the shim needs. Nothing here has behavior; it is the data
// model spec.md §3 describes.
package abi

import "golang.org/x/sys/unix"

// LeafBase is the first of the five PV CPUID leaves this shim answers.
const LeafBase = 0x40000100

// HCallPageMSR is the MSR a guest writes with a GPA to request a
// hypercall trampoline page there.
const HCallPageMSR = 0xC0000500

// SelfIPIMSR is the MSR a guest writes to request a self-directed IPI at
// the given vector.
const SelfIPIMSR = 0x83F

// TSCDeadlineMSR is the APIC TSC-deadline MSR, silently swallowed once a
// single-shot timer has been armed (the guest is expected to use the PV
// timer hypercall instead).
const TSCDeadlineMSR = 0x6E0

// VersionMajor and VersionMinor are the impersonated ABI version, packed
// into EAX by CPUID leaf base+1 as (major<<16)|minor.
const (
	VersionMajor = 4
	VersionMinor = 13
)

// CPUID signature leaf base+0 returns this 12-byte ASCII signature split
// across EBX/ECX/EDX ("XenVMMXenVMM" in the impersonated ABI).
const (
	SignatureEBX = 0x566e6558 // "XenV"
	SignatureECX = 0x65584d4d // "MMXe"
	SignatureEDX = 0x4d4d566e // "nVMM"
)

// CPUID leaf base+4 feature bits (XEN_HVM_CPUID_*).
const (
	FeatureAPICAccessVirt = 1 << 0
	FeatureX2APICVirt     = 1 << 1
	FeatureIOMMUMappings  = 1 << 2
	FeatureVCPUIDPresent  = 1 << 3
	FeatureDomIDPresent   = 1 << 4
)

// LegacyMaxVCPUs bounds vcpuid, matching XEN_LEGACY_MAX_VCPUS.
const LegacyMaxVCPUs = 32

// Hypercall numbers (__HYPERVISOR_*).
const (
	HypercallMemoryOp       = 12
	HypercallMulticall      = 13
	HypercallXenVersion     = 17
	HypercallConsoleIO      = 18
	HypercallGrantTableOp   = 20
	HypercallVMAssist       = 21
	HypercallVCPUOp         = 24
	HypercallXSMOp          = 27
	HypercallEventChannelOp = 32
	HypercallPhysdevOp      = 33
	HypercallHVMOp          = 34
	HypercallSysctl         = 35
	HypercallDomctl         = 36
	HypercallPlatformOp     = 7
)

// Negative-errno values returned in RAX (public/errno.h reuses the Linux
// numbering, so these are just unix.Errno under a guest-ABI name).
const (
	EPERM  = int64(unix.EPERM)
	EACCES = int64(unix.EACCES)
	EINVAL = int64(unix.EINVAL)
	ENOSYS = int64(unix.ENOSYS)
	ETIME  = int64(unix.ETIME)
)

// HVMOP sub-ops.
const (
	HVMOpSetParam        = 0
	HVMOpGetParam        = 1
	HVMOpPagetableDying  = 9
)

// HVM_PARAM_* indices.
const (
	HVMParamCallbackIRQ    = 0
	HVMParamConsoleEvtchn  = 17
	HVMParamConsolePFN     = 18
	HVMParamStoreEvtchn    = 1
	HVMParamStorePFN       = 2
)

// HVM_PARAM_CALLBACK_IRQ encoding.
const (
	CallbackIRQTypeMask = uint64(0xFF) << 56
	CallbackIRQTypeVector = 0x2
)

// PLATFORM_op sub-ops and interface version.
const (
	PlatformInterfaceVersion = 0x0fb51fd5
	XENPFGetCPUInfo          = 58
	XENPFSettime64           = 17
)

// xen_pcpu_info flags.
const PCPUFlagsOnline = 1 << 0

// PlatformOp mirrors the head of xen_platform_op_t enough to dispatch on
// cmd/interface_version and, for XENPFGetCPUInfo, populate the pcpu_info
// union member in place. Other union members (e.g. settime64) are
// decoded separately via Settime64 at the same union offset.
type PlatformOp struct {
	Cmd              uint32
	InterfaceVersion uint32

	MaxPresent uint32
	Flags      uint32
	APICID     uint32
	ACPIID     uint32
	_          [56]byte // pad the union out to xen_platform_op_t's size
}

// CONSOLEIO sub-ops.
const (
	ConsoleIORead  = 0
	ConsoleIOWrite = 1
)

// PHYSDEVOP sub-ops.
const PhysdevOpPCIDeviceAdd = 26

// XSM flask_op.
const (
	FlaskInterfaceVersion = 1
	FlaskSIDToContext     = 17
)

// EVTCHNOP sub-ops.
const (
	EvtchnOpBindInterdomain = 0
	EvtchnOpBindVIRQ        = 1
	EvtchnOpBindPIRQ        = 2
	EvtchnOpClose           = 3
	EvtchnOpSend            = 4
	EvtchnOpStatus          = 5
	EvtchnOpAllocUnbound    = 6
	EvtchnOpBindIPI         = 7
	EvtchnOpBindVCPU        = 8
	EvtchnOpUnmask          = 9
	EvtchnOpReset           = 10
	EvtchnOpInitControl     = 11
	EvtchnOpExpandArray     = 12
	EvtchnOpSetPriority     = 13
)

// GNTTABOP sub-ops.
const (
	GnttabOpQuerySize  = 6
	GnttabOpSetVersion = 8
)

// GnttabQuerySize is the gnttab_query_size_t hypercall argument.
type GnttabQuerySize struct {
	Dom         uint16
	NrFrames    uint32
	MaxNrFrames uint32
	Status      int16
}

// GnttabSetVersion is the gnttab_set_version_t hypercall argument.
type GnttabSetVersion struct {
	Version uint32
}

// XENMEM sub-ops.
const (
	XenmemAddToPhysmap          = 7
	XenmemMemoryMap             = 9
	XenmemDecreaseReservation   = 1
	XenmemGetSharingFreedPages  = 18
	XenmemGetSharingSharedPages = 19
)

// XENMAPSPACE_* identify the physical-address space an add_to_physmap
// request targets; this shim only backs shared_info.
const XenmapspaceSharedInfo = 1

// AddToPhysmap is the xen_add_to_physmap_t hypercall argument.
type AddToPhysmap struct {
	Domid uint16
	_     uint16 // size, unused
	Space uint32
	Idx   uint64
	GPFN  uint64
}

// XENVER sub-ops.
const (
	XenverVersion            = 0
	XenverExtraversion       = 1
	XenverCompileInfo        = 2
	XenverCapabilities       = 3
	XenverChangeset          = 4
	XenverPlatformParameters = 5
	XenverGetFeatures        = 6
	XenverPagesize           = 7
	XenverGuestHandle        = 8
	XenverCommandline        = 9
	XenverBuildID            = 10
)

// VCPUOP sub-ops.
const (
	VCPUOpStopPeriodicTimer           = 7
	VCPUOpStopSingleshotTimer         = 9
	VCPUOpSetSingleshotTimer          = 8
	VCPUOpRegisterVCPUTimeMemoryArea  = 13
	VCPUOpRegisterRunstateMemoryArea  = 5
)

// VCPU_SSHOTTMR_future flag.
const VCPUSSHOTTMRFuture = 1 << 0

// VM_ASSIST command/type.
const (
	VMAssistCmdEnable            = 0
	VMAssistTypeRunstateUpdateFlag = 4
)

// Runstate values (public/vcpu.h).
const (
	RunstateRunning  = 0
	RunstateRunnable = 1
	RunstateBlocked  = 2
	RunstateOffline  = 3
	numRunstates     = 4
)

// NumRunstates is the width of VCPURunstateInfo.Time.
const NumRunstates = numRunstates

// XenRunstateUpdate is the atomic-update-bit marker ORed into
// state_entry_time while it is being written, when runstate_assist is
// enabled.
const XenRunstateUpdate = uint64(1) << 63

// VIRQ numbers (the only one this shim emits).
const VIRQTimer = 0

// TSCStableBit is XEN_PVCLOCK_TSC_STABLE_BIT, set in VCPUTimeInfo.Flags.
const TSCStableBit = 1 << 0

// NEventWords sizes the event-channel pending/mask bitmaps: 1024 ports
// (upstream NR_EVENT_CHANNELS) over 64-bit words.
const NEventWords = 16

// NEventPorts is the number of event channel ports modeled.
const NEventPorts = NEventWords * 64

// VCPUTimeInfo is the PV per-vCPU time snapshot (struct vcpu_time_info).
type VCPUTimeInfo struct {
	Version        uint32
	_              uint32
	TSCTimestamp   uint64
	SystemTime     uint64
	TSCToSystemMul uint32
	TSCShift       int8
	Flags          uint8
	_              [2]byte
}

// VCPUInfo is the per-vCPU slot of shared_info (struct vcpu_info),
// trimmed to the fields this shim reads or writes.
type VCPUInfo struct {
	EvtchnUpcallPending uint8
	EvtchnUpcallMask    uint8
	_                   [6]byte
	EvtchnPendingSel    uint64
	_                   [40]byte // arch_vcpu_info, unused by this shim
	Time                VCPUTimeInfo
}

// SharedInfo is the guest-mapped page described by spec.md §3 (struct
// shared_info), holding the wall clock, per-vCPU time/event state, and
// the event-channel pending/mask bitmaps.
type SharedInfo struct {
	VCPUInfo      [LegacyMaxVCPUs]VCPUInfo
	EvtchnPending [NEventWords]uint64
	EvtchnMask    [NEventWords]uint64
	WCVersion     uint32
	WCSec         uint32
	WCNsec        uint32
	WCSecHi       uint32
}

// VCPURunstateInfo is the guest-mapped runstate accounting area (struct
// vcpu_runstate_info).
type VCPURunstateInfo struct {
	State          uint32
	_              uint32
	StateEntryTime uint64
	Time           [NumRunstates]uint64
}

// Settime64 is the xenpf_settime64 platform-op argument.
type Settime64 struct {
	Secs       uint32
	Nsecs      uint32
	SystemTime uint64
	Mbz        uint32
	_          [4]byte
}

// HVMParam is the xen_hvm_param_t hvm_op argument.
type HVMParam struct {
	Index uint32
	_     uint32
	Value uint64
}

// RegisterTimeMemoryArea is the vcpu_register_time_memory_area_t arg to
// VCPUOP_register_vcpu_time_memory_area.
type RegisterTimeMemoryArea struct {
	Addr uint64
}

// RegisterRunstateMemoryArea is the vcpu_register_runstate_memory_area_t
// arg to VCPUOP_register_runstate_memory_area.
type RegisterRunstateMemoryArea struct {
	Addr uint64
}

// SetSingleshotTimer is the vcpu_set_singleshot_timer_t arg to
// VCPUOP_set_singleshot_timer.
type SetSingleshotTimer struct {
	TimeoutAbsNs uint64
	Flags        uint32
	_            uint32
}

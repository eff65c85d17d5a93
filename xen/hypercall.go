//go:build linux

package xen

import (
	"unsafe"

	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/xen/abi"
	"github.com/SeanTBooker/MicroV/xen/domctl"
	"github.com/SeanTBooker/MicroV/xen/gnttab"
	"github.com/SeanTBooker/MicroV/xen/physdev"
	"github.com/SeanTBooker/MicroV/xen/sysctl"
	"github.com/SeanTBooker/MicroV/xen/version"
)

// mapArg maps length bytes of guest virtual memory at addr and
// reinterprets them as *T, the idiom every hypercall argument decode
// uses in place of the original's map_arg<T>.
func mapArg[T any](vcpu hostvcpu.VCPU, addr uint64) (*T, error) {
	var zero T
	m, err := vcpu.MapGVA4K(addr, int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return hostvcpu.As[T](m), nil
}

// hypercall is the VMCALL entry point installed on the guest's hypercall
// trampoline (spec.md §4.3). RAX carries the hypercall number, RDI its
// sub-operation or first argument.
func (x *Shim) hypercall(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	switch regs.RAX() {
	case abi.HypercallMemoryOp:
		return x.handleMemoryOp(vcpu)
	case abi.HypercallXenVersion:
		return x.handleXenVersion(vcpu)
	case abi.HypercallHVMOp:
		return x.handleHVMOp(vcpu)
	case abi.HypercallEventChannelOp:
		return x.handleEventChannelOp(vcpu)
	case abi.HypercallGrantTableOp:
		return x.handleGrantTableOp(vcpu)
	case abi.HypercallPlatformOp:
		return x.handlePlatformOp(vcpu)
	case abi.HypercallConsoleIO:
		return x.handleConsoleIO(vcpu)
	case abi.HypercallSysctl:
		return x.handleSysctl(vcpu)
	case abi.HypercallDomctl:
		return x.handleDomctl(vcpu)
	case abi.HypercallXSMOp:
		return x.handleXSMOp(vcpu)
	case abi.HypercallPhysdevOp:
		return x.handlePhysdevOp(vcpu)
	case abi.HypercallVCPUOp:
		return x.handleVCPUOp(vcpu)
	case abi.HypercallVMAssist:
		return x.handleVMAssist(vcpu)
	default:
		return false
	}
}

// handleConsoleIO backs the hvc ring read/write hypercall, restricted to
// the init domain like the original.
func (x *Shim) handleConsoleIO(vcpu hostvcpu.VCPU) bool {
	if !x.dom.InitDomain() {
		return false
	}

	regs := vcpu.Regs()
	length := regs.RSI()

	mapping, err := vcpu.MapGVA4K(regs.RDX(), int(length))
	if err != nil {
		return false
	}
	buf := mapping.Bytes()

	switch regs.RDI() {
	case abi.ConsoleIORead:
		n := x.dom.HVCRxGet(buf)
		regs.SetRAX(uint64(n))
		return true
	case abi.ConsoleIOWrite:
		n := x.dom.HVCTxPut(buf)
		regs.SetRAX(uint64(n))
		return true
	default:
		return false
	}
}

// handleHVMOp implements HVMOP_set_param/get_param/pagetable_dying. Only
// HVM_PARAM_CALLBACK_IRQ is actually wired on set_param; get_param is
// disabled entirely, matching the original's commented-out body (spec.md
// §9, open question 1).
func (x *Shim) handleHVMOp(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	switch regs.RDI() {
	case abi.HVMOpSetParam:
		arg, err := mapArg[abi.HVMParam](vcpu, regs.RSI())
		if err != nil {
			return false
		}

		switch arg.Index {
		case abi.HVMParamCallbackIRQ:
			if validCallbackVia(arg.Value) {
				x.evtchn.SetCallbackVia(uint8(arg.Value & 0xFF))
				regs.SetRAX(0)
			} else {
				regs.SetRAX(negErrno(abi.EINVAL))
			}
			return true
		default:
			x.log.Warn("unsupported HVM set_param", "index", arg.Index)
			return false
		}
	case abi.HVMOpGetParam:
		regs.SetRAX(negErrno(abi.ENOSYS))
		return true
	case abi.HVMOpPagetableDying:
		regs.SetRAX(negErrno(abi.ENOSYS))
		return true
	default:
		return false
	}
}

func validCallbackVia(via uint64) bool {
	t := (via & abi.CallbackIRQTypeMask) >> 56
	if t != abi.CallbackIRQTypeVector {
		return false
	}
	vector := via & 0xFF
	return vector >= 0x20 && vector <= 0xFF
}

// handleEventChannelOp delegates EVTCHNOP_* sub-ops to the evtchn
// control block.
func (x *Shim) handleEventChannelOp(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	switch regs.RDI() {
	case abi.EvtchnOpInitControl:
		x.evtchn.InitControl()
		regs.SetRAX(0)
		return true
	case abi.EvtchnOpSetPriority:
		x.evtchn.SetPriority(uint32(regs.RDX()), uint32(regs.R8()))
		regs.SetRAX(0)
		return true
	case abi.EvtchnOpAllocUnbound:
		port, ok := x.evtchn.AllocUnbound()
		if !ok {
			regs.SetRAX(negErrno(abi.ENOSYS))
			return true
		}
		regs.SetRAX(uint64(port))
		return true
	case abi.EvtchnOpExpandArray:
		x.evtchn.ExpandArray()
		regs.SetRAX(0)
		return true
	case abi.EvtchnOpBindVIRQ:
		port, ok := x.evtchn.BindVIRQ(uint32(regs.RDX()))
		if !ok {
			regs.SetRAX(negErrno(abi.ENOSYS))
			return true
		}
		regs.SetRAX(uint64(port))
		return true
	case abi.EvtchnOpSend:
		if !x.evtchn.Send(int(regs.RDX())) {
			regs.SetRAX(negErrno(abi.EINVAL))
			return true
		}
		regs.SetRAX(0)
		return true
	case abi.EvtchnOpBindInterdomain:
		port, ok := x.evtchn.BindInterdomain()
		if !ok {
			regs.SetRAX(negErrno(abi.ENOSYS))
			return true
		}
		regs.SetRAX(uint64(port))
		return true
	case abi.EvtchnOpClose:
		if !x.evtchn.Close(int(regs.RDX())) {
			regs.SetRAX(negErrno(abi.EINVAL))
			return true
		}
		regs.SetRAX(0)
		return true
	case abi.EvtchnOpBindVCPU:
		if !x.evtchn.BindVCPU(int(regs.RDX()), uint32(regs.R8())) {
			regs.SetRAX(negErrno(abi.EINVAL))
			return true
		}
		regs.SetRAX(0)
		return true
	default:
		return false
	}
}

// sysctlDomctlSize is large enough to cover the fixed-size union every
// xen_sysctl_t/xen_domctl_t payload is built from; this shim never
// inspects the contents, only hands the bytes off to the sub-service.
const sysctlDomctlSize = 256

// handleSysctl and handleDomctl delegate to their sub-services; this
// shim has no sysctl/domctl payload either one actually understands, so
// both report ENOSYS rather than silently succeeding.
func (x *Shim) handleSysctl(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	mapping, err := vcpu.MapGVA4K(regs.RDI(), sysctlDomctlSize)
	if err != nil {
		return false
	}

	if err := sysctl.Handle(mapping.Bytes()); err != nil {
		regs.SetRAX(negErrno(abi.ENOSYS))
		return true
	}

	regs.SetRAX(0)
	return true
}

func (x *Shim) handleDomctl(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	mapping, err := vcpu.MapGVA4K(regs.RDI(), sysctlDomctlSize)
	if err != nil {
		return false
	}

	if err := domctl.Handle(mapping.Bytes()); err != nil {
		regs.SetRAX(negErrno(abi.ENOSYS))
		return true
	}

	regs.SetRAX(0)
	return true
}

// handleGrantTableOp implements the two read-only GNTTABOP sub-ops this
// shim answers by delegating to package gnttab; everything else is
// unimplemented.
func (x *Shim) handleGrantTableOp(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	switch regs.RDI() {
	case abi.GnttabOpQuerySize:
		arg, err := mapArg[abi.GnttabQuerySize](vcpu, regs.RDX())
		if err != nil {
			return false
		}
		arg.NrFrames, arg.MaxNrFrames = gnttab.QuerySize()
		arg.Status = 0
		regs.SetRAX(0)
		return true
	case abi.GnttabOpSetVersion:
		arg, err := mapArg[abi.GnttabSetVersion](vcpu, regs.RDX())
		if err != nil {
			return false
		}
		gnttab.SetVersion(arg.Version)
		regs.SetRAX(0)
		return true
	default:
		return false
	}
}

// handleMemoryOp implements XENMEM_decrease_reservation/get_sharing_* by
// delegating to package memops (pure accounting, no host memory actually
// freed), binds shared_info on add_to_physmap, and reports memory_map
// unimplemented, matching the original.
func (x *Shim) handleMemoryOp(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	switch regs.RDI() {
	case abi.XenmemDecreaseReservation:
		regs.SetRAX(x.memops.DecreaseReservation(regs.RDX()))
		return true
	case abi.XenmemGetSharingFreedPages:
		regs.SetRAX(x.memops.GetSharingFreedPages())
		return true
	case abi.XenmemGetSharingSharedPages:
		regs.SetRAX(x.memops.GetSharingSharedPages())
		return true
	case abi.XenmemAddToPhysmap:
		arg, err := mapArg[abi.AddToPhysmap](vcpu, regs.RSI())
		if err != nil {
			return false
		}
		if arg.Space != abi.XenmapspaceSharedInfo {
			regs.SetRAX(negErrno(abi.ENOSYS))
			return true
		}
		if _, err := vcpu.MapGPA4K(arg.GPFN << 12); err != nil {
			return false
		}
		x.initSharedInfo(arg.GPFN)
		regs.SetRAX(0)
		return true
	case abi.XenmemMemoryMap:
		return false
	default:
		return false
	}
}

// handleXSMOp answers the Flask security-module op restricted to the
// init domain; every command is refused with EACCES, matching the
// original (it never actually grants a context).
func (x *Shim) handleXSMOp(vcpu hostvcpu.VCPU) bool {
	if !x.dom.InitDomain() {
		return false
	}

	regs := vcpu.Regs()
	regs.SetRAX(negErrno(abi.EACCES))
	return true
}

// handlePhysdevOp implements PHYSDEVOP_pci_device_add by delegating to
// the parent vCPU's PCI device table.
func (x *Shim) handlePhysdevOp(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	if regs.RDI() != abi.PhysdevOpPCIDeviceAdd {
		return false
	}

	mapping, err := vcpu.MapGVA4K(regs.RSI(), 32)
	if err != nil {
		return false
	}

	if err := physdev.AddDevice(vcpu.ParentVCPU(), mapping.Bytes()); err != nil {
		regs.SetRAX(negErrno(abi.EINVAL))
		return true
	}

	regs.SetRAX(0)
	return true
}

// handlePlatformOp implements PLATFORM_op's get_cpuinfo (init domain
// only) and settime64. RDI carries the guest pointer to xen_platform_op_t;
// cmd and interface_version live inside that struct, not in a register.
func (x *Shim) handlePlatformOp(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	xpf, err := mapArg[abi.PlatformOp](vcpu, regs.RDI())
	if err != nil {
		return false
	}

	if xpf.InterfaceVersion != abi.PlatformInterfaceVersion {
		regs.SetRAX(negErrno(abi.EACCES))
		return true
	}

	switch xpf.Cmd {
	case abi.XENPFGetCPUInfo:
		if !x.dom.InitDomain() {
			return false
		}
		xpf.MaxPresent = 1
		xpf.Flags = abi.PCPUFlagsOnline
		xpf.APICID = x.id.APICID
		xpf.ACPIID = x.id.ACPIID
		regs.SetRAX(0)
		return true
	case abi.XENPFSettime64:
		t, err := mapArg[abi.Settime64](vcpu, regs.RDI()+8)
		if err != nil {
			return false
		}
		if t.Mbz != 0 {
			regs.SetRAX(negErrno(abi.EINVAL))
			return true
		}
		x.updateWallclock(t)
		regs.SetRAX(0)
		return true
	default:
		x.log.Warn("unimplemented platform op", "cmd", xpf.Cmd)
		return false
	}
}

// handleVCPUOp implements VCPUOP_*: timer control and the two
// memory-area registration calls (spec.md §4.3). On the first
// set_singleshot_timer, it installs the PET/HLT/exit/TSC-deadline
// handlers the preemption timer subsystem needs.
func (x *Shim) handleVCPUOp(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	switch regs.RDI() {
	case abi.VCPUOpStopPeriodicTimer:
		regs.SetRAX(0)
		return true
	case abi.VCPUOpStopSingleshotTimer:
		x.stopTimer()
		regs.SetRAX(0)
		return true
	case abi.VCPUOpSetSingleshotTimer:
		sst, err := mapArg[abi.SetSingleshotTimer](vcpu, regs.RDX())
		if err != nil {
			return false
		}

		regs.SetRAX(uint64(x.setTimer(sst)))

		if !x.petHdlrsSet {
			vcpu.AddPreemptionTimerHandler(x.handlePET)
			vcpu.AddHLTHandler(x.handleHLT)
			vcpu.AddExitHandler(x.vmexitSaveTSC)
			vcpu.EmulateWRMSR(abi.TSCDeadlineMSR, x.handleTSCDeadline)
			x.petHdlrsSet = true
		}

		return true
	case abi.VCPUOpRegisterVCPUTimeMemoryArea:
		tma, err := mapArg[abi.RegisterTimeMemoryArea](vcpu, regs.RDX())
		if err != nil {
			return false
		}
		if _, err := vcpu.MapGVA4K(tma.Addr, pageSize); err != nil {
			return false
		}
		x.registerVCPUTimeMemoryArea(tma.Addr)
		regs.SetRAX(0)
		return true
	case abi.VCPUOpRegisterRunstateMemoryArea:
		rma, err := mapArg[abi.RegisterRunstateMemoryArea](vcpu, regs.RDX())
		if err != nil {
			return false
		}
		if _, err := vcpu.MapGVA4K(rma.Addr, pageSize); err != nil {
			return false
		}
		x.registerRunstateMemoryArea(rma.Addr)
		regs.SetRAX(0)
		return true
	default:
		return false
	}
}

// handleVMAssist implements VMASST_CMD_enable/runstate_update_flag, the
// only vm_assist the original turns on.
func (x *Shim) handleVMAssist(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	if regs.RDI() != abi.VMAssistCmdEnable {
		return false
	}

	switch regs.RSI() {
	case abi.VMAssistTypeRunstateUpdateFlag:
		x.runstateAssist = true
		regs.SetRAX(0)
		return true
	default:
		return false
	}
}

// handleXenVersion answers the subset of XENVER_* this shim actually
// models by delegating to package version; the remainder falls through
// to the default "unhandled" return, matching
// xen::handle_xen_version's unimplemented sub-ops.
func (x *Shim) handleXenVersion(vcpu hostvcpu.VCPU) bool {
	regs := vcpu.Regs()

	switch regs.RDI() {
	case abi.XenverVersion:
		regs.SetRAX(uint64(version.Number()))
		return true
	case abi.XenverGetFeatures:
		regs.SetRAX(uint64(version.Features()))
		return true
	case abi.XenverPagesize:
		regs.SetRAX(pageSize)
		return true
	case abi.XenverExtraversion:
		return writeVersionBuf(vcpu, regs.RSI(), version.Extraversion())
	case abi.XenverChangeset:
		return writeVersionBuf(vcpu, regs.RSI(), version.Changeset())
	case abi.XenverCapabilities:
		return writeVersionBuf(vcpu, regs.RSI(), version.Capabilities())
	case abi.XenverCommandline:
		return writeVersionBuf(vcpu, regs.RSI(), version.CommandLine())
	case abi.XenverBuildID:
		return writeVersionBuf(vcpu, regs.RSI(), version.BuildID())
	case abi.XenverGuestHandle:
		return writeVersionBuf(vcpu, regs.RSI(), x.xdh)
	default:
		return false
	}
}

// writeVersionBuf copies a fixed-size version-string buffer into guest
// memory at addr.
func writeVersionBuf[T any](vcpu hostvcpu.VCPU, addr uint64, value T) bool {
	dst, err := mapArg[T](vcpu, addr)
	if err != nil {
		return false
	}
	*dst = value
	vcpu.Regs().SetRAX(0)
	return true
}

// negErrno converts a positive errno constant to the Xen RAX convention
// of a negative value stored in an unsigned register.
func negErrno(errno int64) uint64 {
	return uint64(-errno)
}

//go:build linux

// Command xenshim-demo wires a memory-backed simulated vCPU up to the PV
// hypercall shim and walks it through the boot-time probe sequence a
// guest's early setup code performs: CPUID signature probing, hypercall
// page installation, and shared_info binding, then logs the domain
// handle. It exists to exercise the shim end to end without
// a real KVM VM, the way the teacher's readme example walks a minimal VM
// through boot.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/SeanTBooker/MicroV/hostvcpu"
	"github.com/SeanTBooker/MicroV/hostvcpu/memvcpu"
	"github.com/SeanTBooker/MicroV/xen"
	"github.com/SeanTBooker/MicroV/xen/abi"
)

// demoDomain is the minimal hostvcpu.Domain a standalone demo needs: one
// non-init domain with a fixed start-of-day sample.
type demoDomain struct {
	id uint32
	sod hostvcpu.StartOfDayInfo
}

func (d *demoDomain) InitDomain() bool                   { return false }
func (d *demoDomain) ID() uint32                         { return d.id }
func (d *demoDomain) StartOfDay() hostvcpu.StartOfDayInfo { return d.sod }
func (d *demoDomain) HVCRxGet(buf []byte) int            { return 0 }
func (d *demoDomain) HVCTxPut(buf []byte) int            { return len(buf) }

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	const tscKHz = 2_000_000
	const petShift = 0

	mem := make([]byte, 1<<20)
	vcpu := memvcpu.New(mem, tscKHz, petShift, nil)
	parent := memvcpu.NewParent()
	vcpu.SetParent(parent)

	dom := &demoDomain{
		sod: hostvcpu.StartOfDayInfo{
			TSC:    0,
			WCSec:  uint64(time.Now().Unix()),
			WCNsec: 0,
		},
	}

	shim := xen.New(vcpu, dom, xen.Config{Log: log})

	result, ok := vcpu.CPUID(abi.LeafBase)
	if !ok {
		fmt.Println("leaf 0 CPUID not answered")
		os.Exit(1)
	}
	log.Info("cpuid signature", "eax", result.EAX, "ebx", result.EBX, "ecx", result.ECX, "edx", result.EDX)

	const hcallPageGPA = 0x9000
	if !vcpu.WRMSR(abi.HCallPageMSR, hcallPageGPA) {
		fmt.Println("hypercall page MSR write not handled")
		os.Exit(1)
	}
	log.Info("hypercall page installed", "gpa", hcallPageGPA)

	const shinfoGPA = 0xa000
	regs := vcpu.Regs()
	argAddr := uint64(0xb000)
	arg, err := vcpu.MapGVA4K(argAddr, 24)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	*hostvcpu.As[abi.AddToPhysmap](arg) = abi.AddToPhysmap{Space: abi.XenmapspaceSharedInfo, GPFN: shinfoGPA / 0x1000}

	regs.SetRAX(abi.HypercallMemoryOp)
	regs.SetRDI(abi.XenmemAddToPhysmap)
	regs.SetRSI(argAddr)
	if !vcpu.VMCall() {
		fmt.Println("add_to_physmap(shared_info) not handled")
		os.Exit(1)
	}
	log.Info("shared_info bound", "gpfn", shinfoGPA/0x1000)

	log.Info("domain handle", "handle", fmt.Sprintf("%x", shim.DomainHandle()))
}

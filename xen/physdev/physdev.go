//go:build linux

// Package physdev implements PHYSDEVOP_pci_device_add, grounded on
// xen::handle_physdev_op in xen.cpp. It is a thin pass-through to the
// parent vCPU's PCI device table (out of scope for this shim, per
// spec.md's framing of host collaborators).
package physdev

import "github.com/SeanTBooker/MicroV/hostvcpu"

// AddDevice hands the raw physdev_pci_device_add_t bytes to the parent
// vCPU's device table without decoding or validating them.
func AddDevice(parent hostvcpu.ParentVCPU, raw []byte) error {
	return parent.AddPCIDevice(raw)
}

//go:build linux

// Package gnttab answers the two GNTTABOP_* sub-ops this shim's guest
// kernel probes at boot (spec.md: "Hypercall sub-service glue"),
// grounded on xen::handle_grant_table_op in xen.cpp. Neither sub-op
// needs to do anything beyond report success: this shim never actually
// grants pages to another domain.
package gnttab

// QuerySize reports zero reserved and a generous max grant-table frame
// count, enough to satisfy a guest's boot-time probe without it falling
// back to a smaller table.
func QuerySize() (nrFrames, maxNrFrames uint32) {
	return 0, 32
}

// SetVersion accepts any version a guest proposes.
func SetVersion(_ uint32) {}

//go:build linux

// Package domctl is the narrow handle for XEN_DOMCTL_* payloads,
// grounded on xen::handle_domctl's single-line delegation in xen.cpp.
// As with sysctl, this shim has no domctl payload to act on.
package domctl

import "errors"

// ErrNotImplemented is returned for every domctl payload.
var ErrNotImplemented = errors.New("domctl: not implemented")

// Handle processes a raw xen_domctl_t payload.
func Handle(_ []byte) error {
	return ErrNotImplemented
}

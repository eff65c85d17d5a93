//go:build linux

// Package sysctl is the narrow handle for XEN_SYSCTL_* payloads,
// grounded on xen::handle_sysctl's single-line delegation in xen.cpp.
// This shim's guest never issues a sysctl this host needs to act on, so
// the handler reports ENOSYS for everything rather than silently
// succeeding.
package sysctl

import "errors"

// ErrNotImplemented is returned for every sysctl payload.
var ErrNotImplemented = errors.New("sysctl: not implemented")

// Handle processes a raw xen_sysctl_t payload.
func Handle(_ []byte) error {
	return ErrNotImplemented
}

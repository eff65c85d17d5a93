//go:build linux

// Package version answers the XENVER_* hypercall sub-ops the shim
// exposes (spec.md: "Hypercall sub-service glue"), grounded on
// xen::handle_xen_version's switch in xen.cpp. Most sub-ops here are
// static strings/constants describing the impersonated ABI build.
package version

const (
	major = 4
	minor = 13
)

// Number packs the impersonated Xen version the way XENVER_version does.
func Number() uint32 {
	return major<<16 | minor
}

// Extraversion is the empty impersonated extraversion string.
func Extraversion() [16]byte {
	return [16]byte{}
}

// Changeset is the impersonated (empty) changeset string.
func Changeset() [64]byte {
	return [64]byte{}
}

// Capabilities reports the guest-facing capability string.
func Capabilities() [1024]byte {
	var buf [1024]byte
	copy(buf[:], "xen-3.0-x86_64 hvm-3.0-x86_32 hvm-3.0-x86_32p hvm-3.0-x86_64")
	return buf
}

// Features reports the XENVER_get_features bitmap; this shim advertises
// none of the optional PV features beyond what CPUID leaf 4 already
// states.
func Features() uint32 {
	return 0
}

// CommandLine is the impersonated (empty) guest command line.
func CommandLine() [1024]byte {
	return [1024]byte{}
}

// BuildID is the impersonated (empty) build identifier.
func BuildID() [128]byte {
	return [128]byte{}
}

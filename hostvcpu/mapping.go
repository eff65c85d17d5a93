//go:build linux

package hostvcpu

import "unsafe"

// As reinterprets a Mapping's backing bytes as *T, the same unsafe.Pointer
// trick the teacher uses for kvm.VCPUState.IOExitData/MMIOExitData. The
// caller is responsible for requesting a Mapping at least sizeof(T) long.
func As[T any](m Mapping) *T {
	b := m.Bytes()
	return (*T)(unsafe.Pointer(&b[0]))
}

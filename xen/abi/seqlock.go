//go:build linux

package abi

import "sync/atomic"

// BeginSeqWrite32 marks a sequence-locked 32-bit version field as
// in-progress (odd). Readers retry while the version is odd or has
// changed across their read (spec.md §3 "wall-clock fields... are
// sequence-locked").
func BeginSeqWrite32(version *uint32) {
	atomic.AddUint32(version, 1)
}

// EndSeqWrite32 closes out a sequence-locked update, making the version
// even again.
func EndSeqWrite32(version *uint32) {
	atomic.AddUint32(version, 1)
}

// ReadSeqLocked32 runs fn while the sequence-locked version protecting it
// is even, retrying if a concurrent writer was in progress. It exists for
// tests asserting the "TESTABLE PROPERTIES" sequence-lock invariant; the
// shim itself is single-writer and never needs to retry its own writes.
func ReadSeqLocked32(version *uint32, fn func()) {
	for {
		before := atomic.LoadUint32(version)
		if before&1 == 1 {
			continue
		}

		fn()

		after := atomic.LoadUint32(version)
		if before == after {
			return
		}
	}
}

// WriteRunstateEntryTime stores a new state_entry_time, using the
// atomic-update-bit protocol (spec.md §3) when assist is true, or a plain
// store otherwise.
func WriteRunstateEntryTime(entryTime *uint64, value uint64, assist bool) {
	if !assist {
		atomic.StoreUint64(entryTime, value)
		return
	}

	atomic.StoreUint64(entryTime, XenRunstateUpdate)
	atomic.StoreUint64(entryTime, XenRunstateUpdate|value)
	atomic.StoreUint64(entryTime, value)
}

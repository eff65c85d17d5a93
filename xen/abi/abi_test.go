//go:build linux

package abi_test

import (
	"testing"

	"github.com/SeanTBooker/MicroV/xen/abi"
)

func TestSeqLockRoundTrip(t *testing.T) {
	var version uint32
	var payload uint64

	for i := 0; i < 3; i++ {
		abi.BeginSeqWrite32(&version)
		if version%2 == 0 {
			t.Fatalf("version %d should be odd mid-update", version)
		}

		payload = uint64(i)
		abi.EndSeqWrite32(&version)

		if version%2 != 0 {
			t.Fatalf("version %d should be even after update", version)
		}

		if got, want := version, uint32(2*(i+1)); got != want {
			t.Fatalf("version = %d, want %d", got, want)
		}
	}

	var seen uint64
	abi.ReadSeqLocked32(&version, func() {
		seen = payload
	})

	if seen != 2 {
		t.Fatalf("seen = %d, want 2", seen)
	}
}

func TestWriteRunstateEntryTimePlain(t *testing.T) {
	var entry uint64
	abi.WriteRunstateEntryTime(&entry, 12345, false)

	if entry != 12345 {
		t.Fatalf("entry = %d, want 12345", entry)
	}
}

func TestWriteRunstateEntryTimeAssist(t *testing.T) {
	var entry uint64
	abi.WriteRunstateEntryTime(&entry, 0xABCD, true)

	if entry&abi.XenRunstateUpdate != 0 {
		t.Fatalf("update bit left set: %#x", entry)
	}

	if entry != 0xABCD {
		t.Fatalf("entry = %#x, want 0xABCD", entry)
	}
}

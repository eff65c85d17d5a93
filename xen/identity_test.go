//go:build linux

package xen

import "testing"

func TestNewIdentityAssignsIncreasingDomIDs(t *testing.T) {
	dom1 := &fakeDomain{}
	dom2 := &fakeDomain{}

	id1 := newIdentity(dom1)
	id2 := newIdentity(dom2)

	if id1.DomID == 0 || id2.DomID == 0 {
		t.Fatal("non-init domains must receive a nonzero domid")
	}
	if id1.DomID == id2.DomID {
		t.Fatal("two non-init domains got the same domid")
	}
	if id2.DomID != id1.DomID+1 {
		t.Errorf("domid not monotonically increasing: %d then %d", id1.DomID, id2.DomID)
	}
}

func TestNewIdentityPinsVCPUFieldsToZero(t *testing.T) {
	id := newIdentity(&fakeDomain{})

	if id.VCPUID != 0 || id.APICID != 0 || id.ACPIID != 0 {
		t.Errorf("vcpuid/apicid/acpiid must stay pinned to 0, got %+v", id)
	}
}

func TestDomainHandleIsDeterministicPerDomID(t *testing.T) {
	h1 := domainHandle(42)
	h2 := domainHandle(42)
	h3 := domainHandle(43)

	if h1 != h2 {
		t.Error("domainHandle should be deterministic for the same domid")
	}
	if h1 == h3 {
		t.Error("domainHandle should differ across domids")
	}
}

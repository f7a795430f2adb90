package resource

import (
	"testing"
	"time"
)

func cinAt(ri string, ct time.Time, size int) *Resource {
	r := New(TypeCIN)
	r.RI = ri
	r.CT = ct
	r.Set("con", make([]byte, size))
	return r
}

func TestRecomputeQuotaEvictsOldestByCT(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	parent := New(TypeContainer)
	parent.Set("mni", 2)

	a := cinAt("cin-a", base, 4)
	b := cinAt("cin-b", base.Add(time.Minute), 4)
	c := cinAt("cin-c", base.Add(2*time.Minute), 4)

	cni, _, evict, err := RecomputeQuota(parent, []*Resource{a, b, c})
	if err != nil {
		t.Fatalf("RecomputeQuota: %v", err)
	}
	if cni != 2 {
		t.Fatalf("cni = %d, want 2", cni)
	}
	if len(evict) != 1 || evict[0].RI != "cin-a" {
		t.Fatalf("evict = %v, want [cin-a]", evict)
	}
}

func TestRecomputeQuotaTieBreaksByRI(t *testing.T) {
	// Two children share the same ct (§4.1 rule 4: tie-break by earlier
	// ri ordinal).
	same := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	parent := New(TypeContainer)
	parent.Set("mni", 1)

	a := cinAt("cin-aaa", same, 1)
	b := cinAt("cin-bbb", same, 1)

	_, _, evict, err := RecomputeQuota(parent, []*Resource{b, a})
	if err != nil {
		t.Fatalf("RecomputeQuota: %v", err)
	}
	if len(evict) != 1 || evict[0].RI != "cin-aaa" {
		t.Fatalf("evict = %v, want [cin-aaa] (lexically smaller ri evicted first)", evict)
	}
}

func TestRecomputeQuotaEvictsByByteSize(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	parent := New(TypeContainer)
	parent.Set("mbs", 10)

	a := cinAt("cin-a", base, 6)
	b := cinAt("cin-b", base.Add(time.Minute), 6)

	cni, cbs, evict, err := RecomputeQuota(parent, []*Resource{a, b})
	if err != nil {
		t.Fatalf("RecomputeQuota: %v", err)
	}
	if len(evict) != 1 || evict[0].RI != "cin-a" {
		t.Fatalf("evict = %v, want [cin-a]", evict)
	}
	if cni != 1 {
		t.Fatalf("cni = %d, want 1", cni)
	}
	if cbs > 10 {
		t.Fatalf("cbs = %d, want <= 10", cbs)
	}
}

func TestLatestOldest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := cinAt("cin-a", base, 1)
	b := cinAt("cin-b", base.Add(time.Minute), 1)
	c := cinAt("cin-c", base.Add(2*time.Minute), 1)

	latest, oldest := LatestOldest([]*Resource{c, a, b})
	if latest.RI != "cin-c" {
		t.Errorf("latest = %s, want cin-c", latest.RI)
	}
	if oldest.RI != "cin-a" {
		t.Errorf("oldest = %s, want cin-a", oldest.RI)
	}
}

func TestLatestOldestEmpty(t *testing.T) {
	latest, oldest := LatestOldest(nil)
	if latest != nil || oldest != nil {
		t.Fatalf("expected both nil for no children, got %v, %v", latest, oldest)
	}
}

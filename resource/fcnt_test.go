package resource

import "testing"

func TestNeedsFCISnapshot(t *testing.T) {
	withMNI := New(TypeFlexContainer)
	withMNI.Set("mni", 5)
	if !NeedsFCISnapshot(withMNI) {
		t.Error("expected true when mni is set")
	}

	withMBS := New(TypeFlexContainer)
	withMBS.Set("mbs", 1024)
	if !NeedsFCISnapshot(withMBS) {
		t.Error("expected true when mbs is set")
	}

	bare := New(TypeFlexContainer)
	if NeedsFCISnapshot(bare) {
		t.Error("expected false when neither mni nor mbs is set")
	}
}

func TestSnapshotFCICopiesNonReservedAttrsOnly(t *testing.T) {
	parent := New(TypeFlexContainer)
	parent.RI = "fcnt-1"
	parent.RN = "myThermostat"
	parent.CR = "Cdemo"
	parent.Set("st", 3)
	parent.Set("cni", 7)    // reserved, must not be copied
	parent.Set("cbs", 1024) // reserved, must not be copied
	parent.Set("temperature", 21.5)

	snap, err := SnapshotFCI(parent)
	if err != nil {
		t.Fatalf("SnapshotFCI: %v", err)
	}
	if snap.Ty != TypeFCI {
		t.Fatalf("Ty = %v, want TypeFCI", snap.Ty)
	}
	if snap.PI != parent.RI {
		t.Fatalf("PI = %q, want %q", snap.PI, parent.RI)
	}
	if snap.RN != "myThermostat_3" {
		t.Fatalf("RN = %q, want myThermostat_3", snap.RN)
	}
	if _, ok := snap.Get("cni"); ok {
		t.Error("cni must not be copied into the FCI snapshot")
	}
	if v, ok := snap.Get("temperature"); !ok || v != 21.5 {
		t.Errorf("temperature = %v, want 21.5 to be copied", v)
	}
	if _, ok := snap.Get("cs"); !ok {
		t.Error("cs must be computed on the snapshot")
	}
}

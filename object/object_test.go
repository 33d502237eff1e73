package object

import (
	"testing"

	"github.com/go-lwm2m/lwm2m"
	"github.com/go-lwm2m/lwm2m/tlv"
)

func testDescriptor() *Descriptor {
	return &Descriptor{
		ID:            3,
		ResourceCount: 1,
		Capabilities:  CapRead | CapDelete,
		Read: func(inst *Instance, resourceID uint16) (*tlv.Resource, error) {
			return tlv.NewSingleString(resourceID, inst.UserState.(string)), nil
		},
	}
}

func TestAddRemoveInstance(t *testing.T) {
	reg := NewRegistry([]*Descriptor{testDescriptor()})
	if reg.Dirty() {
		t.Fatalf("new registry should not be dirty")
	}
	inst, err := reg.AddInstance(3, 0, "hello")
	if err != nil {
		t.Fatalf("AddInstance: %v", err)
	}
	if !reg.Dirty() {
		t.Errorf("AddInstance should mark registry dirty")
	}
	reg.ClearDirty()

	got, ok := reg.Instance(3, 0)
	if !ok || got != inst {
		t.Fatalf("Instance(3,0) = %+v, %v", got, ok)
	}

	if err := reg.RemoveInstance(3, 0); err != nil {
		t.Fatalf("RemoveInstance: %v", err)
	}
	if !reg.Dirty() {
		t.Errorf("RemoveInstance should mark registry dirty")
	}
	if _, ok := reg.Instance(3, 0); ok {
		t.Errorf("instance should be gone after RemoveInstance")
	}
}

func TestAddInstanceRejectsDuplicate(t *testing.T) {
	reg := NewRegistry([]*Descriptor{testDescriptor()})
	if _, err := reg.AddInstance(3, 0, "a"); err != nil {
		t.Fatalf("AddInstance: %v", err)
	}
	if _, err := reg.AddInstance(3, 0, "b"); err == nil {
		t.Errorf("duplicate AddInstance should fail")
	}
}

func TestAddInstanceUnknownObject(t *testing.T) {
	reg := NewRegistry([]*Descriptor{testDescriptor()})
	if _, err := reg.AddInstance(99, 0, nil); err == nil {
		t.Errorf("AddInstance on unknown object should fail")
	} else if lwm2m.KindOf(err) != lwm2m.KindNotFound {
		t.Errorf("expected KindNotFound, got %v", lwm2m.KindOf(err))
	}
}

func TestRemoveInstanceCallsDelete(t *testing.T) {
	called := false
	d := testDescriptor()
	d.Capabilities |= CapDelete
	d.Delete = func(inst *Instance) error {
		called = true
		return nil
	}
	reg := NewRegistry([]*Descriptor{d})
	reg.AddInstance(3, 0, "x")
	if err := reg.RemoveInstance(3, 0); err != nil {
		t.Fatalf("RemoveInstance: %v", err)
	}
	if !called {
		t.Errorf("Delete callback was not invoked")
	}
}

func TestSupports(t *testing.T) {
	d := testDescriptor()
	if !d.Supports(CapRead) {
		t.Errorf("descriptor should support Read")
	}
	if d.Supports(CapWriteTLV) {
		t.Errorf("descriptor should not support WriteTLV")
	}
}

func TestInstancesSorted(t *testing.T) {
	reg := NewRegistry([]*Descriptor{testDescriptor()})
	reg.AddInstance(3, 2, "b")
	reg.AddInstance(3, 0, "a")
	reg.AddInstance(3, 1, "c")
	insts := reg.Instances(3)
	if len(insts) != 3 || insts[0].InstanceID != 0 || insts[1].InstanceID != 1 || insts[2].InstanceID != 2 {
		t.Fatalf("Instances() not sorted: %+v", insts)
	}
}

func TestDumpTree(t *testing.T) {
	reg := NewRegistry([]*Descriptor{testDescriptor()})
	reg.AddInstance(3, 0, "hello")
	out := reg.DumpTree()
	if out == "" {
		t.Fatalf("DumpTree returned empty string")
	}
}

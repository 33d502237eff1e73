package client

import (
	"testing"

	"github.com/go-lwm2m/lwm2m"
	"github.com/go-lwm2m/lwm2m/object"
)

func TestApplyResourceWriteTextFormat(t *testing.T) {
	var got string
	desc := &object.Descriptor{
		ID:           3,
		Capabilities: object.CapWriteResource,
		WriteResource: func(inst *object.Instance, resourceID uint16, value string) error {
			got = value
			return nil
		},
	}
	inst := &object.Instance{ObjectID: 3, InstanceID: 0}

	if err := applyResourceWrite(desc, inst, 15, lwm2m.ContentFormatText, []byte("Europe/London")); err != nil {
		t.Fatalf("applyResourceWrite: %v", err)
	}
	if got != "Europe/London" {
		t.Errorf("WriteResource value = %q, want %q", got, "Europe/London")
	}
}

func TestApplyResourceWriteOpaqueFormat(t *testing.T) {
	var got string
	desc := &object.Descriptor{
		ID:           3,
		Capabilities: object.CapWriteResource,
		WriteResource: func(inst *object.Instance, resourceID uint16, value string) error {
			got = value
			return nil
		},
	}
	inst := &object.Instance{ObjectID: 3, InstanceID: 0}

	if err := applyResourceWrite(desc, inst, 15, lwm2m.ContentFormatOpaque, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("applyResourceWrite: %v", err)
	}
	if got != string([]byte{0x01, 0x02}) {
		t.Errorf("WriteResource value = %q, want opaque bytes", got)
	}
}

func TestApplyResourceWriteRequiresCapability(t *testing.T) {
	desc := &object.Descriptor{ID: 3}
	inst := &object.Instance{ObjectID: 3, InstanceID: 0}

	err := applyResourceWrite(desc, inst, 15, lwm2m.ContentFormatText, []byte("x"))
	if lwm2m.KindOf(err) != lwm2m.KindMethodNotAllowed {
		t.Fatalf("applyResourceWrite without CapWriteResource: err = %v, want KindMethodNotAllowed", err)
	}
}

func TestApplyResourceWriteRejectsTLV(t *testing.T) {
	desc := &object.Descriptor{ID: 3, Capabilities: object.CapWriteResource}
	inst := &object.Instance{ObjectID: 3, InstanceID: 0}

	err := applyResourceWrite(desc, inst, 15, lwm2m.ContentFormatTLV, []byte{})
	if lwm2m.KindOf(err) != lwm2m.KindBadRequest {
		t.Fatalf("applyResourceWrite with TLV content format: err = %v, want KindBadRequest", err)
	}
}

func TestApplyResourceWriteUnsupportedContentFormat(t *testing.T) {
	desc := &object.Descriptor{ID: 3, Capabilities: object.CapWriteResource}
	inst := &object.Instance{ObjectID: 3, InstanceID: 0}

	err := applyResourceWrite(desc, inst, 15, lwm2m.ContentFormatJSON, []byte{})
	if lwm2m.KindOf(err) != lwm2m.KindUnsupportedContentFormat {
		t.Fatalf("applyResourceWrite with JSON content format: err = %v, want KindUnsupportedContentFormat", err)
	}
}

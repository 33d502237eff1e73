// Package object implements the client-side object registry (spec.md
// §4.4): a static, id-indexed table of object descriptors, each exposing a
// capability set rather than the nullable function-pointer vtable the
// source used, plus dynamically added/removed instances. It is grounded in
// 1stship-inventoryd's Lwm2mObjectDefinition/Lwm2mInstance/Lwm2mResource
// tree (lwm2m_resource.go) and its findInstance/findResource tree-walking
// (lwm2m.go), generalized per spec.md §9's "capability set" redesign and
// the "parameterize by a single user-state type" note.
package object

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"github.com/go-lwm2m/lwm2m"
	"github.com/go-lwm2m/lwm2m/tlv"
)

// Capability is one of the six operations an object descriptor may
// support; spec.md §3's object descriptor is "{ id, resource_count,
// optional: create, read, write_resource, write_tlv, execute, delete }".
type Capability uint8

const (
	CapCreate Capability = 1 << iota
	CapRead
	CapWriteResource
	CapWriteTLV
	CapExecute
	CapDelete
)

func (c Capability) String() string {
	names := []struct {
		bit  Capability
		name string
	}{
		{CapCreate, "Create"},
		{CapRead, "Read"},
		{CapWriteResource, "WriteResource"},
		{CapWriteTLV, "WriteTLV"},
		{CapExecute, "Execute"},
		{CapDelete, "Delete"},
	}
	out := ""
	for _, n := range names {
		if c&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// Instance is one object instance: spec.md §3's "(object_id, instance_id,
// user_state)" tuple. UserState is owned by the caller and opaque to the
// registry, the Go analogue of the source's void* user data.
type Instance struct {
	ObjectID   uint16
	InstanceID uint16
	UserState  interface{}
}

// ReadFunc returns the current value of one resource on an instance.
// Returning an error with lwm2m.KindNotFound elides the resource from a
// fan-out read rather than failing the whole request (spec.md §4.6).
type ReadFunc func(inst *Instance, resourceID uint16) (*tlv.Resource, error)

// WriteResourceFunc applies a text/opaque-format single-resource write.
type WriteResourceFunc func(inst *Instance, resourceID uint16, value string) error

// WriteTLVFunc applies a TLV-format write of one resource record (or, for
// an instance-level PUT, is called once per resource record in the body).
type WriteTLVFunc func(inst *Instance, resourceID uint16, rec tlv.Record) error

// ExecuteFunc invokes a resource's Execute operation with the request's
// text-format argument payload (empty if the request carried no body).
type ExecuteFunc func(inst *Instance, resourceID uint16, args string) error

// CreateFunc constructs a new instance's UserState for an object-level
// POST; the dispatcher picks instanceID (one past the highest existing
// id) and stores the result in the registry.
type CreateFunc func(objectID, instanceID uint16, initial []tlv.Record) (interface{}, error)

// DeleteFunc releases an instance's UserState before it is removed from
// the registry.
type DeleteFunc func(inst *Instance) error

// Descriptor is spec.md §3's object descriptor: an id, a resource count
// used to drive fan-out reads, and optional per-operation callbacks whose
// presence is summarized by Capabilities.
type Descriptor struct {
	ID            uint16
	ResourceCount uint16
	Capabilities  Capability

	Read          ReadFunc
	WriteResource WriteResourceFunc
	WriteTLV      WriteTLVFunc
	Execute       ExecuteFunc
	Create        CreateFunc
	Delete        DeleteFunc
}

// Supports reports whether the descriptor declares capability c.
func (d *Descriptor) Supports(c Capability) bool {
	return d.Capabilities&c != 0
}

// Registry is the client's static, id-indexed table of object descriptors
// plus its dynamically managed instances (spec.md §4.4). The zero value is
// not usable; construct with NewRegistry.
type Registry struct {
	mu          sync.Mutex
	descriptors map[uint16]*Descriptor
	instances   map[uint16]map[uint16]*Instance
	dirty       atomic.Bool
}

// NewRegistry indexes descriptors by ID, the Go analogue of the source's
// null-terminated descriptor list supplied at startup.
func NewRegistry(descriptors []*Descriptor) *Registry {
	r := &Registry{
		descriptors: make(map[uint16]*Descriptor, len(descriptors)),
		instances:   make(map[uint16]map[uint16]*Instance),
	}
	for _, d := range descriptors {
		r.descriptors[d.ID] = d
		r.instances[d.ID] = make(map[uint16]*Instance)
	}
	return r
}

// Descriptor looks up the descriptor for objectID.
func (r *Registry) Descriptor(objectID uint16) (*Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[objectID]
	return d, ok
}

// AddInstance allocates an instance slot under objectID and marks the
// registry dirty so the registration FSM re-lists the object set on its
// next Update (SPEC_FULL.md Open Question 3).
func (r *Registry) AddInstance(objectID, instanceID uint16, userState interface{}) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts, ok := r.instances[objectID]
	if !ok {
		return nil, lwm2m.New(lwm2m.KindNotFound, "object %d is not registered", objectID)
	}
	if _, exists := insts[instanceID]; exists {
		return nil, lwm2m.New(lwm2m.KindBadRequest, "instance %d/%d already exists", objectID, instanceID)
	}
	inst := &Instance{ObjectID: objectID, InstanceID: instanceID, UserState: userState}
	insts[instanceID] = inst
	r.dirty.Store(true)
	return inst, nil
}

// RemoveInstance removes an instance, invoking its descriptor's Delete
// callback first if one is set. Per spec.md §4.4 this is driven only by an
// authorized server Delete or by client shutdown; it marks the registry
// dirty for the same reason as AddInstance.
func (r *Registry) RemoveInstance(objectID, instanceID uint16) error {
	r.mu.Lock()
	insts, ok := r.instances[objectID]
	if !ok {
		r.mu.Unlock()
		return lwm2m.New(lwm2m.KindNotFound, "object %d is not registered", objectID)
	}
	inst, ok := insts[instanceID]
	if !ok {
		r.mu.Unlock()
		return lwm2m.New(lwm2m.KindNotFound, "instance %d/%d not found", objectID, instanceID)
	}
	d := r.descriptors[objectID]
	r.mu.Unlock()

	if d != nil && d.Delete != nil {
		if err := d.Delete(inst); err != nil {
			return err
		}
	}

	r.mu.Lock()
	delete(insts, instanceID)
	r.dirty.Store(true)
	r.mu.Unlock()
	return nil
}

// Instance looks up a single instance.
func (r *Registry) Instance(objectID, instanceID uint16) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts, ok := r.instances[objectID]
	if !ok {
		return nil, false
	}
	inst, ok := insts[instanceID]
	return inst, ok
}

// Instances returns objectID's instances sorted by instance id.
func (r *Registry) Instances(objectID uint16) []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[objectID]
	out := make([]*Instance, 0, len(insts))
	for _, inst := range insts {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// ObjectIDs returns every registered object id, sorted.
func (r *Registry) ObjectIDs() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint16, 0, len(r.descriptors))
	for id := range r.descriptors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dirty reports whether the object set has changed (an AddInstance or
// RemoveInstance) since the last ClearDirty, the signal the registration
// FSM uses to decide whether an Update must re-list the object set.
func (r *Registry) Dirty() bool {
	return r.dirty.Load()
}

// ClearDirty resets the dirty flag after a successful Update or Register.
func (r *Registry) ClearDirty() {
	r.dirty.Store(false)
}

// DumpTree renders every object/instance/resource as an indented tree for
// debugging, grounded in 1stship-inventoryd's findInstance/findResource
// tree walk. Resources are enumerated 0..ResourceCount-1; a Read failure
// is shown as "<error: ...>" with the error text rather than aborting the
// dump, and a Multiple resource is shown as "<multiple>".
func (r *Registry) DumpTree() string {
	var out string
	for _, objectID := range r.ObjectIDs() {
		d, _ := r.Descriptor(objectID)
		out += fmt.Sprintf("/%d\n", objectID)
		for _, inst := range r.Instances(objectID) {
			out += fmt.Sprintf("  /%d/%d\n", objectID, inst.InstanceID)
			if d.Read == nil {
				continue
			}
			for rid := uint16(0); rid < d.ResourceCount; rid++ {
				res, err := d.Read(inst, rid)
				if err != nil {
					out += fmt.Sprintf("    /%d/%d/%d <error: %v>\n", objectID, inst.InstanceID, rid, err)
					continue
				}
				text, err := res.String()
				if err != nil {
					text = "<multiple>"
				}
				out += fmt.Sprintf("    /%d/%d/%d = %s\n", objectID, inst.InstanceID, rid, text)
			}
		}
	}
	return out
}

// Package server implements the LWM2M server-side core (spec.md
// §4.8-§4.9): the registration directory with lifetime eviction and
// registration-event monitors, and the management-interface issuer that
// demultiplexes outbound Read/Write/Execute/Create/Delete/Observe
// requests by CoAP token. Grounded in the teacher's Observations struct
// (coap_observe.go) for its mutex-guarded map + small focused methods
// shape, and in its NewCoAPHTTP/counter() token-generation idiom
// (coap_http.go) for allocating directory locations.
package server

import (
	"reflect"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/go-lwm2m/lwm2m"
)

// Event is a registration-event kind fired to monitors, per spec.md §4.8.
type Event int

const (
	EventRegister Event = iota
	EventUpdate
	EventTimeout
	EventUnregister
)

func (e Event) String() string {
	switch e {
	case EventRegister:
		return "Register"
	case EventUpdate:
		return "Update"
	case EventTimeout:
		return "Timeout"
	case EventUnregister:
		return "Unregister"
	default:
		return "Unknown"
	}
}

// ClientInfo is spec.md §3's client-info record. Handles returned to user
// code are snapshots (copies), honoring §3's "borrowed... valid only
// until the next registration event" rule by never handing out a pointer
// into the directory's live state.
type ClientInfo struct {
	Name            string
	Location        string
	SMS             string
	ObjectsPath     string
	LifetimeSeconds uint32
	Binding         lwm2m.BindingMode
	PeerAddress     string
	Objects         map[uint16][]uint16
	RegisteredAt    time.Time
	ExpiresAt       time.Time
}

func (c ClientInfo) clone() ClientInfo {
	out := c
	out.Objects = make(map[uint16][]uint16, len(c.Objects))
	for k, v := range c.Objects {
		out.Objects[k] = append([]uint16(nil), v...)
	}
	return out
}

// Monitor observes registration events; userData is the opaque value
// supplied at AddMonitor time, threaded back on every call the way the
// source threads a void* through its callbacks (spec.md §9).
type Monitor func(info ClientInfo, event Event, userData interface{})

type monitorEntry struct {
	fnPtr    uintptr
	userData interface{}
	callback Monitor
}

// Directory is the server's table of currently registered endpoints
// (spec.md §4.8). The zero value is not usable; construct with NewDirectory.
type Directory struct {
	mu       sync.Mutex
	clients  map[string]*ClientInfo // keyed by location
	timers   map[string]*time.Timer
	monitors []monitorEntry
	counter  atomic.Uint64
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		clients: make(map[string]*ClientInfo),
		timers:  make(map[string]*time.Timer),
	}
}

// AddMonitor registers a (callback, userData) pair, ignoring the call if
// an identical pair is already registered (spec.md §4.8's "identical
// pairs deduplicate"). Two Monitor values are identical when they share
// an underlying function pointer and userData compares equal; userData
// must therefore be a comparable value, the Go analogue of comparing two
// void* by address.
func (d *Directory) AddMonitor(cb Monitor, userData interface{}) {
	fnPtr := reflect.ValueOf(cb).Pointer()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.monitors {
		if m.fnPtr == fnPtr && m.userData == userData {
			return
		}
	}
	d.monitors = append(d.monitors, monitorEntry{fnPtr: fnPtr, userData: userData, callback: cb})
}

// fire invokes every monitor registered at the time of the call,
// synchronously, in registration order, before returning. Monitors added
// by a callback during this call are not invoked until the next event,
// since we snapshot the slice header up front.
func (d *Directory) fire(info ClientInfo, event Event) {
	d.mu.Lock()
	snapshot := d.monitors
	d.mu.Unlock()
	for _, m := range snapshot {
		m.callback(info, event, m.userData)
	}
}

func (d *Directory) newLocation() string {
	n := d.counter.Inc()
	return "/rd/" + strconv.FormatUint(n, 36)
}

// Register allocates a location, inserts a client-info record and arms
// its expiry timer, per spec.md §4.8. Returns the allocated location.
func (d *Directory) Register(name string, lifetimeSeconds uint32, binding lwm2m.BindingMode, sms, objectsPath, peerAddress string, objects map[uint16][]uint16) string {
	d.mu.Lock()
	location := d.newLocation()
	now := time.Now()
	info := &ClientInfo{
		Name:            name,
		Location:        location,
		SMS:             sms,
		ObjectsPath:     objectsPath,
		LifetimeSeconds: lifetimeSeconds,
		Binding:         binding,
		PeerAddress:     peerAddress,
		Objects:         objects,
		RegisteredAt:    now,
		ExpiresAt:       now.Add(time.Duration(lifetimeSeconds) * time.Second),
	}
	d.clients[location] = info
	d.armTimer(location, lifetimeSeconds)
	snapshot := info.clone()
	d.mu.Unlock()

	d.fire(snapshot, EventRegister)
	return location
}

// Update refreshes a client's expiry timer, its lifetime if
// lifetimeSeconds is non-zero, and its object list if objects is non-nil.
// The binding mode, SMS number and objects path stored at Register are
// not changed. Fails with NotFound if location is unknown (the server
// equivalent of a stale registration).
func (d *Directory) Update(location string, lifetimeSeconds uint32, objects map[uint16][]uint16) error {
	d.mu.Lock()
	info, ok := d.clients[location]
	if !ok {
		d.mu.Unlock()
		return lwm2m.New(lwm2m.KindNotFound, "registration %s not found", location)
	}
	if lifetimeSeconds > 0 {
		info.LifetimeSeconds = lifetimeSeconds
	}
	if objects != nil {
		info.Objects = objects
	}
	info.ExpiresAt = time.Now().Add(time.Duration(info.LifetimeSeconds) * time.Second)
	d.armTimer(location, info.LifetimeSeconds)
	snapshot := info.clone()
	d.mu.Unlock()

	d.fire(snapshot, EventUpdate)
	return nil
}

// Deregister removes a client-info record explicitly (a CoAP DELETE on
// its location), firing EventUnregister.
func (d *Directory) Deregister(location string) error {
	d.mu.Lock()
	info, ok := d.clients[location]
	if !ok {
		d.mu.Unlock()
		return lwm2m.New(lwm2m.KindNotFound, "registration %s not found", location)
	}
	d.removeLocked(location)
	snapshot := info.clone()
	d.mu.Unlock()

	d.fire(snapshot, EventUnregister)
	return nil
}

// timeout is invoked by a client's expiry timer; it evicts the record and
// fires EventTimeout.
func (d *Directory) timeout(location string) {
	d.mu.Lock()
	info, ok := d.clients[location]
	if !ok {
		d.mu.Unlock()
		return
	}
	d.removeLocked(location)
	snapshot := info.clone()
	d.mu.Unlock()

	d.fire(snapshot, EventTimeout)
}

// removeLocked deletes a client record and stops its timer. Caller must
// hold d.mu.
func (d *Directory) removeLocked(location string) {
	if t, ok := d.timers[location]; ok {
		t.Stop()
		delete(d.timers, location)
	}
	delete(d.clients, location)
}

func (d *Directory) armTimer(location string, lifetimeSeconds uint32) {
	if t, ok := d.timers[location]; ok {
		t.Stop()
	}
	d.timers[location] = time.AfterFunc(time.Duration(lifetimeSeconds)*time.Second, func() {
		d.timeout(location)
	})
}

// Lookup returns a snapshot of the client-info record at location.
func (d *Directory) Lookup(location string) (ClientInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.clients[location]
	if !ok {
		return ClientInfo{}, false
	}
	return info.clone(), true
}

// All returns a snapshot of every currently registered client.
func (d *Directory) All() []ClientInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ClientInfo, 0, len(d.clients))
	for _, info := range d.clients {
		out = append(out, info.clone())
	}
	return out
}

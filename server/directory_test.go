package server

import (
	"testing"
	"time"

	"github.com/go-lwm2m/lwm2m"
)

func TestDirectoryRegisterFiresEvent(t *testing.T) {
	d := NewDirectory()
	var got Event
	var name string
	d.AddMonitor(func(info ClientInfo, event Event, userData interface{}) {
		got = event
		name = info.Name
	}, nil)

	loc := d.Register("ep1", 60, lwm2m.BindingU, "", "", "127.0.0.1:5683", nil)
	if loc == "" {
		t.Fatal("Register returned empty location")
	}
	if got != EventRegister {
		t.Errorf("event = %v, want EventRegister", got)
	}
	if name != "ep1" {
		t.Errorf("info.Name = %q, want ep1", name)
	}
}

func TestDirectoryUpdateFiresEvent(t *testing.T) {
	d := NewDirectory()
	loc := d.Register("ep1", 60, lwm2m.BindingU, "", "", "127.0.0.1:5683", nil)

	var events []Event
	d.AddMonitor(func(info ClientInfo, event Event, userData interface{}) {
		events = append(events, event)
	}, nil)

	if err := d.Update(loc, 120, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(events) != 1 || events[0] != EventUpdate {
		t.Errorf("events = %v, want [EventUpdate]", events)
	}

	info, ok := d.Lookup(loc)
	if !ok {
		t.Fatal("Lookup after Update: not found")
	}
	if info.LifetimeSeconds != 120 {
		t.Errorf("LifetimeSeconds = %d, want 120", info.LifetimeSeconds)
	}
}

func TestDirectoryUpdateUnknownLocation(t *testing.T) {
	d := NewDirectory()
	if err := d.Update("/rd/bogus", 60, nil); lwm2m.KindOf(err) != lwm2m.KindNotFound {
		t.Errorf("Update on unknown location: kind = %v, want NotFound", lwm2m.KindOf(err))
	}
}

func TestDirectoryDeregisterFiresEventAndRemoves(t *testing.T) {
	d := NewDirectory()
	loc := d.Register("ep1", 60, lwm2m.BindingU, "", "", "127.0.0.1:5683", nil)

	var got Event
	d.AddMonitor(func(info ClientInfo, event Event, userData interface{}) {
		got = event
	}, nil)

	if err := d.Deregister(loc); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if got != EventUnregister {
		t.Errorf("event = %v, want EventUnregister", got)
	}
	if _, ok := d.Lookup(loc); ok {
		t.Error("client still present after Deregister")
	}
}

func TestDirectoryTimeoutFiresEventAndRemoves(t *testing.T) {
	d := NewDirectory()
	done := make(chan Event, 1)
	d.AddMonitor(func(info ClientInfo, event Event, userData interface{}) {
		done <- event
	}, nil)
	loc := d.Register("ep1", 1, lwm2m.BindingU, "", "", "127.0.0.1:5683", nil)

	select {
	case ev := <-done:
		if ev != EventTimeout {
			t.Errorf("event = %v, want EventTimeout", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for EventTimeout")
	}
	if _, ok := d.Lookup(loc); ok {
		t.Error("client still present after timeout")
	}
}

func TestDirectoryAddMonitorDedup(t *testing.T) {
	d := NewDirectory()
	calls := 0
	cb := func(info ClientInfo, event Event, userData interface{}) {
		calls++
	}
	d.AddMonitor(cb, "key1")
	d.AddMonitor(cb, "key1")
	d.AddMonitor(cb, "key2")

	d.Register("ep1", 60, lwm2m.BindingU, "", "", "127.0.0.1:5683", nil)
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (dedup of identical pair, distinct userData kept)", calls)
	}
}

func TestDirectoryAllAndClone(t *testing.T) {
	d := NewDirectory()
	loc := d.Register("ep1", 60, lwm2m.BindingU, "", "", "127.0.0.1:5683", map[uint16][]uint16{3: {0}})

	all := d.All()
	if len(all) != 1 {
		t.Fatalf("All() len = %d, want 1", len(all))
	}
	all[0].Objects[3][0] = 99 // mutate the snapshot

	info, _ := d.Lookup(loc)
	if info.Objects[3][0] != 0 {
		t.Error("mutating a snapshot from All() leaked into directory state")
	}
}

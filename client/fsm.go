package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v2/message/codes"
	udpclient "github.com/plgd-dev/go-coap/v2/udp/client"

	"github.com/go-lwm2m/lwm2m"
	"github.com/go-lwm2m/lwm2m/object"
	"github.com/go-lwm2m/lwm2m/objpath"
)

// State is a registration's position in spec.md §4.5's FSM:
// Unregistered -> Registering -> Registered <-> Updating -> Deregistering -> Unregistered.
type State int

const (
	Unregistered State = iota
	Registering
	Registered
	Updating
	Deregistering
)

func (s State) String() string {
	switch s {
	case Registering:
		return "Registering"
	case Registered:
		return "Registered"
	case Updating:
		return "Updating"
	case Deregistering:
		return "Deregistering"
	default:
		return "Unregistered"
	}
}

// Backoff schedule for failed Registers (SPEC_FULL.md §6, Open Question
// 1): start at 1s, double on every failure, cap at 120s, and give up once
// the cumulative elapsed retry time would exceed the configured lifetime.
const (
	initialBackoff = time.Second
	maxBackoff     = 120 * time.Second
)

// safetyMargin is SPEC_FULL.md §6's Open Question 2 decision: Update
// fires lifetime/4 seconds before expiry, clamped to [5s, 60s].
func safetyMargin(lifetime time.Duration) time.Duration {
	m := lifetime / 4
	if m < 5*time.Second {
		m = 5 * time.Second
	}
	if m > 60*time.Second {
		m = 60 * time.Second
	}
	return m
}

// ServerConfig describes one known server (spec.md §3's known-server
// record), minus fields (short_server_id, etc.) not needed outside
// bootstrap, which is explicitly out of scope (spec.md §1).
type ServerConfig struct {
	URI             string
	LifetimeSeconds uint32
	Binding         lwm2m.BindingMode
}

// Registration runs the per-server registration FSM on a dedicated
// goroutine driven by a single timer, the closest single-threaded
// equivalent available in Go to spec.md §5's cooperative event loop
// requirement that "no two outstanding registration messages per server"
// ever race. Grounded in 1stship-inventoryd's Register/Update/close
// (lwm2m_register.go), re-expressed as an explicit state machine per
// spec.md §4.5's table rather than the source's linear retry loop.
type Registration struct {
	endpointName string
	objectsPath  string
	cfg          ServerConfig
	registry     *object.Registry
	conn         *udpclient.ClientConn
	log          Logger

	mu       sync.Mutex
	state    State
	location string

	updateRequested bool
	stop            chan struct{}
	stopped         chan struct{}
}

// NewRegistration constructs a Registration bound to an already-dialed
// CoAP connection to the server.
func NewRegistration(endpointName, objectsPath string, cfg ServerConfig, registry *object.Registry, conn *udpclient.ClientConn, log Logger) *Registration {
	return &Registration{
		endpointName: endpointName,
		objectsPath:  objectsPath,
		cfg:          cfg,
		registry:     registry,
		conn:         conn,
		log:          log,
		state:        Unregistered,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

func (r *Registration) logf(format string, v ...interface{}) {
	if r.log == nil {
		return
	}
	r.log.Printf(format, v...)
}

// State reports the current FSM state.
func (r *Registration) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches the FSM's event loop on its own goroutine, beginning
// with start() -> Registering per spec.md §4.5.
func (r *Registration) Start() {
	go r.run()
}

// Stop transitions Registered -> Deregistering and sends a CoAP DELETE to
// the stored location, per spec.md §4.5; it blocks until the loop exits.
func (r *Registration) Stop() {
	close(r.stop)
	<-r.stopped
}

// RequestUpdate asks the FSM to send an Update at its next opportunity; a
// reentrant call while already Updating is coalesced into the single
// message the invariant in spec.md §4.5 requires.
func (r *Registration) RequestUpdate() {
	r.mu.Lock()
	r.updateRequested = true
	r.mu.Unlock()
}

func (r *Registration) run() {
	defer close(r.stopped)
	r.setState(Registering)

	lifetime := time.Duration(r.cfg.LifetimeSeconds) * time.Second
	var retryElapsed time.Duration
	backoff := initialBackoff

	for {
		select {
		case <-r.stop:
			r.deregister()
			r.setState(Unregistered)
			return
		default:
		}

		switch r.State() {
		case Registering:
			if err := r.register(lifetime); err != nil {
				r.logf("registration to %s failed: %s", r.cfg.URI, err)
				retryElapsed += backoff
				if retryElapsed >= lifetime {
					r.logf("registration to %s abandoned after exceeding lifetime budget", r.cfg.URI)
					r.setState(Unregistered)
					return
				}
				if !r.sleep(backoff) {
					r.deregister()
					r.setState(Unregistered)
					return
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			retryElapsed = 0
			backoff = initialBackoff
			r.registry.ClearDirty()
			r.setState(Registered)

		case Registered:
			margin := safetyMargin(lifetime)
			wait := lifetime - margin
			if !r.waitForUpdateTrigger(wait) {
				r.deregister()
				r.setState(Unregistered)
				return
			}
			r.setState(Updating)

		case Updating:
			if err := r.update(lifetime); err != nil {
				if lwm2m.KindOf(err) == lwm2m.KindNotFound {
					r.logf("server forgot registration at %s, falling back to full Register", r.cfg.URI)
					r.setState(Registering)
					continue
				}
				r.logf("update to %s failed: %s, retrying", r.cfg.URI, err)
				if !r.sleep(initialBackoff) {
					r.deregister()
					r.setState(Unregistered)
					return
				}
				continue
			}
			r.registry.ClearDirty()
			r.mu.Lock()
			r.updateRequested = false
			r.mu.Unlock()
			r.setState(Registered)

		default:
			return
		}
	}
}

// waitForUpdateTrigger blocks until wait elapses, an explicit
// RequestUpdate arrives, or the object set becomes dirty, or Stop is
// called. Returns false if Stop fired.
func (r *Registration) waitForUpdateTrigger(wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return false
		case <-ticker.C:
			r.mu.Lock()
			requested := r.updateRequested
			r.mu.Unlock()
			if requested || r.registry.Dirty() || time.Now().After(deadline) {
				return true
			}
		}
	}
}

func (r *Registration) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-r.stop:
		return false
	}
}

func (r *Registration) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Registration) linkFormatBody() []byte {
	var parts []string
	for _, objectID := range r.registry.ObjectIDs() {
		for _, inst := range r.registry.Instances(objectID) {
			parts = append(parts, objpath.LinkPath(objectID, inst.InstanceID))
		}
	}
	return []byte(strings.Join(parts, ","))
}

func (r *Registration) register(lifetime time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := fmt.Sprintf("/rd?ep=%s&lt=%d&b=%s", r.endpointName, int(lifetime.Seconds()), r.cfg.Binding)
	resp, err := r.conn.Post(ctx, path, lwm2m.ContentFormatText, bytes.NewReader(r.linkFormatBody()))
	if err != nil {
		return err
	}
	if resp.Code() != codes.Created {
		return lwm2m.New(lwm2m.KindInternalError, "unexpected register response %v", resp.Code())
	}
	loc, err := resp.Options().Path()
	if err != nil {
		return lwm2m.Wrap(lwm2m.KindInternalError, err, "register response missing Location-Path")
	}
	r.mu.Lock()
	r.location = loc
	r.mu.Unlock()
	return nil
}

func (r *Registration) update(lifetime time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r.mu.Lock()
	location := r.location
	dirty := r.registry.Dirty()
	r.mu.Unlock()

	var body []byte
	if dirty {
		body = r.linkFormatBody()
	}
	path := fmt.Sprintf("%s?lt=%d", location, int(lifetime.Seconds()))
	resp, err := r.conn.Post(ctx, path, lwm2m.ContentFormatText, bytes.NewReader(body))
	if err != nil {
		return err
	}
	switch resp.Code() {
	case codes.Changed:
		return nil
	case codes.NotFound:
		return lwm2m.New(lwm2m.KindNotFound, "registration %s no longer known to server", location)
	default:
		return lwm2m.New(lwm2m.KindInternalError, "unexpected update response %v", resp.Code())
	}
}

func (r *Registration) deregister() {
	r.mu.Lock()
	location := r.location
	r.mu.Unlock()
	if location == "" {
		return
	}
	r.setState(Deregistering)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.conn.Delete(ctx, location); err != nil {
		r.logf("deregister from %s failed: %s", location, err)
	}
}

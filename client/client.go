package client

import (
	"context"
	"strings"

	coapmux "github.com/plgd-dev/go-coap/v2/mux"
	"github.com/plgd-dev/go-coap/v2/udp"

	"github.com/go-lwm2m/lwm2m"
	"github.com/go-lwm2m/lwm2m/object"
)

// Config is the exposed client configuration (spec.md §6): the endpoint
// name, an optional objects-path URI prefix, informational SMS number,
// and the object descriptors supplied at startup.
type Config struct {
	Name        string
	ObjectsPath string
	SMS         string
	Descriptors []*object.Descriptor
}

// Client is one LWM2M endpoint: an object registry, a request
// dispatcher, and one Registration per known server. There is no
// bootstrap support (spec.md §1's explicit non-goal); known servers are
// supplied directly via AddServer.
type Client struct {
	cfg        Config
	Registry   *object.Registry
	Dispatcher *Dispatcher
	Log        Logger

	registrations []*Registration
}

// New builds a Client from cfg, wiring its object registry and
// dispatcher. Call AddServer for each known server before Start.
func New(cfg Config, log Logger) *Client {
	reg := object.NewRegistry(cfg.Descriptors)
	disp := NewDispatcher(reg, cfg.ObjectsPath)
	disp.Log = log
	return &Client{cfg: cfg, Registry: reg, Dispatcher: disp, Log: log}
}

// AddServer dials server.URI (host:port, with an optional "coap://"
// scheme prefix) over UDP and registers a Registration FSM
// for it; the caller must still call Start to begin the handshake.
func (c *Client) AddServer(ctx context.Context, server ServerConfig) (*Registration, error) {
	conn, err := udp.Dial(strings.TrimPrefix(server.URI, "coap://"))
	if err != nil {
		return nil, lwm2m.Wrap(lwm2m.KindInternalError, err, "dial %s", server.URI)
	}
	r := NewRegistration(c.cfg.Name, c.cfg.ObjectsPath, server, c.Registry, conn, c.Log)
	c.registrations = append(c.registrations, r)
	return r, nil
}

// Serve runs the management-interface server loop, listening on addr for
// inbound CoAP requests from any server this client is registered with
// (spec.md §4.6). It blocks until the context is cancelled or an
// unrecoverable transport error occurs.
func (c *Client) Serve(ctx context.Context, network, addr string) error {
	router := coapmux.NewRouter()
	router.DefaultHandle(c.Dispatcher.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- udp.ListenAndServe(network, addr, router)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// StartAll starts every registered Registration's FSM.
func (c *Client) StartAll() {
	for _, r := range c.registrations {
		r.Start()
	}
}

// StopAll deregisters from every known server and waits for each FSM to
// exit. It does not remove any object instance from the registry.
func (c *Client) StopAll() {
	for _, r := range c.registrations {
		r.Stop()
	}
}

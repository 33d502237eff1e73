package server

import (
	"context"

	coapmux "github.com/plgd-dev/go-coap/v2/mux"
	"github.com/plgd-dev/go-coap/v2/udp"
)

// DefaultPort is the UDP bind port spec.md §6 names as the server's
// default exposed configuration.
const DefaultPort = 5683

// Config is the server's exposed configuration (spec.md §6).
type Config struct {
	Addr string // host:port to bind; defaults to ":5683" if empty
}

// Server ties together the registration directory, the management
// issuer, and the registration interface's CoAP handler into one
// listener, the server-side analogue of client.Client. Grounded in the
// teacher's cmd/proxy, which wires an HTTP bridge's handler onto a
// plain net/http.Server the same way this wires RegisterHandler onto a
// coapmux.Router.
type Server struct {
	cfg Config

	Directory *Directory
	Issuer    *Issuer
	Register  *RegisterHandler
	Log       Logger
}

// New builds a Server with an empty directory and issuer, wiring the
// eviction-cancels-pending-requests rule spec.md §5 requires ("outstanding
// management requests are cancelled implicitly when the target client is
// removed from the directory").
func New(cfg Config, log Logger) *Server {
	dir := NewDirectory()
	iss := NewIssuer()
	return &Server{
		cfg:       cfg,
		Directory: dir,
		Issuer:    iss,
		Register:  NewRegisterHandler(dir, iss, log),
		Log:       log,
	}
}

// ListenAndServe binds cfg.Addr (or ":5683") and serves the registration
// interface until ctx is cancelled or the listener fails. The management
// interface (outbound Read/Write/etc.) is issued over per-client
// connections the caller dials separately via Issuer's Transport.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":5683"
	}
	router := coapmux.NewRouter()
	router.DefaultHandle(s.Register.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- udp.ListenAndServe("udp", addr, router)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

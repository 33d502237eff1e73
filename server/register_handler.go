package server

import (
	"bytes"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	coapmux "github.com/plgd-dev/go-coap/v2/mux"

	"github.com/go-lwm2m/lwm2m"
)

// RegisterHandler implements the registration interface's CoAP surface
// (spec.md §4.8/§6): POST /rd (register), POST /rd/<location> (update),
// DELETE /rd/<location> (deregister). Grounded in the teacher's
// CoAPHTTPHandler shape (coap_http.go) for routing by method, and in
// 1stship-inventoryd's buildRegisterOptions/registerLinkFormat for the
// exact query parameters and link-format payload this side must parse.
type RegisterHandler struct {
	Directory *Directory
	Issuer    *Issuer // may be nil; if set, RemoveClient is called on eviction
	Log       Logger
}

// Logger is the minimal logging surface this package's handlers use,
// mirroring client.Logger so both sides of the module share one
// logging vocabulary without the server package importing the client
// package.
type Logger interface {
	Printf(format string, v ...interface{})
}

// NewRegisterHandler wires dir (and, optionally, iss, to cancel pending
// management requests when a client is evicted) into a RegisterHandler.
func NewRegisterHandler(dir *Directory, iss *Issuer, log Logger) *RegisterHandler {
	h := &RegisterHandler{Directory: dir, Issuer: iss, Log: log}
	if iss != nil {
		dir.AddMonitor(func(info ClientInfo, event Event, userData interface{}) {
			if event == EventTimeout || event == EventUnregister {
				iss.RemoveClient(info.Location)
			}
		}, h)
	}
	return h
}

func (h *RegisterHandler) logf(format string, v ...interface{}) {
	if h.Log == nil {
		return
	}
	h.Log.Printf(format, v...)
}

// Handler returns a coapmux.Handler for the "/rd" and "/rd/*" routes.
func (h *RegisterHandler) Handler() coapmux.Handler {
	return coapmux.HandlerFunc(func(w coapmux.ResponseWriter, r *coapmux.Message) {
		h.serve(w, r)
	})
}

func (h *RegisterHandler) serve(w coapmux.ResponseWriter, r *coapmux.Message) {
	path, err := r.Options.Path()
	if err != nil {
		writeRegisterError(w, lwm2m.New(lwm2m.KindBadRequest, "missing or malformed path"))
		return
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(path, "/"), "rd")
	location := "/rd" + trimmed

	switch r.Code {
	case codes.POST:
		if trimmed == "" || trimmed == "/" {
			h.handleRegister(w, r)
		} else {
			h.handleUpdate(w, r, location)
		}
	case codes.DELETE:
		h.handleDeregister(w, location)
	default:
		writeRegisterError(w, lwm2m.New(lwm2m.KindMethodNotAllowed, "unsupported method %v on registration interface", r.Code))
	}
}

type registerParams struct {
	ep          string
	lt          uint32
	binding     lwm2m.BindingMode
	sms         string
	objectsPath string
}

func parseQuery(r *coapmux.Message) (registerParams, error) {
	var p registerParams
	p.binding = lwm2m.BindingU
	queries, err := r.Options.Queries()
	if err != nil && err != message.ErrOptionNotFound {
		return p, lwm2m.Wrap(lwm2m.KindBadRequest, err, "malformed query string")
	}
	for _, q := range queries {
		kv := strings.SplitN(q, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ep":
			p.ep = kv[1]
		case "lt":
			n, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return p, lwm2m.Wrap(lwm2m.KindBadRequest, err, "invalid lt=%q", kv[1])
			}
			p.lt = uint32(n)
		case "b":
			p.binding = lwm2m.ParseBindingMode(kv[1])
		case "sms":
			p.sms = kv[1]
		case "lwm2m":
			// version marker; accepted and ignored (spec.md §1's scope excludes
			// version negotiation beyond the core this module implements).
		}
	}
	return p, nil
}

func (h *RegisterHandler) handleRegister(w coapmux.ResponseWriter, r *coapmux.Message) {
	params, err := parseQuery(r)
	if err != nil {
		writeRegisterError(w, err)
		return
	}
	if params.ep == "" {
		writeRegisterError(w, lwm2m.New(lwm2m.KindBadRequest, "register request missing ep="))
		return
	}
	if params.lt == 0 {
		writeRegisterError(w, lwm2m.New(lwm2m.KindBadRequest, "register request missing lt="))
		return
	}
	body := readBody(r)
	objects, err := ParseLinkFormat(body)
	if err != nil {
		writeRegisterError(w, err)
		return
	}
	peer := peerAddress(w)
	location := h.Directory.Register(params.ep, params.lt, params.binding, params.sms, "", peer, objects)
	h.logf("registered %s at %s (lifetime=%ds)", params.ep, location, params.lt)
	writeLocation(w, codes.Created, location)
}

func (h *RegisterHandler) handleUpdate(w coapmux.ResponseWriter, r *coapmux.Message, location string) {
	params, err := parseQuery(r)
	if err != nil {
		writeRegisterError(w, err)
		return
	}
	var objects map[uint16][]uint16
	body := readBody(r)
	if len(body) > 0 {
		objects, err = ParseLinkFormat(body)
		if err != nil {
			writeRegisterError(w, err)
			return
		}
	}
	if err := h.Directory.Update(location, params.lt, objects); err != nil {
		writeRegisterError(w, err)
		return
	}
	h.logf("updated %s", location)
	_ = w.SetResponse(codes.Changed, 0, nil)
}

func (h *RegisterHandler) handleDeregister(w coapmux.ResponseWriter, location string) {
	if err := h.Directory.Deregister(location); err != nil {
		writeRegisterError(w, err)
		return
	}
	h.logf("deregistered %s", location)
	_ = w.SetResponse(codes.Deleted, 0, nil)
}

func peerAddress(w coapmux.ResponseWriter) string {
	c := w.Client()
	if c == nil {
		return ""
	}
	if ra := c.RemoteAddr(); ra != nil {
		return ra.String()
	}
	return ""
}

func readBody(r *coapmux.Message) []byte {
	if r.Body == nil {
		return nil
	}
	b, _ := ioutil.ReadAll(r.Body)
	return b
}

func writeLocation(w coapmux.ResponseWriter, code codes.Code, location string) {
	var opts message.Options
	buf := make([]byte, 0, 64)
	var err error
	opts, n, err := opts.SetLocationPath(buf, location)
	if err == message.ErrTooSmall {
		buf = append(buf, make([]byte, n)...)
		opts, _, err = opts.SetLocationPath(buf, location)
	}
	writeOpts := make([]message.Option, 0, len(opts))
	if err == nil {
		for _, o := range opts {
			writeOpts = append(writeOpts, message.Option(o))
		}
	}
	_ = w.SetResponse(code, 0, nil, writeOpts...)
}

func writeRegisterError(w coapmux.ResponseWriter, err error) {
	_ = w.SetResponse(lwm2m.CodeOf(err), 0, bytes.NewReader([]byte(err.Error())))
}

// Package client implements the LWM2M client core (spec.md §4.4-§4.7): the
// object registry binding point, the request dispatcher, the observation
// table, and the per-server registration FSM. Its CoAP surface is grounded
// in the teacher's coap_http.go / coap_observe.go handler shape (a
// coapmux.Handler closing over shared state, logging through a Logger
// interface), generalized from HTTP-bridging semantics to LWM2M's own
// method+path+content-format routing (spec.md §4.6).
package client

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	coapmux "github.com/plgd-dev/go-coap/v2/mux"

	"github.com/go-lwm2m/lwm2m"
	"github.com/go-lwm2m/lwm2m/object"
	"github.com/go-lwm2m/lwm2m/objpath"
	"github.com/go-lwm2m/lwm2m/tlv"
)

// Dispatcher maps inbound CoAP requests to object.Registry operations, per
// spec.md §4.6's method/path table, and drives observation install/remove
// and notification fan-out for writes/creates/deletes it applies.
type Dispatcher struct {
	Registry     *object.Registry
	Observations *ObservationTable
	ObjectsPath  string // optional prefix stripped per spec.md §4.3
	Log          Logger
}

// NewDispatcher wires a registry and observation table into a Dispatcher.
func NewDispatcher(reg *object.Registry, objectsPath string) *Dispatcher {
	return &Dispatcher{
		Registry:     reg,
		Observations: NewObservationTable(),
		ObjectsPath:  objectsPath,
	}
}

func (d *Dispatcher) log(format string, v ...interface{}) {
	if d.Log == nil {
		return
	}
	d.Log.Printf(format, v...)
}

// Handler returns a coapmux.Handler suitable for registration on a
// coapmux.Router, the same closure-over-state shape the teacher's
// CoAPHTTPHandler uses.
func (d *Dispatcher) Handler() coapmux.Handler {
	return coapmux.HandlerFunc(func(w coapmux.ResponseWriter, r *coapmux.Message) {
		d.serve(w, r)
	})
}

func (d *Dispatcher) serve(w coapmux.ResponseWriter, r *coapmux.Message) {
	p, err := r.Options.Path()
	if err != nil {
		d.log("dispatcher: malformed path option: %s", err)
		writeError(w, lwm2m.New(lwm2m.KindBadRequest, "missing or malformed path"))
		return
	}
	path, err := objpath.Parse(p, d.ObjectsPath)
	if err != nil {
		writeError(w, err)
		return
	}

	switch r.Code {
	case codes.GET:
		d.handleGet(w, r, path)
	case codes.PUT:
		d.handleWrite(w, r, path)
	case codes.POST:
		d.handlePost(w, r, path)
	case codes.DELETE:
		d.handleDelete(w, r, path)
	default:
		writeError(w, lwm2m.New(lwm2m.KindMethodNotAllowed, "unsupported CoAP method %v", r.Code))
	}
}

func (d *Dispatcher) handleGet(w coapmux.ResponseWriter, r *coapmux.Message, path objpath.Path) {
	observe, obsErr := r.Options.Observe()
	if obsErr == nil {
		if observe == 0 {
			d.Observations.Add(path, r.Token, w.Client())
		} else {
			d.Observations.Remove(path, r.Token)
		}
	}
	d.respondRead(w, path, 0)
}

// respondRead encodes the current state of path as a Read response,
// per spec.md §4.6's fan-out and content-format rules. seq is the Observe
// sequence number to set (0 for a plain Read that is not a notification).
func (d *Dispatcher) respondRead(w coapmux.ResponseWriter, path objpath.Path, seq uint32) {
	if path.IsRoot() {
		writeError(w, lwm2m.New(lwm2m.KindBadRequest, "GET / is not a valid LWM2M operation"))
		return
	}
	desc, ok := d.Registry.Descriptor(path.Object.Value)
	if !ok {
		writeError(w, lwm2m.New(lwm2m.KindNotFound, "object %d not found", path.Object.Value))
		return
	}
	if !desc.Supports(object.CapRead) {
		writeError(w, lwm2m.New(lwm2m.KindMethodNotAllowed, "object %d does not support Read", path.Object.Value))
		return
	}

	switch {
	case !path.Instance.Valid:
		d.respondObjectRead(w, desc, path.Object.Value, seq)
	case !path.Resource.Valid:
		d.respondInstanceRead(w, desc, path.Object.Value, path.Instance.Value, seq)
	default:
		d.respondResourceRead(w, desc, path.Object.Value, path.Instance.Value, path.Resource.Value, seq)
	}
}

func (d *Dispatcher) respondObjectRead(w coapmux.ResponseWriter, desc *object.Descriptor, objectID uint16, seq uint32) {
	var records []tlv.Record
	for _, inst := range d.Registry.Instances(objectID) {
		children := d.readInstanceRecords(desc, inst)
		records = append(records, tlv.Record{Kind: tlv.KindObjectInstance, ID: inst.InstanceID, Children: children})
	}
	writeTLV(w, records, seq)
}

func (d *Dispatcher) respondInstanceRead(w coapmux.ResponseWriter, desc *object.Descriptor, objectID, instanceID uint16, seq uint32) {
	inst, ok := d.Registry.Instance(objectID, instanceID)
	if !ok {
		writeError(w, lwm2m.New(lwm2m.KindNotFound, "instance %d/%d not found", objectID, instanceID))
		return
	}
	records := d.readInstanceRecords(desc, inst)
	writeTLV(w, records, seq)
}

// readInstanceRecords calls desc.Read once per declared resource id,
// eliding any resource whose callback reports NotFound (spec.md §4.6's
// "Read fan-out").
func (d *Dispatcher) readInstanceRecords(desc *object.Descriptor, inst *object.Instance) []tlv.Record {
	var records []tlv.Record
	for rid := uint16(0); rid < desc.ResourceCount; rid++ {
		res, err := desc.Read(inst, rid)
		if err != nil {
			if lwm2m.KindOf(err) == lwm2m.KindNotFound {
				continue
			}
			d.log("dispatcher: read %d/%d/%d failed: %s", inst.ObjectID, inst.InstanceID, rid, err)
			continue
		}
		rec, err := tlv.EncodeResource(res)
		if err != nil {
			d.log("dispatcher: encode %d/%d/%d failed: %s", inst.ObjectID, inst.InstanceID, rid, err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (d *Dispatcher) respondResourceRead(w coapmux.ResponseWriter, desc *object.Descriptor, objectID, instanceID, resourceID uint16, seq uint32) {
	inst, ok := d.Registry.Instance(objectID, instanceID)
	if !ok {
		writeError(w, lwm2m.New(lwm2m.KindNotFound, "instance %d/%d not found", objectID, instanceID))
		return
	}
	res, err := desc.Read(inst, resourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	// Single-resource reads render in the resource's own content format
	// (spec.md §4.6); Multiple resources still go out as TLV.
	if res.Kind == tlv.Single {
		text, err := res.String()
		if err != nil {
			writeError(w, lwm2m.Wrap(lwm2m.KindInternalError, err, "resource has no textual representation"))
			return
		}
		cf := lwm2m.ContentFormatText
		if res.Type == tlv.TypeOpaque {
			cf = lwm2m.ContentFormatOpaque
		}
		writeResponse(w, codes.Content, cf, []byte(text), seq)
		return
	}
	rec, err := tlv.EncodeResource(res)
	if err != nil {
		writeError(w, err)
		return
	}
	writeTLV(w, []tlv.Record{rec}, seq)
}

func (d *Dispatcher) handleWrite(w coapmux.ResponseWriter, r *coapmux.Message, path objpath.Path) {
	if !path.Instance.Valid {
		writeError(w, lwm2m.New(lwm2m.KindBadRequest, "PUT requires an /O/I or /O/I/R path"))
		return
	}
	desc, ok := d.Registry.Descriptor(path.Object.Value)
	if !ok {
		writeError(w, lwm2m.New(lwm2m.KindNotFound, "object %d not found", path.Object.Value))
		return
	}
	inst, ok := d.Registry.Instance(path.Object.Value, path.Instance.Value)
	if !ok {
		writeError(w, lwm2m.New(lwm2m.KindNotFound, "instance %d/%d not found", path.Object.Value, path.Instance.Value))
		return
	}

	cf, err := r.Options.ContentFormat()
	if err != nil {
		writeError(w, lwm2m.New(lwm2m.KindBadRequest, "missing content format"))
		return
	}
	body := readBody(r)

	// A /O/I/R PUT only ever carries a single resource's text/opaque
	// value (spec.md §4.6's write_resource); TLV writes are always
	// instance-level.
	if path.Resource.Valid {
		if err := applyResourceWrite(desc, inst, path.Resource.Value, cf, body); err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, codes.Changed, 0, nil, 0)
		d.Observations.Notify(path, func(observedPath objpath.Path, client coapmux.Client, token message.Token, seq uint32) {
			d.notifyObserver(observedPath, client, token, seq)
		})
		return
	}

	switch lwm2m.ResolveWriteOperation(cf) {
	case lwm2m.WriteTLV:
		if !desc.Supports(object.CapWriteTLV) {
			writeError(w, lwm2m.New(lwm2m.KindMethodNotAllowed, "object %d does not support WriteTLV", path.Object.Value))
			return
		}
		records, err := tlv.Decode(body)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, rec := range records {
			if err := desc.WriteTLV(inst, rec.ID, rec); err != nil {
				writeError(w, err)
				return
			}
		}
	case lwm2m.WriteResource:
		writeError(w, lwm2m.New(lwm2m.KindBadRequest, "text/opaque write requires a resource path"))
		return
	default:
		writeError(w, lwm2m.New(lwm2m.KindUnsupportedContentFormat, "unsupported content format %d", cf))
		return
	}

	writeResponse(w, codes.Changed, 0, nil, 0)
	d.Observations.Notify(path, func(observedPath objpath.Path, client coapmux.Client, token message.Token, seq uint32) {
		d.notifyObserver(observedPath, client, token, seq)
	})
}

// WriteResource applies a single text/opaque-format resource write
// out of band, i.e. without a CoAP request driving it (the wire path goes
// through applyResourceWrite instead); useful for local default-value
// seeding before a server ever reaches the client.
func (d *Dispatcher) WriteResource(objectID, instanceID, resourceID uint16, value string) error {
	desc, ok := d.Registry.Descriptor(objectID)
	if !ok {
		return lwm2m.New(lwm2m.KindNotFound, "object %d not found", objectID)
	}
	if !desc.Supports(object.CapWriteResource) {
		return lwm2m.New(lwm2m.KindMethodNotAllowed, "object %d does not support WriteResource", objectID)
	}
	inst, ok := d.Registry.Instance(objectID, instanceID)
	if !ok {
		return lwm2m.New(lwm2m.KindNotFound, "instance %d/%d not found", objectID, instanceID)
	}
	return desc.WriteResource(inst, resourceID, value)
}

// applyResourceWrite decides and applies the write_resource operation for a
// /O/I/R PUT per spec.md §4.6's content-format table: text/opaque drives
// write_resource, TLV is rejected as instance-level-only, anything else is
// UnsupportedContentFormat.
func applyResourceWrite(desc *object.Descriptor, inst *object.Instance, resourceID uint16, cf message.MediaType, body []byte) error {
	switch lwm2m.ResolveWriteOperation(cf) {
	case lwm2m.WriteResource:
		if !desc.Supports(object.CapWriteResource) {
			return lwm2m.New(lwm2m.KindMethodNotAllowed, "object %d does not support WriteResource", inst.ObjectID)
		}
		return desc.WriteResource(inst, resourceID, string(body))
	case lwm2m.WriteTLV:
		return lwm2m.New(lwm2m.KindBadRequest, "resource-level PUT requires a text or opaque content format")
	default:
		return lwm2m.New(lwm2m.KindUnsupportedContentFormat, "unsupported content format %d", cf)
	}
}

func (d *Dispatcher) handlePost(w coapmux.ResponseWriter, r *coapmux.Message, path objpath.Path) {
	if path.Instance.Valid && path.Resource.Valid {
		d.handleExecute(w, r, path)
		return
	}
	if path.Instance.Valid {
		writeError(w, lwm2m.New(lwm2m.KindBadRequest, "POST /O/I is not a valid LWM2M operation"))
		return
	}
	d.handleCreate(w, r, path)
}

func (d *Dispatcher) handleExecute(w coapmux.ResponseWriter, r *coapmux.Message, path objpath.Path) {
	desc, ok := d.Registry.Descriptor(path.Object.Value)
	if !ok {
		writeError(w, lwm2m.New(lwm2m.KindNotFound, "object %d not found", path.Object.Value))
		return
	}
	if !desc.Supports(object.CapExecute) {
		writeError(w, lwm2m.New(lwm2m.KindMethodNotAllowed, "object %d does not support Execute", path.Object.Value))
		return
	}
	inst, ok := d.Registry.Instance(path.Object.Value, path.Instance.Value)
	if !ok {
		writeError(w, lwm2m.New(lwm2m.KindNotFound, "instance %d/%d not found", path.Object.Value, path.Instance.Value))
		return
	}
	args := string(readBody(r))
	if err := desc.Execute(inst, path.Resource.Value, args); err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, codes.Changed, 0, nil, 0)
}

func (d *Dispatcher) handleCreate(w coapmux.ResponseWriter, r *coapmux.Message, path objpath.Path) {
	desc, ok := d.Registry.Descriptor(path.Object.Value)
	if !ok {
		writeError(w, lwm2m.New(lwm2m.KindNotFound, "object %d not found", path.Object.Value))
		return
	}
	if !desc.Supports(object.CapCreate) {
		writeError(w, lwm2m.New(lwm2m.KindMethodNotAllowed, "object %d does not support Create", path.Object.Value))
		return
	}
	body := readBody(r)
	records, err := tlv.Decode(body)
	if err != nil {
		writeError(w, err)
		return
	}
	instanceID := nextInstanceID(d.Registry, path.Object.Value)
	userState, err := desc.Create(path.Object.Value, instanceID, records)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := d.Registry.AddInstance(path.Object.Value, instanceID, userState); err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, codes.Created, 0, nil, 0)
	d.Observations.Notify(path, func(observedPath objpath.Path, client coapmux.Client, token message.Token, seq uint32) {
		d.notifyObserver(observedPath, client, token, seq)
	})
}

func nextInstanceID(reg *object.Registry, objectID uint16) uint16 {
	var next uint16
	for _, inst := range reg.Instances(objectID) {
		if inst.InstanceID >= next {
			next = inst.InstanceID + 1
		}
	}
	return next
}

func (d *Dispatcher) handleDelete(w coapmux.ResponseWriter, r *coapmux.Message, path objpath.Path) {
	if !path.Instance.Valid || path.Resource.Valid {
		writeError(w, lwm2m.New(lwm2m.KindBadRequest, "DELETE requires an /O/I path"))
		return
	}
	desc, ok := d.Registry.Descriptor(path.Object.Value)
	if !ok {
		writeError(w, lwm2m.New(lwm2m.KindNotFound, "object %d not found", path.Object.Value))
		return
	}
	if !desc.Supports(object.CapDelete) {
		writeError(w, lwm2m.New(lwm2m.KindMethodNotAllowed, "object %d does not support Delete", path.Object.Value))
		return
	}
	if err := d.Registry.RemoveInstance(path.Object.Value, path.Instance.Value); err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, codes.Deleted, 0, nil, 0)
	d.Observations.Notify(path, func(observedPath objpath.Path, client coapmux.Client, token message.Token, seq uint32) {
		d.notifyObserver(observedPath, client, token, seq)
	})
}

// notifyObserver re-runs a Read for observedPath and pushes it to client
// as a CoAP notification carrying token and sequence seq (spec.md §4.7).
func (d *Dispatcher) notifyObserver(observedPath objpath.Path, coapClient coapmux.Client, token message.Token, seq uint32) {
	w := &notifyWriter{client: coapClient, token: token}
	d.respondRead(w, observedPath, seq)
	if w.err != nil {
		d.log("dispatcher: notify %s failed: %s", observedPath, w.err)
	}
}

func readBody(r *coapmux.Message) []byte {
	if r.Body == nil {
		return nil
	}
	b, _ := ioutil.ReadAll(r.Body)
	return b
}

func writeTLV(w coapmux.ResponseWriter, records []tlv.Record, seq uint32) {
	writeResponse(w, codes.Content, lwm2m.ContentFormatTLV, tlv.EncodeRecords(records), seq)
}

func writeResponse(w coapmux.ResponseWriter, code codes.Code, cf message.MediaType, body []byte, seq uint32) {
	var opts message.Options
	var data []byte
	if seq > 0 {
		var n int
		var err error
		opts, n, err = opts.SetObserve(data, seq)
		if err == message.ErrTooSmall {
			data = append(data, make([]byte, n)...)
			opts, _, err = opts.SetObserve(data, seq)
		}
		_ = err
	}
	var reader io.ReadSeeker
	if body != nil {
		reader = bytes.NewReader(body)
	}
	writeOpts := make([]message.Option, 0, len(opts))
	for _, o := range opts {
		writeOpts = append(writeOpts, message.Option(o))
	}
	_ = w.SetResponse(code, cf, reader, writeOpts...)
}

func writeError(w coapmux.ResponseWriter, err error) {
	_ = w.SetResponse(lwm2m.CodeOf(err), 0, bytes.NewReader([]byte(err.Error())))
}

// notifyWriter is a minimal coapmux.ResponseWriter that pushes a
// notification to an observer's client instead of replying to an inbound
// request, the same pattern the teacher's Observations.sendResponse uses
// to push a long-poll result out of band.
type notifyWriter struct {
	client coapmux.Client
	token  message.Token
	err    error
}

func (n *notifyWriter) Client() coapmux.Client { return n.client }

func (n *notifyWriter) SetResponse(code codes.Code, cf message.MediaType, body io.ReadSeeker, opts ...message.Option) error {
	m := message.Message{
		Code:    code,
		Token:   n.token,
		Context: n.client.Context(),
		Body:    body,
		Options: message.Options(opts),
	}
	if cf != 0 {
		var buf []byte
		o, n2, err := m.Options.SetContentFormat(buf, cf)
		if err == message.ErrTooSmall {
			buf = append(buf, make([]byte, n2)...)
			o, _, err = m.Options.SetContentFormat(buf, cf)
		}
		if err == nil {
			m.Options = o
		}
	}
	n.err = n.client.WriteMessage(&m)
	return n.err
}

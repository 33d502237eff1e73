// Issuer implements the server's management interface: outbound
// Read/Write/Execute/Create/Delete/Observe requests to a registered
// client, demultiplexed by CoAP token the way the teacher's Observations
// keys long-poll state by a registration id built from client+path+token
// (coap_observe.go's registrationID). One-shot operations resolve a
// status or content callback as soon as their single response arrives;
// Observe stays keyed in the table across every subsequent notification
// until explicitly cancelled or the client is evicted from the registry.
package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/go-lwm2m/lwm2m"
	"github.com/go-lwm2m/lwm2m/objpath"
	"github.com/go-lwm2m/lwm2m/tlv"
)

// Transport is the subset of a dialed CoAP connection the issuer needs to
// send requests to a client; it is the method set udp/client.ClientConn
// already exposes, pulled out as an interface so issuer logic is testable
// without a live socket.
type Transport interface {
	Get(ctx context.Context, path string, opts ...message.Option) (Response, error)
	Put(ctx context.Context, path string, cf message.MediaType, payload io.ReadSeeker, opts ...message.Option) (Response, error)
	Post(ctx context.Context, path string, cf message.MediaType, payload io.ReadSeeker, opts ...message.Option) (Response, error)
	Delete(ctx context.Context, path string, opts ...message.Option) (Response, error)
}

// Response is the subset of *pool.Message the issuer inspects.
type Response interface {
	Code() codes.Code
	ReadBody() ([]byte, error)
}

// ContentCallback receives the decoded TLV records from a Read or
// Observe response (or notification); err is set instead when the
// underlying request failed or the response could not be decoded.
type ContentCallback func(location string, path objpath.Path, records []tlv.Record, err error, userData interface{})

// StatusCallback receives the outcome of a Write, Execute, Create or
// Delete request; err is nil on a successful 2.xx response.
type StatusCallback func(location string, path objpath.Path, err error, userData interface{})

type pendingEntry struct {
	location  string
	path      objpath.Path
	content   ContentCallback
	userData  interface{}
	repeating bool
}

// Issuer demultiplexes outbound management requests by CoAP token.
type Issuer struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry // token -> entry, only for Observe
}

// NewIssuer returns an empty Issuer.
func NewIssuer() *Issuer {
	return &Issuer{pending: make(map[string]*pendingEntry)}
}

func decodeCode(code codes.Code) error {
	switch code {
	case codes.Content, codes.Changed, codes.Created, codes.Deleted, codes.Valid:
		return nil
	case codes.NotFound:
		return lwm2m.New(lwm2m.KindNotFound, "client returned 4.04 Not Found")
	case codes.MethodNotAllowed:
		return lwm2m.New(lwm2m.KindMethodNotAllowed, "client returned 4.05 Method Not Allowed")
	case codes.BadRequest:
		return lwm2m.New(lwm2m.KindBadRequest, "client returned 4.00 Bad Request")
	case codes.UnsupportedMediaType:
		return lwm2m.New(lwm2m.KindUnsupportedContentFormat, "client returned 4.15 Unsupported Content-Format")
	default:
		return lwm2m.New(lwm2m.KindInternalError, "client returned unexpected code %v", code)
	}
}

// Read issues a CoAP GET for path and decodes the response body as TLV,
// invoking cb with the result once the single response arrives.
func (iss *Issuer) Read(ctx context.Context, t Transport, location string, path objpath.Path, cb ContentCallback, userData interface{}) {
	resp, err := t.Get(ctx, path.String())
	if err != nil {
		cb(location, path, nil, lwm2m.Wrap(lwm2m.KindInternalError, err, "read %s", path), userData)
		return
	}
	records, err := decodeContentResponse(resp)
	cb(location, path, records, err, userData)
}

func decodeContentResponse(resp Response) ([]tlv.Record, error) {
	if err := decodeCode(resp.Code()); err != nil {
		return nil, err
	}
	body, err := resp.ReadBody()
	if err != nil {
		return nil, lwm2m.Wrap(lwm2m.KindInternalError, err, "read response body")
	}
	if len(body) == 0 {
		return nil, nil
	}
	return tlv.Decode(body)
}

// Write issues a CoAP PUT of records as a TLV payload to path.
func (iss *Issuer) Write(ctx context.Context, t Transport, location string, path objpath.Path, records []tlv.Record, cb StatusCallback, userData interface{}) {
	resp, err := t.Put(ctx, path.String(), lwm2m.ContentFormatTLV, bytes.NewReader(tlv.EncodeRecords(records)))
	if err != nil {
		cb(location, path, lwm2m.Wrap(lwm2m.KindInternalError, err, "write %s", path), userData)
		return
	}
	cb(location, path, decodeCode(resp.Code()), userData)
}

// Execute issues a CoAP POST carrying a text-format argument string.
func (iss *Issuer) Execute(ctx context.Context, t Transport, location string, path objpath.Path, args string, cb StatusCallback, userData interface{}) {
	resp, err := t.Post(ctx, path.String(), lwm2m.ContentFormatText, bytes.NewReader([]byte(args)))
	if err != nil {
		cb(location, path, lwm2m.Wrap(lwm2m.KindInternalError, err, "execute %s", path), userData)
		return
	}
	cb(location, path, decodeCode(resp.Code()), userData)
}

// Create issues a CoAP POST of a new instance's initial records to an
// object-level path.
func (iss *Issuer) Create(ctx context.Context, t Transport, location string, path objpath.Path, records []tlv.Record, cb StatusCallback, userData interface{}) {
	resp, err := t.Post(ctx, path.String(), lwm2m.ContentFormatTLV, bytes.NewReader(tlv.EncodeRecords(records)))
	if err != nil {
		cb(location, path, lwm2m.Wrap(lwm2m.KindInternalError, err, "create %s", path), userData)
		return
	}
	cb(location, path, decodeCode(resp.Code()), userData)
}

// Delete issues a CoAP DELETE of an instance.
func (iss *Issuer) Delete(ctx context.Context, t Transport, location string, path objpath.Path, cb StatusCallback, userData interface{}) {
	resp, err := t.Delete(ctx, path.String())
	if err != nil {
		cb(location, path, lwm2m.Wrap(lwm2m.KindInternalError, err, "delete %s", path), userData)
		return
	}
	cb(location, path, decodeCode(resp.Code()), userData)
}

// Observe issues a CoAP GET with the Observe option set to 0 and keeps
// cb registered under the response token for every subsequent
// notification, until CancelObserve or RemoveClient removes it.
func (iss *Issuer) Observe(ctx context.Context, t Transport, location string, path objpath.Path, token message.Token, cb ContentCallback, userData interface{}) error {
	opt, err := observeOption(0)
	if err != nil {
		return err
	}
	resp, err := t.Get(ctx, path.String(), opt)
	if err != nil {
		return lwm2m.Wrap(lwm2m.KindInternalError, err, "observe %s", path)
	}
	if err := decodeCode(resp.Code()); err != nil {
		return err
	}
	iss.mu.Lock()
	iss.pending[string(token)] = &pendingEntry{location: location, path: path, content: cb, userData: userData, repeating: true}
	iss.mu.Unlock()

	records, err := decodeContentResponse(resp)
	cb(location, path, records, err, userData)
	return nil
}

// CancelObserve sends an Observe=1 GET and removes token's entry
// regardless of whether the request succeeds, so a dead client cannot
// wedge the table open.
func (iss *Issuer) CancelObserve(ctx context.Context, t Transport, path objpath.Path, token message.Token) error {
	defer func() {
		iss.mu.Lock()
		delete(iss.pending, string(token))
		iss.mu.Unlock()
	}()
	opt, err := observeOption(1)
	if err != nil {
		return err
	}
	_, err = t.Get(ctx, path.String(), opt)
	return err
}

// Notify delivers an async notification carrying token to its registered
// Observe callback, if any; notifications for unknown tokens are
// silently dropped (the client has since been cancelled or evicted).
func (iss *Issuer) Notify(token message.Token, code codes.Code, body []byte) {
	iss.mu.Lock()
	entry, ok := iss.pending[string(token)]
	iss.mu.Unlock()
	if !ok {
		return
	}
	if err := decodeCode(code); err != nil {
		entry.content(entry.location, entry.path, nil, err, entry.userData)
		return
	}
	var records []tlv.Record
	var err error
	if len(body) > 0 {
		records, err = tlv.Decode(body)
	}
	entry.content(entry.location, entry.path, records, err, entry.userData)
}

// RemoveClient cancels every pending Observe entry belonging to location,
// firing a Cancelled status to each callback the way a 5.03 Service
// Unavailable would if the request had been sent and failed outright.
func (iss *Issuer) RemoveClient(location string) {
	iss.mu.Lock()
	var dead []*pendingEntry
	for token, entry := range iss.pending {
		if entry.location == location {
			dead = append(dead, entry)
			delete(iss.pending, token)
		}
	}
	iss.mu.Unlock()

	cancelled := lwm2m.New(lwm2m.KindCancelled, "client deregistered, observation cancelled")
	for _, entry := range dead {
		entry.content(entry.location, entry.path, nil, cancelled, entry.userData)
	}
}

func observeOption(value uint32) (message.Option, error) {
	var opts message.Options
	var buf []byte
	opts, n, err := opts.SetObserve(buf, value)
	if err == message.ErrTooSmall {
		buf = append(buf, make([]byte, n)...)
		opts, _, err = opts.SetObserve(buf, value)
	}
	if err != nil {
		return message.Option{}, fmt.Errorf("set observe option: %w", err)
	}
	return message.Option(opts[0]), nil
}

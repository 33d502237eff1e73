// Package objpath parses and formats LWM2M object paths (spec.md §4.3):
// "/objectId[/instanceId[/resourceId]]", each segment an unsigned decimal
// no greater than 65535. It is grounded in 1stship-inventoryd's path
// splitting in lwm2m_device_management.go (the "/{object}/{instance}/
// {resource}" strings.Split handling that backs every CoAP route), made
// strict and generalized into an explicit Option-like triple.
package objpath

import (
	"strconv"
	"strings"

	"github.com/go-lwm2m/lwm2m"
)

const maxSegment = 65535

// Segment is an optional uint16 path component: Valid is false for the
// implicit "not present" value, matching spec.md §4.3's Option<u16>.
type Segment struct {
	Value uint16
	Valid bool
}

func some(v uint16) Segment { return Segment{Value: v, Valid: true} }

// Path is a parsed object path: (Option<u16>, Option<u16>, Option<u16>)
// for (object, instance, resource) with the invariant that nothing below
// a None segment is Some.
type Path struct {
	Object   Segment
	Instance Segment
	Resource Segment
}

// IsRoot reports whether the path names no object (the "/" path).
func (p Path) IsRoot() bool { return !p.Object.Valid }

// String renders the path back to its canonical "/O[/I[/R]]" form.
func (p Path) String() string {
	if !p.Object.Valid {
		return "/"
	}
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(int(p.Object.Value)))
	if p.Instance.Valid {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(int(p.Instance.Value)))
		if p.Resource.Valid {
			b.WriteByte('/')
			b.WriteString(strconv.Itoa(int(p.Resource.Value)))
		}
	}
	return b.String()
}

// Parse parses raw as an object path, stripping prefix first if raw begins
// with it (the "leading objects-path prefix" a client may advertise, per
// spec.md §4.3). A malformed path fails with lwm2m.KindBadRequest.
func Parse(raw string, prefix string) (Path, error) {
	s := raw
	if prefix != "" {
		trimmed := strings.TrimPrefix(s, prefix)
		if trimmed != s {
			s = trimmed
		}
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimPrefix(s, "/")

	if s == "" {
		return Path{}, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) > 3 {
		return Path{}, lwm2m.New(lwm2m.KindBadRequest, "path %q has more than three segments", raw)
	}

	segs := make([]Segment, len(parts))
	for i, p := range parts {
		v, err := parseSegment(p)
		if err != nil {
			return Path{}, lwm2m.Wrap(lwm2m.KindBadRequest, err, "path %q: segment %d", raw, i)
		}
		segs[i] = some(v)
	}

	out := Path{}
	out.Object = segs[0]
	if len(segs) > 1 {
		out.Instance = segs[1]
	}
	if len(segs) > 2 {
		out.Resource = segs[2]
	}
	return out, nil
}

func parseSegment(s string) (uint16, error) {
	if s == "" {
		return 0, lwm2m.New(lwm2m.KindBadRequest, "empty path segment")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, lwm2m.New(lwm2m.KindBadRequest, "segment %q is not an unsigned decimal", s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n > maxSegment {
		return 0, lwm2m.New(lwm2m.KindBadRequest, "segment %q exceeds %d", s, maxSegment)
	}
	return uint16(n), nil
}

// LinkPath formats an object/instance pair as the "</O/I>" link-format
// entry the registration FSM lists in its RD payload (spec.md §4.5).
func LinkPath(objectID, instanceID uint16) string {
	return "</" + strconv.Itoa(int(objectID)) + "/" + strconv.Itoa(int(instanceID)) + ">"
}

package tlv

import (
	"encoding/base64"
	"fmt"

	"github.com/go-lwm2m/lwm2m"
)

// DataType is the resource value's wire-level shape, per spec.md §3/§6.
type DataType int

const (
	TypeNone DataType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeOpaque
	TypeTime
	TypeObjLink
)

func (t DataType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeBool:
		return "Bool"
	case TypeOpaque:
		return "Opaque"
	case TypeTime:
		return "Time"
	case TypeObjLink:
		return "ObjLink"
	default:
		return "None"
	}
}

// ResourceKind distinguishes a Single-valued resource from a Multiple-
// instance one, per spec.md §3.
type ResourceKind int

const (
	Single ResourceKind = iota
	Multiple
)

// Value is one scalar held by a Resource. Exactly one of the typed fields
// is meaningful, selected by the owning Resource's Type. Strings and
// opaques share the Bytes field, since spec.md §3 describes them as sharing
// an immutable byte-slice representation.
type Value struct {
	Int     int64
	Float   float64
	Bool    bool
	Bytes   []byte
	ObjLink ObjLink
}

// Resource is the in-memory representation of spec.md §3's Resource:
// { id, kind, type, values }. A Single resource holds exactly one Value; a
// Multiple resource holds N values, each with an implicit sub-id equal to
// its position.
type Resource struct {
	ID     uint16
	Kind   ResourceKind
	Type   DataType
	Values []Value
}

// New is the tagged-value constructor spec.md §4.2/§9 calls for in place of
// the source's C-style variadic initializer: it builds a Resource from a
// data type, a kind and already-typed Values, copying any Bytes so the
// caller's backing array need not outlive the Resource.
//
// A Single resource takes exactly one value and a Multiple resource one or
// more; New fails for an unknown data type or any other number of values.
func New(id uint16, dataType DataType, kind ResourceKind, values ...Value) (*Resource, error) {
	if dataType < TypeString || dataType > TypeObjLink {
		return nil, lwm2m.New(lwm2m.KindBadRequest, "unknown resource data type %d", dataType)
	}
	if kind == Multiple && len(values) == 0 {
		return nil, lwm2m.New(lwm2m.KindBadRequest, "multiple resource %d requires at least one value", id)
	}
	if kind == Single && len(values) != 1 {
		return nil, lwm2m.New(lwm2m.KindBadRequest, "single resource %d requires exactly one value, got %d", id, len(values))
	}
	owned := make([]Value, len(values))
	for i, v := range values {
		owned[i] = v
		if v.Bytes != nil {
			owned[i].Bytes = append([]byte(nil), v.Bytes...)
		}
	}
	return &Resource{ID: id, Kind: kind, Type: dataType, Values: owned}, nil
}

// NewSingleInt is a convenience builder for the common case of a Single Int
// or Time resource.
func NewSingleInt(id uint16, v int64, isTime bool) *Resource {
	dt := TypeInt
	if isTime {
		dt = TypeTime
	}
	r, _ := New(id, dt, Single, Value{Int: v})
	return r
}

// NewSingleString is a convenience builder for a Single String resource.
func NewSingleString(id uint16, s string) *Resource {
	r, _ := New(id, TypeString, Single, Value{Bytes: []byte(s)})
	return r
}

// valueContent encodes a single Value as raw TLV content bytes per its
// resource's data type.
func valueContent(dataType DataType, v Value) ([]byte, error) {
	switch dataType {
	case TypeString, TypeOpaque:
		return v.Bytes, nil
	case TypeInt, TypeTime:
		return FromInt(v.Int), nil
	case TypeFloat:
		return FromFloat(v.Float), nil
	case TypeBool:
		return FromBool(v.Bool), nil
	case TypeObjLink:
		return FromObjLink(v.ObjLink), nil
	default:
		return nil, lwm2m.New(lwm2m.KindInternalError, "cannot encode data type %v", dataType)
	}
}

// valueFromContent decodes raw TLV content bytes into a Value per dataType.
func valueFromContent(dataType DataType, content []byte) (Value, error) {
	switch dataType {
	case TypeString, TypeOpaque:
		return Value{Bytes: content}, nil
	case TypeInt, TypeTime:
		i, err := ToInt(content)
		if err != nil {
			return Value{}, err
		}
		return Value{Int: i}, nil
	case TypeFloat:
		f, err := ToFloat(content)
		if err != nil {
			return Value{}, err
		}
		return Value{Float: f}, nil
	case TypeBool:
		b, err := ToBool(content)
		if err != nil {
			return Value{}, err
		}
		return Value{Bool: b}, nil
	case TypeObjLink:
		l, err := ToObjLink(content)
		if err != nil {
			return Value{}, err
		}
		return Value{ObjLink: l}, nil
	default:
		return Value{}, lwm2m.New(lwm2m.KindBadRequest, "cannot decode data type %v", dataType)
	}
}

// EncodeResource implements spec.md §4.1's encoder: a Single resource
// becomes one ResourceWithValue record, a Multiple resource becomes one
// MultipleResources container whose children are ResourceInstance records
// with sub-ids 0..N-1.
func EncodeResource(r *Resource) (Record, error) {
	switch r.Kind {
	case Single:
		content, err := valueContent(r.Type, r.Values[0])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindResourceWithValue, ID: r.ID, Content: content}, nil
	case Multiple:
		children := make([]Record, len(r.Values))
		for i, v := range r.Values {
			content, err := valueContent(r.Type, v)
			if err != nil {
				return Record{}, err
			}
			children[i] = Record{Kind: KindResourceInstance, ID: uint16(i), Content: content}
		}
		return Record{Kind: KindMultipleResource, ID: r.ID, Children: children}, nil
	default:
		return Record{}, lwm2m.New(lwm2m.KindInternalError, "unknown resource kind %d", r.Kind)
	}
}

// DecodeResource is the inverse of EncodeResource: given a resource record
// and its out-of-band data type, it reconstructs a Resource whose ID is
// rec.ID.
func DecodeResource(rec Record, dataType DataType) (*Resource, error) {
	switch rec.Kind {
	case KindResourceWithValue:
		v, err := valueFromContent(dataType, rec.Content)
		if err != nil {
			return nil, err
		}
		return &Resource{ID: rec.ID, Kind: Single, Type: dataType, Values: []Value{v}}, nil
	case KindMultipleResource:
		values := make([]Value, len(rec.Children))
		for i, child := range rec.Children {
			if child.Kind != KindResourceInstance {
				return nil, lwm2m.New(lwm2m.KindBadRequest, "multiple resource %d child %d has wrong kind %v", rec.ID, i, child.Kind)
			}
			if int(child.ID) != i {
				return nil, lwm2m.New(lwm2m.KindBadRequest, "multiple resource %d child out of order: want sub-id %d got %d", rec.ID, i, child.ID)
			}
			v, err := valueFromContent(dataType, child.Content)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return &Resource{ID: rec.ID, Kind: Multiple, Type: dataType, Values: values}, nil
	default:
		return nil, lwm2m.New(lwm2m.KindBadRequest, "record kind %v is not a resource", rec.Kind)
	}
}

// String renders a Single resource's sole value the way spec.md §4.6
// requires for a single-resource text-format Read response, following
// 1stship-inventoryd's convertTLVValueToString: strings verbatim, numeric
// types as decimal text, Bool as "true"/"false", Opaque base64-encoded
// (std encoding), ObjLink as "object:instance". Multiple resources have no
// single text representation and String reports an error for them.
func (r *Resource) String() (string, error) {
	if r.Kind != Single {
		return "", lwm2m.New(lwm2m.KindBadRequest, "resource %d is not single-valued", r.ID)
	}
	v := r.Values[0]
	switch r.Type {
	case TypeString:
		return string(v.Bytes), nil
	case TypeOpaque:
		return base64.StdEncoding.EncodeToString(v.Bytes), nil
	case TypeInt, TypeTime:
		return fmt.Sprintf("%d", v.Int), nil
	case TypeFloat:
		return fmt.Sprintf("%g", v.Float), nil
	case TypeBool:
		if v.Bool {
			return "true", nil
		}
		return "false", nil
	case TypeObjLink:
		return fmt.Sprintf("%d:%d", v.ObjLink.ObjectID, v.ObjLink.InstanceID), nil
	default:
		return "", lwm2m.New(lwm2m.KindInternalError, "resource %d has no textual representation", r.ID)
	}
}

// ParseSingleValue parses s as the text-format representation of dataType,
// the inverse of String / convertStringToTLVValue: used when a client
// dispatcher applies a text-format Write to a Single resource.
func ParseSingleValue(dataType DataType, s string) (Value, error) {
	switch dataType {
	case TypeString:
		return Value{Bytes: []byte(s)}, nil
	case TypeOpaque:
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, lwm2m.Wrap(lwm2m.KindBadRequest, err, "invalid base64 opaque value")
		}
		return Value{Bytes: decoded}, nil
	case TypeInt, TypeTime:
		var n int64
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return Value{}, lwm2m.Wrap(lwm2m.KindBadRequest, err, "invalid integer value %q", s)
		}
		return Value{Int: n}, nil
	case TypeFloat:
		var f float64
		if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
			return Value{}, lwm2m.Wrap(lwm2m.KindBadRequest, err, "invalid float value %q", s)
		}
		return Value{Float: f}, nil
	case TypeBool:
		return Value{Bool: s == "true"}, nil
	case TypeObjLink:
		var objID, instID uint16
		if _, err := fmt.Sscanf(s, "%d:%d", &objID, &instID); err != nil {
			return Value{}, lwm2m.Wrap(lwm2m.KindBadRequest, err, "invalid objlink value %q", s)
		}
		return Value{ObjLink: ObjLink{ObjectID: objID, InstanceID: instID}}, nil
	default:
		return Value{}, lwm2m.New(lwm2m.KindBadRequest, "unknown resource data type %d", dataType)
	}
}

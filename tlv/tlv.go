// Package tlv implements the LWM2M TLV binary codec (spec.md §4.1): a
// self-describing format with variable-width id and length fields, nested
// containers, and four record kinds. The wire layout and the narrowest-
// encoding rules are grounded in the 1stship-inventoryd LWM2M agent's
// Lwm2mTLV.Marshal/Unmarshal, generalized here to decode a full sequence of
// sibling records (as appears inside an object- or instance-level payload)
// rather than a single record, and to borrow from the input buffer instead
// of copying.
package tlv

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-lwm2m/lwm2m"
)

// Kind is the record's container/leaf classification: the high two bits of
// the type byte, per spec.md §3.
type Kind uint8

const (
	KindObjectInstance    Kind = 0 // container: instances within an object-level payload
	KindResourceInstance  Kind = 1 // leaf: one element of a Multiple resource
	KindMultipleResource  Kind = 2 // container: all instances of a Multiple resource
	KindResourceWithValue Kind = 3 // leaf: a Single resource's value
)

func (k Kind) String() string {
	switch k {
	case KindObjectInstance:
		return "ObjectInstance"
	case KindResourceInstance:
		return "ResourceInstance"
	case KindMultipleResource:
		return "MultipleResources"
	case KindResourceWithValue:
		return "ResourceWithValue"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) isContainer() bool {
	return k == KindObjectInstance || k == KindMultipleResource
}

// Record is one decoded TLV entry. For a container Kind, Children holds the
// nested records and Content is nil; for a leaf Kind, Content holds the raw
// value bytes (borrowed from the buffer passed to Decode unless Clone is
// called) and Children is nil.
type Record struct {
	Kind     Kind
	ID       uint16
	Content  []byte
	Children []Record
}

// Clone returns a Record whose Content and Children (recursively) no longer
// borrow from the original decode buffer, per spec.md §3's ownership
// summary: "TLV sequences decoded from a payload borrow from the payload
// buffer unless explicitly cloned."
func (r Record) Clone() Record {
	out := Record{Kind: r.Kind, ID: r.ID}
	if r.Content != nil {
		out.Content = append([]byte(nil), r.Content...)
	}
	if r.Children != nil {
		out.Children = make([]Record, len(r.Children))
		for i, c := range r.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// Decode parses buf as a sequence of sibling TLV records. On any malformed
// byte it fails with a lwm2m.KindBadRequest error ("MalformedTLV" in
// spec.md's vocabulary) and returns a nil slice: no partial output is ever
// visible to the caller, per spec.md §4.1.
func Decode(buf []byte) ([]Record, error) {
	records, _, err := decodeSequence(buf, 0, len(buf))
	if err != nil {
		return nil, err
	}
	return records, nil
}

// decodeSequence decodes records from buf[start:end], returning the
// records and the number of bytes consumed (== end-start on success).
func decodeSequence(buf []byte, start, end int) ([]Record, int, error) {
	var out []Record
	i := start
	for i < end {
		rec, n, err := decodeOne(buf[i:end])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
		i += n
	}
	return out, i - start, nil
}

// decodeOne decodes exactly one record from the front of buf, returning the
// record and the number of bytes it consumed.
func decodeOne(buf []byte) (Record, int, error) {
	if len(buf) < 1 {
		return Record{}, 0, lwm2m.New(lwm2m.KindBadRequest, "truncated TLV: missing type byte")
	}
	typeByte := buf[0]
	kind := Kind(typeByte >> 6)
	idIs16Bit := typeByte&0x20 != 0
	lengthWidth := (typeByte >> 3) & 0x03
	pos := 1

	var id uint16
	if idIs16Bit {
		if len(buf) < pos+2 {
			return Record{}, 0, lwm2m.New(lwm2m.KindBadRequest, "truncated TLV: missing 16-bit id")
		}
		id = binary.BigEndian.Uint16(buf[pos : pos+2])
		pos += 2
	} else {
		if len(buf) < pos+1 {
			return Record{}, 0, lwm2m.New(lwm2m.KindBadRequest, "truncated TLV: missing 8-bit id")
		}
		id = uint16(buf[pos])
		pos++
	}

	var length uint32
	switch lengthWidth {
	case 0:
		length = uint32(typeByte & 0x07)
	case 1:
		if len(buf) < pos+1 {
			return Record{}, 0, lwm2m.New(lwm2m.KindBadRequest, "truncated TLV: missing 1-byte length")
		}
		length = uint32(buf[pos])
		pos++
	case 2:
		if len(buf) < pos+2 {
			return Record{}, 0, lwm2m.New(lwm2m.KindBadRequest, "truncated TLV: missing 2-byte length")
		}
		length = uint32(binary.BigEndian.Uint16(buf[pos : pos+2]))
		pos += 2
	case 3:
		if len(buf) < pos+3 {
			return Record{}, 0, lwm2m.New(lwm2m.KindBadRequest, "truncated TLV: missing 3-byte length")
		}
		length = uint32(buf[pos])<<16 | uint32(buf[pos+1])<<8 | uint32(buf[pos+2])
		pos += 3
	}

	if pos+int(length) > len(buf) || length > uint32(len(buf)) {
		return Record{}, 0, lwm2m.New(lwm2m.KindBadRequest, "truncated TLV: value shorter than declared length %d", length)
	}

	rec := Record{Kind: kind, ID: id}
	valueBuf := buf[pos : pos+int(length)]
	if kind.isContainer() {
		children, n, err := decodeSequence(valueBuf, 0, len(valueBuf))
		if err != nil {
			return Record{}, 0, err
		}
		if n != len(valueBuf) {
			return Record{}, 0, lwm2m.New(lwm2m.KindBadRequest, "truncated TLV: container value not fully consumed")
		}
		rec.Children = children
	} else {
		rec.Content = valueBuf
	}
	return rec, pos + int(length), nil
}

// Encode serializes a single record, choosing the narrowest legal id and
// length encoding for it, per spec.md §4.1. For a container record the
// value is its Children, encoded here with EncodeRecords; its Content is
// ignored.
func Encode(r Record) []byte {
	content := r.Content
	if r.Kind.isContainer() {
		content = EncodeRecords(r.Children)
	}

	head := byte(r.Kind) << 6
	var out []byte

	if r.ID > 0xFF {
		head |= 0x20
		out = append(out, head, byte(r.ID>>8), byte(r.ID))
	} else {
		out = append(out, head, byte(r.ID))
	}

	n := len(content)
	switch {
	case n <= 7:
		out[0] |= byte(n)
	case n <= 0xFF:
		out[0] |= 1 << 3
		out = append(out, byte(n))
	case n <= 0xFFFF:
		out[0] |= 2 << 3
		out = append(out, byte(n>>8), byte(n))
	default:
		out[0] |= 3 << 3
		out = append(out, byte(n>>16), byte(n>>8), byte(n))
	}
	return append(out, content...)
}

// EncodeRecords serializes a sequence of sibling records back-to-back, the
// inverse of Decode.
func EncodeRecords(records []Record) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, Encode(r)...)
	}
	return out
}

// ToInt reinterprets a ResourceWithValue payload as a big-endian signed
// two's complement integer of width 1, 2, 4 or 8 bytes, per spec.md §4.1.
// Used for both the Int and Time data types.
func ToInt(content []byte) (int64, error) {
	switch len(content) {
	case 1:
		return int64(int8(content[0])), nil
	case 2:
		return int64(int16(binary.BigEndian.Uint16(content))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(content))), nil
	case 8:
		return int64(binary.BigEndian.Uint64(content)), nil
	default:
		return 0, lwm2m.New(lwm2m.KindBadRequest, "invalid int width %d", len(content))
	}
}

// ToFloat reinterprets a ResourceWithValue payload as an IEEE-754 big-endian
// float of width 4 or 8 bytes.
func ToFloat(content []byte) (float64, error) {
	switch len(content) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(content))), nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(content)), nil
	default:
		return 0, lwm2m.New(lwm2m.KindBadRequest, "invalid float width %d", len(content))
	}
}

// ToBool reinterprets a ResourceWithValue payload as a boolean: width must
// be exactly 1 and the byte must be 0 or 1.
func ToBool(content []byte) (bool, error) {
	if len(content) != 1 || content[0] > 1 {
		return false, lwm2m.New(lwm2m.KindBadRequest, "invalid bool payload %v", content)
	}
	return content[0] == 1, nil
}

// ObjLink is an (object_id, instance_id) pair, the ObjLink resource data
// type's value shape.
type ObjLink struct {
	ObjectID   uint16
	InstanceID uint16
}

// ToObjLink reinterprets a ResourceWithValue payload as two big-endian
// uint16s: width must be exactly 4.
func ToObjLink(content []byte) (ObjLink, error) {
	if len(content) != 4 {
		return ObjLink{}, lwm2m.New(lwm2m.KindBadRequest, "invalid objlink width %d", len(content))
	}
	return ObjLink{
		ObjectID:   binary.BigEndian.Uint16(content[0:2]),
		InstanceID: binary.BigEndian.Uint16(content[2:4]),
	}, nil
}

// FromInt encodes v as the narrowest of the four legal widths {1,2,4,8}
// that can represent it without loss. EncodeResource uses it for Int and
// Time values, so it backs the dispatcher's TLV Read responses and
// notifications.
func FromInt(v int64) []byte {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return []byte{byte(int8(v))}
	case v >= math.MinInt16 && v <= math.MaxInt16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(int16(v)))
		return b
	case v >= math.MinInt32 && v <= math.MaxInt32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(int32(v)))
		return b
	default:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v))
		return b
	}
}

// FromFloat encodes v as an 8-byte IEEE-754 big-endian double. The codec
// always emits the wider of the two legal float widths on encode; narrower
// 4-byte floats are only ever something a decoder must also accept.
func FromFloat(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

// FromBool encodes a boolean as a single 0/1 byte.
func FromBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// FromObjLink encodes an ObjLink as two big-endian uint16s.
func FromObjLink(l ObjLink) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], l.ObjectID)
	binary.BigEndian.PutUint16(b[2:4], l.InstanceID)
	return b
}

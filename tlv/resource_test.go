package tlv

import "testing"

func TestNewValidatesArity(t *testing.T) {
	if _, err := New(1, TypeInt, Single); err == nil {
		t.Errorf("New(Single) with zero values should fail")
	}
	if _, err := New(1, TypeInt, Single, Value{Int: 1}, Value{Int: 2}); err == nil {
		t.Errorf("New(Single) with two values should fail")
	}
	if _, err := New(1, TypeInt, Multiple); err == nil {
		t.Errorf("New(Multiple) with zero values should fail")
	}
	if _, err := New(1, DataType(99), Single, Value{Int: 1}); err == nil {
		t.Errorf("New with unknown data type should fail")
	}
}

func TestNewCopiesBytes(t *testing.T) {
	b := []byte("hello")
	r, err := New(1, TypeString, Single, Value{Bytes: b})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b[0] = 'X'
	if string(r.Values[0].Bytes) != "hello" {
		t.Errorf("New did not copy Bytes: got %q after mutating caller's slice", r.Values[0].Bytes)
	}
}

func TestStringFormatting(t *testing.T) {
	cases := []struct {
		name string
		r    *Resource
		want string
	}{
		{"string", NewSingleString(1, "hi"), "hi"},
		{"int", NewSingleInt(1, -12, false), "-12"},
		{"time", NewSingleInt(1, 1000, true), "1000"},
	}
	for _, tc := range cases {
		got, err := tc.r.String()
		if err != nil {
			t.Fatalf("%s: String(): %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: String() = %q, want %q", tc.name, got, tc.want)
		}
	}

	boolTrue, _ := New(1, TypeBool, Single, Value{Bool: true})
	if s, _ := boolTrue.String(); s != "true" {
		t.Errorf("bool true String() = %q, want true", s)
	}
	boolFalse, _ := New(1, TypeBool, Single, Value{Bool: false})
	if s, _ := boolFalse.String(); s != "false" {
		t.Errorf("bool false String() = %q, want false", s)
	}

	opaque, _ := New(1, TypeOpaque, Single, Value{Bytes: []byte{0x01, 0x02, 0xFF}})
	if s, _ := opaque.String(); s != "AQL/" {
		t.Errorf("opaque String() = %q, want base64 AQL/", s)
	}

	link, _ := New(1, TypeObjLink, Single, Value{ObjLink: ObjLink{ObjectID: 3, InstanceID: 7}})
	if s, _ := link.String(); s != "3:7" {
		t.Errorf("objlink String() = %q, want 3:7", s)
	}

	multi, _ := New(1, TypeString, Multiple, Value{Bytes: []byte("a")}, Value{Bytes: []byte("b")})
	if _, err := multi.String(); err == nil {
		t.Errorf("String() on a Multiple resource should fail")
	}
}

func TestParseSingleValueRoundTrip(t *testing.T) {
	cases := []struct {
		dt DataType
		s  string
	}{
		{TypeString, "hello"},
		{TypeInt, "-12"},
		{TypeTime, "1717000000"},
		{TypeFloat, "3.5"},
		{TypeBool, "true"},
		{TypeBool, "false"},
		{TypeObjLink, "3:7"},
		{TypeOpaque, "AQL/"},
	}
	for _, tc := range cases {
		v, err := ParseSingleValue(tc.dt, tc.s)
		if err != nil {
			t.Fatalf("ParseSingleValue(%v, %q): %v", tc.dt, tc.s, err)
		}
		r, err := New(1, tc.dt, Single, v)
		if err != nil {
			t.Fatalf("New(%v): %v", tc.dt, err)
		}
		got, err := r.String()
		if err != nil {
			t.Fatalf("String(): %v", err)
		}
		if got != tc.s {
			t.Errorf("ParseSingleValue(%v, %q) round trip = %q", tc.dt, tc.s, got)
		}
	}
}

func TestParseSingleValueRejectsInvalid(t *testing.T) {
	if _, err := ParseSingleValue(TypeInt, "not-a-number"); err == nil {
		t.Errorf("ParseSingleValue(TypeInt, \"not-a-number\") should fail")
	}
	if _, err := ParseSingleValue(TypeOpaque, "not base64!!"); err == nil {
		t.Errorf("ParseSingleValue(TypeOpaque, invalid) should fail")
	}
}

func TestEncodeDecodeResourceRoundTrip(t *testing.T) {
	single, err := New(2, TypeFloat, Single, Value{Float: 3.5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec, err := EncodeResource(single)
	if err != nil {
		t.Fatalf("EncodeResource: %v", err)
	}
	got, err := DecodeResource(rec, TypeFloat)
	if err != nil {
		t.Fatalf("DecodeResource: %v", err)
	}
	if got.Kind != Single || got.Values[0].Float != 3.5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodeResourceRejectsWrongChildKind(t *testing.T) {
	rec := Record{Kind: KindMultipleResource, ID: 1, Children: []Record{
		{Kind: KindObjectInstance, ID: 0},
	}}
	if _, err := DecodeResource(rec, TypeString); err == nil {
		t.Errorf("DecodeResource with wrong child kind should fail")
	}
}

func TestDecodeResourceRejectsOutOfOrderChildren(t *testing.T) {
	rec := Record{Kind: KindMultipleResource, ID: 1, Children: []Record{
		{Kind: KindResourceInstance, ID: 1, Content: []byte("a")},
		{Kind: KindResourceInstance, ID: 0, Content: []byte("b")},
	}}
	if _, err := DecodeResource(rec, TypeString); err == nil {
		t.Errorf("DecodeResource with out-of-order sub-ids should fail")
	}
}

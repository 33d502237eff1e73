package server

import (
	"reflect"
	"testing"

	"github.com/go-lwm2m/lwm2m"
)

func TestParseLinkFormat(t *testing.T) {
	cases := []struct {
		name string
		body string
		want map[uint16][]uint16
	}{
		{"empty", "", map[uint16][]uint16{}},
		{"single", "</1/0>", map[uint16][]uint16{1: {0}}},
		{"multi", "</1/0>,</3/0>", map[uint16][]uint16{1: {0}, 3: {0}}},
		{"with root link and attrs", `</>;rt="oma.lwm2m",</1/0>,</3/0>,</3/1>`, map[uint16][]uint16{1: {0}, 3: {0, 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLinkFormat([]byte(tc.body))
			if err != nil {
				t.Fatalf("ParseLinkFormat(%q): %v", tc.body, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseLinkFormat(%q) = %v, want %v", tc.body, got, tc.want)
			}
		})
	}
}

func TestParseLinkFormatMalformed(t *testing.T) {
	cases := []string{"</1>", "</1/0/2>", "<garbage>"}
	for _, body := range cases {
		if _, err := ParseLinkFormat([]byte(body)); lwm2m.KindOf(err) != lwm2m.KindBadRequest {
			t.Errorf("ParseLinkFormat(%q): kind = %v, want BadRequest", body, lwm2m.KindOf(err))
		}
	}
}

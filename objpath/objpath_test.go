package objpath

import "testing"

func TestParseRoot(t *testing.T) {
	p, err := Parse("/", "")
	if err != nil {
		t.Fatalf("Parse(/): %v", err)
	}
	if !p.IsRoot() {
		t.Errorf("Parse(/) should be root")
	}
}

func TestParseObjectOnly(t *testing.T) {
	p, err := Parse("/3", "")
	if err != nil {
		t.Fatalf("Parse(/3): %v", err)
	}
	if !p.Object.Valid || p.Object.Value != 3 {
		t.Fatalf("Object = %+v", p.Object)
	}
	if p.Instance.Valid || p.Resource.Valid {
		t.Fatalf("nothing below object should be Some: %+v", p)
	}
}

func TestParseFull(t *testing.T) {
	p, err := Parse("/3/0/13", "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Object.Value != 3 || p.Instance.Value != 0 || p.Resource.Value != 13 {
		t.Fatalf("path = %+v", p)
	}
	if p.String() != "/3/0/13" {
		t.Errorf("String() = %q", p.String())
	}
}

func TestParseTrailingSlashIgnored(t *testing.T) {
	p, err := Parse("/3/0/13/", "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.String() != "/3/0/13" {
		t.Errorf("trailing slash changed the path: %q", p.String())
	}
}

func TestParseStripsPrefix(t *testing.T) {
	p, err := Parse("/rd/3/0/13", "/rd")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.String() != "/3/0/13" {
		t.Errorf("prefix not stripped: %q", p.String())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{"/3/0/13/9", "/abc", "/3/-1", "/3//13", "/3/0/13x", "/70000"}
	for _, c := range cases {
		if _, err := Parse(c, ""); err == nil {
			t.Errorf("Parse(%q) should fail", c)
		}
	}
}

func TestParseAllSegmentValues(t *testing.T) {
	for _, v := range []uint16{0, 1, 255, 256, 65534, 65535} {
		raw := "/" + itoa(v) + "/" + itoa(v) + "/" + itoa(v)
		p, err := Parse(raw, "")
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		if p.Object.Value != v || p.Instance.Value != v || p.Resource.Value != v {
			t.Fatalf("round trip failed for %d: %+v", v, p)
		}
		if p.String() != raw {
			t.Fatalf("String() round trip failed for %d: got %q want %q", v, p.String(), raw)
		}
	}
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func TestLinkPath(t *testing.T) {
	if got := LinkPath(3, 0); got != "</3/0>" {
		t.Errorf("LinkPath(3,0) = %q", got)
	}
}

package lwm2m

import (
	"errors"
	"testing"

	"github.com/plgd-dev/go-coap/v2/message/codes"
)

func TestKindCode(t *testing.T) {
	cases := []struct {
		kind Kind
		code codes.Code
	}{
		{KindBadRequest, codes.BadRequest},
		{KindNotFound, codes.NotFound},
		{KindMethodNotAllowed, codes.MethodNotAllowed},
		{KindUnsupportedContentFormat, codes.UnsupportedMediaType},
		{KindInternalError, codes.InternalServerError},
		{KindNotImplemented, codes.NotImplemented},
		{KindCancelled, codes.ServiceUnavailable},
	}
	for _, tc := range cases {
		if got := tc.kind.Code(); got != tc.code {
			t.Errorf("%s.Code() = %v, want %v", tc.kind, got, tc.code)
		}
	}
}

func TestWrapUnwrapKindOf(t *testing.T) {
	root := errors.New("boom")
	wrapped := Wrap(KindNotFound, root, "resource /3/0/1 missing")
	if KindOf(wrapped) != KindNotFound {
		t.Errorf("KindOf(wrapped) = %v, want KindNotFound", KindOf(wrapped))
	}
	if !errors.Is(wrapped, wrapped) {
		t.Errorf("wrapped should be itself")
	}
	if errors.Unwrap(wrapped) != root {
		t.Errorf("Unwrap did not return root cause")
	}
	if KindOf(root) != KindInternalError {
		t.Errorf("KindOf(plain error) = %v, want KindInternalError fallback", KindOf(root))
	}
}

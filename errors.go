package lwm2m

import (
	"fmt"

	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// Kind classifies an error so it can be mapped onto a CoAP response code
// without the caller needing to know which subsystem raised it.
// See spec.md §7.
type Kind int

const (
	// KindBadRequest covers a malformed path, query or TLV payload.
	KindBadRequest Kind = iota
	// KindUnauthorized is reserved: this core has no access control.
	KindUnauthorized
	// KindNotFound covers an unknown object, instance or resource.
	KindNotFound
	// KindMethodNotAllowed covers an operation unimplemented by a descriptor.
	KindMethodNotAllowed
	// KindUnsupportedContentFormat covers JSON or an unrecognized Content-Format.
	KindUnsupportedContentFormat
	// KindInternalError covers a callback failure that is none of the above.
	KindInternalError
	// KindNotImplemented covers a binding mode other than U.
	KindNotImplemented
	// KindCancelled covers a pending request whose target client vanished.
	KindCancelled
)

var kindNames = [...]string{
	KindBadRequest:               "bad_request",
	KindUnauthorized:             "unauthorized",
	KindNotFound:                 "not_found",
	KindMethodNotAllowed:         "method_not_allowed",
	KindUnsupportedContentFormat: "unsupported_content_format",
	KindInternalError:            "internal_error",
	KindNotImplemented:           "not_implemented",
	KindCancelled:                "cancelled",
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// kindCodes maps each Kind onto the CoAP response code spec.md §7 assigns it.
var kindCodes = [...]codes.Code{
	KindBadRequest:               codes.BadRequest,
	KindUnauthorized:             codes.Unauthorized,
	KindNotFound:                 codes.NotFound,
	KindMethodNotAllowed:         codes.MethodNotAllowed,
	KindUnsupportedContentFormat: codes.UnsupportedMediaType,
	KindInternalError:            codes.InternalServerError,
	KindNotImplemented:           codes.NotImplemented,
	KindCancelled:                codes.ServiceUnavailable,
}

// Code returns the CoAP response code this Kind is surfaced as on the wire.
func (k Kind) Code() codes.Code {
	if int(k) < 0 || int(k) >= len(kindCodes) {
		return codes.InternalServerError
	}
	return kindCodes[k]
}

// Error is the error type returned by every package in this module that can
// fail in a way visible to a CoAP peer. Wrap a cause with Wrap or construct
// directly with New.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error of the given Kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given Kind that carries cause as its
// Unwrap() target. The result always has the given kind, even when cause
// is itself an *Error of another Kind.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it is, or wraps, an *Error produced by
// this module; otherwise it reports KindInternalError.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return KindInternalError
	}
	return e.Kind
}

// CodeOf returns the CoAP response code err should be surfaced as.
func CodeOf(err error) codes.Code {
	return KindOf(err).Code()
}

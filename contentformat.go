package lwm2m

import "github.com/plgd-dev/go-coap/v2/message"

// ContentFormat numeric identifiers recognized on the LWM2M management
// interface, per spec.md §4.6 and the OMA LWM2M Content-Format registry.
// These are distinct from the IANA CoAP Content-Format registry values
// used by generic CoAP (e.g. 0, 42): LWM2M reserves its own block for the
// "LWM2M-flavored" representations.
const (
	ContentFormatText    message.MediaType = 1541 // text/plain, LWM2M-flavored
	ContentFormatTLV     message.MediaType = 11542
	ContentFormatJSON    message.MediaType = 11543 // reserved only; always 4.15
	ContentFormatOpaque  message.MediaType = 1544
	contentFormatUnknown message.MediaType = 0xFFFF
)

// recognizedContentFormats is the complete set of Content-Format values this
// core recognizes. It includes the plain CoAP registry's own text/opaque
// identifiers (0, 42), which some peers send out of habit and which
// ResolveWriteOperation treats like the LWM2M text/opaque values. Anything
// else is rejected for writes that need to pick an operation.
var recognizedContentFormats = map[message.MediaType]bool{
	ContentFormatText:   true,
	ContentFormatTLV:    true,
	ContentFormatJSON:   true,
	ContentFormatOpaque: true,
	message.TextPlain:   true,
	message.AppOctets:   true,
}

// IsRecognizedContentFormat reports whether cf is one this core can
// negotiate at all (including JSON, which is recognized only to be
// rejected).
func IsRecognizedContentFormat(cf message.MediaType) bool {
	return recognizedContentFormats[cf]
}

// WriteKind distinguishes the two ways a PUT/POST body can be interpreted.
type WriteKind int

const (
	// WriteTLV means the body is a TLV stream and should drive write_tlv.
	WriteTLV WriteKind = iota
	// WriteResource means the body is a single text or opaque value and
	// should drive write_resource.
	WriteResource
	// WriteUnsupported means the Content-Format cannot drive a write at all
	// (JSON, or anything unrecognized): respond 4.15.
	WriteUnsupported
)

// ResolveWriteOperation implements the negotiation table in spec.md §4.6:
// TLV drives write_tlv, text/opaque drives write_resource, JSON or unknown
// content formats are unsupported.
func ResolveWriteOperation(cf message.MediaType) WriteKind {
	switch cf {
	case ContentFormatTLV:
		return WriteTLV
	case ContentFormatText, ContentFormatOpaque, message.TextPlain, message.AppOctets:
		return WriteResource
	default:
		return WriteUnsupported
	}
}

// Package lwm2m provides the shared error, content-format and binding-mode
// vocabulary used by the tlv, objpath, object, client and server packages:
// a small set of error Kinds with a fixed mapping onto CoAP response codes,
// so that the client dispatcher and the server management issuer answer
// the wire the same way for the same class of failure.
package lwm2m

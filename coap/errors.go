// Package coap holds the shared transport and protocol glue the three
// LWM2M engines (client, server, bootstrap) build on: path parsing, CoAP
// response-code mapping, and a Transport abstraction over the underlying
// CoAP/DTLS service.
package coap

import "errors"

// Error taxonomy per the engine's failure semantics: every failure is one
// of these kinds, surfaced either synchronously ("could not dispatch") or as
// a ResponseCode passed to a completion callback ("peer replied with").
var (
	ErrInvalidArgument       = errors.New("coap: invalid argument")
	ErrMalformedPayload      = errors.New("coap: malformed payload")
	ErrNotFound              = errors.New("coap: not found")
	ErrConflict              = errors.New("coap: conflict")
	ErrMethodNotAllowed      = errors.New("coap: method not allowed")
	ErrNotImplemented        = errors.New("coap: not implemented")
	ErrSecurityMisconfigured = errors.New("coap: security misconfigured")
	ErrGatewayTimeout        = errors.New("coap: gateway timeout")
	ErrInternal              = errors.New("coap: internal error")
)

package server

import (
	"context"
	"fmt"

	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/object"
	"github.com/lwm2m-go/engine/tlv"
)

// ReadCallback receives the outcome of a Read: the decoded TLV records on
// success (nil otherwise) alongside the raw response code.
type ReadCallback func(code coap.ResponseCode, records []tlv.Record)

// Callback receives the bare response code of a Write/Execute/Delete.
type Callback func(code coap.ResponseCode)

// CreateCallback receives the outcome of CreateObjectInstance, including
// the Location-Path segments a Created response carries.
type CreateCallback func(code coap.ResponseCode, locationPath []string)

// Read performs a GET against path on client, decoding a successful
// response's TLV body. No per-client serialization is performed;
// concurrent Read/Write/Execute calls against the same client may complete
// in any order.
func (s *Server) Read(ctx context.Context, client *ClientInfo, path coap.Path, cb ReadCallback) {
	req := &coap.Request{Method: coap.MethodGet, Path: path.String()}
	s.dispatchRequest(ctx, client.RemoteAddr, req, func(resp *coap.Response, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(coap.ErrorToResponseCode(err), nil)
			return
		}
		if !resp.Code.IsSuccess() {
			cb(resp.Code, nil)
			return
		}
		records, decErr := tlv.Decode(resp.Body)
		if decErr != nil {
			cb(coap.BadRequest, nil)
			return
		}
		cb(resp.Code, records)
	})
}

// Write performs a PUT against an instance or resource path, replacing
// either the resources present in the array (partial, instance-level
// update) or the single targeted resource entirely.
func (s *Server) Write(ctx context.Context, client *ClientInfo, path coap.Path, resources []object.Resource, cb Callback) {
	if path.Shape() != coap.ShapeObjectInstance && path.Shape() != coap.ShapeResource {
		invokeCallback(cb, coap.ErrorToResponseCode(coap.ErrInvalidArgument))
		return
	}
	body, err := encodeResources(resources)
	if err != nil {
		invokeCallback(cb, coap.BadRequest)
		return
	}
	req := &coap.Request{
		Method:        coap.MethodPut,
		Path:          path.String(),
		ContentFormat: coap.ContentFormatTLV,
		Body:          body,
	}
	s.dispatchRequest(ctx, client.RemoteAddr, req, func(resp *coap.Response, err error) {
		if err != nil {
			invokeCallback(cb, coap.ErrorToResponseCode(err))
			return
		}
		invokeCallback(cb, resp.Code)
	})
}

// Execute performs a POST with a text/plain body against a resource path.
func (s *Server) Execute(ctx context.Context, client *ClientInfo, path coap.Path, arg string, cb Callback) {
	if path.Shape() != coap.ShapeResource {
		invokeCallback(cb, coap.ErrorToResponseCode(coap.ErrInvalidArgument))
		return
	}
	req := &coap.Request{
		Method:        coap.MethodPost,
		Path:          path.String(),
		ContentFormat: coap.ContentFormatText,
		Body:          []byte(arg),
	}
	s.dispatchRequest(ctx, client.RemoteAddr, req, func(resp *coap.Response, err error) {
		if err != nil {
			invokeCallback(cb, coap.ErrorToResponseCode(err))
			return
		}
		invokeCallback(cb, resp.Code)
	})
}

// CreateObjectInstance performs a POST to /obj carrying a single
// ObjectInstance TLV record.
func (s *Server) CreateObjectInstance(ctx context.Context, client *ClientInfo, objectID, instanceID uint16, resources []object.Resource, cb CreateCallback) {
	body, err := object.EncodeObjectInstance(instanceID, resources)
	if err != nil {
		if cb != nil {
			cb(coap.BadRequest, nil)
		}
		return
	}
	req := &coap.Request{
		Method:        coap.MethodPost,
		Path:          coap.ObjectPath(objectID).String(),
		ContentFormat: coap.ContentFormatTLV,
		Body:          body,
	}
	s.dispatchRequest(ctx, client.RemoteAddr, req, func(resp *coap.Response, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(coap.ErrorToResponseCode(err), nil)
			return
		}
		cb(resp.Code, resp.LocationPath)
	})
}

// DeleteObjectInstance performs a DELETE against /obj/inst.
func (s *Server) DeleteObjectInstance(ctx context.Context, client *ClientInfo, objectID, instanceID uint16, cb Callback) {
	req := &coap.Request{Method: coap.MethodDelete, Path: coap.ObjectInstancePath(objectID, instanceID).String()}
	s.dispatchRequest(ctx, client.RemoteAddr, req, func(resp *coap.Response, err error) {
		if err != nil {
			invokeCallback(cb, coap.ErrorToResponseCode(err))
			return
		}
		invokeCallback(cb, resp.Code)
	})
}

func invokeCallback(cb Callback, code coap.ResponseCode) {
	if cb != nil {
		cb(code)
	}
}

func encodeResources(resources []object.Resource) ([]byte, error) {
	var out []byte
	for _, r := range resources {
		b, err := object.EncodeResource(r)
		if err != nil {
			return nil, fmt.Errorf("server: encoding resource %d: %w", r.ID, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

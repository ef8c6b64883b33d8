package bootstrap

import (
	"context"
	"fmt"

	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/object"
)

// Callback receives the bare response code of a bootstrap write/delete/
// finish operation.
type Callback func(code coap.ResponseCode)

// Instance is one Object Instance's resources, the unit WriteObject encodes
// into a single TLV record.
type Instance struct {
	ID        uint16
	Resources []object.Resource
}

// invalid reports whether client's session has already been closed by
// SendFinish, in which case every further op on it fails immediately.
func invalid(client *BootstrapClientInfo) bool {
	return client == nil || !client.valid
}

func invokeCallback(cb Callback, code coap.ResponseCode) {
	if cb != nil {
		cb(code)
	}
}

// WriteObject PUTs objectID carrying one or more Object Instance TLV
// records in a single body. This is the only LWM2M surface where a PUT to
// an Object path may carry more than one instance.
func (b *BootstrapServer) WriteObject(ctx context.Context, client *BootstrapClientInfo, objectID uint16, instances []Instance, cb Callback) {
	if invalid(client) {
		invokeCallback(cb, coap.ErrorToResponseCode(coap.ErrInvalidArgument))
		return
	}
	var body []byte
	for _, inst := range instances {
		encoded, err := object.EncodeObjectInstance(inst.ID, inst.Resources)
		if err != nil {
			invokeCallback(cb, coap.BadRequest)
			return
		}
		body = append(body, encoded...)
	}
	req := &coap.Request{
		Method:        coap.MethodPut,
		Path:          coap.ObjectPath(objectID).String(),
		ContentFormat: coap.ContentFormatTLV,
		Body:          body,
	}
	b.dispatchRequest(ctx, client.RemoteAddr, req, func(resp *coap.Response, err error) {
		if err != nil {
			invokeCallback(cb, coap.ErrorToResponseCode(err))
			return
		}
		invokeCallback(cb, resp.Code)
	})
}

// Write PUTs a single Object Instance or Resource, for bootstrap writes
// that target an already-existing instance rather than creating a fresh
// one via WriteObject.
func (b *BootstrapServer) Write(ctx context.Context, client *BootstrapClientInfo, path coap.Path, resources []object.Resource, cb Callback) {
	if invalid(client) {
		invokeCallback(cb, coap.ErrorToResponseCode(coap.ErrInvalidArgument))
		return
	}
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
	b.dispatchRequest(ctx, client.RemoteAddr, req, func(resp *coap.Response, err error) {
		if err != nil {
			invokeCallback(cb, coap.ErrorToResponseCode(err))
			return
		}
		invokeCallback(cb, resp.Code)
	})
}

// DeleteObjectInstance issues a DELETE against path, which may be an
// Object Instance or, uniquely on this interface, the root path "/": the
// client must then erase every Object Instance except the one describing
// the bootstrap server itself.
func (b *BootstrapServer) DeleteObjectInstance(ctx context.Context, client *BootstrapClientInfo, path coap.Path, cb Callback) {
	if invalid(client) {
		invokeCallback(cb, coap.ErrorToResponseCode(coap.ErrInvalidArgument))
		return
	}
	if path.Shape() != coap.ShapeRoot && path.Shape() != coap.ShapeObjectInstance {
		invokeCallback(cb, coap.ErrorToResponseCode(coap.ErrInvalidArgument))
		return
	}
	req := &coap.Request{Method: coap.MethodDelete, Path: path.String()}
	b.dispatchRequest(ctx, client.RemoteAddr, req, func(resp *coap.Response, err error) {
		if err != nil {
			invokeCallback(cb, coap.ErrorToResponseCode(err))
			return
		}
		invokeCallback(cb, resp.Code)
	})
}

// SendFinish POSTs to /bs with no payload, the final step of a bootstrap
// sequence. It invalidates client's handle immediately, before the request
// even reaches the transport: any op issued against it afterward (from
// within cb or elsewhere) sees ErrInvalidArgument; the handle must never
// be reused.
func (b *BootstrapServer) SendFinish(ctx context.Context, client *BootstrapClientInfo, cb Callback) {
	if invalid(client) {
		invokeCallback(cb, coap.ErrorToResponseCode(coap.ErrInvalidArgument))
		return
	}
	client.valid = false
	b.mu.Lock()
	delete(b.sessions, client.Name)
	b.mu.Unlock()

	req := &coap.Request{Method: coap.MethodPost, Path: "/bs"}
	b.dispatchRequest(ctx, client.RemoteAddr, req, func(resp *coap.Response, err error) {
		if err != nil {
			invokeCallback(cb, coap.ErrorToResponseCode(err))
			return
		}
		invokeCallback(cb, resp.Code)
	})
}

func encodeResources(resources []object.Resource) ([]byte, error) {
	var out []byte
	for _, r := range resources {
		b, err := object.EncodeResource(r)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: encoding resource %d: %w", r.ID, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

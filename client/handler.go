package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/object"
	"github.com/lwm2m-go/engine/tlv"
)

// handleInbound is the coap.Handler the Client Engine registers with its
// Transport: every server-initiated management, observe, and bootstrap
// request arrives here and is dispatched against the Object Registry.
func (c *Client) handleInbound(ctx context.Context, peer string, req *coap.Request) *coap.Response {
	result := make(chan *coap.Response, 1)
	c.enqueue(func() {
		result <- c.dispatchInbound(ctx, peer, req)
	})
	select {
	case resp := <-result:
		return resp
	case <-c.done:
		return nil
	}
}

func (c *Client) dispatchInbound(ctx context.Context, peer string, req *coap.Request) *coap.Response {
	if strings.Trim(req.Path, "/") == "bs" {
		return c.handleBootstrapFinish(peer, req)
	}

	path, err := coap.ParsePath(req.Path)
	if err != nil {
		return errorResponse(err)
	}

	if req.Method == coap.MethodGet && req.Observe != nil {
		return c.handleObserve(peer, path, req)
	}

	switch req.Method {
	case coap.MethodGet:
		return c.handleRead(path)
	case coap.MethodPut:
		return c.handleWrite(path, req)
	case coap.MethodPost:
		return c.handlePostOrExecute(path, req)
	case coap.MethodDelete:
		return c.handleDelete(path)
	default:
		return errorResponse(fmt.Errorf("client: %w", coap.ErrMethodNotAllowed))
	}
}

// handleBootstrapFinish handles a server-initiated POST /bs with no
// payload: the final step of a bootstrap sequence.
func (c *Client) handleBootstrapFinish(peer string, req *coap.Request) *coap.Response {
	if req.Method != coap.MethodPost {
		return errorResponse(fmt.Errorf("client: %w", coap.ErrMethodNotAllowed))
	}
	c.setState(StateBootstrapFinished)
	for _, fn := range c.bootstrapMonitors {
		fn()
	}
	return &coap.Response{Code: coap.Changed}
}

func (c *Client) handleRead(path coap.Path) *coap.Response {
	switch path.Shape() {
	case coap.ShapeObject:
		entries, err := c.registry.ReadObject(path.Object)
		if err != nil {
			return errorResponse(err)
		}
		var resourceRecords [][]byte
		for _, e := range entries {
			b, err := object.EncodeObjectInstance(e.InstanceID, e.Resources)
			if err != nil {
				return errorResponse(fmt.Errorf("%w", coap.ErrInternal))
			}
			resourceRecords = append(resourceRecords, b)
		}
		return &coap.Response{Code: coap.Content, ContentFormat: coap.ContentFormatTLV, Body: concat(resourceRecords)}
	case coap.ShapeObjectInstance:
		resources, err := c.registry.ReadInstance(path.Object, path.Instance)
		if err != nil {
			return errorResponse(err)
		}
		body, err := encodeResources(resources)
		if err != nil {
			return errorResponse(coap.ErrInternal)
		}
		return &coap.Response{Code: coap.Content, ContentFormat: coap.ContentFormatTLV, Body: body}
	case coap.ShapeResource:
		res, err := c.registry.ReadResource(path.Object, path.Instance, path.Resource)
		if err != nil {
			return errorResponse(err)
		}
		b, err := object.EncodeResource(res)
		if err != nil {
			return errorResponse(coap.ErrInternal)
		}
		return &coap.Response{Code: coap.Content, ContentFormat: coap.ContentFormatTLV, Body: b}
	default:
		return errorResponse(fmt.Errorf("client: %w: read requires object/instance/resource path", coap.ErrInvalidArgument))
	}
}

func (c *Client) handleWrite(path coap.Path, req *coap.Request) *coap.Response {
	if c.State() == StateBootstrapping {
		return c.handleBootstrapWrite(path, req)
	}
	switch path.Shape() {
	case coap.ShapeObjectInstance:
		records, err := tlv.Decode(req.Body)
		if err != nil {
			return errorResponse(fmt.Errorf("%w", coap.ErrMalformedPayload))
		}
		if err := c.registry.WriteTLV(path.Object, path.Instance, records); err != nil {
			return errorResponse(err)
		}
		return &coap.Response{Code: coap.Changed}
	case coap.ShapeResource:
		if err := c.registry.WriteResource(path.Object, path.Instance, path.Resource, req.Body, req.ContentFormat); err != nil {
			return errorResponse(err)
		}
		return &coap.Response{Code: coap.Changed}
	default:
		return errorResponse(fmt.Errorf("client: %w: write requires instance/resource path", coap.ErrInvalidArgument))
	}
}

// handleBootstrapWrite implements the bootstrap-only write surface:
// a PUT to /obj may carry several Object-Instance TLV records (the only
// LWM2M surface where that is legal), and a write to an instance that does
// not exist yet creates it first, so replaying the same bootstrap payload
// is idempotent.
func (c *Client) handleBootstrapWrite(path coap.Path, req *coap.Request) *coap.Response {
	switch path.Shape() {
	case coap.ShapeObject:
		records, err := tlv.Decode(req.Body)
		if err != nil {
			return errorResponse(fmt.Errorf("%w", coap.ErrMalformedPayload))
		}
		for _, rec := range records {
			if rec.Type != tlv.TypeObjectInstance {
				return errorResponse(fmt.Errorf("client: %w: object-level bootstrap write needs object-instance records", coap.ErrMalformedPayload))
			}
			inner, err := tlv.Decode(rec.Value)
			if err != nil {
				return errorResponse(fmt.Errorf("%w", coap.ErrMalformedPayload))
			}
			if err := c.bootstrapWriteInstance(path.Object, rec.ID, rec.Value, inner); err != nil {
				return errorResponse(err)
			}
		}
		return &coap.Response{Code: coap.Changed}
	case coap.ShapeObjectInstance:
		records, err := tlv.Decode(req.Body)
		if err != nil {
			return errorResponse(fmt.Errorf("%w", coap.ErrMalformedPayload))
		}
		if err := c.bootstrapWriteInstance(path.Object, path.Instance, req.Body, records); err != nil {
			return errorResponse(err)
		}
		return &coap.Response{Code: coap.Changed}
	case coap.ShapeResource:
		if err := c.registry.WriteResource(path.Object, path.Instance, path.Resource, req.Body, req.ContentFormat); err != nil {
			return errorResponse(err)
		}
		return &coap.Response{Code: coap.Changed}
	default:
		return errorResponse(fmt.Errorf("client: %w: bootstrap write requires object/instance/resource path", coap.ErrInvalidArgument))
	}
}

func (c *Client) bootstrapWriteInstance(objectID, instanceID uint16, raw []byte, records []tlv.Record) error {
	if !c.registry.HasInstance(objectID, instanceID) {
		return c.registry.Create(objectID, instanceID, raw, coap.ContentFormatTLV)
	}
	return c.registry.WriteTLV(objectID, instanceID, records)
}

// handlePostOrExecute handles POST: instance creation at /obj, multi-resource
// write at /obj/inst, or execute at /obj/inst/res.
func (c *Client) handlePostOrExecute(path coap.Path, req *coap.Request) *coap.Response {
	switch path.Shape() {
	case coap.ShapeObject:
		instanceID, err := pickInstanceID(req)
		if err != nil {
			return errorResponse(err)
		}
		if err := c.registry.Create(path.Object, instanceID, req.Body, req.ContentFormat); err != nil {
			return errorResponse(err)
		}
		return &coap.Response{Code: coap.Created, LocationPath: []string{fmt.Sprint(path.Object), fmt.Sprint(instanceID)}}
	case coap.ShapeObjectInstance:
		records, err := tlv.Decode(req.Body)
		if err != nil {
			return errorResponse(fmt.Errorf("%w", coap.ErrMalformedPayload))
		}
		if err := c.registry.WriteTLV(path.Object, path.Instance, records); err != nil {
			return errorResponse(err)
		}
		return &coap.Response{Code: coap.Changed}
	case coap.ShapeResource:
		if err := c.registry.Execute(path.Object, path.Instance, path.Resource, string(req.Body)); err != nil {
			return errorResponse(err)
		}
		return &coap.Response{Code: coap.Changed}
	default:
		return errorResponse(fmt.Errorf("client: %w", coap.ErrInvalidArgument))
	}
}

func pickInstanceID(req *coap.Request) (uint16, error) {
	records, err := tlv.Decode(req.Body)
	if err != nil || len(records) == 0 {
		return 0, fmt.Errorf("%w", coap.ErrMalformedPayload)
	}
	if records[0].Type == tlv.TypeObjectInstance {
		return records[0].ID, nil
	}
	return 0, fmt.Errorf("client: %w: create payload must be an object-instance record", coap.ErrMalformedPayload)
}

func (c *Client) handleDelete(path coap.Path) *coap.Response {
	switch path.Shape() {
	case coap.ShapeRoot:
		// Bootstrap-Delete on "/": erase every Object Instance except the
		// Security instance describing the bootstrap server itself.
		if c.State() != StateBootstrapping {
			return errorResponse(fmt.Errorf("client: %w: root delete is bootstrap-only", coap.ErrInvalidArgument))
		}
		c.deleteAllExceptBootstrap()
		return &coap.Response{Code: coap.Deleted}
	case coap.ShapeObjectInstance:
		if err := c.registry.RemoveInstance(path.Object, path.Instance); err != nil {
			return errorResponse(err)
		}
		return &coap.Response{Code: coap.Deleted}
	default:
		return errorResponse(fmt.Errorf("client: %w: delete requires instance path", coap.ErrInvalidArgument))
	}
}

// deleteAllExceptBootstrap removes every instance of every Object, keeping
// only Security instances whose Bootstrap-Server resource reads true.
func (c *Client) deleteAllExceptBootstrap() {
	for _, objID := range c.registry.ObjectIDs() {
		for _, instID := range c.registry.Instances(objID) {
			if objID == SecurityObjectID {
				res, err := c.registry.ReadResource(objID, instID, SecurityResourceIsBootstrap)
				if err == nil && res.Value.Bool {
					continue
				}
			}
			if err := c.registry.RemoveInstance(objID, instID); err != nil {
				c.logf("client %s: bootstrap delete-all: removing /%d/%d: %s", c.name, objID, instID, err)
			}
		}
	}
}

func errorResponse(err error) *coap.Response {
	return &coap.Response{Code: coap.ErrorToResponseCode(err)}
}

func concat(bs [][]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}

func encodeResources(resources []object.Resource) ([]byte, error) {
	var out []byte
	for _, r := range resources {
		b, err := object.EncodeResource(r)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

package client

import (
	"context"
	"fmt"

	"github.com/lwm2m-go/engine/coap"
)

func tokenKey(token []byte) string { return string(token) }

// handleObserve processes a GET with an Observe option: 0 subscribes,
// 1 unsubscribes. The sequence counter always restarts from 0 for a fresh
// token, never continuing a prior subscription's count.
func (c *Client) handleObserve(peer string, path coap.Path, req *coap.Request) *coap.Response {
	// An observation is identified by the token of the original GET;
	// a transport that cannot surface it gets one allocated instead.
	token := req.Token
	if len(token) == 0 {
		token = c.transport.NextToken()
	}
	switch *req.Observe {
	case coap.ObserveRegister:
		resp := c.handleRead(path)
		if resp.Code.IsSuccess() {
			key := tokenKey(token)
			// The counter starts from 0 for a fresh token; the subscribe
			// ACK itself consumes the first increment, so the first
			// Notify-driven CON carries sequence 2.
			c.observeSeq[key] = 1
			c.observeBy[key] = observedPath{peer: peer, token: token, path: path}
			seq := coap.Observe(1)
			resp.Observe = &seq
		}
		return resp
	case coap.ObserveDeregister:
		if op, ok := c.observeBy[tokenKey(token)]; ok && op.path == path {
			delete(c.observeBy, tokenKey(token))
			delete(c.observeSeq, tokenKey(token))
		} else {
			// No token match (e.g. the transport re-allocated); fall back
			// to dropping every entry for this peer and path.
			for key, op := range c.observeBy {
				if op.path == path && op.peer == peer {
					delete(c.observeBy, key)
					delete(c.observeSeq, key)
				}
			}
		}
		return c.handleRead(path)
	default:
		return errorResponse(fmt.Errorf("client: %w: unsupported observe value", coap.ErrInvalidArgument))
	}
}

// Notify re-executes the read operation for every path in paths that has an
// active observer and pushes a CON notification carrying the next Observe
// sequence number, wrapping modulo 2^24.
func (c *Client) Notify(ctx context.Context, paths []coap.Path) {
	c.enqueue(func() {
		for key, op := range c.observeBy {
			matched := false
			for _, p := range paths {
				if p == op.path {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			resp := c.handleRead(op.path)
			if !resp.Code.IsSuccess() {
				continue
			}
			next := (c.observeSeq[key] + 1) % coap.ObserveSeqMod
			c.observeSeq[key] = next
			seq := coap.Observe(next)
			resp.Observe = &seq
			if err := c.transport.Notify(ctx, op.peer, op.token, resp); err != nil {
				c.logf("client %s: notify %s failed: %v", c.name, op.path, err)
			}
		}
	})
}

package bootstrap

import (
	"context"
	"sync"
	"testing"

	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/object"
)

type fakeTransport struct {
	mu   sync.Mutex
	reqs []*coap.Request
}

func (f *fakeTransport) Do(ctx context.Context, peer string, req *coap.Request) (*coap.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return &coap.Response{Code: coap.Changed}, nil
}

func (f *fakeTransport) Observe(ctx context.Context, peer string, req *coap.Request) ([]byte, <-chan *coap.Response, func(), error) {
	panic("bootstrap server never observes")
}

func (f *fakeTransport) Serve(ctx context.Context, handler coap.Handler) error {
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) NextToken() []byte { return []byte{0} }

func (f *fakeTransport) Notify(ctx context.Context, peer string, token []byte, resp *coap.Response) error {
	return nil
}

func noSec() []coap.SecurityMode {
	return []coap.SecurityMode{{Kind: coap.SecurityModeNoSec}}
}

func startBootstrap(t *testing.T, transport coap.Transport, known []string) (*BootstrapServer, func()) {
	t.Helper()
	b, err := New(transport, known, noSec())
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	return b, cancel
}

func TestNewRejectsNoSecurityModes(t *testing.T) {
	if _, err := New(&fakeTransport{}, nil, nil); err == nil {
		t.Fatal("New with no security modes should fail")
	}
}

func TestBootstrapRequestUnknownEndpointRejected(t *testing.T) {
	transport := &fakeTransport{}
	b, cancel := startBootstrap(t, transport, []string{"cli1"})
	defer cancel()

	resp := b.handleInbound(context.Background(), "x:1", &coap.Request{
		Method: coap.MethodPost, Path: "/bs", Query: []string{"ep=unknown"},
	})
	if resp.Code != coap.ErrorToResponseCode(coap.ErrInvalidArgument) {
		t.Fatalf("code = %s want BadRequest", resp.Code)
	}
}

func TestBootstrapFullSequenceAndFinishInvalidation(t *testing.T) {
	transport := &fakeTransport{}
	b, cancel := startBootstrap(t, transport, []string{"cli1"})
	defer cancel()

	sessions := make(chan *BootstrapClientInfo, 1)
	b.AddRequestMonitor(func(info *BootstrapClientInfo) { sessions <- info })

	resp := b.handleInbound(context.Background(), "cli1:5683", &coap.Request{
		Method: coap.MethodPost, Path: "/bs", Query: []string{"ep=cli1"},
	})
	if resp.Code != coap.Changed {
		t.Fatalf("bootstrap-request ack = %s want Changed", resp.Code)
	}
	client := <-sessions
	if client.Name != "cli1" || client.RemoteAddr != "cli1:5683" {
		t.Fatalf("session info = %+v", client)
	}

	results := make(chan coap.ResponseCode, 3)
	b.DeleteObjectInstance(context.Background(), client, coap.RootPath(), func(code coap.ResponseCode) { results <- code })
	if code := <-results; code != coap.Changed {
		t.Fatalf("delete-all code = %s", code)
	}

	security := []object.Resource{
		{ID: 0, Arity: object.AritySingle, Value: object.Value{Type: object.DataTypeString, String: "coap://server:5683"}},
		{ID: 1, Arity: object.AritySingle, Value: object.Value{Type: object.DataTypeBool, Bool: false}},
	}
	b.WriteObject(context.Background(), client, 0, []Instance{{ID: 0, Resources: security}}, func(code coap.ResponseCode) { results <- code })
	if code := <-results; code != coap.Changed {
		t.Fatalf("write security code = %s", code)
	}

	b.SendFinish(context.Background(), client, func(code coap.ResponseCode) { results <- code })
	if code := <-results; code != coap.Changed {
		t.Fatalf("send-finish code = %s", code)
	}

	done := make(chan coap.ResponseCode, 1)
	b.SendFinish(context.Background(), client, func(code coap.ResponseCode) { done <- code })
	if code := <-done; code != coap.ErrorToResponseCode(coap.ErrInvalidArgument) {
		t.Fatalf("second send-finish on invalidated handle = %s want BadRequest", code)
	}

	transport.mu.Lock()
	n := len(transport.reqs)
	transport.mu.Unlock()
	if n != 3 {
		t.Fatalf("transport saw %d requests, want 3 (delete, write, finish)", n)
	}
}

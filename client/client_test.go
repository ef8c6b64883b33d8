package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/object"
	"github.com/lwm2m-go/engine/tlv"
)

type fakeTransport struct {
	mu        sync.Mutex
	handler   coap.Handler
	requests  []*coap.Request
	locations []string
	nextTok   int
	notifies  []*coap.Response
}

func (f *fakeTransport) Do(ctx context.Context, peer string, req *coap.Request) (*coap.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if req.Path == "/rd" {
		return &coap.Response{Code: coap.Created, LocationPath: []string{"rd", "AAAABBBB"}}, nil
	}
	return &coap.Response{Code: coap.Changed}, nil
}

func (f *fakeTransport) Observe(ctx context.Context, peer string, req *coap.Request) ([]byte, <-chan *coap.Response, func(), error) {
	return nil, nil, func() {}, nil
}

func (f *fakeTransport) Serve(ctx context.Context, handler coap.Handler) error {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) NextToken() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTok++
	return []byte{byte(f.nextTok)}
}

func (f *fakeTransport) Notify(ctx context.Context, peer string, token []byte, resp *coap.Response) error {
	f.mu.Lock()
	f.notifies = append(f.notifies, resp)
	f.mu.Unlock()
	return nil
}

func newTestClient(t *testing.T, transport *fakeTransport) *Client {
	t.Helper()
	security := &object.Object{
		ID:            SecurityObjectID,
		ResourceCount: 11,
		Read: func(inst object.InstanceState, resourceID uint16) (object.Resource, error) {
			switch resourceID {
			case SecurityResourceServerURI:
				return object.Resource{ID: resourceID, Type: object.DataTypeString, Value: object.Value{Type: object.DataTypeString, String: "coap://server:5683"}}, nil
			case SecurityResourceIsBootstrap:
				return object.Resource{ID: resourceID, Type: object.DataTypeBool, Value: object.Value{Type: object.DataTypeBool, Bool: false}}, nil
			default:
				return object.Resource{}, coap.ErrNotFound
			}
		},
	}
	c := New("dev1", []*object.Object{security}, WithTransport(transport), WithLifetime(60))
	if err := c.AddObjectInstance(SecurityObjectID, 0, nil); err != nil {
		t.Fatalf("AddObjectInstance: %s", err)
	}
	return c
}

func TestClientRegisters(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestClient(t, transport)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %s", err)
	}
	if c.State() != StateRegistered {
		t.Fatalf("State() = %s want Registered", c.State())
	}
	if len(c.locationPath) != 2 || c.locationPath[1] != "AAAABBBB" {
		t.Errorf("locationPath = %v want [rd AAAABBBB]", c.locationPath)
	}
}

func TestClientRejectsEmptyNameOnRegister(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestClient(t, transport)
	c.name = ""
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err == nil {
		t.Fatal("expected Start to fail with empty ep")
	}
}

func TestClientReadsResourceViaHandler(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestClient(t, transport)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %s", err)
	}

	// allow Serve goroutine to register the handler
	deadline := time.Now().Add(time.Second)
	for transport.handler == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if transport.handler == nil {
		t.Fatal("transport handler was never registered")
	}

	resp := transport.handler(ctx, "server:5683", &coap.Request{
		Method: coap.MethodGet,
		Path:   "/0/0/0",
	})
	if resp.Code != coap.Content {
		t.Fatalf("Read resource: code = %s want Content", resp.Code)
	}
}

// TestClientStopReleasesInstances confirms teardown frees user state: every
// live instance's Delete capability runs before Stop returns.
func TestClientStopReleasesInstances(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestClient(t, transport)

	var deleted []object.InstanceState
	obj := &object.Object{
		ID:            3303,
		ResourceCount: 1,
		Read: func(inst object.InstanceState, resourceID uint16) (object.Resource, error) {
			return object.IntResource(0, 21), nil
		},
		Delete: func(inst object.InstanceState) error {
			deleted = append(deleted, inst)
			return nil
		},
	}
	c.registry.Register(obj)
	if err := c.AddObjectInstance(3303, 0, "inst0"); err != nil {
		t.Fatalf("AddObjectInstance: %s", err)
	}
	if err := c.AddObjectInstance(3303, 1, "inst1"); err != nil {
		t.Fatalf("AddObjectInstance: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %s", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %s", err)
	}

	if len(deleted) != 2 {
		t.Fatalf("Delete ran for %d instances, want 2", len(deleted))
	}
	if c.registry.HasInstance(3303, 0) || c.registry.HasInstance(3303, 1) {
		t.Error("instances still live after Stop")
	}
}

type secState struct {
	uri       string
	bootstrap bool
	shortID   int64
}

func applySecurityRecords(s *secState, records []tlv.Record) error {
	for _, rec := range records {
		switch rec.ID {
		case SecurityResourceServerURI:
			s.uri = string(rec.Bytes())
		case SecurityResourceIsBootstrap:
			b, err := rec.Bool()
			if err != nil {
				return err
			}
			s.bootstrap = b
		case SecurityResourceShortID:
			n, err := rec.Int()
			if err != nil {
				return err
			}
			s.shortID = n
		}
	}
	return nil
}

// bootstrapSecurityObject is a writable Security Object whose instances a
// bootstrap sequence can delete and re-create.
func bootstrapSecurityObject() *object.Object {
	return &object.Object{
		ID:            SecurityObjectID,
		ResourceCount: 11,
		Create: func(instanceID uint16, payload []byte, cf coap.ContentFormat) (object.InstanceState, error) {
			s := &secState{}
			records, err := tlv.Decode(payload)
			if err != nil {
				return nil, coap.ErrMalformedPayload
			}
			if err := applySecurityRecords(s, records); err != nil {
				return nil, err
			}
			return s, nil
		},
		Read: func(inst object.InstanceState, resourceID uint16) (object.Resource, error) {
			s := inst.(*secState)
			switch resourceID {
			case SecurityResourceServerURI:
				return object.StringResource(resourceID, s.uri), nil
			case SecurityResourceIsBootstrap:
				return object.BoolResource(resourceID, s.bootstrap), nil
			case SecurityResourceShortID:
				return object.IntResource(resourceID, s.shortID), nil
			default:
				return object.Resource{}, coap.ErrNotFound
			}
		},
		WriteTLV: func(inst object.InstanceState, records []tlv.Record) error {
			return applySecurityRecords(inst.(*secState), records)
		},
		Delete: func(inst object.InstanceState) error { return nil },
	}
}

// TestClientBootstrapFlow drives a full bootstrap from the client's side: with
// only a bootstrap Security entry, Start falls through to Bootstrapping;
// the bootstrap server then deletes all, writes a fresh Security instance
// at /0 and finishes, after which the new account is live in the registry.
func TestClientBootstrapFlow(t *testing.T) {
	transport := &fakeTransport{}
	c := New("cli1", []*object.Object{bootstrapSecurityObject()},
		WithTransport(transport),
		WithClientHoldOffTime(10*time.Millisecond),
	)
	if err := c.AddObjectInstance(SecurityObjectID, 0, &secState{uri: "coap://bs:5683", bootstrap: true}); err != nil {
		t.Fatalf("AddObjectInstance: %s", err)
	}
	finished := make(chan struct{}, 1)
	c.AddBootstrapFinishMonitor(func() { finished <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %s", err)
	}
	if c.State() != StateBootstrapping {
		t.Fatalf("State() = %s want Bootstrapping", c.State())
	}

	deadline := time.Now().Add(time.Second)
	for transport.handler == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if transport.handler == nil {
		t.Fatal("transport handler was never registered")
	}

	if resp := transport.handler(ctx, "bs:5683", &coap.Request{Method: coap.MethodDelete, Path: "/"}); resp.Code != coap.Deleted {
		t.Fatalf("bootstrap delete-all: code = %s want Deleted", resp.Code)
	}
	// The bootstrap entry itself must survive the root delete.
	if !c.registry.HasInstance(SecurityObjectID, 0) {
		t.Fatal("bootstrap security instance was deleted by root delete")
	}

	body, err := object.EncodeObjectInstance(1, []object.Resource{
		object.StringResource(SecurityResourceServerURI, "coap://server:5683"),
		object.BoolResource(SecurityResourceIsBootstrap, false),
		object.IntResource(SecurityResourceShortID, 101),
	})
	if err != nil {
		t.Fatalf("EncodeObjectInstance: %s", err)
	}
	write := &coap.Request{Method: coap.MethodPut, Path: "/0", ContentFormat: coap.ContentFormatTLV, Body: body}
	if resp := transport.handler(ctx, "bs:5683", write); resp.Code != coap.Changed {
		t.Fatalf("bootstrap write: code = %s want Changed", resp.Code)
	}
	// Writing the same payload again must land in the same state:
	// bootstrap writes are idempotent.
	if resp := transport.handler(ctx, "bs:5683", write); resp.Code != coap.Changed {
		t.Fatalf("repeated bootstrap write: code = %s want Changed", resp.Code)
	}

	if resp := transport.handler(ctx, "bs:5683", &coap.Request{Method: coap.MethodPost, Path: "/bs"}); resp.Code != coap.Changed {
		t.Fatalf("bootstrap finish: code = %s want Changed", resp.Code)
	}
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("BootstrapFinish monitor never fired")
	}

	if !c.registry.HasInstance(SecurityObjectID, 1) {
		t.Fatal("fresh security instance missing after bootstrap")
	}
	res, err := c.registry.ReadResource(SecurityObjectID, 1, SecurityResourceServerURI)
	if err != nil || res.Value.String != "coap://server:5683" {
		t.Fatalf("provisioned server URI = %+v, %v", res, err)
	}
}

// TestClientObserveAndNotify covers notification sequencing: the subscribe
// ACK carries Observe=1, and every Notify-driven CON after it increments the
// per-token counter, starting at 2.
func TestClientObserveAndNotify(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestClient(t, transport)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %s", err)
	}

	deadline := time.Now().Add(time.Second)
	for transport.handler == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	reg := coap.ObserveRegister
	resp := transport.handler(ctx, "server:5683", &coap.Request{
		Method:  coap.MethodGet,
		Path:    "/0/0/0",
		Observe: &reg,
		Token:   []byte{0x41, 0x42, 0x43, 0x44},
	})
	if resp.Code != coap.Content {
		t.Fatalf("observe ack: code = %s want Content", resp.Code)
	}
	if resp.Observe == nil || *resp.Observe != 1 {
		t.Fatalf("observe ack: Observe = %v want 1", resp.Observe)
	}

	c.Notify(ctx, []coap.Path{coap.ResourcePath(0, 0, 0)})
	c.Notify(ctx, []coap.Path{coap.ResourcePath(0, 0, 0)})

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		transport.mu.Lock()
		n := len(transport.notifies)
		transport.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.notifies) != 2 {
		t.Fatalf("notifies = %d want 2", len(transport.notifies))
	}
	if got := *transport.notifies[0].Observe; got != 2 {
		t.Errorf("first notification Observe = %d want 2", got)
	}
	if got := *transport.notifies[1].Observe; got != 3 {
		t.Errorf("second notification Observe = %d want 3", got)
	}
}

// TestClientSendUpdateAndStopRunThroughEventLoop exercises SendUpdate and
// Stop while the event loop is running, confirming the dispatchRequest
// indirection (goroutine for the blocking Do call, re-entering via enqueue)
// still delivers a result to the synchronous caller.
func TestClientSendUpdateAndStopRunThroughEventLoop(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestClient(t, transport)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %s", err)
	}
	if err := c.SendUpdate(ctx); err != nil {
		t.Fatalf("SendUpdate: %s", err)
	}
	// SendUpdate returns as soon as the request is enqueued; wait for the
	// round trip to settle the state back to Registered.
	deadline := time.Now().Add(time.Second)
	for c.State() != StateRegistered && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if c.State() != StateRegistered {
		t.Fatalf("State() after update = %s want Registered", c.State())
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %s", err)
	}
	if c.State() != StateStopped {
		t.Fatalf("State() after stop = %s want Stopped", c.State())
	}
}

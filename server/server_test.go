package server

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lwm2m-go/engine/coap"
)

type fakeTransport struct {
	mu       sync.Mutex
	handler  coap.Handler
	observed []string
	cancels  []string
	tokenN   int
}

func (f *fakeTransport) Do(ctx context.Context, peer string, req *coap.Request) (*coap.Response, error) {
	return &coap.Response{Code: coap.Changed}, nil
}

func (f *fakeTransport) Observe(ctx context.Context, peer string, req *coap.Request) ([]byte, <-chan *coap.Response, func(), error) {
	f.mu.Lock()
	f.tokenN++
	tok := []byte{byte(f.tokenN)}
	f.observed = append(f.observed, peer+req.Path)
	f.mu.Unlock()
	ch := make(chan *coap.Response)
	cancel := func() {
		f.mu.Lock()
		f.cancels = append(f.cancels, peer+req.Path)
		f.mu.Unlock()
		close(ch)
	}
	return tok, ch, cancel, nil
}

func (f *fakeTransport) Serve(ctx context.Context, handler coap.Handler) error {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) NextToken() []byte { return []byte{0} }

func (f *fakeTransport) Notify(ctx context.Context, peer string, token []byte, resp *coap.Response) error {
	return nil
}

// startServer runs the Server's event loop on its own goroutine. Tests may
// call handleInbound/AddObserver/etc. immediately afterward: those calls
// enqueue onto the (already allocated, buffered) event channel and block
// for a result, so they need no additional synchronization with when the
// loop's select statement actually starts running.
func startServer(t *testing.T, transport coap.Transport) (*Server, func()) {
	t.Helper()
	s := New(transport)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	return s, cancel
}

func registerReq(name string, lifetime int, body string) *coap.Request {
	return &coap.Request{
		Method: coap.MethodPost,
		Path:   "/rd",
		Query:  []string{"ep=" + name, "lt=" + strconv.Itoa(lifetime), "b=U"},
		Body:   []byte(body),
	}
}

func TestServerRegisterAndGetClients(t *testing.T) {
	transport := &fakeTransport{}
	s, cancel := startServer(t, transport)
	defer cancel()

	resp := s.handleInbound(context.Background(), "dev1:5683", registerReq("dev1", 60, "</3>,</3/0>"))
	if resp.Code != coap.Created {
		t.Fatalf("register: code = %s want Created", resp.Code)
	}
	if len(resp.LocationPath) != 2 || resp.LocationPath[0] != "rd" {
		t.Fatalf("register: LocationPath = %v", resp.LocationPath)
	}

	clients := s.GetClients()
	if len(clients) != 1 || clients[0].Name != "dev1" {
		t.Fatalf("GetClients = %v", clients)
	}
	if insts := clients[0].Objects[3]; len(insts) != 1 || insts[0] != 0 {
		t.Errorf("Objects[3] = %v want [0]", insts)
	}
}

func TestServerNameUniquenessEviction(t *testing.T) {
	transport := &fakeTransport{}
	s, cancel := startServer(t, transport)
	defer cancel()

	s.handleInbound(context.Background(), "dev1:5683", registerReq("dup", 60, "</3>"))
	s.handleInbound(context.Background(), "dev1-b:5683", registerReq("dup", 60, "</3>"))

	clients := s.GetClients()
	if len(clients) != 1 {
		t.Fatalf("GetClients = %d entries, want exactly 1 after re-registration", len(clients))
	}
	if clients[0].RemoteAddr != "dev1-b:5683" {
		t.Errorf("surviving client RemoteAddr = %s want dev1-b:5683", clients[0].RemoteAddr)
	}
}

func TestServerOrderingPreservedAfterEviction(t *testing.T) {
	transport := &fakeTransport{}
	s, cancel := startServer(t, transport)
	defer cancel()

	s.handleInbound(context.Background(), "a:1", registerReq("a", 60, "</3>"))
	s.handleInbound(context.Background(), "b:1", registerReq("b", 60, "</3>"))
	s.handleInbound(context.Background(), "c:1", registerReq("c", 60, "</3>"))

	clients := s.GetClients()
	loc := clients[1].LocationPath
	s.handleInbound(context.Background(), "b:1", &coap.Request{Method: coap.MethodDelete, Path: "/rd/" + loc})

	remaining := s.GetClients()
	if len(remaining) != 2 || remaining[0].Name != "a" || remaining[1].Name != "c" {
		t.Fatalf("GetClients after removing b = %v want [a c]", remaining)
	}
}

func TestServerLifetimeEviction(t *testing.T) {
	transport := &fakeTransport{}
	s, cancel := startServer(t, transport)
	defer cancel()

	events := make(chan RegistrationEvent, 4)
	s.AddRegistrationMonitor(func(ev RegistrationEvent, info *ClientInfo) { events <- ev })

	s.handleInbound(context.Background(), "dev1:5683", registerReq("dev1", 1, "</3>"))
	if ev := <-events; ev != EventRegistered {
		t.Fatalf("first event = %s want Registered", ev)
	}

	select {
	case ev := <-events:
		if ev != EventTimeout {
			t.Fatalf("event = %s want Timeout", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for lifetime eviction")
	}

	if clients := s.GetClients(); len(clients) != 0 {
		t.Errorf("GetClients after timeout = %v want empty", clients)
	}
}

func TestServerUpdateKeepsClientAlive(t *testing.T) {
	transport := &fakeTransport{}
	s, cancel := startServer(t, transport)
	defer cancel()

	resp := s.handleInbound(context.Background(), "dev1:5683", registerReq("dev1", 1, "</3>"))
	loc := resp.LocationPath[1]
	// original deadline is ~3s out (lifetime 1s + 2s margin); update at +2s
	// resets it to ~5s out, so surviving past +3.5s proves the update (not
	// just the original margin) is what kept the client alive.
	time.Sleep(2 * time.Second)
	s.handleInbound(context.Background(), "dev1:5683", &coap.Request{Method: coap.MethodPost, Path: "/rd/" + loc})

	time.Sleep(1500 * time.Millisecond)
	if clients := s.GetClients(); len(clients) != 1 {
		t.Fatalf("GetClients after update-refreshed lifetime = %v want 1 entry", clients)
	}
}

func TestServerObserveAddAndDelete(t *testing.T) {
	transport := &fakeTransport{}
	s, cancel := startServer(t, transport)
	defer cancel()

	resp := s.handleInbound(context.Background(), "dev1:5683", registerReq("dev1", 60, "</6>,</6/0>"))
	_ = resp
	client := s.GetClients()[0]
	path := coap.ObjectInstancePath(6, 0)

	done := make(chan int64, 1)
	s.AddObserver(context.Background(), client, path, func(resp *coap.Response) {}, func(id int64, err error) {
		if err != nil {
			t.Errorf("AddObserver failed: %s", err)
		}
		done <- id
	})
	id := <-done
	if id == 0 {
		t.Fatal("AddObserver returned zero handle")
	}

	s.DelObserver(client, path, id)
	// idempotent: deleting again must not panic or error.
	s.DelObserver(client, path, id)

	deadline := time.Now().Add(time.Second)
	for {
		transport.mu.Lock()
		n := len(transport.cancels)
		transport.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("transport never observed the unobserve cancel")
		}
		time.Sleep(time.Millisecond)
	}
}

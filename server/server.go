package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lwm2m-go/engine/coap"
)

// Option configures a Server at construction.
type Option func(*Server)

func WithLogger(l coap.Logger) Option { return func(s *Server) { s.log = l } }

// Server implements the LWM2M Server Engine: a client registry
// keyed by location-path with a secondary unique-by-name invariant, a
// single lifetime timer, and an observer table, all driven through a
// coap.Transport per the engine's single-threaded cooperative model.
type Server struct {
	transport coap.Transport
	log       coap.Logger

	events chan func()
	done   chan struct{}

	mu          sync.Mutex
	clients     map[string]*ClientInfo // location-path -> info
	clientOrder []string                // location-paths in registration order
	byName      map[string]string       // name -> location-path

	observations map[observerKey]*observation

	lifetimeTimer *time.Timer

	registrationMonitors []func(RegistrationEvent, *ClientInfo)
}

// New builds a Server driven by transport. The caller is responsible for
// having configured transport's listening port and security modes (the
// language-neutral API's "new(coap_port, sec_modes…)"), since the Transport
// is this engine's boundary to the underlying CoAP service.
func New(transport coap.Transport, opts ...Option) *Server {
	s := &Server{
		transport:    transport,
		events:       make(chan func(), 64),
		done:         make(chan struct{}),
		clients:      make(map[string]*ClientInfo),
		byName:       make(map[string]string),
		observations: make(map[observerKey]*observation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRegistrationMonitor registers fn to be invoked, fire-and-forget, on
// every registration-state transition. Failures during dispatch are
// not possible here (fn cannot return an error); a panicking monitor is the
// caller's bug, not the engine's.
func (s *Server) AddRegistrationMonitor(fn func(RegistrationEvent, *ClientInfo)) {
	s.registrationMonitors = append(s.registrationMonitors, fn)
}

func (s *Server) dispatchRegistrationEvent(ev RegistrationEvent, info *ClientInfo) {
	for _, fn := range s.registrationMonitors {
		fn(ev, info)
	}
}

// GetClients returns every currently registered client, in registration
// order. Removing one client (eviction or lifetime timeout) never disturbs
// the relative order of the remaining ones.
func (s *Server) GetClients() []*ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ClientInfo, 0, len(s.clientOrder))
	for _, loc := range s.clientOrder {
		out = append(out, s.clients[loc])
	}
	return out
}

// ObservationCount returns the number of observer entries currently in the
// Active or Removed state (an entry is dropped, and no longer counted, once
// the transport confirms its unobserve). Exposed for metrics instrumentation
// that needs a live gauge value without reaching into engine-internal state.
func (s *Server) ObservationCount() int {
	result := make(chan int, 1)
	s.enqueue(func() { result <- len(s.observations) })
	select {
	case n := <-result:
		return n
	case <-s.done:
		return 0
	}
}

func (s *Server) logf(format string, v ...interface{}) {
	if s.log != nil {
		s.log.Printf(format, v...)
	}
}

// Run serves inbound requests and drains the event loop until ctx is done
// or Stop is called. Every operation the Server exposes only ever enqueues
// a closure here, so engine-internal state never needs locking beyond the
// client-registry mutex shared with GetClients' read-mostly access.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.transport.Serve(ctx, s.handleInbound) }()
	for {
		select {
		case fn := <-s.events:
			fn()
		case err := <-serveErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		}
	}
}

// Stop halts the event loop; in-flight management requests may still
// complete (their callbacks are delivered via enqueue, which tolerates the
// loop having already exited by simply never running the closure).
func (s *Server) Stop() {
	close(s.done)
}

func (s *Server) enqueue(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// dispatchRequest performs req against peer on the transport from a
// separate goroutine (the transport may block for its full retransmit
// budget) and delivers the result to done on the Server's own event-loop
// goroutine, so completion callbacks always run on the event-loop thread.
func (s *Server) dispatchRequest(ctx context.Context, peer string, req *coap.Request, done func(*coap.Response, error)) {
	go func() {
		resp, err := s.transport.Do(ctx, peer, req)
		s.enqueue(func() { done(resp, err) })
	}()
}

func (s *Server) handleInbound(ctx context.Context, peer string, req *coap.Request) *coap.Response {
	result := make(chan *coap.Response, 1)
	s.enqueue(func() {
		result <- s.dispatchInbound(ctx, peer, req)
	})
	select {
	case resp := <-result:
		return resp
	case <-s.done:
		return nil
	}
}

// dispatchInbound routes every inbound request to either the registration
// interface ("/rd", "/rd/<location>") the Server Engine itself exposes.
// Any other inbound request is unexpected on a Server's listening socket
// (management requests flow the other direction, client -> its own
// Serve-registered handler) and is rejected.
func (s *Server) dispatchInbound(ctx context.Context, peer string, req *coap.Request) *coap.Response {
	if strings.Trim(req.Path, "/") == "rd" {
		return s.handleRegister(peer, req)
	}
	if loc, ok := locationFromPath(req.Path); ok {
		return s.handleRegistrationUpdate(loc, req)
	}
	return &coap.Response{Code: coap.ErrorToResponseCode(coap.ErrMethodNotAllowed)}
}

package bootstrap

import (
	"context"
	"strings"
	"sync"

	"github.com/lwm2m-go/engine/coap"
)

// Option configures a BootstrapServer at construction.
type Option func(*BootstrapServer)

func WithLogger(l coap.Logger) Option { return func(b *BootstrapServer) { b.log = l } }

// BootstrapServer implements the Bootstrap Server Engine: it
// accepts a Bootstrap-Request from a known client, then drives that
// client's Security/Server Objects via the bootstrap-only write/delete
// surface until SendFinish closes the session. Like the other two
// engines it is single-threaded and cooperative: every public method
// enqueues a closure onto events rather than touching state directly.
type BootstrapServer struct {
	transport     coap.Transport
	log           coap.Logger
	knownClients  map[string]bool
	securityModes []coap.SecurityMode

	events chan func()
	done   chan struct{}

	mu       sync.Mutex
	sessions map[string]*BootstrapClientInfo // name -> info

	requestMonitors []func(*BootstrapClientInfo)
}

// New builds a BootstrapServer driven by transport, accepting
// Bootstrap-Requests only from names present in knownClients. securityModes
// is validated the same way the Server Engine's transport configuration is
// (zero modes, a repeated mode, or an unsupported cipher all fail).
func New(transport coap.Transport, knownClients []string, securityModes []coap.SecurityMode, opts ...Option) (*BootstrapServer, error) {
	if _, err := coap.BuildDTLSConfig(securityModes); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(knownClients))
	for _, ep := range knownClients {
		known[ep] = true
	}
	b := &BootstrapServer{
		transport:     transport,
		knownClients:  known,
		securityModes: securityModes,
		events:        make(chan func(), 64),
		done:          make(chan struct{}),
		sessions:      make(map[string]*BootstrapClientInfo),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// AddRequestMonitor registers fn to be invoked, fire-and-forget, whenever a
// known client's Bootstrap-Request is accepted. A typical monitor sequences
// DeleteObjectInstance("/"), WriteObject(Security), Write(Server), SendFinish.
func (b *BootstrapServer) AddRequestMonitor(fn func(*BootstrapClientInfo)) {
	b.requestMonitors = append(b.requestMonitors, fn)
}

func (b *BootstrapServer) logf(format string, v ...interface{}) {
	if b.log != nil {
		b.log.Printf(format, v...)
	}
}

// Run serves inbound Bootstrap-Requests and drains the event loop until ctx
// is done or Stop is called.
func (b *BootstrapServer) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- b.transport.Serve(ctx, b.handleInbound) }()
	for {
		select {
		case fn := <-b.events:
			fn()
		case err := <-serveErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		}
	}
}

// Stop halts the event loop.
func (b *BootstrapServer) Stop() {
	close(b.done)
}

func (b *BootstrapServer) enqueue(fn func()) {
	select {
	case b.events <- fn:
	case <-b.done:
	}
}

// dispatchRequest performs req against peer from a separate goroutine and
// delivers the result to done on the event-loop goroutine, mirroring the
// Server Engine's management-op dispatch.
func (b *BootstrapServer) dispatchRequest(ctx context.Context, peer string, req *coap.Request, done func(*coap.Response, error)) {
	go func() {
		resp, err := b.transport.Do(ctx, peer, req)
		b.enqueue(func() { done(resp, err) })
	}()
}

func (b *BootstrapServer) handleInbound(ctx context.Context, peer string, req *coap.Request) *coap.Response {
	result := make(chan *coap.Response, 1)
	b.enqueue(func() {
		result <- b.dispatchInbound(peer, req)
	})
	select {
	case resp := <-result:
		return resp
	case <-b.done:
		return nil
	}
}

// dispatchInbound routes every inbound request. Only a Bootstrap-Request
// (POST /bs?ep=) arrives here; management requests the engine itself
// issues flow the other direction, through dispatchRequest.
func (b *BootstrapServer) dispatchInbound(peer string, req *coap.Request) *coap.Response {
	if strings.Trim(req.Path, "/") != "bs" || req.Method != coap.MethodPost {
		return &coap.Response{Code: coap.ErrorToResponseCode(coap.ErrMethodNotAllowed)}
	}
	return b.handleBootstrapRequest(peer, req)
}

// handleBootstrapRequest processes POST /bs?ep=<name>: rejects unknown
// endpoint names outright, else records a fresh session and invokes
// every request monitor.
func (b *BootstrapServer) handleBootstrapRequest(peer string, req *coap.Request) *coap.Response {
	name := queryParam(req.Query, "ep")
	if name == "" || !b.knownClients[name] {
		return &coap.Response{Code: coap.ErrorToResponseCode(coap.ErrInvalidArgument)}
	}

	info := &BootstrapClientInfo{Name: name, RemoteAddr: peer, valid: true}
	b.mu.Lock()
	b.sessions[name] = info
	b.mu.Unlock()

	b.logf("bootstrap: client %s requested bootstrap from %s", name, peer)
	for _, fn := range b.requestMonitors {
		fn(info)
	}
	return &coap.Response{Code: coap.Changed}
}

func queryParam(query []string, key string) string {
	prefix := key + "="
	for _, q := range query {
		if strings.HasPrefix(q, prefix) {
			return q[len(prefix):]
		}
		if q == key {
			return ""
		}
	}
	return ""
}

package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/object"
)

// Standard LWM2M Object ids, per the glossary: the bootstrap-configurable
// Objects every Client carries.
const (
	SecurityObjectID uint16 = 0
	ServerObjectID   uint16 = 1
)

// Security Object resource ids this engine reads to drive the startup
// bootstrap scan (LWM2M Security Object, OMA TS).
const (
	SecurityResourceServerURI   uint16 = 0
	SecurityResourceIsBootstrap uint16 = 1
	SecurityResourceShortID     uint16 = 10
)

// Option configures a Client at construction.
type Option func(*Client)

func WithTransport(t coap.Transport) Option { return func(c *Client) { c.transport = t } }
func WithLogger(l coap.Logger) Option       { return func(c *Client) { c.log = l } }
func WithLifetime(seconds int) Option       { return func(c *Client) { c.lifetimeSec = seconds } }
func WithBinding(mode string) Option        { return func(c *Client) { c.binding = mode } }
func WithSMS(number string) Option          { return func(c *Client) { c.sms = number } }

// WithAltPath sets the alternate objects-path advertised in the
// registration payload's root entry (default "/", which omits the entry).
func WithAltPath(path string) Option { return func(c *Client) { c.altPath = path } }

// WithClientHoldOffTime sets how long the client waits for a
// server-initiated bootstrap before falling back to a client-initiated
// Bootstrap-Request.
func WithClientHoldOffTime(d time.Duration) Option {
	return func(c *Client) { c.clientHoldOff = d }
}

// WithLifetimeMargin sets the heartbeat lead time before the registration
// lifetime expires (default 15s).
func WithLifetimeMargin(d time.Duration) Option {
	return func(c *Client) { c.lifetimeMargin = d }
}

// Client implements the LWM2M Client Engine: registration lifetime,
// update heartbeat, observation notification and the bootstrap flow.
type Client struct {
	name    string
	binding string
	sms     string
	altPath string

	lifetimeSec    int
	lifetimeMargin time.Duration
	clientHoldOff  time.Duration

	transport coap.Transport
	log       coap.Logger
	registry  *object.Registry

	events    chan func()
	done      chan struct{}
	serveOnce sync.Once

	// state holds the lifecycle State as an atomic word: it is read from
	// the dispatch and bootstrap goroutines, and the engine takes no locks.
	state int32

	serverPeer   string
	locationPath []string

	heartbeatTimer *time.Timer

	observeSeq map[string]uint32 // token (string-keyed) -> next Observe sequence
	observeBy  map[string]observedPath

	bootstrapMonitors []func()
}

type observedPath struct {
	peer  string
	token []byte
	path  coap.Path
}

// New constructs a Client for name, registering every Object in objects.
// The caller is expected to include the Security (id 0) and Server (id 1)
// Objects among objects, pre-populated via AddObjectInstance; configuration
// is supplied programmatically, never read from disk by the engine.
func New(name string, objects []*object.Object, opts ...Option) *Client {
	c := &Client{
		name:           name,
		binding:        "U",
		altPath:        "/",
		lifetimeSec:    86400,
		lifetimeMargin: 15 * time.Second,
		clientHoldOff:  10 * time.Second,
		registry:       object.NewRegistry(),
		events:         make(chan func(), 64),
		done:           make(chan struct{}),
		observeSeq:     make(map[string]uint32),
		observeBy:      make(map[string]observedPath),
	}
	for _, obj := range objects {
		c.registry.Register(obj)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddObjectInstance registers instance state under (objectID, instanceID).
func (c *Client) AddObjectInstance(objectID, instanceID uint16, state object.InstanceState) error {
	return c.registry.AddInstance(objectID, instanceID, state)
}

// AddBootstrapFinishMonitor registers fn to be invoked when a bootstrap
// sequence completes.
func (c *Client) AddBootstrapFinishMonitor(fn func()) {
	c.bootstrapMonitors = append(c.bootstrapMonitors, fn)
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *Client) logf(format string, v ...interface{}) {
	if c.log != nil {
		c.log.Printf(format, v...)
	}
}

// Run drains the event loop until ctx is cancelled or Stop is called,
// keeping to the single-threaded cooperative scheduling model: every
// public method below only ever enqueues a closure here rather than
// mutating Client state directly from another goroutine.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *Client) enqueue(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// dispatchRequest performs req against peer from a separate goroutine (the
// transport may block for its full retransmit budget) and delivers the
// result to done back on the event-loop goroutine, the same pattern
// server.Server uses for its own outbound calls: no operation run from
// inside the event loop may block it on a round trip.
func (c *Client) dispatchRequest(ctx context.Context, peer string, req *coap.Request, done func(*coap.Response, error)) {
	go func() {
		resp, err := c.transport.Do(ctx, peer, req)
		c.enqueue(func() { done(resp, err) })
	}()
}

// Start begins the registration/bootstrap procedure: scan the
// Security Object instances, try each non-bootstrap entry in order, and
// fall through to Bootstrapping if every attempt fails and a bootstrap
// entry exists. Start may be called again after a bootstrap sequence
// finishes, to register against the freshly provisioned Server account.
func (c *Client) Start(ctx context.Context) error {
	c.setState(StateRegistering)
	c.serveOnce.Do(func() {
		go c.transport.Serve(ctx, c.handleInbound)
	})

	entries, err := c.registry.ReadObject(SecurityObjectID)
	if err != nil {
		return fmt.Errorf("client %s: scanning security object: %w", c.name, err)
	}

	var bootstrapURI string
	var lastErr error
	for _, entry := range entries {
		uri, isBootstrap := securityEntryURI(entry)
		if isBootstrap {
			bootstrapURI = uri
			continue
		}
		if err := c.registerWith(ctx, uri); err != nil {
			lastErr = err
			continue
		}
		c.setState(StateRegistered)
		c.scheduleHeartbeat(ctx)
		return nil
	}

	if bootstrapURI == "" {
		return fmt.Errorf("client %s: no server account registered: %w", c.name, lastErr)
	}
	c.setState(StateBootstrapping)
	go c.runBootstrapFallback(ctx, bootstrapURI)
	return nil
}

func securityEntryURI(entry object.InstanceResources) (uri string, isBootstrap bool) {
	for _, r := range entry.Resources {
		switch r.ID {
		case SecurityResourceServerURI:
			uri = r.Value.String
		case SecurityResourceIsBootstrap:
			isBootstrap = r.Value.Bool
		}
	}
	return uri, isBootstrap
}

func (c *Client) registerWith(ctx context.Context, peer string) error {
	// An empty endpoint name is rejected on register but accepted on
	// update, which never re-sends ep. A deliberate asymmetry, not an
	// oversight.
	if c.name == "" {
		return fmt.Errorf("client: %w: ep must not be empty to register", coap.ErrInvalidArgument)
	}
	query := []string{
		"ep=" + c.name,
		fmt.Sprintf("lt=%d", c.lifetimeSec),
		"b=" + c.binding,
		"lwm2m=1.0",
	}
	if c.sms != "" {
		query = append(query, "sms="+c.sms)
	}
	req := &coap.Request{
		Method:        coap.MethodPost,
		Path:          "/rd",
		Query:         query,
		ContentFormat: coap.ContentFormatText,
		Body:          []byte(c.registry.LinkFormat(c.altPath)),
	}
	resp, err := c.transport.Do(ctx, peer, req)
	if err != nil {
		return err
	}
	if resp.Code != coap.Created {
		return fmt.Errorf("client %s: registration to %s rejected: %s", c.name, peer, resp.Code)
	}
	c.serverPeer = peer
	c.locationPath = resp.LocationPath
	c.logf("client %s registered with %s, location %v", c.name, peer, c.locationPath)
	return nil
}

func (c *Client) runBootstrapFallback(ctx context.Context, bootstrapURI string) {
	select {
	case <-time.After(c.clientHoldOff):
	case <-ctx.Done():
		return
	case <-c.done:
		return
	}
	c.enqueue(func() {
		if c.State() != StateBootstrapping {
			return // a server-initiated bootstrap already started
		}
		req := &coap.Request{
			Method: coap.MethodPost,
			Path:   "/bs",
			Query:  []string{"ep=" + c.name},
		}
		c.dispatchRequest(ctx, bootstrapURI, req, func(resp *coap.Response, err error) {
			if err != nil || !resp.Code.IsSuccess() {
				c.logf("client %s: client-initiated bootstrap to %s failed: %v", c.name, bootstrapURI, err)
				return
			}
			c.serverPeer = bootstrapURI
		})
	})
}

// scheduleHeartbeat arms the update timer at lifetimeSec - lifetimeMargin.
func (c *Client) scheduleHeartbeat(ctx context.Context) {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
	}
	d := time.Duration(c.lifetimeSec)*time.Second - c.lifetimeMargin
	if d <= 0 {
		d = time.Second
	}
	c.heartbeatTimer = time.AfterFunc(d, func() {
		c.enqueue(func() {
			c.beginUpdate(ctx, nil, func(error) { c.scheduleHeartbeat(ctx) })
		})
	})
}

// SendUpdate sends an update to the stored location-path with the current
// registry state as the announced instance set. It returns as
// soon as the request is enqueued (never blocking the caller, so it may be
// invoked from within a completion callback); a rejected or timed-out
// update is logged, and the heartbeat timer's next firing retries anyway.
func (c *Client) SendUpdate(ctx context.Context) error {
	if s := c.State(); s != StateRegistered && s != StateUpdating {
		return fmt.Errorf("client %s: %w: not registered", c.name, coap.ErrInvalidArgument)
	}
	c.enqueue(func() {
		c.beginUpdate(ctx, []byte(c.registry.LinkFormat(c.altPath)), func(err error) {
			if err != nil {
				c.logf("client %s: update failed: %s", c.name, err)
			}
		})
	})
	return nil
}

// beginUpdate must run on the event-loop goroutine; it dispatches the
// update request asynchronously via dispatchRequest and invokes done (also
// on the event-loop goroutine) once the transport replies.
func (c *Client) beginUpdate(ctx context.Context, body []byte, done func(error)) {
	if c.State() != StateRegistered && c.State() != StateUpdating {
		done(fmt.Errorf("client %s: %w: not registered", c.name, coap.ErrInvalidArgument))
		return
	}
	c.setState(StateUpdating)
	req := &coap.Request{
		Method: coap.MethodPost,
		Path:   "/" + joinPath(c.locationPath),
	}
	if body != nil {
		req.ContentFormat = coap.ContentFormatText
		req.Body = body
	}
	c.dispatchRequest(ctx, c.serverPeer, req, func(resp *coap.Response, err error) {
		c.setState(StateRegistered)
		if err != nil {
			done(err)
			return
		}
		if !resp.Code.IsSuccess() {
			done(fmt.Errorf("client %s: update rejected: %s", c.name, resp.Code))
			return
		}
		done(nil)
	})
}

// Stop deregisters (DELETE on the stored location-path), releases every
// live Object Instance through its Delete capability and halts the
// client's event loop.
func (c *Client) Stop(ctx context.Context) error {
	result := make(chan error, 1)
	c.enqueue(func() {
		if c.heartbeatTimer != nil {
			c.heartbeatTimer.Stop()
		}
		if c.State() == StateRegistered && len(c.locationPath) > 0 {
			req := &coap.Request{Method: coap.MethodDelete, Path: "/" + joinPath(c.locationPath)}
			c.dispatchRequest(ctx, c.serverPeer, req, func(_ *coap.Response, err error) {
				c.teardownInstances()
				c.setState(StateStopped)
				result <- err
			})
			return
		}
		c.teardownInstances()
		c.setState(StateStopped)
		result <- nil
	})
	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(c.done)
	return err
}

// teardownInstances removes every live instance of every Object, invoking
// each owning Object's Delete capability so user state is freed.
func (c *Client) teardownInstances() {
	for _, objID := range c.registry.ObjectIDs() {
		for _, instID := range c.registry.Instances(objID) {
			if err := c.registry.RemoveInstance(objID, instID); err != nil {
				c.logf("client %s: teardown: removing /%d/%d: %s", c.name, objID, instID, err)
			}
		}
	}
}

func joinPath(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

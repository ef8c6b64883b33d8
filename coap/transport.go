package coap

import "context"

// Observe is the CoAP Observe option value: 0 subscribes, 1 unsubscribes,
// and 2..2^24-1 is a notification sequence number (RFC 7641).
type Observe uint32

const (
	ObserveRegister   Observe = 0
	ObserveDeregister Observe = 1
	// ObserveSeqMod is the modulus the notification sequence counter wraps
	// at (a 24-bit counter).
	ObserveSeqMod uint32 = 1 << 24
)

// Method is a CoAP request method.
type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
)

// Request is a transport-agnostic representation of a CoAP request, the
// level at which the three engines talk to a Transport implementation.
type Request struct {
	Method        Method
	Path          string // URI-Path, slash separated, no leading segment folding
	Query         []string
	ContentFormat ContentFormat
	Body          []byte
	// Observe is set (non-nil) on GET requests that should add/remove an
	// observation; ObserveRegister or ObserveDeregister.
	Observe *Observe
	// Token is the CoAP token of an inbound request, as delivered to a
	// Serve handler. An observation is identified by the token of the
	// original GET, so the Client Engine keeps it to address its
	// notifications. Ignored on outbound requests, where the transport
	// allocates tokens itself.
	Token []byte
}

// Response is a transport-agnostic CoAP response.
type Response struct {
	Code          ResponseCode
	ContentFormat ContentFormat
	Body          []byte
	// Observe carries the notification sequence number when this response
	// is itself an observe notification.
	Observe *Observe
	// LocationPath carries the Location-Path option segments of a Created
	// response to a registration POST (e.g. ["rd", "AAAABBBB"]).
	LocationPath []string
}

// Handler processes an inbound CoAP request from a peer and produces a
// Response. Peer identifies the remote endpoint (host:port, typically).
type Handler func(ctx context.Context, peer string, req *Request) *Response

// Transport is the boundary to the lower-level CoAP/DTLS service:
// a lower-level CoAP/DTLS service providing requests, replies, observe
// handling, retransmission and token/message-id allocation. The three
// engines depend only on this interface; UDPTransport is the concrete
// adapter built on go-coap + pion/dtls.
type Transport interface {
	// Do performs req against peer and blocks for a reply, or returns
	// ErrGatewayTimeout if none arrives within the transport's retransmit
	// budget.
	Do(ctx context.Context, peer string, req *Request) (*Response, error)

	// Observe starts an observation of req.Path on peer. It returns the
	// allocated token (unique across this Transport's active
	// observations), a channel of subsequent notifications, and a cancel
	// function that sends Observe=1 and releases the token. The channel
	// is closed once cancel has been called and the transport has
	// confirmed deregistration.
	Observe(ctx context.Context, peer string, req *Request) (token []byte, notifications <-chan *Response, cancel func(), err error)

	// Serve registers handler for inbound requests and blocks until ctx is
	// done or an unrecoverable transport error occurs.
	Serve(ctx context.Context, handler Handler) error

	// NextToken allocates a fresh request token, used by engines that need
	// to correlate requests they initiate (e.g. the Server Engine's
	// management operations) outside of Do/Observe's own bookkeeping.
	NextToken() []byte

	// Notify sends an unsolicited CON response carrying token and resp to
	// peer, reusing the cached connection for peer. It is how the Client
	// Engine pushes Observe notifications outside of the request/response
	// flow Serve's Handler covers.
	Notify(ctx context.Context, peer string, token []byte, resp *Response) error
}

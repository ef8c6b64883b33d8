package coap

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matrix-org/go-coap/v2/message"
	"github.com/matrix-org/go-coap/v2/message/codes"
	"github.com/matrix-org/go-coap/v2/mux"
	coapnet "github.com/matrix-org/go-coap/v2/net"
	"github.com/matrix-org/go-coap/v2/net/blockwise"
	"github.com/matrix-org/go-coap/v2/udp"
	"github.com/matrix-org/go-coap/v2/udp/client"
	udpmessage "github.com/matrix-org/go-coap/v2/udp/message"
	"github.com/matrix-org/go-coap/v2/udp/message/pool"

	coapdtls "github.com/matrix-org/go-coap/v2/dtls"
	piondtls "github.com/pion/dtls/v2"
)

var methodToCode = map[Method]codes.Code{
	MethodGet:    codes.GET,
	MethodPost:   codes.POST,
	MethodPut:    codes.PUT,
	MethodDelete: codes.DELETE,
}

var codeToResponseCode = map[codes.Code]ResponseCode{
	codes.Created:                  Created,
	codes.Deleted:                  Deleted,
	codes.Valid:                    Valid,
	codes.Changed:                  Changed,
	codes.Content:                  Content,
	codes.BadRequest:               BadRequest,
	codes.Unauthorized:             Unauthorized,
	codes.Forbidden:                Forbidden,
	codes.NotFound:                 NotFound,
	codes.MethodNotAllowed:         MethodNotAllowedCode,
	codes.NotAcceptable:            NotAcceptable,
	codes.UnsupportedMediaType:     UnsupportedContentFormat,
	codes.InternalServerError:      InternalServerError,
	codes.NotImplemented:           NotImplementedCode,
	codes.BadGateway:               BadGateway,
	codes.ServiceUnavailable:       ServiceUnavailable,
	codes.GatewayTimeout:           GatewayTimeout,
}

var responseCodeToCode = func() map[ResponseCode]codes.Code {
	out := make(map[ResponseCode]codes.Code, len(codeToResponseCode))
	for k, v := range codeToResponseCode {
		out[v] = k
	}
	return out
}()

// LWM2M 1.0 registered its own Content-Format numbers (text=1541, TLV=1542,
// JSON=1543, opaque=1544) rather than reusing text/plain and octet-stream.
var mediaTypeByFormat = map[ContentFormat]message.MediaType{
	ContentFormatText:   message.MediaType(ContentFormatText),
	ContentFormatTLV:    message.MediaType(ContentFormatTLV),
	ContentFormatJSON:   message.MediaType(ContentFormatJSON),
	ContentFormatOpaque: message.MediaType(ContentFormatOpaque),
}

var formatByMediaType = func() map[message.MediaType]ContentFormat {
	out := make(map[message.MediaType]ContentFormat, len(mediaTypeByFormat))
	for k, v := range mediaTypeByFormat {
		out[v] = k
	}
	return out
}()

type muxResponseWriter struct {
	w *client.ResponseWriter
}

func (w *muxResponseWriter) SetResponse(code codes.Code, contentFormat message.MediaType, d io.ReadSeeker, opts ...message.Option) error {
	return w.w.SetResponse(code, contentFormat, d, opts...)
}

func (w *muxResponseWriter) Client() mux.Client {
	return w.w.ClientConn().Client()
}

// clientConn aliases go-coap's udp/client.ClientConn; DTLS connections are
// the same client type, since go-coap layers the DTLS transport under it.
type clientConn = client.ClientConn

// UDPTransport implements coap.Transport over github.com/matrix-org/go-coap/v2,
// with optional DTLS (PSK or Raw-Public-Key). Connections are cached per
// peer, and on a DTLS listener a handler that runs long gets an early empty
// ACK so the peer stops retransmitting; the plain UDP listener sends no
// early ACK.
type UDPTransport struct {
	dtlsConfig *piondtls.Config // nil => plain UDP (NoSec)
	Log        Logger

	// ListenAddr is the host:port Serve binds to, the "coap_port" of the
	// engine API surface's new(coap_port, sec_modes…) constructors. Empty
	// means ":5684" for DTLS, ":5683" for plain UDP.
	ListenAddr string

	// WaitTimeBeforeACK bounds how long Serve's handler may run on a DTLS
	// listener before an empty ACK is sent back to avoid the peer
	// retransmitting. The plain UDP listener does not use it.
	WaitTimeBeforeACK time.Duration

	mu      sync.Mutex
	conns   map[string]*clientConn
	tokenMu sync.Mutex
	tokenN  uint64
}

// NewUDPTransport builds a transport. If modes is empty the transport
// speaks NoSec plain UDP; otherwise it dials/listens over DTLS configured
// per BuildDTLSConfig.
func NewUDPTransport(modes []SecurityMode) (*UDPTransport, error) {
	t := &UDPTransport{
		conns:             make(map[string]*clientConn),
		WaitTimeBeforeACK: 5 * time.Second,
	}
	if len(modes) == 0 {
		return t, nil
	}
	cfg, err := BuildDTLSConfig(modes)
	if err != nil {
		return nil, err
	}
	t.dtlsConfig = cfg
	return t, nil
}

func (t *UDPTransport) log(format string, v ...interface{}) {
	if t.Log == nil {
		return
	}
	t.Log.Printf(format, v...)
}

func (t *UDPTransport) NextToken() []byte {
	t.tokenMu.Lock()
	defer t.tokenMu.Unlock()
	t.tokenN++
	return []byte(strconv.FormatUint(t.tokenN, 16))
}

func (t *UDPTransport) dial(peer string) (*clientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if co, ok := t.conns[peer]; ok {
		return co, nil
	}
	var co *clientConn
	var err error
	if t.dtlsConfig != nil {
		co, err = coapdtls.Dial(peer, t.dtlsConfig, coapdtls.WithBlockwise(true, blockwise.SZX1024, 2*time.Minute))
	} else {
		co, err = udp.Dial(peer)
	}
	if err != nil {
		return nil, err
	}
	t.conns[peer] = co
	co.AddOnClose(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.conns, peer)
	})
	return co, nil
}

func buildOutboundMessage(ctx context.Context, req *Request) *pool.Message {
	msg := pool.AcquireMessage(ctx)
	msg.SetCode(methodToCode[req.Method])
	msg.SetPath(req.Path)
	for _, q := range req.Query {
		msg.AddQuery(q)
	}
	if req.Body != nil {
		msg.SetContentFormat(mediaTypeByFormat[req.ContentFormat])
		msg.SetBody(byteReader(req.Body))
	}
	if req.Observe != nil {
		msg.SetObserve(uint32(*req.Observe))
	}
	return msg
}

// locationPathSegments collects the repeated Location-Path options of opts.
func locationPathSegments(opts message.Options) []string {
	var out []string
	for _, o := range opts {
		if o.ID == message.LocationPath {
			out = append(out, string(o.Value))
		}
	}
	return out
}

func responseFromMessage(m *pool.Message) (*Response, error) {
	code, ok := codeToResponseCode[m.Code()]
	if !ok {
		return nil, fmt.Errorf("%w: unmapped coap code %v", ErrInternal, m.Code())
	}
	resp := &Response{Code: code}
	if body := m.Body(); body != nil {
		b := make([]byte, 0, 256)
		buf := make([]byte, 256)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				b = append(b, buf[:n]...)
			}
			if err != nil {
				break
			}
		}
		resp.Body = b
	}
	if cf, err := m.ContentFormat(); err == nil {
		resp.ContentFormat = formatByMediaType[cf]
	}
	if obs, err := m.Options().Observe(); err == nil {
		o := Observe(obs)
		resp.Observe = &o
	}
	resp.LocationPath = locationPathSegments(m.Options())
	return resp, nil
}

// Do implements Transport.
func (t *UDPTransport) Do(ctx context.Context, peer string, req *Request) (*Response, error) {
	co, err := t.dial(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %s", ErrGatewayTimeout, peer, err)
	}
	msg := buildOutboundMessage(ctx, req)
	defer pool.ReleaseMessage(msg)
	reply, err := co.Do(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayTimeout, err)
	}
	defer pool.ReleaseMessage(reply)
	return responseFromMessage(reply)
}

// Observe implements Transport.
func (t *UDPTransport) Observe(ctx context.Context, peer string, req *Request) ([]byte, <-chan *Response, func(), error) {
	co, err := t.dial(peer)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: dialing %s: %s", ErrGatewayTimeout, peer, err)
	}
	ch := make(chan *Response, 16)
	var opts []message.Option
	for _, q := range req.Query {
		opts = append(opts, message.Option{ID: message.URIQuery, Value: []byte(q)})
	}
	obs, err := co.Observe(ctx, req.Path, func(m *pool.Message) {
		resp, err := responseFromMessage(m)
		if err != nil {
			t.log("observe: failed to convert notification: %s", err)
			return
		}
		ch <- resp
	}, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: observe %s: %s", ErrGatewayTimeout, req.Path, err)
	}
	token := t.NextToken()
	cancel := func() {
		_ = obs.Cancel(ctx)
		close(ch)
	}
	return token, ch, cancel, nil
}

// Notify implements Transport. It reuses the cached connection for peer
// (dialling if necessary, e.g. when this engine instance only ever acted as
// a CoAP server on that connection so far) and writes an unsolicited
// message carrying token and the Observe sequence.
func (t *UDPTransport) Notify(ctx context.Context, peer string, token []byte, resp *Response) error {
	co, err := t.dial(peer)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %s", ErrGatewayTimeout, peer, err)
	}
	msg := pool.AcquireMessage(ctx)
	defer pool.ReleaseMessage(msg)
	msg.SetCode(responseCodeToCode[resp.Code])
	msg.SetToken(token)
	msg.SetContentFormat(mediaTypeByFormat[resp.ContentFormat])
	msg.SetBody(byteReader(resp.Body))
	if resp.Observe != nil {
		msg.SetObserve(uint32(*resp.Observe))
	}
	// WriteMessage over a UDP client always sets the confirmable flag;
	// notifications go out as CON messages.
	return co.Session().WriteMessage(msg)
}

// Serve implements Transport.
func (t *UDPTransport) Serve(ctx context.Context, handler Handler) error {
	router := mux.NewRouter()
	router.DefaultHandle(mux.HandlerFunc(func(w mux.ResponseWriter, r *mux.Message) {
		path, err := r.Options.Path()
		if err != nil {
			return
		}
		req := &Request{Path: path, Token: r.Token}
		for code, m := range methodToCode {
			if m == r.Code {
				req.Method = code
			}
		}
		for _, o := range r.Options {
			if o.ID == message.URIQuery {
				req.Query = append(req.Query, string(o.Value))
			}
		}
		if obs, err := r.Options.Observe(); err == nil {
			o := Observe(obs)
			req.Observe = &o
		}
		if body := r.Body; body != nil {
			b := make([]byte, 0, 256)
			buf := make([]byte, 256)
			for {
				n, err := body.Read(buf)
				if n > 0 {
					b = append(b, buf[:n]...)
				}
				if err != nil {
					break
				}
			}
			req.Body = b
		}
		resp := handler(r.Context, w.Client().RemoteAddr().String(), req)
		if resp == nil {
			return
		}
		var opts message.Options
		if resp.Observe != nil {
			var buf []byte
			var n int
			var err error
			opts, n, err = opts.SetObserve(buf, uint32(*resp.Observe))
			if err == message.ErrTooSmall {
				buf = append(buf, make([]byte, n)...)
				opts, _, err = opts.SetObserve(buf, uint32(*resp.Observe))
			}
			if err != nil {
				t.log("serve: cannot set observe option: %s", err)
			}
		}
		for _, seg := range resp.LocationPath {
			opts = append(opts, message.Option{ID: message.LocationPath, Value: []byte(seg)})
		}
		if err := w.SetResponse(responseCodeToCode[resp.Code], mediaTypeByFormat[resp.ContentFormat], byteReader(resp.Body), opts...); err != nil {
			t.log("serve: cannot set response: %s", err)
		}
	}))

	if t.dtlsConfig != nil {
		addr := t.ListenAddr
		if addr == "" {
			addr = ":5684"
		}
		listener, err := coapnet.NewDTLSListener("udp", addr, t.dtlsConfig)
		if err != nil {
			return err
		}
		defer listener.Close()
		server := coapdtls.NewServer(
			coapdtls.WithHandlerFunc(func(w *client.ResponseWriter, r *pool.Message) {
				muxw := &muxResponseWriter{w: w}
				muxr, err := pool.ConvertTo(r)
				if err != nil {
					return
				}
				// If the handler is still running when WaitTimeBeforeACK
				// elapses, send an empty ACK so the peer stops
				// retransmitting while we finish.
				var processed int32
				timer := time.AfterFunc(t.WaitTimeBeforeACK, func() {
					if atomic.LoadInt32(&processed) == 0 {
						ackMsg := pool.AcquireMessage(context.Background())
						ackMsg.SetCode(codes.Empty)
						ackMsg.SetType(udpmessage.Acknowledgement)
						ackMsg.SetMessageID(r.MessageID())
						if ackErr := w.ClientConn().Session().WriteMessage(ackMsg); ackErr != nil {
							t.log("serve: failed to send early ACK: %s", ackErr)
						}
					}
				})
				router.ServeCOAP(muxw, &mux.Message{
					Message:        muxr,
					SequenceNumber: r.Sequence(),
					IsConfirmable:  r.Type() == udpmessage.Confirmable,
				})
				atomic.StoreInt32(&processed, 1)
				timer.Stop()
			}),
			coapdtls.WithBlockwise(true, blockwise.SZX1024, 2*time.Minute),
		)
		go func() {
			<-ctx.Done()
			listener.Close()
		}()
		return server.Serve(listener)
	}

	addr := t.ListenAddr
	if addr == "" {
		addr = ":5683"
	}
	listener, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return err
	}
	defer listener.Close()
	server := udp.NewServer(udp.WithMux(router))
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	return server.Serve(listener)
}

// Package bootstrap implements the LWM2M Bootstrap Server Engine:
// accepting a client's Bootstrap-Request, writing/deleting Object Instances
// on its bootstrap interface, and signalling Bootstrap-Finish.
package bootstrap

// BootstrapClientInfo is the Bootstrap Server's record of one client
// currently in a bootstrap session: name plus remote address, with a
// lifetime bounded by that single session. SendFinish invalidates the
// handle immediately; every op on an invalidated handle fails with
// coap.ErrInvalidArgument.
type BootstrapClientInfo struct {
	Name       string
	RemoteAddr string

	valid bool
}

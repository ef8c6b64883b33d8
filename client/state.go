// Package client implements the LWM2M Client Engine: registration,
// update/heartbeat, deregistration, notification and the client-side
// bootstrap flow, driven entirely through a coap.Transport.
package client

import "fmt"

// State is the client lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRegistering
	StateRegistered
	StateUpdating
	StateBootstrapping
	StateBootstrapFinished
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateRegistering:
		return "Registering"
	case StateRegistered:
		return "Registered"
	case StateUpdating:
		return "Updating"
	case StateBootstrapping:
		return "Bootstrapping"
	case StateBootstrapFinished:
		return "BootstrapFinished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Package server implements the LWM2M Server Engine: the client
// registry with lifetime eviction, management operations dispatched to
// registered Clients, and observer tracking/notification delivery.
package server

import "fmt"

// RegistrationEvent is dispatched to registration monitors as a client's
// server-side registration state changes: Unknown, then Registered, then
// any number of Updated, ending in Unregistered or Timeout.
type RegistrationEvent int

const (
	EventRegistered RegistrationEvent = iota
	EventUpdated
	EventUnregistered
	EventTimeout
)

func (e RegistrationEvent) String() string {
	switch e {
	case EventRegistered:
		return "Registered"
	case EventUpdated:
		return "Updated"
	case EventUnregistered:
		return "Unregistered"
	case EventTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("RegistrationEvent(%d)", int(e))
	}
}

// ObservationState is the Active → Removed → Dropped state machine:
// a user removing the last callback moves an entry to Removed, and the
// transport confirming unobservation (or reporting an error) moves it to
// Dropped.
type ObservationState int

const (
	ObservationActive ObservationState = iota
	ObservationRemoved
	ObservationDropped
)

func (s ObservationState) String() string {
	switch s {
	case ObservationActive:
		return "Active"
	case ObservationRemoved:
		return "Removed"
	case ObservationDropped:
		return "Dropped"
	default:
		return fmt.Sprintf("ObservationState(%d)", int(s))
	}
}

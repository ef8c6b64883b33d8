package server

import (
	"context"
	"fmt"

	"github.com/lwm2m-go/engine/coap"
)

// observerKey identifies one observation entry: a client and a path; the
// token and callback set live on the observation itself.
type observerKey struct {
	location string
	path     coap.Path
}

// observation is one Observer entry, tracking the Active -> Removed ->
// Dropped state machine and the set of callbacks currently
// attached to it.
type observation struct {
	state  ObservationState
	client *ClientInfo
	path   coap.Path
	token  []byte
	cancel func()

	callbacks map[int64]NotificationCallback
	nextCBID  int64
}

// NotificationCallback receives one observe notification's response.
type NotificationCallback func(resp *coap.Response)

// AddObserver attaches cb to the observer entry for (client, path),
// allocating a fresh token and sending GET Observe=0 via the transport if
// no entry exists yet; subsequent callers on the same (client, path) share
// the existing entry and token. Like every other operation the engine
// exposes, AddObserver returns immediately; done is invoked exactly once,
// on the event loop, with the handle to pass to DelObserver (or an error).
// Because done is itself delivered via the event loop rather than blocking
// the caller, AddObserver may be called reentrantly from within another
// completion callback.
func (s *Server) AddObserver(ctx context.Context, client *ClientInfo, path coap.Path, cb NotificationCallback, done func(id int64, err error)) {
	s.enqueue(func() {
		key := observerKey{client.LocationPath, path}
		if obs, ok := s.observations[key]; ok && obs.state == ObservationActive {
			obs.nextCBID++
			id := obs.nextCBID
			obs.callbacks[id] = cb
			if done != nil {
				done(id, nil)
			}
			return
		}

		// The entry goes into the table before the subscribe round-trips,
		// so a second AddObserver on the same (client, path) attaches to it
		// instead of sending a duplicate GET. token and cancel are filled
		// in once the transport confirms.
		obs := &observation{
			state:     ObservationActive,
			client:    client,
			path:      path,
			callbacks: map[int64]NotificationCallback{1: cb},
			nextCBID:  1,
		}
		s.observations[key] = obs

		req := &coap.Request{Method: coap.MethodGet, Path: path.String()}
		reg := coap.ObserveRegister
		req.Observe = &reg

		go func() {
			token, notifications, cancel, err := s.transport.Observe(ctx, client.RemoteAddr, req)
			s.enqueue(func() {
				if cur, ok := s.observations[key]; !ok || cur != obs {
					// Evicted while the subscribe was in flight.
					if err == nil {
						cancel()
					}
					if done != nil {
						done(0, fmt.Errorf("server: observing %s on %s: %w", path, client.Name, coap.ErrNotFound))
					}
					return
				}
				if err != nil {
					obs.state = ObservationDropped
					delete(s.observations, key)
					if done != nil {
						done(0, fmt.Errorf("server: observing %s on %s: %w", path, client.Name, err))
					}
					return
				}
				obs.token = token
				obs.cancel = cancel
				go s.pumpNotifications(key, notifications)
				if obs.state == ObservationRemoved || len(obs.callbacks) == 0 {
					// The last callback was removed while the subscribe was
					// in flight; unobserve straight away.
					obs.state = ObservationRemoved
					cancel()
				}
				if done != nil {
					done(1, nil)
				}
			})
		}()
	})
}

// pumpNotifications runs on its own goroutine reading the transport's
// notification channel for one observation and re-enters the event loop to
// dispatch each one, until the channel closes (the transport has confirmed
// unobservation), at which point the entry finalizes to Dropped.
func (s *Server) pumpNotifications(key observerKey, notifications <-chan *coap.Response) {
	for resp := range notifications {
		r := resp
		s.enqueue(func() {
			obs, ok := s.observations[key]
			if !ok {
				return
			}
			for _, cb := range obs.callbacks {
				cb(r)
			}
		})
	}
	s.enqueue(func() {
		if obs, ok := s.observations[key]; ok {
			obs.state = ObservationDropped
			delete(s.observations, key)
		}
	})
}

// DelObserver removes one callback from the observer entry for (client,
// path). Deletion is idempotent: removing an already-removed or unknown
// handle is a no-op. When the last callback is removed the entry moves to
// Removed and the transport is asked to unobserve (GET Observe=1); the
// entry is only freed once pumpNotifications observes the channel close.
func (s *Server) DelObserver(client *ClientInfo, path coap.Path, id int64) {
	s.enqueue(func() {
		key := observerKey{client.LocationPath, path}
		obs, ok := s.observations[key]
		if !ok {
			return
		}
		delete(obs.callbacks, id)
		if len(obs.callbacks) == 0 && obs.state == ObservationActive {
			obs.state = ObservationRemoved
			if obs.cancel != nil {
				obs.cancel()
			}
		}
	})
}

// cancelObservationsFor marks every observation belonging to location as
// Removed and triggers its unobserve, used when a client is evicted or
// times out and its observers must be unsubscribed.
func (s *Server) cancelObservationsFor(location string) {
	s.enqueue(func() {
		for key, obs := range s.observations {
			if key.location != location {
				continue
			}
			if obs.state == ObservationActive {
				obs.state = ObservationRemoved
				if obs.cancel != nil {
					obs.cancel()
				}
			}
		}
	})
}

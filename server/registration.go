package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lwm2m-go/engine/coap"
)

// locationFromPath recognises the "/rd/<opaque>" form a registered client's
// update/deregister requests target, returning the opaque location token.
func locationFromPath(path string) (string, bool) {
	trimmed := strings.Trim(path, "/")
	segs := strings.Split(trimmed, "/")
	if len(segs) != 2 || segs[0] != "rd" || segs[1] == "" {
		return "", false
	}
	return segs[1], true
}

// newLocation allocates a fresh 32-character collision-resistant location
// token: a UUIDv4 with its hyphens stripped, which is exactly 32 hex
// characters.
func newLocation() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// handleRegister processes a POST /rd: parse ep/lt/b/sms query parameters
// and the link-format body, allocate a location, evict any existing
// registration under the same name first, append the new entry and
// reschedule the lifetime timer.
func (s *Server) handleRegister(peer string, req *coap.Request) *coap.Response {
	params := parseQuery(req.Query)
	name := params["ep"]
	if name == "" {
		return &coap.Response{Code: coap.ErrorToResponseCode(coap.ErrInvalidArgument)}
	}
	lifetime := 86400
	if lt, ok := params["lt"]; ok {
		if n, err := strconv.Atoi(lt); err == nil {
			lifetime = n
		}
	}

	info := &ClientInfo{
		Name:         name,
		LocationPath: newLocation(),
		RemoteAddr:   peer,
		SMS:          params["sms"],
		Lifetime:     lifetime,
		Binding:      params["b"],
		Objects:      parseObjectsLinkFormat(string(req.Body)),
		registeredAt: time.Now(),
	}

	s.mu.Lock()
	prevLoc, hadPrev := s.byName[name]
	if hadPrev {
		s.removeClientLocked(prevLoc)
	}
	s.clients[info.LocationPath] = info
	s.clientOrder = append(s.clientOrder, info.LocationPath)
	s.byName[name] = info.LocationPath
	s.mu.Unlock()

	// Evicting a conflicting prior registration unsubscribes its observers
	// first and dispatches no registration event for it: the evicted entry
	// must receive no callback dispatches after the second registration.
	if hadPrev {
		s.cancelObservationsFor(prevLoc)
	}

	s.rescheduleLifetimeTimer()
	s.dispatchRegistrationEvent(EventRegistered, info)
	s.logf("server: client %s registered from %s, location /rd/%s", name, peer, info.LocationPath)

	return &coap.Response{Code: coap.Created, LocationPath: []string{"rd", info.LocationPath}}
}

// handleRegistrationUpdate processes PUT/POST (update) or DELETE
// (deregister) against "/rd/<location>".
func (s *Server) handleRegistrationUpdate(location string, req *coap.Request) *coap.Response {
	s.mu.Lock()
	info, ok := s.clients[location]
	s.mu.Unlock()
	if !ok {
		return &coap.Response{Code: coap.ErrorToResponseCode(coap.ErrNotFound)}
	}

	switch req.Method {
	case coap.MethodPut, coap.MethodPost:
		params := parseQuery(req.Query)
		// An empty ep is accepted on update, unlike register: updates
		// target an already-known entry by location path, not by name.
		s.mu.Lock()
		if lt, ok := params["lt"]; ok {
			if n, err := strconv.Atoi(lt); err == nil {
				info.Lifetime = n
			}
		}
		if len(req.Body) > 0 {
			info.Objects = parseObjectsLinkFormat(string(req.Body))
		}
		info.registeredAt = time.Now()
		s.mu.Unlock()
		s.rescheduleLifetimeTimer()
		s.dispatchRegistrationEvent(EventUpdated, info)
		return &coap.Response{Code: coap.Changed}
	case coap.MethodDelete:
		s.mu.Lock()
		s.removeClientLocked(location)
		s.mu.Unlock()
		s.cancelObservationsFor(location)
		s.rescheduleLifetimeTimer()
		s.dispatchRegistrationEvent(EventUnregistered, info)
		return &coap.Response{Code: coap.Deleted}
	default:
		return &coap.Response{Code: coap.ErrorToResponseCode(coap.ErrMethodNotAllowed)}
	}
}

// removeClientLocked deletes location from every registry index, preserving
// the relative order of the remaining clients. Callers must hold s.mu.
func (s *Server) removeClientLocked(location string) {
	info, ok := s.clients[location]
	if !ok {
		return
	}
	delete(s.clients, location)
	if s.byName[info.Name] == location {
		delete(s.byName, info.Name)
	}
	for i, loc := range s.clientOrder {
		if loc == location {
			s.clientOrder = append(s.clientOrder[:i], s.clientOrder[i+1:]...)
			break
		}
	}
}

func parseQuery(query []string) map[string]string {
	out := make(map[string]string, len(query))
	for _, q := range query {
		kv := strings.SplitN(q, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		} else {
			out[kv[0]] = ""
		}
	}
	return out
}

// parseObjectsLinkFormat parses a registration/update body's CoRE
// link-format entries into the object-id -> instance-ids index of the
// client record, ignoring the optional root rt="oma.lwm2m" entry.
func parseObjectsLinkFormat(body string) map[uint16][]uint16 {
	out := make(map[uint16][]uint16)
	for _, entry := range coap.ParseLinkFormat(body) {
		path, err := coap.ParsePath(entry.Path)
		if err != nil {
			continue
		}
		switch path.Shape() {
		case coap.ShapeObject:
			if _, ok := out[path.Object]; !ok {
				out[path.Object] = nil
			}
		case coap.ShapeObjectInstance:
			out[path.Object] = append(out[path.Object], path.Instance)
		}
	}
	return out
}

package server

import "time"

// rescheduleLifetimeTimer recomputes the single lifetime timer to fire at
// the earliest registered client's deadline: one timer for the
// whole registry rather than one per client, so near-simultaneous deadlines
// are handled in a single pass.
func (s *Server) rescheduleLifetimeTimer() {
	if s.lifetimeTimer != nil {
		s.lifetimeTimer.Stop()
		s.lifetimeTimer = nil
	}

	s.mu.Lock()
	var earliest time.Time
	for _, c := range s.clients {
		d := c.deadline()
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	s.mu.Unlock()

	if earliest.IsZero() {
		return
	}
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	s.lifetimeTimer = time.AfterFunc(d, func() {
		s.enqueue(s.checkLifetimes)
	})
}

// checkLifetimes evicts every client whose deadline has in fact passed
// (guarding against the timer firing slightly early for some entries when
// several deadlines cluster together) and dispatches Timeout for each, then
// reschedules for the next earliest remaining deadline.
func (s *Server) checkLifetimes() {
	now := time.Now()

	s.mu.Lock()
	var expired []*ClientInfo
	for _, loc := range s.clientOrder {
		c := s.clients[loc]
		if !now.Before(c.deadline()) {
			expired = append(expired, c)
		}
	}
	for _, c := range expired {
		s.removeClientLocked(c.LocationPath)
	}
	s.mu.Unlock()

	for _, c := range expired {
		s.cancelObservationsFor(c.LocationPath)
		s.dispatchRegistrationEvent(EventTimeout, c)
		s.logf("server: client %s timed out (lifetime %ds)", c.Name, c.Lifetime)
	}

	s.rescheduleLifetimeTimer()
}

package sched

// maxWaitChain bounds the walk in waitsOn; longer chains are not reported.
const maxWaitChain = 64

// enterWait registers the calling goroutine as blocked on h, or fails with
// ErrDeadlock when h can only resolve after the caller itself moves on.
// Registration and the check happen under one lock, so of two goroutines
// that start waiting on each other the second one always sees the first.
func (s *Scheduler) enterWait(h *Handle) (func(), error) {
	g := goroutineID()
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	if s.waitsOn(g, h) {
		return nil, ErrDeadlock
	}
	s.waiting[g] = h
	return func() {
		s.waitMu.Lock()
		delete(s.waiting, g)
		s.waitMu.Unlock()
	}, nil
}

// waitsOn follows h to the goroutine that has to run it next (its runner,
// or the authoritative goroutine for queued AuthoritativeOnly work), then to
// whatever that goroutine is awaiting, and so on. Caller holds waitMu.
func (s *Scheduler) waitsOn(g uint64, h *Handle) bool {
	for i := 0; h != nil && i < maxWaitChain; i++ {
		var next uint64
		switch h.state.Load() {
		case stateFinished:
			return false
		case stateRunning:
			next = h.runner.Load()
		default:
			if h.kind != AuthoritativeOnly {
				return false
			}
			next = s.authID.Load()
		}
		if next == 0 {
			return false
		}
		if next == g {
			return true
		}
		h = s.waiting[next]
	}
	return false
}

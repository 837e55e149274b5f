// Package cmn holds identifiers, error taxonomy, and small concurrency
// primitives shared across the timeline sync core.
package cmn

import "sync"

// StopCh is a broadcast close-once channel. syncqueue.Queue uses it as
// its stop signal; the sync engine and the WAL receiver are cancelled
// through context.Context instead.
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func NewStopCh() StopCh {
	return StopCh{ch: make(chan struct{})}
}

// Listen returns the channel to select on; it closes exactly once.
func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() {
	s.once.Do(func() { close(s.ch) })
}

func (s *StopCh) Stopped() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

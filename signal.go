package raft

import "sync"

// signal is a broadcast-only wakeup primitive: wait() returns a channel
// that closes the next time broadcast() is called. It plays the role the
// spec's condition variables play for the election timer, the no-op
// issuer and the peer replication threads, expressed as plain channels so
// each can be combined with time.After/context.Done() in a single select.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// wait returns the channel to select on. It must be re-fetched after each
// wakeup: the channel returned is single-use, closed exactly once.
func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// broadcast wakes every goroutine currently selecting on wait().
func (s *signal) broadcast() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

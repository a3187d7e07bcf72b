package orchestrator

import (
	"context"
	"io"
	"sync"
)

// Stream bridges the engine's push-style callbacks into a pull-based event
// sequence. Internally it is a FIFO of undelivered events plus at most one
// parked waiter; publishing appends before checking the waiter, so the
// producer never blocks and a waiter can never miss an event. The sequence is
// finite, forward-only, and not restartable: it ends with io.EOF only after
// the run has settled and every buffered event was delivered.
type Stream struct {
	nextMu sync.Mutex // serializes Next callers, keeping at most one waiter

	mu      sync.Mutex
	events  []Event
	wake    chan struct{}
	settled bool
}

func newStream() *Stream { return &Stream{} }

// Next returns the next event in append order. It blocks while the run is
// live and the buffer is empty, and returns io.EOF once the run has settled
// and the buffer is drained. ctx aborts only this wait; the background run
// continues and its events remain consumable.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()

	for {
		s.mu.Lock()
		if len(s.events) > 0 {
			event := s.events[0]
			s.events = s.events[1:]
			s.mu.Unlock()
			return event, nil
		}
		if s.settled {
			s.mu.Unlock()
			return nil, io.EOF
		}
		wake := make(chan struct{})
		s.wake = wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			s.mu.Lock()
			if s.wake == wake {
				s.wake = nil
			}
			s.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// publish appends one event and wakes the parked waiter, if any.
func (s *Stream) publish(event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	wake := s.wake
	s.wake = nil
	s.mu.Unlock()

	if wake != nil {
		close(wake)
	}
}

// settle marks the background run finished. Buffered events stay consumable;
// only a drained, settled stream reports io.EOF.
func (s *Stream) settle() {
	s.mu.Lock()
	s.settled = true
	wake := s.wake
	s.wake = nil
	s.mu.Unlock()

	if wake != nil {
		close(wake)
	}
}

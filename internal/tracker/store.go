package tracker

import (
	"sync"
	"sync/atomic"
)

// Store holds the current snapshot and the subscriber list.
//
// Current never blocks. Only the Coordinator publishes; subscribers are
// called synchronously, in registration order, once per published
// snapshot, so they observe snapshots in sequence order. Callbacks must
// not block for long: the next cycle cannot start until they return.
type Store struct {
	current atomic.Pointer[Snapshot]

	mu     sync.Mutex
	subs   map[uint64]func(*Snapshot)
	order  []uint64
	nextID uint64

	logger Logger
}

// NewStore returns a store holding the initial empty snapshot.
func NewStore() *Store {
	s := &Store{
		subs:   make(map[uint64]func(*Snapshot)),
		logger: noopLogger{},
	}
	s.current.Store(emptySnapshot())
	return s
}

// SetLogger sets the logger used to report subscriber panics.
func (s *Store) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// Current returns the latest committed snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Subscribe registers fn to be called with every published snapshot. The
// returned function removes the subscription; calling it more than once is
// harmless.
func (s *Store) Subscribe(fn func(*Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; !ok {
			return
		}
		delete(s.subs, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// publish commits snap and notifies subscribers.
func (s *Store) publish(snap *Snapshot) {
	s.current.Store(snap)

	s.mu.Lock()
	fns := make([]func(*Snapshot), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	logger := s.logger
	s.mu.Unlock()

	for _, fn := range fns {
		notify(fn, snap, logger)
	}
}

func notify(fn func(*Snapshot), snap *Snapshot, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("snapshot subscriber panicked", "seq", snap.Seq(), "panic", r)
		}
	}()
	fn(snap)
}

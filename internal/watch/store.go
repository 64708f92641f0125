package watch

import "sync"

// Versioned is a value stamped with the version that produced it.
type Versioned[T any] struct {
	Version uint64
	Value   T
}

// Store holds a single value with one writer and any number of watchers.
// Watchers always end up with the newest version; intermediate versions may
// be skipped when a watcher lags.
type Store[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	subs    map[chan Versioned[T]]struct{}
}

func NewStore[T any](initial T) *Store[T] {
	return &Store[T]{
		value: initial,
		subs:  make(map[chan Versioned[T]]struct{}),
	}
}

// Set replaces the value, bumps the version and notifies watchers.
func (s *Store[T]) Set(v T) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.version++
	update := Versioned[T]{Version: s.version, Value: v}
	for ch := range s.subs {
		offer(ch, update)
	}
	return s.version
}

func (s *Store[T]) Get() (T, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.version
}

// Subscribe returns a channel primed with the current value and a cancel
// func that closes it.
func (s *Store[T]) Subscribe() (<-chan Versioned[T], func()) {
	ch := make(chan Versioned[T], 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- Versioned[T]{Version: s.version, Value: s.value}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// offer replaces a stale pending update with the new one.
func offer[T any](ch chan Versioned[T], v Versioned[T]) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

package transport

import "sync"

// Fanout delivers events to subscribers through unbounded per-subscriber
// queues, so a slow consumer never blocks the producer and order is kept.
type Fanout struct {
	mu     sync.Mutex
	subs   map[*queue]struct{}
	closed bool
}

func NewFanout() *Fanout {
	return &Fanout{subs: make(map[*queue]struct{})}
}

func (f *Fanout) Subscribe() (<-chan Event, func()) {
	q := newQueue()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		q.close()
		return q.out, func() {}
	}
	f.subs[q] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, q)
		f.mu.Unlock()
		q.cancel()
	}
	return q.out, cancel
}

func (f *Fanout) Emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for q := range f.subs {
		q.push(ev)
	}
}

// Close emits last to every subscriber, then ends their channels once
// drained.
func (f *Fanout) Close(last Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for q := range f.subs {
		if last != nil {
			q.push(last)
		}
		q.close()
	}
	clear(f.subs)
}

type queue struct {
	mu      sync.Mutex
	items   []Event
	closing bool
	wake    chan struct{}
	done    chan struct{}
	stop    sync.Once
	out     chan Event
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Event),
	}
	go q.pump()
	return q
}

func (q *queue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
}

// close lets the pump drain what is queued, then closes out.
func (q *queue) close() {
	q.mu.Lock()
	q.closing = true
	q.mu.Unlock()
	q.signal()
}

// cancel stops the pump without draining. Safe to call after close.
func (q *queue) cancel() {
	q.stop.Do(func() { close(q.done) })
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closing := q.closing
			q.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		ev := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}

// Package ringchan provides a bounded drop-oldest channel used to fan
// snapshots and notifications out to observers that may lag behind the
// state machine publishing to them.
package ringchan

import "sync/atomic"

// Ring is a bounded channel with drop-oldest overflow semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded to make room. An observer that falls behind therefore sees a
// gap in the feed, never a stall in the publisher.
//
// # Example
//
//	r := ringchan.New[int](3)
//
//	// Publisher: always succeeds, drops oldest when full.
//	for i := 0; i < 10; i++ {
//	    r.Send(i)
//	}
//
//	// Observer: acts like a normal Go channel.
//	for v := range r.C() {
//	    fmt.Println("got:", v)
//	}
//
// Only the last three values survive in the example above; the earlier
// ones were dropped to keep the publisher moving.
type Ring[T any] struct {
	ch       chan T
	sent     atomic.Int64
	dropped  atomic.Int64
	received atomic.Int64
}

// Stats is a snapshot of ring counters. Received counts reads made through
// Receive and TryReceive only; reads through C bypass counting.
type Stats struct {
	Sent     int64
	Dropped  int64
	Received int64
}

// New creates a Ring with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side of the ring. Consumers can range over it
// until the ring is closed. Reads via C are not reflected in Stats.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send publishes v, discarding the oldest buffered element when the ring
// is full. It never blocks and reports whether anything was dropped.
func (r *Ring[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case r.ch <- v:
			r.sent.Add(1)
			return dropped
		default:
		}
		// Full. Evict one and retry; the loop absorbs races with
		// concurrent senders and receivers.
		select {
		case <-r.ch:
			r.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend publishes v only if there is room, reporting success.
func (r *Ring[T]) TrySend(v T) bool {
	select {
	case r.ch <- v:
		r.sent.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the ring is closed.
// The ok result is false if the ring is closed and drained.
func (r *Ring[T]) Receive() (v T, ok bool) {
	v, ok = <-r.ch
	if ok {
		r.received.Add(1)
	}
	return
}

// TryReceive attempts a non-blocking receive.
// Returns (zero, false) if no value is ready.
func (r *Ring[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		if ok {
			r.received.Add(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close closes the ring. Sends after Close panic, so publishers must be
// quiesced first.
func (r *Ring[T]) Close() {
	close(r.ch)
}

// Stats returns the current counter values.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Sent:     r.sent.Load(),
		Dropped:  r.dropped.Load(),
		Received: r.received.Load(),
	}
}

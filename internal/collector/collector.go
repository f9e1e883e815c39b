// Package collector drains a feed channel into a fixed-size overwrite ring,
// so a slow consumer can inspect recent history without ever backpressuring
// the producer. The lifecycle core publishes snapshots and notifications
// through drop-oldest feeds; a Collector is the matching sink when the
// consumer wants batched access instead of a live channel.
package collector

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Collector lifecycle states, transitioned atomically.
const (
	StateIdle uint32 = iota // not running, ready to start
	StateRunning
	StateStopping

	// MaxBufferSize guards against accidental misconfiguration.
	MaxBufferSize uint32 = 1024 * 1024
)

const (
	startTimeout = 1 * time.Second
	stopTimeout  = 5 * time.Second
)

// Metrics is a snapshot of collector counters.
type Metrics struct {
	Collected   int64 // records accepted into the ring
	Overwritten int64 // records lost to ring overflow
	Errors      int64 // unexpected buffer failures
}

// Collector moves records from a channel into an overwrite ring buffer on a
// background goroutine. All methods are safe for concurrent use.
type Collector[T any] struct {
	feed    <-chan T
	buffer  mpmc.RichOverlappedRingBuffer[T]
	stop    chan struct{}
	done    chan struct{}
	onError func(error)
	state   uint32

	collected   atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64
}

// New creates a collector reading from feed into a ring of at least
// bufferSize records. onError is called on unexpected buffer failures; nil
// means panic, which keeps silent data loss impossible by default.
func New[T any](feed <-chan T, bufferSize uint32, onError func(error)) (*Collector[T], error) {
	if feed == nil {
		return nil, fmt.Errorf("feed channel cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}

	if onError == nil {
		onError = func(err error) {
			panic(fmt.Sprintf("collector: %v", err))
		}
	}

	return &Collector[T]{
		feed:    feed,
		buffer:  mpmc.NewOverlappedRingBuffer[T](bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onError: onError,
		state:   StateIdle,
	}, nil
}

// Start launches the drain goroutine. It blocks until the goroutine is
// running or the startup timeout expires, and fails when the collector is
// already running or still stopping.
func (c *Collector[T]) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, StateIdle, StateRunning) {
		switch atomic.LoadUint32(&c.state) {
		case StateRunning:
			return fmt.Errorf("collector is already running")
		case StateStopping:
			return fmt.Errorf("collector is stopping, wait for it to finish")
		default:
			return fmt.Errorf("collector is in unknown state %d", atomic.LoadUint32(&c.state))
		}
	}

	// Fresh channels per start cycle; reusing closed ones would panic.
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	// Buffered so the goroutine never blocks on the signal, even when the
	// startup timeout wins the race.
	started := make(chan struct{}, 1)

	go func() {
		started <- struct{}{}

		defer func() {
			close(c.done)
			atomic.StoreUint32(&c.state, StateIdle)
		}()
		for {
			select {
			case <-c.stop:
				return
			case rec, ok := <-c.feed:
				if !ok {
					return
				}
				overwrites, err := c.buffer.EnqueueM(rec)
				if err != nil {
					c.errors.Add(1)
					c.onError(fmt.Errorf("unexpected buffer enqueue error: %w", err))
					return
				}
				c.overwritten.Add(int64(overwrites))
				c.collected.Add(1)
			}
		}
	}()

	select {
	case <-started:
		return nil
	case <-time.After(startTimeout):
		close(c.stop)
		<-c.done
		return fmt.Errorf("collector failed to start within %s", startTimeout)
	}
}

// Stop halts draining. Stopping an idle collector returns nil immediately;
// a running one is joined, with an error when the join outlives the stop
// timeout.
func (c *Collector[T]) Stop() error {
	if atomic.CompareAndSwapUint32(&c.state, StateRunning, StateStopping) {
		close(c.stop)
	} else {
		switch atomic.LoadUint32(&c.state) {
		case StateIdle:
			return nil
		case StateStopping:
			// another Stop is in flight; fall through and join it
		default:
			return fmt.Errorf("collector is in unknown state %d", atomic.LoadUint32(&c.state))
		}
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(stopTimeout):
		<-c.done
		return fmt.Errorf("stop completed but exceeded %s (possible slow shutdown)", stopTimeout)
	}
}

// State returns the current lifecycle state.
func (c *Collector[T]) State() uint32 {
	return atomic.LoadUint32(&c.state)
}

// Metrics returns a snapshot of the counters.
func (c *Collector[T]) Metrics() Metrics {
	return Metrics{
		Collected:   c.collected.Load(),
		Overwritten: c.overwritten.Load(),
		Errors:      c.errors.Load(),
	}
}

// ResetMetrics zeroes all counters.
func (c *Collector[T]) ResetMetrics() {
	c.collected.Store(0)
	c.overwritten.Store(0)
	c.errors.Store(0)
}

// ConsumerFunc consumes drained records.
//
// Protocol:
//   - record != nil: process it. Return the zero R to continue, or a
//     non-zero R to stop early with that result.
//   - record == nil: no more records. Return the final accumulated result.
//
// The function owns whatever state it accumulates across calls.
type ConsumerFunc[T, R any] func(record *T) (R, error)

// Drain passes every buffered record to consumer. The consumer decides when
// to stop and what to return; see ConsumerFunc for the protocol.
func Drain[T, R any](c *Collector[T], consumer ConsumerFunc[T, R]) (R, error) {
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			var zero R
			return zero, fmt.Errorf("buffer dequeue error: %w", err)
		}

		result, err := consumer(&rec)
		if err != nil {
			return result, err
		}
		if !isZeroValue(result) {
			return result, nil
		}
	}

	return consumer(nil)
}

// DrainAll drains every buffered record into a slice, oldest first.
func (c *Collector[T]) DrainAll() ([]T, error) {
	var records []T
	return Drain(c, func(rec *T) ([]T, error) {
		if rec == nil {
			return records, nil
		}
		records = append(records, *rec)
		return nil, nil
	})
}

// isZeroValue checks if a value is the zero value for its type
func isZeroValue[T any](v T) bool {
	var zero T
	return reflect.DeepEqual(v, zero)
}

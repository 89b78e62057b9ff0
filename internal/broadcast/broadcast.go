// Package broadcast implements a bounded multi-subscriber channel. Sends
// never block: a subscriber that falls more than the capacity behind loses
// the oldest values and is told how many it missed.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned once the channel is closed and the receiver has
	// consumed every value still buffered for it.
	ErrClosed = errors.New("broadcast: channel closed")
	// ErrEmpty is returned by TryRecv when nothing is queued.
	ErrEmpty = errors.New("broadcast: channel empty")
)

// LaggedError reports values dropped before the receiver could read them.
// The receiver resumes at the oldest value still buffered.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast: receiver lagged, %d values skipped", e.Skipped)
}

// Channel is a ring buffer of the last capacity values sent.
type Channel[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   uint64 // sequence number of the next send
	closed bool
	wake   chan struct{}
	subs   int
}

// New returns a Channel retaining at most capacity values per subscriber.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		buf:  make([]T, capacity),
		wake: make(chan struct{}),
	}
}

// Send publishes v to every current subscriber. It returns the number of
// subscribers at the time of sending and never blocks.
func (c *Channel[T]) Send(v T) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	c.buf[c.head%uint64(len(c.buf))] = v
	c.head++
	close(c.wake)
	c.wake = make(chan struct{})
	return c.subs, nil
}

// Subscribe returns a receiver that observes values sent from now on.
func (c *Channel[T]) Subscribe() *Receiver[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs++
	return &Receiver[T]{ch: c, next: c.head}
}

// Close marks the channel closed and wakes every waiting receiver. It is
// safe to call more than once.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.wake)
}

// Len returns the number of subscribers.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs
}

// Receiver is one subscriber's cursor into a Channel. A Receiver must not
// be used from more than one goroutine at a time.
type Receiver[T any] struct {
	ch     *Channel[T]
	next   uint64
	closed bool
}

// TryRecv returns the next value without waiting.
func (r *Receiver[T]) TryRecv() (T, error) {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()
	v, _, err := r.take()
	return v, err
}

// Recv waits for the next value, channel closure, or ctx cancellation.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		r.ch.mu.Lock()
		v, wake, err := r.take()
		r.ch.mu.Unlock()
		if !errors.Is(err, ErrEmpty) {
			return v, err
		}
		select {
		case <-wake:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Unsubscribe detaches r from its channel.
func (r *Receiver[T]) Unsubscribe() {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.ch.subs--
	}
}

// take must be called with the channel lock held.
func (r *Receiver[T]) take() (T, <-chan struct{}, error) {
	var zero T
	c := r.ch
	capacity := uint64(len(c.buf))

	if c.head-r.next > capacity {
		skipped := c.head - capacity - r.next
		r.next = c.head - capacity
		return zero, nil, &LaggedError{Skipped: skipped}
	}
	if r.next < c.head {
		v := c.buf[r.next%capacity]
		r.next++
		return v, nil, nil
	}
	if c.closed || r.closed {
		return zero, nil, ErrClosed
	}
	return zero, c.wake, ErrEmpty
}

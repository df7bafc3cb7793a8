package sched

import "fmt"

// EventQueue is the bounded FIFO between the event producers (timer,
// server) and the scheduler. Both ends are non-blocking: a full queue fails
// the send, an empty queue fails the receive.
type EventQueue struct {
	ch chan Frame
}

// NewEventQueue creates a queue holding at most capacity messages.
func NewEventQueue(capacity int) *EventQueue {
	return &EventQueue{ch: make(chan Frame, capacity)}
}

// Send enqueues ev without blocking.
func (q *EventQueue) Send(ev TimeEvent) error {
	return q.SendFrame(ev.Encode())
}

// SendFrame enqueues an already encoded message without blocking.
func (q *EventQueue) SendFrame(f Frame) error {
	select {
	case q.ch <- f:
		return nil
	default:
		return fmt.Errorf("send %v: %w", f.Decode().Kind, ErrQueueFull)
	}
}

// Receive dequeues the oldest message without blocking.
func (q *EventQueue) Receive() (TimeEvent, error) {
	select {
	case f := <-q.ch:
		return f.Decode(), nil
	default:
		return TimeEvent{}, ErrWouldBlock
	}
}

// Len returns the number of buffered messages.
func (q *EventQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *EventQueue) Cap() int { return cap(q.ch) }

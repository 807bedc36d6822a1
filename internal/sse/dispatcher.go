// Package sse implements the per-request event dispatcher that exposes
// the worker and download supervisors as Server-Sent Events streams (spec
// §4.6), grounded on the teacher's WebSocket broadcaster
// (internal/ws/broadcast.go in the original source tree) -- the bounded
// channel and non-blocking-send-or-drop pattern carries over; what
// changes is the fan-out shape (one producer to one HTTP response per
// request, not one producer to many long-lived clients) and the
// backpressure policy (a priority ladder instead of disconnecting the
// slow peer, since there is exactly one reader and it cannot be
// "disconnected" without ending the request).
package sse

import "sync"

// Frame is one SSE event the dispatcher queues for its single reader.
type Frame struct {
	Type string
	Data any
}

// droppableUnderPressure are the frame kinds the backpressure ladder may
// shed or coalesce (spec §4.6: "drop log first, coalesce progress, never
// token/error/done/finished").
func droppableUnderPressure(frameType string) bool {
	return frameType == "log" || frameType == "progress"
}

// Dispatcher is a single-producer, single-consumer, unbounded-for-critical
// -frames queue with a priority backpressure ladder applied once queue
// depth exceeds maxQueue.
type Dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Frame
	closed   bool
	maxQueue int

	droppedLogs    int
	coalescedProgs int
}

// NewDispatcher constructs a Dispatcher. maxQueue bounds how many frames
// accumulate before log/progress frames start being shed; must-keep
// frame types (token, image, error, done, finished, cancelled, loaded,
// load_stage) are always enqueued regardless of depth.
func NewDispatcher(maxQueue int) *Dispatcher {
	if maxQueue <= 0 {
		maxQueue = 256
	}
	d := &Dispatcher{maxQueue: maxQueue}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Send enqueues f, applying the backpressure ladder once the queue is at
// capacity. It is safe to call after Close; such sends are silently
// discarded.
func (d *Dispatcher) Send(f Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if len(d.queue) < d.maxQueue || !droppableUnderPressure(f.Type) {
		d.queue = append(d.queue, f)
		d.cond.Signal()
		return
	}

	switch f.Type {
	case "log":
		d.droppedLogs++
	case "progress":
		if idx := d.lastIndexOfType("progress"); idx >= 0 {
			d.queue[idx] = f
			d.coalescedProgs++
		} else if d.evictOneLog() {
			d.queue = append(d.queue, f)
		} else {
			d.droppedLogs++ // no log to evict; shed the progress frame too
		}
	}
	d.cond.Signal()
}

func (d *Dispatcher) lastIndexOfType(frameType string) int {
	for i := len(d.queue) - 1; i >= 0; i-- {
		if d.queue[i].Type == frameType {
			return i
		}
	}
	return -1
}

func (d *Dispatcher) evictOneLog() bool {
	for i, f := range d.queue {
		if f.Type == "log" {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Recv blocks until a frame is available or Close has been called and the
// queue has drained, in which case ok is false.
func (d *Dispatcher) Recv() (frame Frame, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.queue) == 0 {
		return Frame{}, false
	}
	frame = d.queue[0]
	d.queue = d.queue[1:]
	return frame, true
}

// Close marks the dispatcher done; pending frames still drain via Recv,
// but Recv returns ok=false once the queue empties and no more Sends will
// be accepted.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
}

// Chan returns a channel fed by a background goroutine pumping Recv, so
// callers that need to select against other events (an HTTP request's
// context, in particular) don't have to deal with the condition
// variable directly. The channel closes once the dispatcher is closed
// and its queue has drained.
func (d *Dispatcher) Chan() <-chan Frame {
	ch := make(chan Frame)
	go func() {
		defer close(ch)
		for {
			frame, ok := d.Recv()
			if !ok {
				return
			}
			ch <- frame
		}
	}()
	return ch
}

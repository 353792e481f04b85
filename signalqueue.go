package dbus

import (
	"sync"

	"github.com/creachadair/mds/queue"
)

// maxSignalQueue bounds how many pending signals a single subscriber
// channel may accumulate before the queue starts dropping the oldest
// entries; the number dropped is then delivered as a DroppedSignals value
// in a separate signal just ahead of the oldest surviving one.
const maxSignalQueue = 64

// DroppedSignals is delivered in place of signals that were discarded
// because a subscriber fell behind; Count is how many were lost.
type DroppedSignals struct {
	Count int
}

// signalQueue is a bounded, non-blocking mailbox feeding one subscriber
// channel. A dedicated pump goroutine drains it into the channel so that a
// slow consumer never blocks the connection's read loop.
type signalQueue struct {
	out chan<- *Signal

	mu      sync.Mutex
	closed  bool
	pending queue.Queue[*Signal]
	wake    chan struct{}
	stopped chan struct{}
	dropped int
}

func newSignalQueue(out chan<- *Signal) *signalQueue {
	q := &signalQueue{
		out:     out,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.pump()
	return q
}

// push enqueues sig for delivery, dropping the oldest queued signal if the
// queue is already at capacity.
func (q *signalQueue) push(sig *Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.pending.Len() >= maxSignalQueue {
		q.pending.Pop()
		q.dropped++
	}
	q.pending.Add(sig)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *signalQueue) pop() (*Signal, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sig, ok := q.pending.Pop()
	if !ok {
		return nil, 0
	}
	dropped := q.dropped
	q.dropped = 0
	return sig, dropped
}

// close stops the pump goroutine and releases the output channel. It does
// not close out, since out is owned by the subscriber.
func (q *signalQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.wake)
	<-q.stopped
}

func (q *signalQueue) pump() {
	defer close(q.stopped)
	for {
		sig, dropped := q.pop()
		if dropped > 0 {
			// Surface the gap via Name so a consumer that cares can
			// detect it; the body carries the count.
			gap := &Signal{Name: "", Body: []interface{}{DroppedSignals{Count: dropped}}}
			for sent := false; !sent; {
				select {
				case q.out <- gap:
					sent = true
				case _, ok := <-q.wake:
					if !ok {
						return
					}
				}
			}
		}
		if sig == nil {
			if _, ok := <-q.wake; !ok {
				return
			}
			continue
		}
		for sent := false; !sent; {
			select {
			case q.out <- sig:
				sent = true
			case _, ok := <-q.wake:
				if !ok {
					return
				}
			}
		}
	}
}

package dbus

import (
	"sync"
)

// NewSequentialSignalHandler returns a SignalHandler that guarantees
// sequential delivery: signals reach each registered channel in the order
// they arrived on the connection, even if a receiver is slow to drain its
// channel and others queue up behind it.
func NewSequentialSignalHandler() SignalHandler {
	return &sequentialSignalHandler{}
}

type sequentialSignalHandler struct {
	mu      sync.RWMutex
	closed  bool
	signals []*sequentialSignalChannelData
}

func (sh *sequentialSignalHandler) DeliverSignal(intf, name string, signal *Signal) {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if sh.closed {
		return
	}
	for _, scd := range sh.signals {
		scd.deliver(signal)
	}
}

func (sh *sequentialSignalHandler) Terminate() {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed {
		return
	}
	for _, scd := range sh.signals {
		scd.close()
		close(scd.ch)
	}
	sh.closed = true
	sh.signals = nil
}

func (sh *sequentialSignalHandler) AddSignal(ch chan<- *Signal) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed {
		return
	}
	sh.signals = append(sh.signals, newSequentialSignalChannelData(ch))
}

func (sh *sequentialSignalHandler) RemoveSignal(ch chan<- *Signal) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed {
		return
	}
	kept := sh.signals[:0]
	for _, scd := range sh.signals {
		if scd.ch == ch {
			scd.close()
			continue
		}
		kept = append(kept, scd)
	}
	sh.signals = kept
}

// sequentialSignalChannelData pairs a subscriber's channel with a
// background goroutine that holds an unbounded backlog of signals it
// hasn't yet been able to push to ch, so one slow subscriber never blocks
// delivery to the others.
type sequentialSignalChannelData struct {
	ch   chan<- *Signal
	in   chan *Signal
	done chan struct{}
}

func newSequentialSignalChannelData(ch chan<- *Signal) *sequentialSignalChannelData {
	scd := &sequentialSignalChannelData{
		ch:   ch,
		in:   make(chan *Signal),
		done: make(chan struct{}),
	}
	go scd.pump()
	return scd
}

// pump holds a FIFO backlog of signals not yet delivered to ch. It always
// tries to deliver the oldest pending signal first; while that send is
// blocked it keeps accepting new signals into the backlog rather than
// applying backpressure to DeliverSignal.
func (scd *sequentialSignalChannelData) pump() {
	defer close(scd.done)

	var backlog []*Signal
	for {
		if len(backlog) == 0 {
			signal, ok := <-scd.in
			if !ok {
				return
			}
			backlog = append(backlog, signal)
			continue
		}
		select {
		case scd.ch <- backlog[0]:
			backlog[0] = nil
			backlog = backlog[1:]
		case signal, ok := <-scd.in:
			if !ok {
				return
			}
			backlog = append(backlog, signal)
		}
	}
}

func (scd *sequentialSignalChannelData) deliver(signal *Signal) {
	scd.in <- signal
}

func (scd *sequentialSignalChannelData) close() {
	close(scd.in)
	// Wait for pump to observe the close so it can't attempt a send on
	// scd.ch after the caller closes it.
	<-scd.done
}

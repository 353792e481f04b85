package dbus

import "testing"

// newBufferingConn builds a Conn with just enough state for enqueue/
// flushOutbox to run without a real transport: an out channel, and a state
// the tests flip by hand.
func newBufferingConn(state ConnState) *Conn {
	conn := &Conn{state: state}
	conn.out = make(chan *Message, 16)
	return conn
}

func newTestMessage(t *testing.T, member string) *Message {
	t.Helper()
	msg, err := NewMethodCall("com.example.Dest", "/com/example", "com.example.Iface", member)
	if err != nil {
		t.Fatalf("NewMethodCall: %v", err)
	}
	return msg
}

func TestEnqueueBuffersBeforeReady(t *testing.T) {
	conn := newBufferingConn(StateHelloPending)
	a := newTestMessage(t, "A")
	b := newTestMessage(t, "B")
	conn.enqueue(a)
	conn.enqueue(b)

	select {
	case <-conn.out:
		t.Fatal("message reached conn.out before the connection was Ready")
	default:
	}
	if len(conn.outbox) != 2 {
		t.Fatalf("len(outbox) = %d, want 2", len(conn.outbox))
	}
}

func TestFlushOutboxDeliversInFIFOOrder(t *testing.T) {
	conn := newBufferingConn(StateHelloPending)
	a := newTestMessage(t, "A")
	b := newTestMessage(t, "B")
	conn.enqueue(a)
	conn.enqueue(b)

	conn.setState(StateReady)
	conn.flushOutbox()

	first := <-conn.out
	second := <-conn.out
	if first != a || second != b {
		t.Fatal("flushOutbox did not preserve FIFO order")
	}
	if len(conn.outbox) != 0 {
		t.Fatalf("len(outbox) after flush = %d, want 0", len(conn.outbox))
	}
}

func TestEnqueueSendsDirectlyOnceReady(t *testing.T) {
	conn := newBufferingConn(StateReady)
	msg := newTestMessage(t, "A")
	conn.enqueue(msg)

	select {
	case got := <-conn.out:
		if got != msg {
			t.Fatal("wrong message delivered")
		}
	default:
		t.Fatal("message should have reached conn.out immediately once Ready")
	}
}

func TestEnqueueHandshakingBypassesOutbox(t *testing.T) {
	conn := newBufferingConn(StateHelloPending)
	conn.setHandshaking(true)
	msg := newTestMessage(t, "Hello")
	conn.enqueue(msg)

	select {
	case got := <-conn.out:
		if got != msg {
			t.Fatal("wrong message delivered")
		}
	default:
		t.Fatal("a handshaking send should reach conn.out immediately, not the outbox")
	}
	if len(conn.outbox) != 0 {
		t.Fatalf("len(outbox) = %d, want 0", len(conn.outbox))
	}
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	conn := newBufferingConn(StateReady)
	conn.out = nil
	conn.enqueue(newTestMessage(t, "A"))
	if len(conn.outbox) != 0 {
		t.Fatalf("len(outbox) = %d, want 0 once conn.out is nil", len(conn.outbox))
	}
}

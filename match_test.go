package dbus

import (
	"testing"
	"time"
)

func signalMessage(t *testing.T, path ObjectPath, iface, member string, sender string) *Message {
	t.Helper()
	msg, err := NewSignal(path, iface, member)
	if err != nil {
		t.Fatalf("NewSignal: %v", err)
	}
	msg.Headers[FieldSender] = MakeVariant(sender)
	return msg
}

func recvSignal(t *testing.T, ch <-chan *Signal) *Signal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal delivery")
		return nil
	}
}

func assertNoSignal(t *testing.T, ch <-chan *Signal) {
	t.Helper()
	select {
	case sig := <-ch:
		t.Fatalf("unexpected signal delivered: %+v", sig)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMatchTableDeliversOnlyToMatchingSubscribers(t *testing.T) {
	table := newMatchTable()

	chA := make(chan *Signal, 1)
	chB := make(chan *Signal, 1)

	ruleA := MatchRule{}.WithInterface("com.example.A")
	ruleB := MatchRule{}.WithInterface("com.example.B")

	table.subscribe(ruleA, chA)
	table.subscribe(ruleB, chB)

	msg := signalMessage(t, "/obj", "com.example.A", "Changed", "com.example.Service")
	table.deliver(msg, nil, nil)

	sig := recvSignal(t, chA)
	if sig.Name != "com.example.A.Changed" {
		t.Errorf("Name = %q, want com.example.A.Changed", sig.Name)
	}
	assertNoSignal(t, chB)
}

func TestMatchTableDeliversToEveryMatchingSubscriber(t *testing.T) {
	table := newMatchTable()

	ch1 := make(chan *Signal, 1)
	ch2 := make(chan *Signal, 1)

	table.subscribe(MatchRule{}.WithInterface("com.example.A"), ch1)
	table.subscribe(MatchRule{}.WithPath("/obj"), ch2)

	msg := signalMessage(t, "/obj", "com.example.A", "Changed", "com.example.Service")
	table.deliver(msg, nil, nil)

	recvSignal(t, ch1)
	recvSignal(t, ch2)
}

func TestMatchTableDedupesSameChannelAcrossRules(t *testing.T) {
	table := newMatchTable()
	ch := make(chan *Signal, 2)

	table.subscribe(MatchRule{}.WithInterface("com.example.A"), ch)
	table.subscribe(MatchRule{}.WithPath("/obj"), ch)

	msg := signalMessage(t, "/obj", "com.example.A", "Changed", "com.example.Service")
	table.deliver(msg, nil, nil)

	recvSignal(t, ch)
	assertNoSignal(t, ch)
}

func TestMatchTableUnsubscribeStopsDelivery(t *testing.T) {
	table := newMatchTable()
	ch := make(chan *Signal, 1)
	rule := MatchRule{}.WithInterface("com.example.A")

	if first := table.subscribe(rule, ch); !first {
		t.Error("first subscribe should report first=true")
	}
	if last := table.unsubscribe(rule, ch); !last {
		t.Error("removing the only subscriber should report last=true")
	}

	msg := signalMessage(t, "/obj", "com.example.A", "Changed", "com.example.Service")
	table.deliver(msg, nil, nil)
	assertNoSignal(t, ch)
}

func TestMatchTableDeliversToUnfilteredSignalHandler(t *testing.T) {
	table := newMatchTable()
	handler := NewSequentialSignalHandler()
	defer handler.Terminate()

	ch := make(chan *Signal, 1)
	handler.AddSignal(ch)

	// No subscriptions registered on the match table itself: the signal
	// should still reach ch because it came in through the handler, the
	// escape hatch underneath Conn.Signal.
	msg := signalMessage(t, "/obj", "com.example.A", "Changed", "com.example.Service")
	table.deliver(msg, handler, nil)

	sig := recvSignal(t, ch)
	if sig.Name != "com.example.A.Changed" {
		t.Errorf("Name = %q, want com.example.A.Changed", sig.Name)
	}
}

func TestMatchTableSharedRuleRefcounts(t *testing.T) {
	table := newMatchTable()
	rule := MatchRule{}.WithInterface("com.example.A")
	chA := make(chan *Signal, 1)
	chB := make(chan *Signal, 1)

	if first := table.subscribe(rule, chA); !first {
		t.Error("first subscriber should report first=true")
	}
	if first := table.subscribe(rule, chB); first {
		t.Error("second subscriber to the same rule should report first=false")
	}
	if last := table.unsubscribe(rule, chA); last {
		t.Error("removing one of two subscribers should not report last=true")
	}
	if last := table.unsubscribe(rule, chB); !last {
		t.Error("removing the final subscriber should report last=true")
	}
}

package dbus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/value"
)

// MatchRule filters the signals a subscriber receives. The zero value
// matches every signal; use the With* setters to narrow it.
type MatchRule struct {
	sender    value.Maybe[string]
	path      value.Maybe[ObjectPath]
	iface     value.Maybe[string]
	member    value.Maybe[string]
	pathNS    value.Maybe[ObjectPath]
	arg0NS    value.Maybe[string]
}

// WithSender restricts the rule to signals from the given unique or
// well-known bus name.
func (m MatchRule) WithSender(s string) MatchRule { m.sender = value.Just(s); return m }

// WithPath restricts the rule to signals emitted on the given object path.
func (m MatchRule) WithPath(p ObjectPath) MatchRule { m.path = value.Just(p); return m }

// WithPathNamespace restricts the rule to signals emitted on p or any of
// its descendants.
func (m MatchRule) WithPathNamespace(p ObjectPath) MatchRule { m.pathNS = value.Just(p); return m }

// WithInterface restricts the rule to signals of the given interface.
func (m MatchRule) WithInterface(iface string) MatchRule { m.iface = value.Just(iface); return m }

// WithMember restricts the rule to signals with the given member name.
func (m MatchRule) WithMember(member string) MatchRule { m.member = value.Just(member); return m }

// WithArg0Namespace restricts the rule to signals whose first argument is a
// bus name in ns's namespace (used for NameOwnerChanged-style filtering).
func (m MatchRule) WithArg0Namespace(ns string) MatchRule { m.arg0NS = value.Just(ns); return m }

// filterString renders the rule in the key=value form the bus's AddMatch/
// RemoveMatch methods expect.
func (m MatchRule) filterString() string {
	parts := []string{"type='signal'"}
	add := func(k, v string) {
		parts = append(parts, fmt.Sprintf("%s='%s'", k, v))
	}
	if s, ok := m.sender.GetOK(); ok {
		add("sender", s)
	}
	if p, ok := m.path.GetOK(); ok {
		add("path", string(p))
	}
	if p, ok := m.pathNS.GetOK(); ok {
		add("path_namespace", string(p))
	}
	if i, ok := m.iface.GetOK(); ok {
		add("interface", i)
	}
	if mb, ok := m.member.GetOK(); ok {
		add("member", mb)
	}
	if ns, ok := m.arg0NS.GetOK(); ok {
		add("arg0namespace", ns)
	}
	return strings.Join(parts, ",")
}

// matches reports whether msg (a TypeSignal message) satisfies the rule.
// resolve looks up the unique name currently owning a well-known bus name
// (see nameOwnerCache); a sender predicate that names a well-known name
// matches a signal sent by that name's current owner, not only an exact
// string match. resolve may be nil, in which case only an exact match on
// the sender header is accepted.
func (m MatchRule) matches(msg *Message, resolve func(string) (string, bool)) bool {
	if msg.Type != TypeSignal {
		return false
	}
	if s, ok := m.sender.GetOK(); ok {
		v, _ := msg.Headers[FieldSender].value.(string)
		if v != s {
			if resolve == nil {
				return false
			}
			if o, ok := resolve(s); !ok || o != v {
				return false
			}
		}
	}
	if p, ok := m.path.GetOK(); ok {
		if v, _ := msg.Headers[FieldPath].value.(ObjectPath); v != p {
			return false
		}
	}
	if p, ok := m.pathNS.GetOK(); ok {
		v, _ := msg.Headers[FieldPath].value.(ObjectPath)
		if v != p && !strings.HasPrefix(string(v), string(p)+"/") {
			return false
		}
	}
	if i, ok := m.iface.GetOK(); ok {
		if v, _ := msg.Headers[FieldInterface].value.(string); v != i {
			return false
		}
	}
	if mb, ok := m.member.GetOK(); ok {
		if v, _ := msg.Headers[FieldMember].value.(string); v != mb {
			return false
		}
	}
	if ns, ok := m.arg0NS.GetOK(); ok {
		if len(msg.Body) == 0 {
			return false
		}
		arg0, _ := msg.Body[0].(string)
		if arg0 != ns && !strings.HasPrefix(arg0, ns+".") {
			return false
		}
	}
	return true
}

// matchEntry is one refcounted subscription: the wire rule issued to the
// bus via AddMatch, and the set of local subscriber channels it feeds.
type matchEntry struct {
	rule        MatchRule
	subscribers mapset.Set[chan<- *Signal]
}

// matchTable tracks the client's active AddMatch subscriptions so that
// repeated subscriptions to the same rule share one bus-side match and
// RemoveMatch is only issued once the last local subscriber goes away. Each
// subscriber channel gets its own bounded signalQueue and pump goroutine,
// so a slow consumer on one channel never holds up delivery to another or
// blocks the connection's read loop.
type matchTable struct {
	mu      sync.Mutex
	entries map[string]*matchEntry // keyed by filterString()
	queues  map[chan<- *Signal]*signalQueue
}

func newMatchTable() *matchTable {
	return &matchTable{
		entries: make(map[string]*matchEntry),
		queues:  make(map[chan<- *Signal]*signalQueue),
	}
}

// subscribe registers ch against rule, returning whether this is the first
// subscriber for this exact rule (the caller must issue AddMatch in that
// case).
func (t *matchTable) subscribe(rule MatchRule, ch chan<- *Signal) (first bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := rule.filterString()
	e, ok := t.entries[key]
	if !ok {
		e = &matchEntry{rule: rule, subscribers: mapset.New[chan<- *Signal]()}
		t.entries[key] = e
		first = true
	}
	e.subscribers.Add(ch)
	if _, ok := t.queues[ch]; !ok {
		t.queues[ch] = newSignalQueue(ch)
	}
	return first
}

// unsubscribe removes ch from rule's subscriber set, returning whether it
// was the last subscriber (the caller must issue RemoveMatch in that case).
// Once ch is no longer referenced by any rule, its queue is torn down.
func (t *matchTable) unsubscribe(rule MatchRule, ch chan<- *Signal) (last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := rule.filterString()
	e, ok := t.entries[key]
	if ok {
		e.subscribers.Remove(ch)
		if e.subscribers.Len() == 0 {
			delete(t.entries, key)
			last = true
		}
	}
	if !t.channelStillUsed(ch) {
		if q, ok := t.queues[ch]; ok {
			q.close()
			delete(t.queues, ch)
		}
	}
	return last
}

func (t *matchTable) channelStillUsed(ch chan<- *Signal) bool {
	for _, e := range t.entries {
		if e.subscribers.Has(ch) {
			return true
		}
	}
	return false
}

// deliver fans msg out to every subscriber channel whose rule matches it,
// and additionally to handler, which holds the channels registered through
// the unfiltered Conn.Signal API. Delivery to each matchTable channel goes
// through that channel's signalQueue, so one slow subscriber never blocks
// another or the caller.
func (t *matchTable) deliver(msg *Message, handler SignalHandler, resolve func(string) (string, bool)) {
	t.mu.Lock()
	seen := mapset.New[chan<- *Signal]()
	var targets []*signalQueue
	for _, e := range t.entries {
		if !e.rule.matches(msg, resolve) {
			continue
		}
		for ch := range e.subscribers {
			if seen.Has(ch) {
				continue
			}
			seen.Add(ch)
			if q, ok := t.queues[ch]; ok {
				targets = append(targets, q)
			}
		}
	}
	t.mu.Unlock()

	iface, _ := msg.Headers[FieldInterface].value.(string)
	member, _ := msg.Headers[FieldMember].value.(string)
	sender, _ := msg.Headers[FieldSender].value.(string)
	path, _ := msg.Headers[FieldPath].value.(ObjectPath)
	sig := &Signal{Sender: sender, Path: path, Name: iface + "." + member, Body: msg.Body}

	for _, q := range targets {
		q.push(sig)
	}
	if handler != nil {
		handler.DeliverSignal(iface, member, sig)
	}
}

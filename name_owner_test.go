package dbus

import "testing"

func TestNameOwnerCacheSetAndLookup(t *testing.T) {
	c := newNameOwnerCache()
	if _, ok := c.lookup("com.example.Service"); ok {
		t.Fatal("lookup on empty cache should miss")
	}
	c.set("com.example.Service", ":1.42")
	owner, ok := c.lookup("com.example.Service")
	if !ok || owner != ":1.42" {
		t.Fatalf("lookup = (%q, %v), want (:1.42, true)", owner, ok)
	}
	c.set("com.example.Service", "")
	if _, ok := c.lookup("com.example.Service"); ok {
		t.Fatal("setting an empty new_owner should evict the cache entry")
	}
}

func TestHandleNameOwnerChangedUpdatesCache(t *testing.T) {
	conn := &Conn{nameOwners: newNameOwnerCache()}
	msg := signalMessage(t, "/org/freedesktop/DBus", "org.freedesktop.DBus", "NameOwnerChanged", "org.freedesktop.DBus")
	msg.Body = []interface{}{"com.example.Service", "", ":1.7"}

	conn.handleNameOwnerChanged(msg)

	owner, ok := conn.nameOwners.lookup("com.example.Service")
	if !ok || owner != ":1.7" {
		t.Fatalf("lookup after NameOwnerChanged = (%q, %v), want (:1.7, true)", owner, ok)
	}
}

func TestMatchRuleSenderResolvesWellKnownName(t *testing.T) {
	rule := MatchRule{}.WithSender("com.example.Service")
	msg := signalMessage(t, "/obj", "com.example.Iface", "Changed", ":1.7")

	if rule.matches(msg, nil) {
		t.Error("well-known sender rule should not match a unique-name sender with no resolver")
	}

	resolve := func(name string) (string, bool) {
		if name == "com.example.Service" {
			return ":1.7", true
		}
		return "", false
	}
	if !rule.matches(msg, resolve) {
		t.Error("well-known sender rule should match once the resolver maps it to the signal's unique-name sender")
	}
}

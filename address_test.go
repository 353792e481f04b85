package dbus

import "testing"

func TestParseAddressesSingle(t *testing.T) {
	addrs, err := ParseAddresses("unix:path=/var/run/dbus/system_bus_socket")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 {
		t.Fatalf("len(addrs) = %d, want 1", len(addrs))
	}
	a := addrs[0]
	if a.Transport != "unix" {
		t.Errorf("Transport = %q, want unix", a.Transport)
	}
	if a.Options["path"] != "/var/run/dbus/system_bus_socket" {
		t.Errorf("Options[path] = %q", a.Options["path"])
	}
}

func TestParseAddressesMultipleAlternatives(t *testing.T) {
	addrs, err := ParseAddresses("unix:path=/tmp/a;tcp:host=127.0.0.1,port=123")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 {
		t.Fatalf("len(addrs) = %d, want 2", len(addrs))
	}
	if addrs[1].Transport != "tcp" || addrs[1].Options["port"] != "123" {
		t.Errorf("addrs[1] = %+v", addrs[1])
	}
}

func TestParseAddressesEscapedValue(t *testing.T) {
	addrs, err := ParseAddresses("unix:path=/tmp/a%2cb")
	if err != nil {
		t.Fatal(err)
	}
	if got := addrs[0].Options["path"]; got != "/tmp/a,b" {
		t.Errorf("Options[path] = %q, want /tmp/a,b", got)
	}
}

func TestParseAddressesEmptyErrors(t *testing.T) {
	if _, err := ParseAddresses(""); err == nil {
		t.Error("empty address string should error")
	}
}

func TestParseAddressesMissingColonErrors(t *testing.T) {
	if _, err := ParseAddresses("nocolonhere"); err == nil {
		t.Error("address without ':' should error")
	}
}

func TestParseAddressesMissingEqualsErrors(t *testing.T) {
	if _, err := ParseAddresses("unix:pathonly"); err == nil {
		t.Error("option without '=' should error")
	}
}

func TestParseAddressesTruncatedEscapeErrors(t *testing.T) {
	if _, err := ParseAddresses("unix:path=/tmp/a%2"); err == nil {
		t.Error("truncated %HH escape should error")
	}
}

func TestGetKey(t *testing.T) {
	if got := getKey("path=/tmp/x,guid=abc", "guid"); got != "abc" {
		t.Errorf("getKey(guid) = %q, want abc", got)
	}
	if got := getKey("path=/tmp/x", "missing"); got != "" {
		t.Errorf("getKey(missing) = %q, want empty", got)
	}
}

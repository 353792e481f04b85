package dbus

import "testing"

func TestParseSignatureRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"s",
		"as",
		"a{sv}",
		"(si)",
		"a(si)",
		"a{sa{sv}}",
	}
	for _, s := range cases {
		sig, err := ParseSignature(s)
		if err != nil {
			t.Errorf("ParseSignature(%q) = %v", s, err)
			continue
		}
		if got := sig.String(); got != s {
			t.Errorf("ParseSignature(%q).String() = %q", s, got)
		}
	}
}

func TestParseSignatureInvalid(t *testing.T) {
	cases := []string{"a", "(", "{sv}", "z"}
	for _, s := range cases {
		if _, err := ParseSignature(s); err == nil {
			t.Errorf("ParseSignature(%q) succeeded, want error", s)
		}
	}
}

func TestSignatureOf(t *testing.T) {
	sig := SignatureOf("x", int32(1))
	if got, want := sig.String(), "si"; got != want {
		t.Errorf("SignatureOf(string, int32) = %q, want %q", got, want)
	}
	if !SignatureOf().Empty() {
		t.Error("SignatureOf() with no args should be empty")
	}
}

func TestSignatureTypesRawRoundsTrip(t *testing.T) {
	sig := ParseSignatureMust("a{sv}")
	types := sig.Types()
	if len(types) != 1 {
		t.Fatalf("Types() = %d entries, want 1", len(types))
	}
	if types[0].Raw != "a{sv}" {
		t.Errorf("Raw = %q, want a{sv}", types[0].Raw)
	}
	if types[0].Code != 'a' || types[0].Container != "{" {
		t.Errorf("unexpected dict-entry array parse: %+v", types[0])
	}
}

func TestSignatureSingle(t *testing.T) {
	if !ParseSignatureMust("s").Single() {
		t.Error("\"s\" should be a single complete type")
	}
	if ParseSignatureMust("ss").Single() {
		t.Error("\"ss\" should not be a single complete type")
	}
}

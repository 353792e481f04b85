package dbus

import "strings"

// An Address is one parsed alternative from a DBus server address string:
// a transport name and its key=value options.
type Address struct {
	Transport string
	Options   map[string]string
}

// ParseAddresses parses a semicolon-separated DBus address string (the
// grammar used by the DBUS_SESSION_BUS_ADDRESS and DBUS_SYSTEM_BUS_ADDRESS
// environment variables, and by listen/connect address arguments) into its
// alternatives. Each alternative has the form "transport:key1=value1,
// key2=value2"; values may contain "%HH" hex escapes for bytes that can't
// appear literally (e.g. "%2c" for a comma inside a path).
func ParseAddresses(s string) ([]Address, error) {
	if s == "" {
		return nil, InvalidAddressError{Address: s, Reason: "empty address"}
	}
	var out []Address
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		addr, err := parseOneAddress(part)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, InvalidAddressError{Address: s, Reason: "no addresses after splitting on ';'"}
	}
	return out, nil
}

func parseOneAddress(s string) (Address, error) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return Address{}, InvalidAddressError{Address: s, Reason: "missing ':' separating transport from options"}
	}
	transport := s[:i]
	if transport == "" {
		return Address{}, InvalidAddressError{Address: s, Reason: "empty transport name"}
	}
	opts := make(map[string]string)
	rest := s[i+1:]
	if rest != "" {
		for _, kv := range strings.Split(rest, ",") {
			if kv == "" {
				continue
			}
			eq := strings.IndexByte(kv, '=')
			if eq < 0 {
				return Address{}, InvalidAddressError{Address: s, Reason: "option missing '='"}
			}
			key := kv[:eq]
			val, err := unescapeAddressValue(kv[eq+1:])
			if err != nil {
				return Address{}, InvalidAddressError{Address: s, Reason: err.Error()}
			}
			opts[key] = val
		}
	}
	return Address{Transport: transport, Options: opts}, nil
}

func unescapeAddressValue(s string) (string, error) {
	if !strings.ContainsRune(s, '%') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", InvalidAddressError{Reason: "truncated %HH escape"}
		}
		hi, ok1 := hexDigit(s[i+1])
		lo, ok2 := hexDigit(s[i+2])
		if !ok1 || !ok2 {
			return "", InvalidAddressError{Reason: "invalid %HH escape"}
		}
		b.WriteByte(byte(hi<<4 | lo))
		i += 2
	}
	return b.String(), nil
}

func hexDigit(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

// getKey returns the value of key in a single transport's comma-separated
// "key=value,..." option string, or "" if absent. Used by transport
// constructors, which receive only the options portion (already split on
// the leading "transport:") of one address alternative.
func getKey(s, key string) string {
	for _, kv := range strings.Split(s, ",") {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		if kv[:eq] == key {
			v, err := unescapeAddressValue(kv[eq+1:])
			if err != nil {
				return ""
			}
			return v
		}
	}
	return ""
}

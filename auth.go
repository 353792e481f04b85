package dbus

import (
	"bytes"
	"encoding/hex"
)

// AuthStatus represents the outcome of one step of a client-side SASL
// authentication exchange.
type AuthStatus int

const (
	// AuthOk signals that authentication is done.
	AuthOk AuthStatus = iota
	// AuthContinue signals that data has to be sent.
	AuthContinue
	// AuthError signals that an error occurred and the authentication
	// process must be aborted.
	AuthError
)

// Auth defines the behaviour of a client-side SASL authentication
// mechanism.
type Auth interface {
	// FirstData returns the name of the mechanism, the argument to send
	// together with the initial AUTH command, and the status of the
	// exchange. If the argument is nil, the AUTH command is sent without
	// data.
	FirstData() (name, resp []byte, status AuthStatus)

	// HandleData handles additional data sent by the server after a
	// previous DATA or CONTINUE response. It returns the argument to send
	// back, if any, and the new status.
	HandleData(data []byte) (resp []byte, status AuthStatus)
}

// ServerAuthStatus represents the outcome of one step of a server-side
// SASL authentication exchange.
type ServerAuthStatus int

const (
	ServerAuthOk ServerAuthStatus = iota
	ServerAuthError
	ServerAuthRejected
)

// ServerAuth defines the behaviour of a server-side SASL authentication
// mechanism.
type ServerAuth interface {
	// Name returns the name of the mechanism, e.g. "EXTERNAL".
	Name() string

	// Supported reports whether this mechanism can be offered over tr
	// (EXTERNAL, for instance, needs a transport that can report the
	// peer's uid).
	Supported(tr transport) bool

	// HandleAuth handles the argument sent with the initial AUTH command.
	HandleAuth(b []byte, tr transport) (resp []byte, status ServerAuthStatus)

	// HandleData handles additional data sent with a DATA command.
	HandleData(b []byte) (resp []byte, status ServerAuthStatus)
}

// auth performs the client side of the SASL line protocol against tr: a
// leading NUL byte, "AUTH <mechanism> [initial-response]", then DATA/OK/
// REJECTED/ERROR exchanges driven by each candidate Auth in order until one
// succeeds, then NEGOTIATE_UNIX_FD/AGREE_UNIX_FD if both sides support FD
// passing, and finally BEGIN.
func auth(tr transport, methods []Auth) error {
	if err := tr.SendNullByte(); err != nil {
		return err
	}

	for _, m := range methods {
		if ok, err := tryAuth(tr, m); err != nil {
			return err
		} else if ok {
			if tr.SupportsUnixFDs() {
				if err := negotiateUnixFD(tr); err != nil {
					return err
				}
			}
			if _, err := tr.Write([]byte("BEGIN\r\n")); err != nil {
				return err
			}
			return nil
		}
	}
	return AuthError{Reason: "no authentication mechanism succeeded"}
}

func tryAuth(tr transport, m Auth) (bool, error) {
	name, resp, status := m.FirstData()
	var line bytes.Buffer
	line.WriteString("AUTH ")
	line.Write(name)
	if resp != nil {
		line.WriteByte(' ')
		line.Write(resp)
	}
	line.WriteString("\r\n")
	if _, err := tr.Write(line.Bytes()); err != nil {
		return false, err
	}

	for {
		switch status {
		case AuthOk:
			s, err := readAuthLine(tr)
			if err != nil {
				return false, err
			}
			if bytes.HasPrefix(s, []byte("OK ")) || bytes.Equal(s, []byte("OK")) {
				return true, nil
			}
			return false, nil
		case AuthContinue:
			s, err := readAuthLine(tr)
			if err != nil {
				return false, err
			}
			switch {
			case bytes.HasPrefix(s, []byte("DATA ")):
				resp, status = m.HandleData(s[5:])
				var next bytes.Buffer
				next.WriteString("DATA ")
				next.Write(resp)
				next.WriteString("\r\n")
				if _, err := tr.Write(next.Bytes()); err != nil {
					return false, err
				}
			case bytes.HasPrefix(s, []byte("OK ")), bytes.Equal(s, []byte("OK")):
				return true, nil
			case bytes.HasPrefix(s, []byte("REJECTED")):
				return false, nil
			default:
				return false, nil
			}
		case AuthError:
			return false, nil
		}
	}
}

func negotiateUnixFD(tr transport) error {
	if _, err := tr.Write([]byte("NEGOTIATE_UNIX_FD\r\n")); err != nil {
		return err
	}
	s, err := readAuthLine(tr)
	if err != nil {
		return err
	}
	if bytes.Equal(s, []byte("AGREE_UNIX_FD")) {
		tr.EnableUnixFDs()
	}
	return nil
}

// authServer drives the server side of the SASL handshake against tr: it
// reads the client's leading NUL byte and AUTH line, offers it to whichever
// candidate mechanism claims to support it, and on success negotiates Unix
// FDs and waits for BEGIN.
func authServer(tr transport, methods []ServerAuth) error {
	var nul [1]byte
	if _, err := tr.Read(nul[:]); err != nil {
		return err
	}

	for {
		line, err := readAuthLine(tr)
		if err != nil {
			return err
		}
		switch {
		case bytes.HasPrefix(line, []byte("AUTH ")):
			fields := bytes.SplitN(line[len("AUTH "):], []byte(" "), 2)
			name := string(fields[0])
			var arg []byte
			if len(fields) == 2 {
				arg, err = hex.DecodeString(string(fields[1]))
				if err != nil {
					if _, err := tr.Write([]byte("ERROR\r\n")); err != nil {
						return err
					}
					continue
				}
			}
			m := findServerAuth(methods, name, tr)
			if m == nil {
				if _, err := tr.Write([]byte("REJECTED\r\n")); err != nil {
					return err
				}
				continue
			}
			if ok, err := authServerNegotiate(tr, m, arg); err != nil {
				return err
			} else if ok {
				return authServerAwaitBegin(tr)
			}
		case bytes.Equal(line, []byte("NEGOTIATE_UNIX_FD")):
			if _, err := tr.Write([]byte("ERROR\r\n")); err != nil {
				return err
			}
		default:
			if _, err := tr.Write([]byte("ERROR\r\n")); err != nil {
				return err
			}
		}
	}
}

func findServerAuth(methods []ServerAuth, name string, tr transport) ServerAuth {
	for _, m := range methods {
		if m.Name() == name && m.Supported(tr) {
			return m
		}
	}
	return nil
}

func authServerNegotiate(tr transport, m ServerAuth, arg []byte) (bool, error) {
	resp, status := m.HandleAuth(arg, tr)
	for {
		switch status {
		case ServerAuthOk:
			var line bytes.Buffer
			line.WriteString("OK ")
			line.Write(resp)
			line.WriteString("\r\n")
			if _, err := tr.Write(line.Bytes()); err != nil {
				return false, err
			}
			return true, nil
		case ServerAuthRejected:
			if _, err := tr.Write([]byte("REJECTED\r\n")); err != nil {
				return false, err
			}
			return false, nil
		case ServerAuthError:
			s, err := readAuthLine(tr)
			if err != nil {
				return false, err
			}
			if !bytes.HasPrefix(s, []byte("DATA ")) {
				if _, err := tr.Write([]byte("REJECTED\r\n")); err != nil {
					return false, err
				}
				return false, nil
			}
			data, err := hex.DecodeString(string(s[5:]))
			if err != nil {
				return false, nil
			}
			resp, status = m.HandleData(data)
		}
	}
}

// authServerAwaitBegin reads lines following a successful OK: the client
// may send NEGOTIATE_UNIX_FD zero or more times before BEGIN, which ends
// the handshake and hands the connection over to the binary protocol.
func authServerAwaitBegin(tr transport) error {
	for {
		line, err := readAuthLine(tr)
		if err != nil {
			return err
		}
		switch {
		case bytes.Equal(line, []byte("BEGIN")):
			return nil
		case bytes.Equal(line, []byte("NEGOTIATE_UNIX_FD")):
			if tr.SupportsUnixFDs() {
				if _, err := tr.Write([]byte("AGREE_UNIX_FD\r\n")); err != nil {
					return err
				}
				tr.EnableUnixFDs()
			} else if _, err := tr.Write([]byte("ERROR\r\n")); err != nil {
				return err
			}
		default:
			if _, err := tr.Write([]byte("ERROR\r\n")); err != nil {
				return err
			}
		}
	}
}

// readAuthLine reads a single CRLF-terminated line one byte at a time. The
// SASL handshake shares its connection with the binary message stream that
// begins immediately after BEGIN is sent, so it must never buffer ahead of
// the line boundary the way a bufio.Reader would.
func readAuthLine(tr transport) ([]byte, error) {
	var line []byte
	b := make([]byte, 1)
	for {
		n, err := tr.Read(b)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		if b[0] == '\n' {
			break
		}
		line = append(line, b[0])
	}
	return bytes.TrimRight(line, "\r"), nil
}

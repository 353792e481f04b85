package dbus

import (
	"errors"
	"net"
	"strconv"
)

// TCPTransport is a plain TCP connection to a bus reachable over the
// network instead of a local Unix socket. It has no FD-passing or peer
// credential protocol of its own, so message framing is delegated to
// genericTransport's resumable Unmarshaller-driven decode.
type TCPTransport struct {
	genericTransport
	hasUnixFDs bool
}

func newTCPTransport(keys string) (transport, error) {
	host := getKey(keys, "host")
	port := getKey(keys, "port")
	if host == "" || port == "" {
		return nil, errors.New("dbus: invalid address (host or port non set.)")
	}

	hostTemp, err := net.LookupHost(host)
	if err != nil {
		return nil, err
	}
	if len(hostTemp) < 1 {
		return nil, errors.New("dbus: invalid address or address not found")
	}
	hostParsed := net.ParseIP(hostTemp[0])
	portParsed, err := strconv.Atoi(port)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTCP("tcp", nil, &net.TCPAddr{IP: hostParsed, Port: portParsed})
	if err != nil {
		return nil, err
	}
	return &TCPTransport{genericTransport: newGenericTransport(conn)}, nil
}

func init() {
	transports["tcp"] = newTCPTransport
}

func (t *TCPTransport) EnableUnixFDs() {
	t.hasUnixFDs = false
}

func (t *TCPTransport) SupportsUnixFDs() bool {
	return false
}

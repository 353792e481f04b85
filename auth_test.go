package dbus

import (
	"encoding/hex"
	"net"
	"testing"
)

func TestAuthExternalFirstDataHexEncodesUser(t *testing.T) {
	a := AuthExternal("1000")
	name, resp, status := a.FirstData()
	if string(name) != "EXTERNAL" {
		t.Errorf("name = %q, want EXTERNAL", name)
	}
	if status != AuthOk {
		t.Errorf("status = %v, want AuthOk", status)
	}
	decoded, err := hex.DecodeString(string(resp))
	if err != nil {
		t.Fatalf("resp not hex: %v", err)
	}
	if string(decoded) != "1000" {
		t.Errorf("decoded resp = %q, want 1000", decoded)
	}
}

func TestAuthExternalHandleDataErrors(t *testing.T) {
	a := AuthExternal("1000")
	if _, status := a.HandleData(nil); status != AuthError {
		t.Errorf("status = %v, want AuthError", status)
	}
}

func TestAuthAnonymousFirstData(t *testing.T) {
	a := AuthAnonymous()
	name, resp, status := a.FirstData()
	if string(name) != "ANONYMOUS" {
		t.Errorf("name = %q, want ANONYMOUS", name)
	}
	if string(resp) != "" {
		t.Errorf("resp = %q, want empty", resp)
	}
	if status != AuthOk {
		t.Errorf("status = %v, want AuthOk", status)
	}
}

// pipeTransport adapts a net.Conn into the transport interface so auth()/
// authServer() can be driven end to end without a real bus daemon.
type pipeTransport struct {
	net.Conn
	unixFDs bool
}

func (t *pipeTransport) SendNullByte() error {
	_, err := t.Write([]byte{0})
	return err
}

func (t *pipeTransport) SupportsUnixFDs() bool { return false }
func (t *pipeTransport) EnableUnixFDs()        { t.unixFDs = true }
func (t *pipeTransport) ReadMessage() (*Message, error) {
	return nil, nil
}
func (t *pipeTransport) SendMessage(*Message) error { return nil }

func TestAuthExternalHandshakeEndToEnd(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	clientTr := &pipeTransport{Conn: client}
	serverTr := &pipeTransport{Conn: server}

	done := make(chan error, 1)
	go func() {
		done <- authServer(serverTr, []ServerAuth{
			serverAuthAlwaysOk{},
		})
	}()

	if err := auth(clientTr, []Auth{AuthExternal("0")}); err != nil {
		t.Fatalf("client auth failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server auth failed: %v", err)
	}
}

// serverAuthAlwaysOk accepts any EXTERNAL attempt; used to exercise the
// line protocol without depending on peer-credential plumbing.
type serverAuthAlwaysOk struct{}

func (serverAuthAlwaysOk) Name() string                { return "EXTERNAL" }
func (serverAuthAlwaysOk) Supported(tr transport) bool { return true }
func (serverAuthAlwaysOk) HandleData([]byte) ([]byte, ServerAuthStatus) {
	return nil, ServerAuthRejected
}
func (serverAuthAlwaysOk) HandleAuth([]byte, transport) ([]byte, ServerAuthStatus) {
	return nil, ServerAuthOk
}

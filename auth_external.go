package dbus

import (
	"encoding/hex"
	"os/user"
	"strconv"
)

// AuthExternal returns an Auth that authenticates as the given user with the
// EXTERNAL mechanism.
func AuthExternal(user string) Auth {
	return authExternal{user}
}

// authExternal implements the EXTERNAL authentication mechanism: the hex
// encoding of a uid or username is sent as the initial response and the
// server trusts the peer credentials it read off the socket, so there is
// no further challenge/response round trip.
type authExternal struct {
	user string
}

func (a authExternal) FirstData() ([]byte, []byte, AuthStatus) {
	return []byte("EXTERNAL"), hexEncode(a.user), AuthOk
}

func (a authExternal) HandleData(b []byte) ([]byte, AuthStatus) {
	return nil, AuthError
}

func hexEncode(s string) []byte {
	out := make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(out, []byte(s))
	return out
}

// ServerAuthExternal implements the EXTERNAL authentication mechanism on the
// server side. If callback is specified it decides whether authenticating
// as a particular uid is allowed, otherwise the server allows root and the
// uid it itself is running as.
func ServerAuthExternal(callback func(uid uint32) bool) ServerAuth {
	return serverAuthExternal{callback}
}

type serverAuthExternal struct {
	allowUID func(uid uint32) bool
}

func (a serverAuthExternal) Name() string {
	return "EXTERNAL"
}

func (a serverAuthExternal) Supported(tr transport) bool {
	trUnix, ok := tr.(*unixTransport)
	return ok && trUnix.hasPeerUid
}

// resolveAuthUID turns the EXTERNAL mechanism's initial response (already
// hex-decoded by authServer: either a decimal uid or a username) into a uid.
func resolveAuthUID(b []byte) (uint32, error) {
	raw := b
	if uid, err := strconv.ParseUint(string(raw), 10, 32); err == nil {
		return uint32(uid), nil
	}
	u, err := user.Lookup(string(raw))
	if err != nil {
		return 0, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(uid), nil
}

func (a serverAuthExternal) HandleAuth(b []byte, tr transport) ([]byte, ServerAuthStatus) {
	trUnix, ok := tr.(*unixTransport)
	if !ok {
		return nil, ServerAuthRejected
	}

	uid, err := resolveAuthUID(b)
	if err != nil {
		return nil, ServerAuthRejected
	}

	// The peer must actually be who it claims: its kernel-reported
	// credential has to match the uid it asked to authenticate as.
	if !trUnix.hasPeerUid || trUnix.peerUid != uid {
		return nil, ServerAuthRejected
	}

	if a.allowUID != nil {
		if a.allowUID(uid) {
			return nil, ServerAuthOk
		}
		return nil, ServerAuthRejected
	}

	if uid == 0 {
		return nil, ServerAuthOk
	}
	if u, err := user.Current(); err == nil {
		if currentUID, err := strconv.ParseUint(u.Uid, 10, 32); err == nil && uint32(currentUID) == uid {
			return nil, ServerAuthOk
		}
	}
	return nil, ServerAuthRejected
}

func (a serverAuthExternal) HandleData(b []byte) ([]byte, ServerAuthStatus) {
	return nil, ServerAuthRejected
}

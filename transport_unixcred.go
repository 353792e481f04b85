//go:build linux
// +build linux

package dbus

import (
	"errors"
	"io"
	"os"
	"syscall"
)

// SendNullByte sends the required leading NUL byte of the SASL handshake
// together with an SCM_CREDENTIALS control message carrying this process's
// own pid/uid/gid, which is how a Linux peer authenticates EXTERNAL.
func (t *unixTransport) SendNullByte() error {
	ucred := &syscall.Ucred{Pid: int32(os.Getpid()), Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
	oob := syscall.UnixCredentials(ucred)
	_, oobn, err := t.UnixConn.WriteMsgUnix([]byte{0}, oob, nil)
	if err != nil {
		return err
	}
	if oobn != len(oob) {
		return io.ErrShortWrite
	}
	return nil
}

// recvmsgRetryEAGAIN wraps syscall.Recvmsg, retrying on EAGAIN since the fd
// obtained via (*net.UnixConn).File() is put in blocking mode but can still
// occasionally report a spurious EAGAIN.
func recvmsgRetryEAGAIN(fd int, p, oob []byte) (n, oobn, flags int, sa syscall.Sockaddr, err error) {
	for {
		n, oobn, flags, sa, err = syscall.Recvmsg(fd, p, oob, 0)
		if err != syscall.EAGAIN {
			return
		}
	}
}

// ReadNullByte reads the handshake's leading NUL byte and extracts the
// peer's credentials from the accompanying SCM_CREDENTIALS control
// message. UnixConn itself exposes no way to flip on SO_PASSCRED or read
// ancillary data, so this drops to the raw fd via File().
func (t *unixTransport) ReadNullByte() error {
	file, err := t.File()
	if err != nil {
		return err
	}
	fd := int(file.Fd())

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_PASSCRED, 1); err != nil {
		return err
	}

	var oobBuf [4096]byte
	res := []byte{0}
	n, oobn, flags, _, err := recvmsgRetryEAGAIN(fd, res, oobBuf[:])
	if err != nil {
		return err
	}
	if n == 0 {
		return io.ErrUnexpectedEOF
	}
	if flags&syscall.MSG_CTRUNC != 0 {
		return errors.New("dbus: control data truncated")
	}

	ctrlMsgs, err := syscall.ParseSocketControlMessage(oobBuf[:oobn])
	if err != nil {
		return err
	}
	for _, m := range ctrlMsgs {
		if cred, err := syscall.ParseUnixCredentials(&m); err == nil {
			t.hasPeerUid = true
			t.peerUid = cred.Uid
		}
	}
	return nil
}

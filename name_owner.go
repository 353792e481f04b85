package dbus

import "sync"

// RequestNameFlags are the bits accepted by org.freedesktop.DBus.RequestName.
type RequestNameFlags uint32

const (
	NameFlagAllowReplacement RequestNameFlags = 1 << iota
	NameFlagReplaceExisting
	NameFlagDoNotQueue
)

// RequestNameReply is the reply code from org.freedesktop.DBus.RequestName.
type RequestNameReply uint32

const (
	RequestNameReplyPrimaryOwner RequestNameReply = 1 + iota
	RequestNameReplyInQueue
	RequestNameReplyExists
	RequestNameReplyAlreadyOwner
)

// ReleaseNameReply is the reply code from org.freedesktop.DBus.ReleaseName.
type ReleaseNameReply uint32

const (
	ReleaseNameReplyReleased ReleaseNameReply = 1 + iota
	ReleaseNameReplyNonExistent
	ReleaseNameReplyNotOwner
)

// RequestName asks the bus daemon to assign the well-known name to this
// connection, per org.freedesktop.DBus.RequestName.
func (conn *Conn) RequestName(name string, flags RequestNameFlags) (RequestNameReply, error) {
	var r uint32
	if err := conn.busObj.Call("org.freedesktop.DBus.RequestName", 0, name, uint32(flags)).Store(&r); err != nil {
		return 0, err
	}
	return RequestNameReply(r), nil
}

// ReleaseName asks the bus daemon to release a well-known name previously
// acquired with RequestName, per org.freedesktop.DBus.ReleaseName.
func (conn *Conn) ReleaseName(name string) (ReleaseNameReply, error) {
	var r uint32
	if err := conn.busObj.Call("org.freedesktop.DBus.ReleaseName", 0, name).Store(&r); err != nil {
		return 0, err
	}
	return ReleaseNameReply(r), nil
}

// nameOwnerCache tracks the most recently observed unique-name owner for
// every well-known name this connection has seen in a NameOwnerChanged
// signal, so match rules written against a well-known sender name keep
// matching signals from that name's current owner even as ownership
// changes. Only NameOwnerChanged updates it: GetNameOwner replies are not
// recorded, so a name has no entry until its first NameOwnerChanged
// signal arrives.
type nameOwnerCache struct {
	mu     sync.RWMutex
	owners map[string]string
}

func newNameOwnerCache() *nameOwnerCache {
	return &nameOwnerCache{owners: make(map[string]string)}
}

func (c *nameOwnerCache) set(name, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner == "" {
		delete(c.owners, name)
		return
	}
	c.owners[name] = owner
}

func (c *nameOwnerCache) lookup(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	owner, ok := c.owners[name]
	return owner, ok
}

// handleNameOwnerChanged updates the cache from a NameOwnerChanged signal
// emitted by the bus daemon: body is (name, old_owner, new_owner).
func (conn *Conn) handleNameOwnerChanged(msg *Message) {
	if len(msg.Body) != 3 {
		return
	}
	name, _ := msg.Body[0].(string)
	newOwner, _ := msg.Body[2].(string)
	conn.nameOwners.set(name, newOwner)
}

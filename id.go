package yaetl

import (
	"sync"

	"github.com/rs/xid"
)

// NodeID identifies a Node or a Flow (a Flow is itself addressable, since it
// may be embedded as a Branch node in a parent Flow). Ids are unique within
// a process.
type NodeID string

var (
	idRegistryMu sync.Mutex
	idRegistry   = map[NodeID]bool{}
)

// newID mints a process-unique id for a node or flow that was added without
// an explicit WithID option, the same way nirosys/gaufre mints graph/packet
// ids with xid: short, sortable, no coordination required.
func newID() NodeID {
	idRegistryMu.Lock()
	defer idRegistryMu.Unlock()
	for {
		id := NodeID(xid.New().String())
		if !idRegistry[id] {
			idRegistry[id] = true
			return id
		}
	}
}

// reserveID claims an explicit id, returning a CompositionError if it is
// already in use anywhere in the process.
func reserveID(id NodeID) error {
	idRegistryMu.Lock()
	defer idRegistryMu.Unlock()
	if idRegistry[id] {
		return newCompositionError("reserveID", "node id %q already in use", id)
	}
	idRegistry[id] = true
	return nil
}

// releaseID frees an id so it may be reused. No composition path in this
// package calls it.
func releaseID(id NodeID) {
	idRegistryMu.Lock()
	defer idRegistryMu.Unlock()
	delete(idRegistry, id)
}

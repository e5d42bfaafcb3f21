package entity

import "github.com/lni/dragonboat/v4/logger"

var Logger = logger.GetLogger("entity")

// --------------------------------------------------------------------------
// Push Events
// --------------------------------------------------------------------------

// SingletonPatch is a partial update for the singleton stored under Path.
type SingletonPatch struct {
	Path  string    `json:"path"`
	Patch ApiEntity `json:"patch"`
}

// TablePatch is a partial update for the entity EID of the table stored under Path.
//
// Version is optional. A non-zero version is compared against the version of
// the last versioned patch applied to the entity, and older or equal versions
// are rejected. Deleted marks the entity as removed on the server. Replace
// makes Patch the full new value instead of a set of overwritten fields.
type TablePatch struct {
	Path    string    `json:"path"`
	EID     string    `json:"eid"`
	Patch   ApiEntity `json:"patch,omitempty"`
	Version uint64    `json:"version,omitempty"`
	Deleted bool      `json:"deleted,omitempty"`
	Replace bool      `json:"replace,omitempty"`
}

// Batch is one server-pushed event. It is not correlated to any request.
//
// Resync is never sent by the server. The client transport sets it on an
// otherwise empty batch after a reconnect, behind every batch of the old
// connection, because the server dropped the subscriptions of that connection.
type Batch struct {
	Singletons []SingletonPatch `json:"singletons,omitempty"`
	Tables     []TablePatch     `json:"tables,omitempty"`
	Resync     bool             `json:"-"`
}

// Empty reports whether the batch carries no patches.
func (b Batch) Empty() bool {
	return len(b.Singletons) == 0 && len(b.Tables) == 0
}

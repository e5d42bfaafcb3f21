package cache

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("cache")

// State is the lifecycle state of one cache entry.
type State uint8

const (
	// StateCreated entries are referenced but have never received data.
	StateCreated State = iota
	// StateLoading entries are being refreshed by an in-flight fetch.
	StateLoading
	// StateDone entries carry the latest known raw entity.
	StateDone
	// StateDeleted entries were removed on the server. They keep their
	// reference count until swept but expose no data.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoading:
		return "loading"
	case StateDone:
		return "done"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// MapFunc derives the domain value of an entity from its raw form. It must be pure.
type MapFunc[E any] func(raw entity.ApiEntity) E

// entry is one cached entity
type entry[E any] struct {
	raw     entity.ApiEntity
	mapped  E
	uses    int
	state   State
	version uint64
}

// Store is the per-table entity cache, keyed by entity id.
//
// Every entry carries a reference count that is maintained by the query
// instances holding the id. Entries whose count dropped to zero or below are
// removed by Sweep. The mapped value of an entry is recomputed whenever its raw
// value changes, so Get always returns mapFn(raw).
//
// Store is not safe for concurrent use. The owning table serializes access.
type Store[E any] struct {
	mapFn   MapFunc[E]
	entries map[string]*entry[E]
}

// NewStore creates an empty store that maps raw entities with mapFn.
func NewStore[E any](mapFn MapFunc[E]) *Store[E] {
	return &Store[E]{
		mapFn:   mapFn,
		entries: make(map[string]*entry[E]),
	}
}

// --------------------------------------------------------------------------
// Reference Counting
// --------------------------------------------------------------------------

// UseIDs increments the reference count of every id, creating missing entries.
func (s *Store[E]) UseIDs(ids ...string) {
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			e = &entry[E]{state: StateCreated}
			s.entries[id] = e
		}
		e.uses++
	}
}

// ReleaseIDs decrements the reference count of every id. Unknown ids are ignored.
func (s *Store[E]) ReleaseIDs(ids ...string) {
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.uses--
		}
	}
}

// Sweep removes every entry with a reference count of zero or below and
// returns the removed ids in sorted order.
func (s *Store[E]) Sweep() []string {
	var removed []string
	for id, e := range s.entries {
		if e.uses <= 0 {
			delete(s.entries, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// --------------------------------------------------------------------------
// Data
// --------------------------------------------------------------------------

// Put stores the full raw value of an entity and marks it done. Entries that
// do not exist yet are created with a reference count of zero.
func (s *Store[E]) Put(id string, raw entity.ApiEntity) {
	e, ok := s.entries[id]
	if !ok {
		e = &entry[E]{}
		s.entries[id] = e
	}
	e.raw = raw
	e.mapped = s.mapFn(raw)
	e.state = StateDone
}

// Patch merges partial into the raw value of the entity. Patches for entries
// that are missing or never received data are dropped, and Patch returns false.
func (s *Store[E]) Patch(id string, partial entity.ApiEntity) bool {
	return s.PatchVersion(id, partial, 0)
}

// PatchVersion is Patch with an optional version stamp. A non-zero version that
// is not greater than the last applied version of the entry is rejected.
func (s *Store[E]) PatchVersion(id string, partial entity.ApiEntity, version uint64) bool {
	e, ok := s.entries[id]
	if !ok || e.raw == nil || !e.advance(id, version) {
		return false
	}
	e.raw = entity.Merge(e.raw, partial)
	e.mapped = s.mapFn(e.raw)
	return true
}

// ReplaceVersion swaps the raw value of the entity for raw. Like PatchVersion
// it drops replacements for entries without data and stale versions.
func (s *Store[E]) ReplaceVersion(id string, raw entity.ApiEntity, version uint64) bool {
	e, ok := s.entries[id]
	if !ok || e.raw == nil || !e.advance(id, version) {
		return false
	}
	e.raw = raw.Clone()
	if e.raw == nil {
		e.raw = entity.ApiEntity{}
	}
	e.mapped = s.mapFn(e.raw)
	return true
}

// Delete drops the data of an entry and marks it deleted. The entry itself
// stays until it is swept so that reference counts remain balanced.
func (s *Store[E]) Delete(id string) bool {
	return s.DeleteVersion(id, 0)
}

// DeleteVersion is Delete with the version check of PatchVersion.
func (s *Store[E]) DeleteVersion(id string, version uint64) bool {
	e, ok := s.entries[id]
	if !ok || e.state == StateDeleted || !e.advance(id, version) {
		return false
	}
	var zero E
	e.raw = nil
	e.mapped = zero
	e.state = StateDeleted
	return true
}

// ResetVersions forgets the last applied version of every entry, for a server
// that starts counting anew.
func (s *Store[E]) ResetVersions() {
	for _, e := range s.entries {
		e.version = 0
	}
}

// advance accepts version if it is zero or newer than the last applied one
func (e *entry[E]) advance(id string, version uint64) bool {
	if version == 0 {
		return true
	}
	if version <= e.version {
		Logger.Debugf("dropping stale patch for %q (version %d <= %d)", id, version, e.version)
		return false
	}
	e.version = version
	return true
}

// MarkLoading flags entries that carry data as being refreshed.
func (s *Store[E]) MarkLoading(ids ...string) {
	for _, id := range ids {
		if e, ok := s.entries[id]; ok && e.state == StateDone {
			e.state = StateLoading
		}
	}
}

// MarkDone settles entries flagged by MarkLoading whose refresh ended without new data.
func (s *Store[E]) MarkDone(ids ...string) {
	for _, id := range ids {
		if e, ok := s.entries[id]; ok && e.state == StateLoading {
			e.state = StateDone
		}
	}
}

// Get returns the mapped values of the given ids. Ids without data are omitted.
func (s *Store[E]) Get(ids ...string) map[string]E {
	out := make(map[string]E, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok && e.raw != nil {
			out[id] = e.mapped
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Uses returns the reference count of id.
func (s *Store[E]) Uses(id string) (int, bool) {
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return e.uses, true
}

// State returns the lifecycle state of id.
func (s *Store[E]) State(id string) (State, bool) {
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Raw returns the raw value of id.
func (s *Store[E]) Raw(id string) (entity.ApiEntity, bool) {
	e, ok := s.entries[id]
	if !ok || e.raw == nil {
		return nil, false
	}
	return e.raw, true
}

// Has reports whether an entry for id exists.
func (s *Store[E]) Has(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Len returns the number of entries.
func (s *Store[E]) Len() int {
	return len(s.entries)
}

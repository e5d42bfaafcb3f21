// Package cache implements the per-table entity store of the datafront.
//
// The store keeps, for every entity id, the latest raw entity received from
// the server, its mapped domain value and a reference count. Query instances
// hold references on the ids of their results. Once no instance references an
// id anymore the entry becomes eligible for eviction by Sweep.
//
// Patches are shallow merges of top-level fields. A patch only applies to an
// entry that already carries data: patches arriving before the initial fetch
// of an entity are dropped, the later fetch brings the full value anyway.
//
// Entry lifecycle:
//
//	created --Put--> done --MarkLoading--> loading --Put--> done
//	   any --Delete--> deleted --Sweep (uses <= 0)--> removed
//
// A Store is not safe for concurrent use.
package cache

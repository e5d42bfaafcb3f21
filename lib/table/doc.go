// Package table binds an entity cache and a query instance registry into the
// reactive table of the datafront.
//
// A Table mirrors one server-side collection. Consumers obtain Query handles
// through Use and point them at requests with Activate. Handles with
// structurally equal requests share one query instance, so every distinct
// request is fetched once no matter how many handles show it.
//
// Reference counting:
//
// A query instance holds one reference on each id of its result for as long
// as it has at least one bound handle and a successful result. The last
// handle leaving releases the ids, re-binding before the next Sweep acquires
// them again. Sweep drops unused instances first, then every unreferenced
// entity, and tells the server to stop pushing events for the evicted ids.
//
// Concurrency:
//
// Each table has one mutex guarding its store, its registry and all instances.
// Fetches run on their own goroutine and take the mutex only to commit their
// outcome. Handles are notified through their Changed channel after every
// state change of their instance and after every patch touching their result.
//
// A result arriving for an instance that was swept in the meantime is still
// written to the cache (without references) but not attached to any instance.
//
// Reconnects:
//
// The server forgets the subscriptions of a broken connection. Resync
// refetches every used instance so the server subscribes the results again,
// and resets the entity versions of the cache, since a restarted server
// counts from scratch.
package table

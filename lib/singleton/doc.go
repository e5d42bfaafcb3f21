// Package singleton mirrors server-side objects that exist exactly once.
//
// A singleton is fetched lazily on its first Use and at most once per cold
// start. Afterwards it is kept live by pushed patches, which are shallow field
// merges like table patches. A failed fetch is repeated by the next Use only
// if the failure was retriable.
package singleton

// Package signal provides the change notification primitive used by every
// reactive handle of the datafront.
//
// A change channel carries no payload. Receiving from it only means "something
// changed, read the state again". Channels have a buffer of one and signals
// are sent without blocking, so a slow reader never stalls the writer and
// bursts of updates coalesce into one wake-up.
package signal
